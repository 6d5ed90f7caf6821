package invar

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// BuildMeta is persisted next to a rendered set so later runs can report
// what the previous build produced.
type BuildMeta struct {
	Set      string    `json:"set"`
	Finished time.Time `json:"finished"`
	Rendered uint32    `json:"rendered"`
	Skipped  uint32    `json:"skipped"`
	Failed   uint32    `json:"failed"`
	Crashed  []string  `json:"crashed,omitempty"`
}

// PoolResult summarises a drained pool. WorkerErrors holds the terminal
// error of every worker that crashed, keyed by worker id.
type PoolResult struct {
	sync.Mutex

	Rendered     uint32
	Skipped      uint32
	Failed       uint32
	Workers      int
	Elapsed      time.Duration
	WorkerErrors map[string]error
}

func (r *PoolResult) recordCrash(workerID string, err error) {
	r.Lock()
	r.WorkerErrors[workerID] = err
	r.Unlock()
}

// Err joins the crash errors in worker id order, or returns nil.
func (r *PoolResult) Err() error {
	r.Lock()
	defer r.Unlock()

	ids := make([]string, 0, len(r.WorkerErrors))
	for id := range r.WorkerErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, r.WorkerErrors[id])
	}
	return errors.Join(errs...)
}

// Meta converts the result into its persisted form.
func (r *PoolResult) Meta(set string) BuildMeta {
	r.Lock()
	defer r.Unlock()

	meta := BuildMeta{
		Set:      set,
		Finished: time.Now().UTC(),
		Rendered: r.Rendered,
		Skipped:  r.Skipped,
		Failed:   r.Failed,
	}
	for id := range r.WorkerErrors {
		meta.Crashed = append(meta.Crashed, id)
	}
	sort.Strings(meta.Crashed)
	return meta
}
