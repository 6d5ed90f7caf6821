package invar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// RenderRequest is everything the render capability needs to produce one
// output file.
type RenderRequest struct {
	Filename   string
	Width      int
	Height     int
	Bound      orb.Bound
	BufferSize int
	Format     string
	Grid       *GridOpts
}

// RenderContext is a worker's private handle on the renderer. It is never
// shared between workers.
type RenderContext interface {
	// MapProjection maps lon/lat degrees into the renderer's map units.
	MapProjection() orb.Projection
	Render(req *RenderRequest) error
	Close() error
}

// OpenFunc creates a fresh render context. Each worker calls it once.
type OpenFunc func() (RenderContext, error)

// WorkerOpts are the output parameters shared by every job of a pool.
type WorkerOpts struct {
	Width        int
	Height       int
	Format       string
	BufferSize   int
	SkipExisting bool
	// Grid enables the UTF-grid sidecar for tile jobs.
	Grid *GridOpts
}

func (o WorkerOpts) withDefaults() WorkerOpts {
	if o.Width == 0 {
		o.Width = BaseTileSize
	}
	if o.Height == 0 {
		o.Height = BaseTileSize
	}
	if o.Format == "" {
		o.Format = "png"
	}
	if o.BufferSize == 0 {
		o.BufferSize = max(o.Width, o.Height)
	}
	return o
}

type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerPolling
	WorkerSkipping
	WorkerRendering
	WorkerDrained
	WorkerCrashed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerPolling:
		return "polling"
	case WorkerSkipping:
		return "skipping"
	case WorkerRendering:
		return "rendering"
	case WorkerDrained:
		return "drained"
	case WorkerCrashed:
		return "crashed"
	}
	return fmt.Sprintf("WorkerState(%d)", int32(s))
}

type poolCounters struct {
	rendered atomic.Uint32
	skipped  atomic.Uint32
	failed   atomic.Uint32
}

// Worker drains its queues one job at a time until every queue is empty or
// a render fails.
type Worker struct {
	ID string

	queues   []Queue
	opts     WorkerOpts
	open     OpenFunc
	logger   *log.Logger
	counters *poolCounters
	state    atomic.Int32
}

func newWorker(queues []Queue, open OpenFunc, opts WorkerOpts, logger *log.Logger, counters *poolCounters) *Worker {
	id := uuid.NewString()[:8]
	return &Worker{
		ID:       id,
		queues:   queues,
		opts:     opts,
		open:     open,
		logger:   logger.With("worker", id),
		counters: counters,
	}
}

func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// Run opens the worker's render context and drains the queues. A non-nil
// error means the worker crashed and abandoned whatever it had not taken.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s: panic: %v", w.ID, r)
		}
		if err != nil {
			w.setState(WorkerCrashed)
		}
	}()

	rc, err := w.open()
	if err != nil {
		return fmt.Errorf("worker %s: open render context: %w", w.ID, err)
	}
	defer rc.Close()

	proj := NewGoogleProjection(DefaultMaxZoom)

	for {
		w.setState(WorkerPolling)
		job, q, err := takeAny(ctx, w.queues)
		if errors.Is(err, ErrQueueEmpty) {
			w.setState(WorkerDrained)
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker %s: %w", w.ID, err)
		}

		if err := w.process(ctx, rc, proj, job, q); err != nil {
			return fmt.Errorf("worker %s: %w", w.ID, err)
		}
	}
}

// process handles one job. The job is acknowledged on every path, including
// a failed or panicking render.
func (w *Worker) process(ctx context.Context, rc RenderContext, proj *GoogleProjection, job *Job, q Queue) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.counters.failed.Add(1)
			err = fmt.Errorf("render %s: panic: %v", job.Filename, r)
		}
		if ackErr := q.Done(ctx, job); ackErr != nil {
			err = errors.Join(err, ackErr)
		}
	}()

	if w.opts.SkipExisting {
		if _, statErr := os.Stat(job.Filename); statErr == nil {
			w.setState(WorkerSkipping)
			w.logger.Infof("Skipping %s", job.Filename)
			w.counters.skipped.Add(1)
			return nil
		}
	}

	w.setState(WorkerRendering)
	w.logger.Infof("Rendering %s", job.Filename)

	bound, err := job.Bound(proj, rc.MapProjection(), w.opts.Width, w.opts.Height)
	if err != nil {
		w.counters.failed.Add(1)
		return err
	}

	req := &RenderRequest{
		Filename:   job.Filename,
		Width:      w.opts.Width,
		Height:     w.opts.Height,
		Bound:      bound,
		BufferSize: w.opts.BufferSize,
		Format:     w.opts.Format,
	}
	if job.Kind == KindTile {
		req.Grid = w.opts.Grid
	}

	if err := rc.Render(req); err != nil {
		w.counters.failed.Add(1)
		return fmt.Errorf("render %s: %w", job.Filename, err)
	}

	w.counters.rendered.Add(1)
	return nil
}

type PoolOpts struct {
	// Concurrency is the number of workers. Zero means GOMAXPROCS.
	Concurrency int
	Worker      WorkerOpts
	Logger      *log.Logger
}

// Pool runs a fixed number of workers over the same queues. Queues are
// polled in the order given.
type Pool struct {
	queues  []Queue
	open    OpenFunc
	opts    PoolOpts
	workers []*Worker
}

func NewPool(queues []Queue, open OpenFunc, opts PoolOpts) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	opts.Worker = opts.Worker.withDefaults()

	return &Pool{
		queues: queues,
		open:   open,
		opts:   opts,
	}
}

// Workers returns the workers of the last Run.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Run starts every worker and waits until each one has drained or crashed.
// The returned error joins the errors of crashed workers; the result is
// valid either way.
func (p *Pool) Run(ctx context.Context) (*PoolResult, error) {
	if len(p.queues) == 0 {
		return nil, ErrNoQueues
	}

	start := time.Now()
	counters := &poolCounters{}
	result := &PoolResult{
		Workers:      p.opts.Concurrency,
		WorkerErrors: make(map[string]error),
	}

	p.workers = make([]*Worker, p.opts.Concurrency)
	for i := range p.workers {
		p.workers[i] = newWorker(p.queues, p.open, p.opts.Worker, p.opts.Logger, counters)
	}

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()

			if err := w.Run(ctx); err != nil {
				w.logger.Error("worker stopped", "err", err)
				result.recordCrash(w.ID, err)
			}
		}(w)
	}
	wg.Wait()

	result.Rendered = counters.rendered.Load()
	result.Skipped = counters.skipped.Load()
	result.Failed = counters.failed.Load()
	result.Elapsed = time.Since(start)

	return result, result.Err()
}
