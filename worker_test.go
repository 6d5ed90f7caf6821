package invar

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/paulmach/orb"
)

// recorder is a fake render capability shared by the fake contexts of a test.
type recorder struct {
	sync.Mutex
	opened   atomic.Int32
	requests []*RenderRequest
	fail     map[string]error
	panics   map[string]bool
}

func (r *recorder) open() (RenderContext, error) {
	r.opened.Add(1)
	return &fakeContext{rec: r}, nil
}

func (r *recorder) filenames() []string {
	r.Lock()
	defer r.Unlock()
	names := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		names = append(names, req.Filename)
	}
	return names
}

type fakeContext struct {
	rec    *recorder
	closed bool
}

func (c *fakeContext) MapProjection() orb.Projection {
	return func(p orb.Point) orb.Point { return p }
}

func (c *fakeContext) Render(req *RenderRequest) error {
	if c.rec.panics[req.Filename] {
		panic("renderer exploded")
	}
	if err := c.rec.fail[req.Filename]; err != nil {
		return err
	}
	c.rec.Lock()
	c.rec.requests = append(c.rec.requests, req)
	c.rec.Unlock()
	return nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

func testLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&buf, log.InfoLevel), &buf
}

func namedJobs(names ...string) []*Job {
	jobs := make([]*Job, len(names))
	for i, name := range names {
		jobs[i] = TileJob(name, i, 0, 3)
	}
	return jobs
}

func TestPoolDrainsTwoQueues(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryQueue("a")
	b := NewMemoryQueue("b")
	a.Enqueue(ctx, namedJobs("a0", "a1", "a2")...)
	b.Enqueue(ctx, namedJobs("b0", "b1")...)

	rec := &recorder{}
	logger, buf := testLogger()
	pool := NewPool([]Queue{a, b}, rec.open, PoolOpts{Concurrency: 2, Logger: logger})

	result, err := pool.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Rendered != 5 || result.Skipped != 0 || result.Failed != 0 {
		t.Errorf("result = %d rendered, %d skipped, %d failed", result.Rendered, result.Skipped, result.Failed)
	}
	if rec.opened.Load() != 2 {
		t.Errorf("opened %d render contexts, want one per worker", rec.opened.Load())
	}

	seen := map[string]int{}
	for _, name := range rec.filenames() {
		seen[name]++
	}
	for _, name := range []string{"a0", "a1", "a2", "b0", "b1"} {
		if seen[name] != 1 {
			t.Errorf("%s rendered %d times, want 1", name, seen[name])
		}
	}

	for _, q := range []Queue{a, b} {
		c := checkInvariant(t, q)
		if c.Done != c.Total || c.Taken != 0 {
			t.Errorf("%s counts: %s", q.Name(), c)
		}
	}

	for _, w := range pool.Workers() {
		if w.State() != WorkerDrained {
			t.Errorf("worker %s state = %s, want drained", w.ID, w.State())
		}
	}

	if got := strings.Count(buf.String(), "Rendering"); got != 5 {
		t.Errorf("logged %d Rendering lines, want 5", got)
	}
}

func TestPoolRequestParameters(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("params")
	q.Enqueue(ctx, TileJob("tile.png", 0, 0, 0), FrameJob("frame.png", 0, 0, 0))

	rec := &recorder{}
	logger, _ := testLogger()
	grid := &GridOpts{Key: "name"}
	pool := NewPool([]Queue{q}, rec.open, PoolOpts{
		Concurrency: 1,
		Logger:      logger,
		Worker:      WorkerOpts{Width: 300, Height: 200, Format: "jpeg", Grid: grid},
	})

	if _, err := pool.Run(ctx); err != nil {
		t.Fatal(err)
	}

	rec.Lock()
	defer rec.Unlock()
	if len(rec.requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(rec.requests))
	}

	for _, req := range rec.requests {
		if req.Width != 300 || req.Height != 200 || req.Format != "jpeg" {
			t.Errorf("%s: request = %+v", req.Filename, req)
		}
		if req.BufferSize != 300 {
			t.Errorf("%s: buffer = %d, want max(width, height) = 300", req.Filename, req.BufferSize)
		}
		if req.Bound.Min[0] >= req.Bound.Max[0] || req.Bound.Min[1] >= req.Bound.Max[1] {
			t.Errorf("%s: bound = %v", req.Filename, req.Bound)
		}
	}

	if rec.requests[0].Grid != grid {
		t.Error("tile request should carry the grid options")
	}
	if rec.requests[1].Grid != nil {
		t.Error("frame request should not carry grid options")
	}
}

func TestBufferSizeOverride(t *testing.T) {
	opts := WorkerOpts{Width: 256, Height: 512, BufferSize: 64}.withDefaults()
	if opts.BufferSize != 64 {
		t.Errorf("BufferSize = %d, want 64", opts.BufferSize)
	}

	opts = WorkerOpts{Width: 256, Height: 512}.withDefaults()
	if opts.BufferSize != 512 {
		t.Errorf("BufferSize = %d, want 512", opts.BufferSize)
	}
}

func TestPoolWorkerCrash(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("crash")
	q.Enqueue(ctx, namedJobs("j0", "j1", "bad", "j3", "j4", "j5")...)

	renderErr := errors.New("style rule failed")
	rec := &recorder{fail: map[string]error{"bad": renderErr}}
	logger, _ := testLogger()
	pool := NewPool([]Queue{q}, rec.open, PoolOpts{Concurrency: 2, Logger: logger})

	result, err := pool.Run(ctx)
	if !errors.Is(err, renderErr) {
		t.Fatalf("Run() error = %v, want wrapped render error", err)
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error %q should name the failed file", err)
	}

	if result.Rendered != 5 || result.Failed != 1 {
		t.Errorf("result = %d rendered, %d failed; want 5, 1", result.Rendered, result.Failed)
	}
	if len(result.WorkerErrors) != 1 {
		t.Errorf("%d workers crashed, want 1", len(result.WorkerErrors))
	}

	// The failed job is still acknowledged.
	c := checkInvariant(t, q)
	if c.Done != 6 || c.Taken != 0 {
		t.Errorf("counts = %s", c)
	}

	states := map[WorkerState]int{}
	for _, w := range pool.Workers() {
		states[w.State()]++
	}
	if states[WorkerCrashed] != 1 || states[WorkerDrained] != 1 {
		t.Errorf("worker states = %v", states)
	}
}

func TestPoolWorkerPanic(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("panic")
	q.Enqueue(ctx, namedJobs("boom")...)

	rec := &recorder{panics: map[string]bool{"boom": true}}
	logger, _ := testLogger()
	pool := NewPool([]Queue{q}, rec.open, PoolOpts{Concurrency: 1, Logger: logger})

	result, err := pool.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "renderer exploded") {
		t.Fatalf("Run() error = %v, want the panic value", err)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}

	c := checkInvariant(t, q)
	if c.Done != 1 {
		t.Errorf("counts = %s", c)
	}
}

func TestPoolOpenFailure(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("open")
	q.Enqueue(ctx, namedJobs("a", "b")...)

	openErr := errors.New("no such style")
	open := func() (RenderContext, error) { return nil, openErr }
	logger, _ := testLogger()

	result, err := NewPool([]Queue{q}, open, PoolOpts{Concurrency: 3, Logger: logger}).Run(ctx)
	if !errors.Is(err, openErr) {
		t.Fatalf("Run() error = %v, want open error", err)
	}
	if len(result.WorkerErrors) != 3 {
		t.Errorf("%d workers crashed, want 3", len(result.WorkerErrors))
	}

	c := checkInvariant(t, q)
	if c.Remaining != 2 {
		t.Errorf("counts = %s, want both jobs left", c)
	}
}

func TestPoolSkipExisting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.png")
	if err := os.WriteFile(existing, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.png")

	tests := []struct {
		name         string
		skip         bool
		wantRendered uint32
		wantSkipped  uint32
	}{
		{"skip enabled", true, 1, 1},
		{"skip disabled", false, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewMemoryQueue("skip")
			q.Enqueue(ctx, TileJob(existing, 0, 0, 1), FrameJob(missing, 10, 10, 4))

			rec := &recorder{}
			logger, buf := testLogger()
			pool := NewPool([]Queue{q}, rec.open, PoolOpts{
				Concurrency: 1,
				Logger:      logger,
				Worker:      WorkerOpts{SkipExisting: tt.skip},
			})

			result, err := pool.Run(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if result.Rendered != tt.wantRendered || result.Skipped != tt.wantSkipped {
				t.Errorf("rendered %d skipped %d, want %d %d",
					result.Rendered, result.Skipped, tt.wantRendered, tt.wantSkipped)
			}

			c := checkInvariant(t, q)
			if c.Done != 2 {
				t.Errorf("counts = %s", c)
			}

			if tt.skip && !strings.Contains(buf.String(), "Skipping "+existing) {
				t.Errorf("log should mention the skipped file: %s", buf.String())
			}
		})
	}
}

func TestPoolNoQueues(t *testing.T) {
	rec := &recorder{}
	if _, err := NewPool(nil, rec.open, PoolOpts{}).Run(context.Background()); !errors.Is(err, ErrNoQueues) {
		t.Errorf("Run() error = %v, want ErrNoQueues", err)
	}
}

func TestWorkerStateString(t *testing.T) {
	tests := map[WorkerState]string{
		WorkerIdle:      "idle",
		WorkerPolling:   "polling",
		WorkerSkipping:  "skipping",
		WorkerRendering: "rendering",
		WorkerDrained:   "drained",
		WorkerCrashed:   "crashed",
		WorkerState(42): "WorkerState(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("String() = %q, want %q", s.String(), want)
		}
	}
}
