package invar

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// QueueCounts is a snapshot of a queue's bookkeeping. Taken counts jobs
// handed out but not yet acknowledged, so
// Taken + Done + Remaining == Total always holds.
type QueueCounts struct {
	Total     int64
	Remaining int64
	Taken     int64
	Done      int64
}

func (c QueueCounts) String() string {
	return fmt.Sprintf("total=%d remaining=%d taken=%d done=%d", c.Total, c.Remaining, c.Taken, c.Done)
}

// Queue is a collection of pending jobs shared by many workers. Every job
// is handed out at most once and must be acknowledged with Done exactly once.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, jobs ...*Job) error
	// TryTake never blocks. It returns ErrQueueEmpty when nothing is pending.
	TryTake(ctx context.Context) (*Job, error)
	Done(ctx context.Context, job *Job) error
	Counts(ctx context.Context) (QueueCounts, error)
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	sync.Mutex

	name        string
	pending     []*Job
	outstanding map[string]struct{}
	total       int64
	done        int64
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name:        name,
		outstanding: make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Name() string {
	return q.name
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobs ...*Job) error {
	q.Lock()
	defer q.Unlock()

	for _, job := range jobs {
		job.ensureID()
		q.pending = append(q.pending, job)
		q.total++
	}
	return nil
}

func (q *MemoryQueue) TryTake(_ context.Context) (*Job, error) {
	q.Lock()
	defer q.Unlock()

	if len(q.pending) == 0 {
		return nil, ErrQueueEmpty
	}

	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.outstanding[job.ID] = struct{}{}

	return job, nil
}

func (q *MemoryQueue) Done(_ context.Context, job *Job) error {
	q.Lock()
	defer q.Unlock()

	if _, ok := q.outstanding[job.ID]; !ok {
		return fmt.Errorf("%w: %s in %s", ErrNotTaken, job.ID, q.name)
	}

	delete(q.outstanding, job.ID)
	q.done++
	return nil
}

func (q *MemoryQueue) Counts(_ context.Context) (QueueCounts, error) {
	q.Lock()
	defer q.Unlock()

	return QueueCounts{
		Total:     q.total,
		Remaining: int64(len(q.pending)),
		Taken:     int64(len(q.outstanding)),
		Done:      q.done,
	}, nil
}

// takeAny polls queues in order and returns the first job available along
// with the queue it came from.
func takeAny(ctx context.Context, queues []Queue) (*Job, Queue, error) {
	for _, q := range queues {
		job, err := q.TryTake(ctx)
		if errors.Is(err, ErrQueueEmpty) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("take from %s: %w", q.Name(), err)
		}
		return job, q, nil
	}
	return nil, nil, ErrQueueEmpty
}
