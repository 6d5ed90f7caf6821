package invar

import "errors"

var (
	// ErrQueueEmpty is returned by TryTake when a queue has nothing pending.
	// It is the normal signal for a worker to move on, not a failure.
	ErrQueueEmpty = errors.New("invar: queue empty")

	// ErrNotTaken is returned when acknowledging a job that is not outstanding.
	ErrNotTaken = errors.New("invar: job not taken")

	ErrUnknownJobKind = errors.New("invar: unknown job kind")
	ErrUnknownFormat  = errors.New("invar: unknown output format")
	ErrUnknownSRS     = errors.New("invar: unknown spatial reference system")
	ErrNoQueues       = errors.New("invar: no queues registered")
)
