package runlock

import "context"

// Locker is a process-wide, non-blocking mutual exclusion token shared by
// independently scheduled invocations
type Locker interface {
	// TryAcquire takes the lock without waiting.
	// Returns false, nil when another invocation holds it.
	TryAcquire(ctx context.Context) (bool, error)

	// Release gives the lock up; releasing an unheld lock is a no-op
	Release(ctx context.Context) error
}
