package corelet

import "errors"

// ErrPoolClosed indicates the process pool has been shut down.
var ErrPoolClosed = errors.New("corelet: pool is closed")

// ErrProcessLimitReached indicates no idle worker is available and the
// configured process_pool_max has already been spawned.
var ErrProcessLimitReached = errors.New("corelet: process_pool_max reached, no idle worker")

// ErrTaskTimeout indicates the task-pipe read timed out (event.timeout_seconds
// + grace) and the worker was destroyed - spec.md §4.C step 4 / §7 TimeoutError.
var ErrTaskTimeout = errors.New("corelet: worker did not reply before timeout, worker destroyed")

// ErrWorkerDied indicates the health monitor declared the worker dead (or
// its pipe hit EOF) while a task was in flight - spec.md §7 WorkerDied.
var ErrWorkerDied = errors.New("corelet: worker process died")

// errTimedOut is the internal sentinel readWithDeadline returns when no
// record arrived within the requested window.
var errTimedOut = errors.New("corelet: read deadline exceeded")
