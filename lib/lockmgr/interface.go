package lockmgr

import "context"

// ILockManager defines the interface for a distributed lock provider.
type ILockManager interface {
	// AcquireLock attempts to take the lock for the given resource. ttlSec
	// bounds the lease lifetime in seconds; 0 selects the engine default.
	// Returns the fencing token needed for release, a boolean indicating
	// whether the lock was acquired, and an error if any. ok=false with a
	// nil error means another holder owns the lock.
	AcquireLock(ctx context.Context, resource string, ttlSec uint64) (token []byte, ok bool, err error)

	// ReleaseLock releases the lock for the given resource.
	// Returns a boolean indicating whether the caller no longer holds the
	// lock, and an error if any. The method also returns true if the lock
	// does not exist anymore, for example because its lease expired; it
	// returns false if the lock is currently held under a different token.
	ReleaseLock(ctx context.Context, resource string, token []byte) (ok bool, err error)
}
