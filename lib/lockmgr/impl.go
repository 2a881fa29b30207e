package lockmgr

import (
	"context"

	"github.com/ValentinKolb/dCR/lib/consistency"
)

type lockMgrImpl struct {
	router consistency.IRouter
	holder string
}

// NewLockManager creates a lock manager over the given router. The holder
// name is recorded with every acquired lock and shows up in reads and change
// events; it does not have to be unique, ownership is guarded by the token.
func NewLockManager(router consistency.IRouter, holder string) ILockManager {
	return &lockMgrImpl{
		router: router,
		holder: holder,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr.ILockManager)
// --------------------------------------------------------------------------

func (l *lockMgrImpl) AcquireLock(ctx context.Context, resource string, ttlSec uint64) ([]byte, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	// Atomic compare-and-set in the state machine: the first writer wins and
	// an expired lock may be taken over.
	_, err = l.propose(ctx, consistency.Operation{
		Kind:   consistency.KindLock,
		Verb:   consistency.VerbPutIfAbsent,
		Key:    resource,
		Value:  token,
		Origin: l.holder,
		TTLSec: ttlSec,
	})
	switch consistency.CodeOf(err) {
	case consistency.ErrCSuccess:
		return token, true, nil
	case consistency.ErrCConflict:
		// lock held by someone else
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (l *lockMgrImpl) ReleaseLock(ctx context.Context, resource string, token []byte) (bool, error) {
	_, err := l.propose(ctx, consistency.Operation{
		Kind:  consistency.KindLock,
		Verb:  consistency.VerbDelete,
		Key:   resource,
		Value: token,
	})
	switch consistency.CodeOf(err) {
	case consistency.ErrCSuccess:
		return true, nil
	case consistency.ErrCConflict:
		// The machine rejects a release for an absent lock just like one for
		// a foreign token. Releasing a lock that already expired must still
		// succeed, so tell the two cases apart with a read.
		outcome, rerr := l.router.Read(ctx, consistency.Query{
			Kind: consistency.KindLock,
			Verb: consistency.QueryGet,
			Key:  resource,
		})
		if rerr != nil {
			return false, rerr
		}
		return !outcome.Ok, nil
	default:
		return false, err
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// propose submits the operation and re-proposes it for as long as the
// context allows when the verdict is ambiguous. Lock commands are idempotent
// per token (re-acquiring renews the lease, re-deleting an already deleted
// lock conflicts and is disambiguated by the caller), so retrying after a
// timeout cannot acquire or release twice. If the context runs out before a
// definite verdict, the timeout error is surfaced; an acquisition that did
// land unconfirmed falls back to its lease lifetime.
func (l *lockMgrImpl) propose(ctx context.Context, op consistency.Operation) (consistency.Outcome, error) {
	for {
		outcome, err := l.router.Apply(ctx, op)
		if consistency.CodeOf(err) != consistency.ErrCTimeout || ctx.Err() != nil {
			return outcome, err
		}
	}
}
