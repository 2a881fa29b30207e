package server

import (
	"context"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/lockmgr"
	"github.com/ValentinKolb/dCR/rpc/common"
)

// NewLockAdapter creates the adapter for the lock service.
func NewLockAdapter(router consistency.IRouter) IRPCServerAdapter {
	return &lockAdapter{
		router: router,
	}
}

type lockAdapter struct {
	router consistency.IRouter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see server.IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *lockAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	// The manager is a cheap stateless wrapper, so it is created per request
	// with the holder name the client sent.
	locks := lockmgr.NewLockManager(a.router, req.Origin)

	switch req.MsgType {
	case common.MsgTLockAcquire:
		token, ok, err := locks.AcquireLock(ctx, req.Key, req.TTLSec)
		return common.NewLockAcquireResponse(token, ok, err)
	case common.MsgTLockRelease:
		ok, err := locks.ReleaseLock(ctx, req.Key, req.Value)
		return common.NewLockReleaseResponse(ok, err)
	default:
		return common.NewErrorResponse(consistency.NewErrorf(
			consistency.ErrCInvalidOperation, "lock service: unsupported message type %s", req.MsgType))
	}
}
