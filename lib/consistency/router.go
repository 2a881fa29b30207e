package consistency

import (
	"context"
)

// NewRouter creates the router over the two engines. The kind-to-engine
// binding is fixed here for the lifetime of the process.
func NewRouter(cp ICPEngine, ap IAPEngine) IRouter {
	return &routerImpl{
		cp: cp,
		ap: ap,
	}
}

// routerImpl holds one engine per consistency mode. It carries no other
// state: classification is a pure function of the operation's DataKind.
type routerImpl struct {
	cp ICPEngine
	ap IAPEngine
}

// --------------------------------------------------------------------------
// Interface Methods (docu see consistency.IRouter)
// --------------------------------------------------------------------------

func (r *routerImpl) Apply(ctx context.Context, op Operation) (Outcome, error) {
	switch op.Kind.Consistency() {
	case ModeCP:
		return r.cp.Propose(ctx, op)
	case ModeAP:
		return r.ap.Apply(ctx, op)
	default:
		return Outcome{}, NewErrorf(ErrCInvalidOperation, "no engine serves data kind %q", op.Kind)
	}
}

func (r *routerImpl) Read(ctx context.Context, q Query) (Outcome, error) {
	switch q.Kind.Consistency() {
	case ModeCP:
		return r.cp.Read(ctx, q)
	case ModeAP:
		return r.ap.Read(ctx, q)
	default:
		return Outcome{}, NewErrorf(ErrCInvalidOperation, "no engine serves data kind %q", q.Kind)
	}
}

func (r *routerImpl) Ready() bool {
	return r.cp.Ready() && r.ap.Ready()
}

func (r *routerImpl) LeaderHint() (string, bool) {
	return r.cp.LeaderHint()
}
