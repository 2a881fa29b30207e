package server

import (
	"context"
	"sort"
	"strings"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
)

// NewNamingAdapter creates the adapter for the naming service. Instances and
// heartbeats are eventually consistent; the router forwards them to the
// distro engine.
func NewNamingAdapter(router consistency.IRouter) IRPCServerAdapter {
	return &namingAdapter{
		router: router,
	}
}

type namingAdapter struct {
	router consistency.IRouter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see server.IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *namingAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	switch req.MsgType {

	case common.MsgTNamRegister:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind:   consistency.KindInstance,
			Verb:   consistency.VerbPut,
			Key:    req.Key,
			Value:  req.Value,
			Origin: req.Origin,
			TTLSec: req.TTLSec,
		})
		return common.NewInstanceRegisterResponse(out.Index, err)

	case common.MsgTNamDeregister:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind: consistency.KindInstance,
			Verb: consistency.VerbDelete,
			Key:  req.Key,
		})
		return common.NewInstanceDeregisterResponse(out.Ok, err)

	case common.MsgTNamBeat:
		// Ok=false with no error means the instance is unknown here and the
		// client has to re-register.
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind: consistency.KindBeat,
			Verb: consistency.VerbTouch,
			Key:  req.Key,
		})
		return common.NewInstanceBeatResponse(out.Ok, err)

	case common.MsgTNamQuery:
		out, err := a.router.Read(ctx, consistency.Query{
			Kind:  consistency.KindInstance,
			Verb:  consistency.QueryList,
			Key:   a.servicePrefix(req.Key),
			Limit: req.Limit,
		})
		return common.NewInstanceQueryResponse(common.WireItemsFromList(out.Items), err)

	case common.MsgTNamServices:
		// The limit caps the service names, not the instances they are
		// derived from, so the underlying list runs with the engine default.
		out, err := a.router.Read(ctx, consistency.Query{
			Kind: consistency.KindInstance,
			Verb: consistency.QueryList,
			Key:  req.Key,
		})
		if err != nil {
			return common.NewServiceListResponse(nil, err)
		}
		return common.NewServiceListResponse(serviceNames(out.Items, req.Limit), nil)

	default:
		return common.NewErrorResponse(consistency.NewErrorf(
			consistency.ErrCInvalidOperation, "naming service: unsupported message type %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// servicePrefix turns a service name into the instance key prefix covering
// exactly that service. Without the trailing separator a query for "orders"
// would also match "orders-batch".
func (a *namingAdapter) servicePrefix(service string) string {
	if service == "" || strings.HasSuffix(service, common.KeySeparator) {
		return service
	}
	return service + common.KeySeparator
}

// serviceNames derives the distinct service names from instance keys: the
// key minus its last segment, the instance id. Keys without a separator are
// skipped, they name no service.
func serviceNames(items []consistency.Item, limit uint32) []string {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		idx := strings.LastIndex(item.Key, common.KeySeparator)
		if idx <= 0 {
			continue
		}
		seen[item.Key[:idx]] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	if limit > 0 && uint32(len(names)) > limit {
		names = names[:limit]
	}
	return names
}
