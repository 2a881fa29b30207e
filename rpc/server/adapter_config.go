package server

import (
	"context"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/notify"
	"github.com/ValentinKolb/dCR/rpc/common"
)

// NewConfigAdapter creates the adapter for the config service. All config,
// namespace and gray rule data is strongly consistent; the hub feeds watch
// long-polls with change events from the state machine.
func NewConfigAdapter(router consistency.IRouter, hub *notify.Hub) IRPCServerAdapter {
	return &configAdapter{
		router: router,
		hub:    hub,
	}
}

type configAdapter struct {
	router consistency.IRouter
	hub    *notify.Hub
}

// --------------------------------------------------------------------------
// Interface Methods (docu see server.IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *configAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	switch req.MsgType {

	case common.MsgTCfgPublish:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind:   consistency.KindConfig,
			Verb:   consistency.VerbPut,
			Key:    req.Key,
			Value:  req.Value,
			Origin: req.Origin,
		})
		return common.NewConfigPublishResponse(out.Index, err)

	case common.MsgTCfgGet:
		out, err := a.router.Read(ctx, consistency.Query{
			Kind:  consistency.KindConfig,
			Verb:  consistency.QueryGet,
			Key:   req.Key,
			Stale: req.Stale,
		})
		return common.NewConfigGetResponse(out.Value, out.Index, out.Ok, out.Stale, err)

	case common.MsgTCfgRemove:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind: consistency.KindConfig,
			Verb: consistency.VerbDelete,
			Key:  req.Key,
		})
		return common.NewConfigRemoveResponse(out.Ok, err)

	case common.MsgTCfgList:
		out, err := a.router.Read(ctx, consistency.Query{
			Kind:  consistency.KindConfig,
			Verb:  consistency.QueryList,
			Key:   req.Key,
			Limit: req.Limit,
			Stale: req.Stale,
		})
		return common.NewConfigListResponse(common.WireItemsFromList(out.Items), out.Stale, err)

	case common.MsgTCfgHistory:
		out, err := a.router.Read(ctx, consistency.Query{
			Kind:  consistency.KindConfig,
			Verb:  consistency.QueryHistory,
			Key:   req.Key,
			Limit: req.Limit,
		})
		return common.NewConfigHistoryResponse(common.WireItemsFromList(out.Items), err)

	case common.MsgTCfgGrayPublish:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind:   consistency.KindGray,
			Verb:   consistency.VerbPut,
			Key:    req.Key,
			Value:  req.Value,
			Origin: req.Origin,
		})
		return common.NewGrayPublishResponse(out.Index, err)

	case common.MsgTCfgGrayRemove:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind: consistency.KindGray,
			Verb: consistency.VerbDelete,
			Key:  req.Key,
		})
		return common.NewGrayRemoveResponse(out.Ok, err)

	case common.MsgTNSCreate:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind:  consistency.KindNamespace,
			Verb:  consistency.VerbPutIfAbsent,
			Key:   req.Key,
			Value: req.Value,
		})
		if consistency.CodeOf(err) == consistency.ErrCConflict {
			// first writer wins, an existing namespace is not an error
			return common.NewNamespaceCreateResponse(false, nil)
		}
		return common.NewNamespaceCreateResponse(out.Ok, err)

	case common.MsgTNSRemove:
		out, err := a.router.Apply(ctx, consistency.Operation{
			Kind: consistency.KindNamespace,
			Verb: consistency.VerbDelete,
			Key:  req.Key,
		})
		return common.NewNamespaceRemoveResponse(out.Ok, err)

	case common.MsgTNSList:
		out, err := a.router.Read(ctx, consistency.Query{
			Kind:  consistency.KindNamespace,
			Verb:  consistency.QueryList,
			Limit: req.Limit,
		})
		return common.NewNamespaceListResponse(common.WireItemsFromList(out.Items), err)

	case common.MsgTCfgWatch:
		return a.handleWatch(ctx, req)

	default:
		return common.NewErrorResponse(consistency.NewErrorf(
			consistency.ErrCInvalidOperation, "config service: unsupported message type %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Watch Long-Poll
// --------------------------------------------------------------------------

// handleWatch blocks until the key moves past the client's version or the
// wait budget runs out. The budget is capped by the server request timeout,
// which also keeps the poll inside the transport's connection deadlines.
func (a *configAdapter) handleWatch(ctx context.Context, req *common.Message) *common.Message {
	since := req.Version

	// A change the client has not seen yet ends the poll immediately.
	version, err := a.readVersion(ctx, req.Key)
	if err != nil {
		return common.NewConfigWatchResponse(req.Key, 0, false, err)
	}
	if version > since {
		return common.NewConfigWatchResponse(req.Key, version, true, nil)
	}

	waitCtx := ctx
	if req.TTLSec > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TTLSec)*time.Second)
		defer cancel()
	}

	if ev, changed := a.hub.Wait(waitCtx, consistency.KindConfig, req.Key, since); changed {
		return common.NewConfigWatchResponse(req.Key, ev.Version, true, nil)
	}

	// The budget ran out. Re-read so a write that slipped in between the
	// first check and the subscription still ends the poll with a change.
	version, err = a.readVersion(ctx, req.Key)
	if err != nil {
		return common.NewConfigWatchResponse(req.Key, 0, false, err)
	}
	return common.NewConfigWatchResponse(req.Key, version, version > since, nil)
}

// readVersion returns the current version of a config key from local applied
// state, or 0 if the key does not exist. Deletions bump no version, watchers
// learn about them through the hub event and the following failed get.
func (a *configAdapter) readVersion(ctx context.Context, key string) (uint64, error) {
	out, err := a.router.Read(ctx, consistency.Query{
		Kind:  consistency.KindConfig,
		Verb:  consistency.QueryGet,
		Key:   key,
		Stale: true,
	})
	if err != nil {
		return 0, err
	}
	if !out.Ok {
		return 0, nil
	}
	return out.Index, nil
}
