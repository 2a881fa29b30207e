package server

import (
	"context"
	"encoding/json"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
)

// NewClusterAdapter creates the adapter for the cluster service: the distro
// peer protocol (sync, verify, pull, snapshot), liveness pings, the
// membership view and raft membership administration. The admin may be nil
// on standalone nodes; join and leave then report an invalid operation.
func NewClusterAdapter(peers IPeerHandler, members IMemberView, admin consistency.IMembershipAdmin, router consistency.IRouter) IRPCServerAdapter {
	return &clusterAdapter{
		peers:   peers,
		members: members,
		admin:   admin,
		router:  router,
	}
}

type clusterAdapter struct {
	peers   IPeerHandler
	members IMemberView
	admin   consistency.IMembershipAdmin
	router  consistency.IRouter
}

// clusterInfo is the payload of an info response.
type clusterInfo struct {
	Ready      bool                        `json:"ready"`
	Leader     string                      `json:"leader,omitempty"`
	Membership *consistency.MembershipInfo `json:"membership,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see server.IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *clusterAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	switch req.MsgType {

	case common.MsgTClsSync:
		accepted := a.peers.HandleSync(common.DataItemsFromWire(req.Items))
		Logger.Debugf("peer sync: merged %d of %d items", accepted, len(req.Items))
		return common.NewPeerSyncResponse(nil)

	case common.MsgTClsVerify:
		pulled, dropped := a.peers.HandleVerify(ctx, req.Origin, req.Digest)
		if pulled > 0 || dropped > 0 {
			Logger.Debugf("peer verify from %s: pulled %d, dropped %d", req.Origin, pulled, dropped)
		}
		return common.NewPeerVerifyResponse(nil)

	case common.MsgTClsPull:
		items := a.peers.HandlePull(req.Keys)
		return common.NewPeerPullResponse(common.WireItemsFromData(items), nil)

	case common.MsgTClsSnapshot:
		items := a.peers.HandleSnapshot()
		return common.NewPeerSnapshotResponse(common.WireItemsFromData(items), nil)

	case common.MsgTClsPing:
		return common.NewPingResponse(nil)

	case common.MsgTClsMembers:
		view, err := json.Marshal(a.members.View())
		return common.NewMembersResponse(view, err)

	case common.MsgTClsJoin:
		if a.admin == nil {
			return common.NewJoinResponse(errNoMembership())
		}
		var err error
		if req.Ok {
			err = a.admin.AddNonVoting(ctx, req.Version, req.Key)
		} else {
			err = a.admin.AddReplica(ctx, req.Version, req.Key)
		}
		return common.NewJoinResponse(err)

	case common.MsgTClsLeave:
		if a.admin == nil {
			return common.NewLeaveResponse(errNoMembership())
		}
		return common.NewLeaveResponse(a.admin.RemoveReplica(ctx, req.Version))

	case common.MsgTClsInfo:
		return a.handleInfo(ctx)

	default:
		return common.NewErrorResponse(consistency.NewErrorf(
			consistency.ErrCInvalidOperation, "cluster service: unsupported message type %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (a *clusterAdapter) handleInfo(ctx context.Context) *common.Message {
	info := clusterInfo{
		Ready: a.router.Ready(),
	}
	if leader, ok := a.router.LeaderHint(); ok {
		info.Leader = leader
	}
	if a.admin != nil {
		membership, err := a.admin.Membership(ctx)
		if err != nil {
			return common.NewClusterInfoResponse(nil, err)
		}
		info.Membership = &membership
	}

	data, err := json.Marshal(info)
	return common.NewClusterInfoResponse(data, err)
}

func errNoMembership() error {
	return consistency.NewError(consistency.ErrCInvalidOperation,
		"membership changes need a raft backed cluster, this node runs standalone")
}
