package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/state"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
)

// NewPeerClient creates the node to node client: the distro engine uses it
// for sync, verify, pull and snapshot, the failure detector for pings. One
// transport per peer address, dialed on first use and kept until Close; a
// failed dial is retried on the next call.
//
// The transport factory creates one client transport instance per peer
// (e.g. tcp.NewTCPClientTransport). The config applies to every peer, only
// the endpoint differs.
func NewPeerClient(
	config common.ClientConfig,
	factory func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *PeerClient {
	return &PeerClient{
		config:     config,
		factory:    factory,
		serializer: serializer,
		conns:      xsync.NewMapOf[string, *peerConn](),
	}
}

// PeerClient fans requests out to individual cluster members. It is safe for
// concurrent use.
type PeerClient struct {
	config     common.ClientConfig
	factory    func() transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	conns      *xsync.MapOf[string, *peerConn]
	closed     atomic.Bool
}

// peerConn dials lazily so that map access never blocks on the network.
type peerConn struct {
	once sync.Once
	t    transport.IRPCClientTransport
	err  error
}

// --------------------------------------------------------------------------
// Interface Methods (docu see distro.IPeerClient and cluster.IPinger)
// --------------------------------------------------------------------------

func (p *PeerClient) Sync(ctx context.Context, addr string, items []state.DataItem) error {
	_, err := p.call(ctx, addr, common.NewPeerSyncRequest(common.WireItemsFromData(items)))
	return err
}

func (p *PeerClient) Verify(ctx context.Context, addr string, origin string, digest map[string]uint64) error {
	_, err := p.call(ctx, addr, common.NewPeerVerifyRequest(origin, digest))
	return err
}

func (p *PeerClient) Pull(ctx context.Context, addr string, keys []string) ([]state.DataItem, error) {
	resp, err := p.call(ctx, addr, common.NewPeerPullRequest(keys))
	if err != nil {
		return nil, err
	}
	return common.DataItemsFromWire(resp.Items), nil
}

func (p *PeerClient) Snapshot(ctx context.Context, addr string) ([]state.DataItem, error) {
	resp, err := p.call(ctx, addr, common.NewPeerSnapshotRequest())
	if err != nil {
		return nil, err
	}
	return common.DataItemsFromWire(resp.Items), nil
}

func (p *PeerClient) Ping(ctx context.Context, addr string) error {
	_, err := p.call(ctx, addr, common.NewPingRequest())
	return err
}

// Close closes all peer transports. In-flight calls may still return their
// result, new calls fail.
func (p *PeerClient) Close() error {
	p.closed.Store(true)
	p.conns.Range(func(addr string, conn *peerConn) bool {
		if conn.t != nil {
			_ = conn.t.Close()
		}
		p.conns.Delete(addr)
		return true
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// call sends one request to the given peer. The transport deadline bounds
// the call, the context is consulted up front; configure the client timeout
// at or below the engine's peer timeout so budgets line up.
func (p *PeerClient) call(ctx context.Context, addr string, req *common.Message) (*common.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := p.transportFor(addr)
	if err != nil {
		return nil, err
	}

	reqBytes, err := p.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := t.Send(common.ServiceOf(req.MsgType), reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := p.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, consistency.NewErrorf(consistency.ErrCInternal,
			"failed to decode response from %s: %v", addr, err)
	}
	if err := common.ErrorFromMessage(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *PeerClient) transportFor(addr string) (transport.IRPCClientTransport, error) {
	if p.closed.Load() {
		return nil, consistency.NewError(consistency.ErrCUnavailable, "peer client is closed")
	}

	conn, _ := p.conns.LoadOrCompute(addr, func() *peerConn { return &peerConn{} })
	conn.once.Do(func() {
		cfg := p.config
		cfg.Transport.Endpoints = []string{addr}
		t := p.factory()
		if err := t.Connect(cfg); err != nil {
			conn.err = err
			return
		}
		conn.t = t
	})

	if conn.err != nil {
		// forget the failed dial so the next call tries again
		p.conns.Compute(addr, func(old *peerConn, loaded bool) (*peerConn, bool) {
			return old, !loaded || old == conn
		})
		return nil, conn.err
	}
	return conn.t, nil
}
