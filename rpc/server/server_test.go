package server

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/distro"
	"github.com/ValentinKolb/dCR/lib/notify"
	"github.com/ValentinKolb/dCR/lib/raft"
	"github.com/ValentinKolb/dCR/lib/state"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
)

// the distro engine must satisfy the peer handler seam the cluster adapter
// is built against
var _ IPeerHandler = (*distro.Engine)(nil)

// ----------------------------------------------------------------------------
// Shared Fixtures
// ----------------------------------------------------------------------------

// apStub satisfies the router constructor for tests that only exercise the
// strongly consistent side.
type apStub struct{}

func (apStub) Apply(context.Context, consistency.Operation) (consistency.Outcome, error) {
	return consistency.Outcome{}, consistency.NewError(consistency.ErrCInvalidOperation, "not under test")
}

func (apStub) Read(context.Context, consistency.Query) (consistency.Outcome, error) {
	return consistency.Outcome{}, consistency.NewError(consistency.ErrCInvalidOperation, "not under test")
}

func (apStub) Ready() bool  { return true }
func (apStub) Close() error { return nil }

// cpStub is the strongly consistent counterpart for tests that only exercise
// the distro side.
type cpStub struct{ leader string }

func (cpStub) Propose(context.Context, consistency.Operation) (consistency.Outcome, error) {
	return consistency.Outcome{}, consistency.NewError(consistency.ErrCInvalidOperation, "not under test")
}

func (cpStub) Read(context.Context, consistency.Query) (consistency.Outcome, error) {
	return consistency.Outcome{}, consistency.NewError(consistency.ErrCInvalidOperation, "not under test")
}

func (s cpStub) LeaderHint() (string, bool) { return s.leader, s.leader != "" }
func (cpStub) Ready() bool                  { return true }
func (cpStub) Close() error                 { return nil }

// noopPeers feeds a single-member distro engine that never reaches out.
type noopPeers struct{}

func (noopPeers) Sync(context.Context, string, []state.DataItem) error { return nil }
func (noopPeers) Verify(context.Context, string, string, map[string]uint64) error {
	return nil
}
func (noopPeers) Pull(context.Context, string, []string) ([]state.DataItem, error) {
	return nil, nil
}
func (noopPeers) Snapshot(context.Context, string) ([]state.DataItem, error) {
	return nil, nil
}

// soloMembers is a static one-member cluster view.
type soloMembers struct{ id string }

func (m soloMembers) View() cluster.View {
	return cluster.View{
		Version: 1,
		Members: []cluster.Member{{ID: m.id, Address: m.id, State: cluster.StateUp}},
	}
}

func (m soloMembers) Subscribe() (<-chan cluster.View, func()) {
	return make(chan cluster.View), func() {}
}

// newConfigEnv builds a router over a local strongly consistent engine whose
// change feed is wired into a notify hub, mirroring the server wiring.
func newConfigEnv(t *testing.T) (consistency.IRouter, *notify.Hub) {
	t.Helper()
	hub := notify.NewHub()
	engine := raft.NewLocalEngine(func() *state.CPMachine {
		m := state.NewCPMachine()
		m.SetOnChange(func(kind consistency.DataKind, key string, version uint64) {
			hub.Publish(notify.Event{Kind: kind, Key: key, Version: version})
		})
		return m
	}, "test:1")
	t.Cleanup(func() { _ = engine.Close() })
	return consistency.NewRouter(engine, apStub{}), hub
}

// newDistroEnv builds a single-member distro engine and a router over it.
func newDistroEnv(t *testing.T) (consistency.IRouter, *distro.Engine) {
	t.Helper()
	engine, err := distro.NewEngine(distro.Config{
		MemberID:       "test-node",
		InstanceTTLSec: 60,
	}, state.NewAPMachine(nil), noopPeers{}, soloMembers{id: "test-node"})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	waitFor(t, "distro engine ready", engine.Ready)
	return consistency.NewRouter(cpStub{leader: "test-node"}, engine), engine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ----------------------------------------------------------------------------
// Dispatch
// ----------------------------------------------------------------------------

// captureTransport hands the registered handler to the test instead of
// opening sockets.
type captureTransport struct {
	handler transport.ServerHandleFunc
}

func (c *captureTransport) RegisterHandler(h transport.ServerHandleFunc) { c.handler = h }
func (c *captureTransport) Listen(common.ServerConfig) error             { return nil }
func (c *captureTransport) Close() error                                 { return nil }

type stubAdapter struct {
	fn func(ctx context.Context, req *common.Message) *common.Message
}

func (s stubAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	return s.fn(ctx, req)
}

func TestServerDispatchesByServiceID(t *testing.T) {
	ct := &captureTransport{}
	ser := serializer.NewBinarySerializer()
	s := NewRPCServer(common.ServerConfig{TimeoutSecond: 2}, ct, ser)

	s.RegisterService(7, stubAdapter{fn: func(ctx context.Context, req *common.Message) *common.Message {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("Handler context must carry the server deadline")
		}
		if req.MsgType != common.MsgTClsPing {
			t.Errorf("Request type = %s, want %s", req.MsgType, common.MsgTClsPing)
		}
		return common.NewPingResponse(nil)
	}})

	if err := s.Serve(); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if ct.handler == nil {
		t.Fatal("Serve must register the transport handler")
	}

	reqBytes, err := ser.Serialize(*common.NewPingRequest())
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var resp common.Message
	if err := ser.Deserialize(ct.handler(7, reqBytes), &resp); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if resp.Err != "" || resp.MsgType != common.MsgTClsPing {
		t.Errorf("Response = (%s, %q), want clean ping", resp.MsgType, resp.Err)
	}
}

func TestServerRejectsUnknownService(t *testing.T) {
	ct := &captureTransport{}
	ser := serializer.NewBinarySerializer()
	s := NewRPCServer(common.ServerConfig{TimeoutSecond: 2}, ct, ser)

	if err := s.Serve(); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	reqBytes, err := ser.Serialize(*common.NewPingRequest())
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var resp common.Message
	if err := ser.Deserialize(ct.handler(42, reqBytes), &resp); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if resp.Err == "" {
		t.Fatal("Unknown service must produce an error response")
	}
	if resp.Code != uint64(consistency.ErrCInvalidOperation) {
		t.Errorf("Error code = %d, want %d", resp.Code, consistency.ErrCInvalidOperation)
	}
}

func TestServerRejectsGarbageFrames(t *testing.T) {
	ct := &captureTransport{}
	ser := serializer.NewBinarySerializer()
	s := NewRPCServer(common.ServerConfig{TimeoutSecond: 2}, ct, ser)
	s.RegisterService(7, stubAdapter{fn: func(_ context.Context, _ *common.Message) *common.Message {
		t.Error("Adapter must not see an undecodable request")
		return common.NewPingResponse(nil)
	}})

	if err := s.Serve(); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	var resp common.Message
	if err := ser.Deserialize(ct.handler(7, []byte{0x01}), &resp); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if resp.Err == "" || resp.Code != uint64(consistency.ErrCInvalidOperation) {
		t.Errorf("Response = (%q, %d), want a decode error", resp.Err, resp.Code)
	}
}
