package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/distro"
	"github.com/ValentinKolb/dCR/lib/state"
	"github.com/ValentinKolb/dCR/rpc/common"
)

func TestClusterAdapterPeerProtocol(t *testing.T) {
	router, engine := newDistroEnv(t)
	adapter := NewClusterAdapter(engine, soloMembers{id: "test-node"}, nil, router)
	ctx := context.Background()

	item := common.WireItem{
		Key:     "orders" + common.KeySeparator + "10.0.0.8:9100",
		Value:   []byte(`{"weight":2}`),
		Version: 7,
		Stamp:   time.Now().UnixMilli(),
		Origin:  "other-node",
		TTLSec:  60,
	}

	sync := adapter.Handle(ctx, common.NewPeerSyncRequest([]common.WireItem{item}))
	if sync.Err != "" {
		t.Fatalf("Sync failed: %s", sync.Err)
	}

	pull := adapter.Handle(ctx, common.NewPeerPullRequest([]string{item.Key, "missing@@key"}))
	if pull.Err != "" {
		t.Fatalf("Pull failed: %s", pull.Err)
	}
	if len(pull.Items) != 1 {
		t.Fatalf("Pull = %d items, want 1, unknown keys are skipped", len(pull.Items))
	}
	if pull.Items[0].Version != 7 || pull.Items[0].Origin != "other-node" {
		t.Errorf("Pull item = (v%d, %s), the merged item must keep its version and origin",
			pull.Items[0].Version, pull.Items[0].Origin)
	}

	snap := adapter.Handle(ctx, common.NewPeerSnapshotRequest())
	if snap.Err != "" || len(snap.Items) != 1 {
		t.Errorf("Snapshot = (%d items, %q), want the full data set", len(snap.Items), snap.Err)
	}

	verify := adapter.Handle(ctx, common.NewPeerVerifyRequest("other-node", map[string]uint64{item.Key: 7}))
	if verify.Err != "" {
		t.Errorf("Verify failed: %s", verify.Err)
	}

	// the merged instance serves discovery like a locally registered one
	query := NewNamingAdapter(router).Handle(ctx, common.NewInstanceQueryRequest("orders", 0))
	if query.Err != "" || len(query.Items) != 1 {
		t.Errorf("Query = (%d items, %q), peer synced instances must be discoverable",
			len(query.Items), query.Err)
	}
}

// pullPeers answers pulls with canned items, standing in for the member that
// sent the digest.
type pullPeers struct {
	noopPeers
	items map[string]state.DataItem
}

func (p pullPeers) Pull(_ context.Context, _ string, keys []string) ([]state.DataItem, error) {
	var out []state.DataItem
	for _, key := range keys {
		if item, ok := p.items[key]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func TestClusterAdapterVerifyRepairsMissing(t *testing.T) {
	key := "orders" + common.KeySeparator + "10.0.0.9:9100"
	seed := state.DataItem{
		Key:     key,
		Value:   []byte(`{"weight":1}`),
		Version: 5,
		Stamp:   time.Now().UnixMilli(),
		Origin:  "peer-2",
		TTLSec:  60,
	}

	engine, err := distro.NewEngine(distro.Config{
		MemberID:       "test-node",
		InstanceTTLSec: 60,
	}, state.NewAPMachine(nil), pullPeers{items: map[string]state.DataItem{key: seed}},
		soloMembers{id: "test-node"})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	waitFor(t, "distro engine ready", engine.Ready)

	router := consistency.NewRouter(cpStub{}, engine)
	adapter := NewClusterAdapter(engine, soloMembers{id: "test-node"}, nil, router)
	ctx := context.Background()

	// the digest lists a key this member misses, verify pulls it in
	verify := adapter.Handle(ctx, common.NewPeerVerifyRequest("peer-2", map[string]uint64{key: 5}))
	if verify.Err != "" {
		t.Fatalf("Verify failed: %s", verify.Err)
	}

	pull := adapter.Handle(ctx, common.NewPeerPullRequest([]string{key}))
	if len(pull.Items) != 1 || pull.Items[0].Version != 5 {
		t.Fatalf("Pull after verify = %d items, the missing item must have been repaired", len(pull.Items))
	}
}

func TestClusterAdapterMembershipSurface(t *testing.T) {
	router, engine := newDistroEnv(t)
	adapter := NewClusterAdapter(engine, soloMembers{id: "test-node"}, nil, router)
	ctx := context.Background()

	ping := adapter.Handle(ctx, common.NewPingRequest())
	if ping.Err != "" || !ping.Ok {
		t.Errorf("Ping = (%v, %q), want success", ping.Ok, ping.Err)
	}

	members := adapter.Handle(ctx, common.NewMembersRequest())
	if members.Err != "" {
		t.Fatalf("Members failed: %s", members.Err)
	}
	var view cluster.View
	if err := json.Unmarshal(members.Value, &view); err != nil {
		t.Fatalf("Members payload is not a view: %v", err)
	}
	if len(view.Members) != 1 || view.Members[0].ID != "test-node" {
		t.Errorf("View = %+v, want the single member", view)
	}

	// without a raft membership admin joins and leaves are refused
	join := adapter.Handle(ctx, common.NewJoinRequest(2, "10.0.0.2:7000", false))
	if join.Err == "" || join.Code != uint64(consistency.ErrCInvalidOperation) {
		t.Errorf("Join = (%q, %d), want refusal on a standalone node", join.Err, join.Code)
	}
	leave := adapter.Handle(ctx, common.NewLeaveRequest(2))
	if leave.Err == "" || leave.Code != uint64(consistency.ErrCInvalidOperation) {
		t.Errorf("Leave = (%q, %d), want refusal on a standalone node", leave.Err, leave.Code)
	}

	info := adapter.Handle(ctx, common.NewClusterInfoRequest())
	if info.Err != "" {
		t.Fatalf("Info failed: %s", info.Err)
	}
	var ci struct {
		Ready  bool   `json:"ready"`
		Leader string `json:"leader"`
	}
	if err := json.Unmarshal(info.Value, &ci); err != nil {
		t.Fatalf("Info payload is not valid JSON: %v", err)
	}
	if !ci.Ready {
		t.Error("A ready single member node must report ready")
	}
	if ci.Leader != "test-node" {
		t.Errorf("Leader = %q, want the engine's hint", ci.Leader)
	}
}
