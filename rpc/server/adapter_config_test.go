package server

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
)

func publishConfig(t *testing.T, adapter IRPCServerAdapter, key, value string) uint64 {
	t.Helper()
	resp := adapter.Handle(context.Background(), common.NewConfigPublishRequest(key, []byte(value), "node-1"))
	if resp.Err != "" {
		t.Fatalf("Publish(%s) failed: %s", key, resp.Err)
	}
	if resp.Version == 0 {
		t.Fatalf("Publish(%s) reported no version", key)
	}
	return resp.Version
}

func TestConfigAdapterPublishGetRemove(t *testing.T) {
	router, hub := newConfigEnv(t)
	adapter := NewConfigAdapter(router, hub)
	ctx := context.Background()
	key := "prod@@web@@app.yaml"

	version := publishConfig(t, adapter, key, "retries: 3")

	got := adapter.Handle(ctx, common.NewConfigGetRequest(key, false))
	if got.Err != "" || !got.Ok {
		t.Fatalf("Get = (%v, %q), want the published config", got.Ok, got.Err)
	}
	if string(got.Value) != "retries: 3" || got.Version != version {
		t.Errorf("Get = (%q, %d), want (%q, %d)", got.Value, got.Version, "retries: 3", version)
	}

	missing := adapter.Handle(ctx, common.NewConfigGetRequest("prod@@web@@other.yaml", false))
	if missing.Err != "" {
		t.Fatalf("Get of a missing key failed: %s", missing.Err)
	}
	if missing.Ok {
		t.Error("Get of a missing key must report Ok=false")
	}

	rm := adapter.Handle(ctx, common.NewConfigRemoveRequest(key))
	if rm.Err != "" || !rm.Ok {
		t.Fatalf("Remove = (%v, %q), want success", rm.Ok, rm.Err)
	}
	if got := adapter.Handle(ctx, common.NewConfigGetRequest(key, false)); got.Ok {
		t.Error("Get after remove must report Ok=false")
	}
}

func TestConfigAdapterListAndHistory(t *testing.T) {
	router, hub := newConfigEnv(t)
	adapter := NewConfigAdapter(router, hub)
	ctx := context.Background()

	publishConfig(t, adapter, "prod@@web@@a", "1")
	publishConfig(t, adapter, "prod@@web@@b", "1")
	publishConfig(t, adapter, "prod@@jobs@@c", "1")
	head := publishConfig(t, adapter, "prod@@web@@a", "2")

	list := adapter.Handle(ctx, common.NewConfigListRequest("prod@@web@@", 0, false))
	if list.Err != "" {
		t.Fatalf("List failed: %s", list.Err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("List = %d items, want 2", len(list.Items))
	}
	if list.Items[0].Key != "prod@@web@@a" || list.Items[1].Key != "prod@@web@@b" {
		t.Errorf("List keys = (%s, %s), want sorted (prod@@web@@a, prod@@web@@b)",
			list.Items[0].Key, list.Items[1].Key)
	}

	limited := adapter.Handle(ctx, common.NewConfigListRequest("prod@@", 2, false))
	if len(limited.Items) != 2 {
		t.Errorf("Limited list = %d items, want 2", len(limited.Items))
	}

	hist := adapter.Handle(ctx, common.NewConfigHistoryRequest("prod@@web@@a", 0))
	if hist.Err != "" {
		t.Fatalf("History failed: %s", hist.Err)
	}
	if len(hist.Items) != 2 {
		t.Fatalf("History = %d records, want 2", len(hist.Items))
	}
	if hist.Items[0].Version != head {
		t.Errorf("History head version = %d, want newest first (%d)", hist.Items[0].Version, head)
	}
	if len(hist.Items[0].Value) == 0 {
		t.Error("History records must carry the content checksum")
	}
}

func TestConfigAdapterGrayRules(t *testing.T) {
	router, hub := newConfigEnv(t)
	adapter := NewConfigAdapter(router, hub)
	ctx := context.Background()
	key := "prod@@web@@app.yaml"
	rules := []byte(`{"clients":["10.1.*"]}`)

	// a gray rule needs its config
	orphan := adapter.Handle(ctx, common.NewGrayPublishRequest(key, rules, "node-1"))
	if orphan.Err == "" || orphan.Code != uint64(consistency.ErrCConflict) {
		t.Fatalf("Gray publish without config = (%q, %d), want a conflict", orphan.Err, orphan.Code)
	}

	publishConfig(t, adapter, key, "retries: 3")
	gray := adapter.Handle(ctx, common.NewGrayPublishRequest(key, rules, "node-1"))
	if gray.Err != "" || gray.Version == 0 {
		t.Fatalf("Gray publish = (%d, %q), want a version", gray.Version, gray.Err)
	}

	list := adapter.Handle(ctx, common.NewConfigListRequest(key, 0, false))
	if len(list.Items) != 1 {
		t.Fatalf("List = %d items, want 1", len(list.Items))
	}
	if list.Items[0].Flags&consistency.FlagGray == 0 {
		t.Error("Config with a gray rule must carry the gray flag")
	}

	rm := adapter.Handle(ctx, common.NewGrayRemoveRequest(key))
	if rm.Err != "" || !rm.Ok {
		t.Fatalf("Gray remove = (%v, %q), want success", rm.Ok, rm.Err)
	}
	list = adapter.Handle(ctx, common.NewConfigListRequest(key, 0, false))
	if len(list.Items) != 1 || list.Items[0].Flags&consistency.FlagGray != 0 {
		t.Error("Gray flag must clear once the rule is removed")
	}
}

func TestConfigAdapterNamespaces(t *testing.T) {
	router, hub := newConfigEnv(t)
	adapter := NewConfigAdapter(router, hub)
	ctx := context.Background()

	create := adapter.Handle(ctx, common.NewNamespaceCreateRequest("prod", []byte(`{"display":"Production"}`)))
	if create.Err != "" || !create.Ok {
		t.Fatalf("Create = (%v, %q), want success", create.Ok, create.Err)
	}

	dup := adapter.Handle(ctx, common.NewNamespaceCreateRequest("prod", nil))
	if dup.Err != "" {
		t.Fatalf("Duplicate create must not error: %s", dup.Err)
	}
	if dup.Ok {
		t.Error("Duplicate create must lose, first writer wins")
	}

	list := adapter.Handle(ctx, common.NewNamespaceListRequest(0))
	if list.Err != "" || len(list.Items) != 1 {
		t.Fatalf("List = (%d items, %q), want the one namespace", len(list.Items), list.Err)
	}
	if list.Items[0].Key != "prod" || string(list.Items[0].Value) != `{"display":"Production"}` {
		t.Errorf("List entry = (%s, %s), metadata of the first writer must survive",
			list.Items[0].Key, list.Items[0].Value)
	}

	rm := adapter.Handle(ctx, common.NewNamespaceRemoveRequest("prod"))
	if rm.Err != "" || !rm.Ok {
		t.Fatalf("Remove = (%v, %q), want success", rm.Ok, rm.Err)
	}
	if list := adapter.Handle(ctx, common.NewNamespaceListRequest(0)); len(list.Items) != 0 {
		t.Errorf("List after remove = %d items, want none", len(list.Items))
	}
}

func TestConfigAdapterWatch(t *testing.T) {
	router, hub := newConfigEnv(t)
	adapter := NewConfigAdapter(router, hub)
	ctx := context.Background()
	key := "prod@@web@@app.yaml"

	version := publishConfig(t, adapter, key, "v1")

	// a client behind the head learns about the change immediately
	resp := adapter.Handle(ctx, common.NewConfigWatchRequest(key, 0, 5))
	if resp.Err != "" || !resp.Ok || resp.Version != version {
		t.Fatalf("Watch behind head = (%v, %d, %q), want immediate change to %d",
			resp.Ok, resp.Version, resp.Err, version)
	}

	// a client at the head blocks until the next publish
	done := make(chan *common.Message, 1)
	go func() {
		done <- adapter.Handle(ctx, common.NewConfigWatchRequest(key, version, 5))
	}()

	time.Sleep(50 * time.Millisecond)
	next := publishConfig(t, adapter, key, "v2")

	select {
	case resp := <-done:
		if resp.Err != "" || !resp.Ok || resp.Version != next {
			t.Fatalf("Watch = (%v, %d, %q), want change to %d", resp.Ok, resp.Version, resp.Err, next)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not wake up on publish")
	}

	// an exhausted budget reports no change and the current version
	start := time.Now()
	resp = adapter.Handle(ctx, common.NewConfigWatchRequest(key, next, 1))
	if resp.Err != "" {
		t.Fatalf("Idle watch failed: %s", resp.Err)
	}
	if resp.Ok {
		t.Error("Idle watch must report no change")
	}
	if resp.Version != next {
		t.Errorf("Idle watch version = %d, want %d", resp.Version, next)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("Idle watch returned after %v, must hold the poll open", elapsed)
	}
}

func TestConfigAdapterRejectsForeignMessages(t *testing.T) {
	router, hub := newConfigEnv(t)
	adapter := NewConfigAdapter(router, hub)

	resp := adapter.Handle(context.Background(), common.NewInstanceBeatRequest("orders@@10.0.0.1:9100"))
	if resp.Err == "" || resp.Code != uint64(consistency.ErrCInvalidOperation) {
		t.Errorf("Foreign message = (%q, %d), want an invalid operation error", resp.Err, resp.Code)
	}
}
