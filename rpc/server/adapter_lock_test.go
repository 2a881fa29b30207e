package server

import (
	"context"
	"testing"

	"github.com/ValentinKolb/dCR/rpc/common"
)

func TestLockAdapterAcquireRelease(t *testing.T) {
	router, _ := newConfigEnv(t)
	adapter := NewLockAdapter(router)
	ctx := context.Background()

	acq := adapter.Handle(ctx, common.NewLockAcquireRequest("jobs/reindex", "alice", 0))
	if acq.Err != "" {
		t.Fatalf("Acquire failed: %s", acq.Err)
	}
	if !acq.Ok || len(acq.Value) == 0 {
		t.Fatalf("Acquire = (%v, %q), want the lock with a token", acq.Ok, acq.Value)
	}
	token := acq.Value

	// a second holder loses without an error
	contested := adapter.Handle(ctx, common.NewLockAcquireRequest("jobs/reindex", "bob", 0))
	if contested.Err != "" {
		t.Fatalf("Contested acquire must not error: %s", contested.Err)
	}
	if contested.Ok {
		t.Error("Contested acquire must lose")
	}

	// only the fencing token releases
	wrong := adapter.Handle(ctx, common.NewLockReleaseRequest("jobs/reindex", []byte("not-the-token")))
	if wrong.Err != "" {
		t.Fatalf("Foreign release must not error: %s", wrong.Err)
	}
	if wrong.Ok {
		t.Error("Foreign token must not release the lock")
	}

	rel := adapter.Handle(ctx, common.NewLockReleaseRequest("jobs/reindex", token))
	if rel.Err != "" || !rel.Ok {
		t.Fatalf("Release = (%v, %q), want success", rel.Ok, rel.Err)
	}

	re := adapter.Handle(ctx, common.NewLockAcquireRequest("jobs/reindex", "bob", 0))
	if re.Err != "" || !re.Ok {
		t.Errorf("Acquire after release = (%v, %q), want success", re.Ok, re.Err)
	}
}
