package raft

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/state"
)

// both engines serve the identical contracts
var (
	_ consistency.ICPEngine        = (*Engine)(nil)
	_ consistency.ICPEngine        = (*LocalEngine)(nil)
	_ consistency.IMembershipAdmin = (*Engine)(nil)
	_ consistency.IMembershipAdmin = (*LocalEngine)(nil)
)

func newTestLocalEngine(t *testing.T) *LocalEngine {
	t.Helper()
	e := NewLocalEngine(func() *state.CPMachine { return state.NewCPMachine() }, "127.0.0.1:4000")
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestLocalEngineConfigRoundtrip(t *testing.T) {
	e := newTestLocalEngine(t)
	ctx := context.Background()

	outcome, err := e.Propose(ctx, consistency.Operation{
		Kind: consistency.KindConfig, Verb: consistency.VerbPut,
		Key: "ns@@grp@@app", Value: []byte("v1"), Stamp: testStamp,
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if !outcome.Ok || outcome.Index != 1 {
		t.Errorf("Outcome = %+v, want ok with index 1", outcome)
	}

	got, err := e.Read(ctx, consistency.Query{
		Kind: consistency.KindConfig, Verb: consistency.QueryGet, Key: "ns@@grp@@app",
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !got.Ok || string(got.Value) != "v1" || got.Index != 1 {
		t.Errorf("Read = %+v, want ok/v1/index 1", got)
	}

	// second put bumps version and appends history
	if _, err := e.Propose(ctx, consistency.Operation{
		Kind: consistency.KindConfig, Verb: consistency.VerbPut,
		Key: "ns@@grp@@app", Value: []byte("v2"), Stamp: testStamp + 1,
	}); err != nil {
		t.Fatalf("Second propose failed: %v", err)
	}

	history, err := e.Read(ctx, consistency.Query{
		Kind: consistency.KindRelease, Verb: consistency.QueryHistory, Key: "ns@@grp@@app",
	})
	if err != nil {
		t.Fatalf("History read failed: %v", err)
	}
	if len(history.Items) != 2 {
		t.Errorf("History length = %d, want 2", len(history.Items))
	}

	if _, err := e.Propose(ctx, consistency.Operation{
		Kind: consistency.KindConfig, Verb: consistency.VerbDelete,
		Key: "ns@@grp@@app", Stamp: testStamp + 2,
	}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err = e.Read(ctx, consistency.Query{
		Kind: consistency.KindConfig, Verb: consistency.QueryGet, Key: "ns@@grp@@app",
	})
	if err != nil {
		t.Fatalf("Read after delete failed: %v", err)
	}
	if got.Ok {
		t.Error("Config should be gone after delete")
	}
}

func TestLocalEngineLockConflict(t *testing.T) {
	e := newTestLocalEngine(t)
	ctx := context.Background()

	acquire := func(token, holder string, stamp int64) error {
		_, err := e.Propose(ctx, consistency.Operation{
			Kind: consistency.KindLock, Verb: consistency.VerbPutIfAbsent,
			Key: "deploy", Value: []byte(token), Origin: holder, TTLSec: 30, Stamp: stamp,
		})
		return err
	}

	if err := acquire("t1", "a", testStamp); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	if err := acquire("t2", "b", testStamp+1); consistency.CodeOf(err) != consistency.ErrCConflict {
		t.Errorf("Conflicting acquire error = %v, want conflict", err)
	}

	// conflict errors are terminal for this attempt, not retryable
	if consistency.IsRetryable(consistency.NewError(consistency.ErrCConflict, "")) {
		t.Error("Conflict must not be classified retryable")
	}

	release := func(token string, stamp int64) error {
		_, err := e.Propose(ctx, consistency.Operation{
			Kind: consistency.KindLock, Verb: consistency.VerbDelete,
			Key: "deploy", Value: []byte(token), Stamp: stamp,
		})
		return err
	}
	if err := release("t2", testStamp+2); consistency.CodeOf(err) != consistency.ErrCConflict {
		t.Errorf("Foreign release error = %v, want conflict", err)
	}
	if err := release("t1", testStamp+3); err != nil {
		t.Errorf("Owner release failed: %v", err)
	}
}

func TestLocalEngineRejectsNonCPWork(t *testing.T) {
	e := newTestLocalEngine(t)
	ctx := context.Background()

	// instance data belongs to the eventually consistent engine
	_, err := e.Propose(ctx, consistency.Operation{
		Kind: consistency.KindInstance, Verb: consistency.VerbPut, Key: "svc@@i",
	})
	if consistency.CodeOf(err) != consistency.ErrCInvalidOperation {
		t.Errorf("Instance propose error = %v, want invalid operation", err)
	}

	// heartbeats are never replicated through the log
	_, err = e.Propose(ctx, consistency.Operation{
		Kind: consistency.KindConfig, Verb: consistency.VerbTouch, Key: "k",
	})
	if consistency.CodeOf(err) != consistency.ErrCInvalidOperation {
		t.Errorf("Touch propose error = %v, want invalid operation", err)
	}
}

func TestLocalEngineMembership(t *testing.T) {
	e := newTestLocalEngine(t)
	ctx := context.Background()

	info, err := e.Membership(ctx)
	if err != nil {
		t.Fatalf("Membership failed: %v", err)
	}
	if !info.IsLeader || info.LeaderID != 1 || len(info.Replicas) != 1 {
		t.Errorf("Membership = %+v, want single leading replica", info)
	}

	if err := e.AddReplica(ctx, 2, "127.0.0.1:4001"); consistency.CodeOf(err) != consistency.ErrCInvalidOperation {
		t.Errorf("AddReplica error = %v, want invalid operation", err)
	}

	if hint, ok := e.LeaderHint(); !ok || hint != "127.0.0.1:4000" {
		t.Errorf("LeaderHint = %q/%v, want advertise address", hint, ok)
	}
	if !e.Ready() {
		t.Error("Standalone engine must always be ready")
	}
}

func TestLocalEngineInfo(t *testing.T) {
	e := newTestLocalEngine(t)
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c"} {
		if _, err := e.Propose(ctx, consistency.Operation{
			Kind: consistency.KindConfig, Verb: consistency.VerbPut,
			Key: key, Value: []byte("v"), Stamp: testStamp + int64(i),
		}); err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
	}

	outcome, err := e.Read(ctx, consistency.Query{Verb: consistency.QueryInfo})
	if err != nil {
		t.Fatalf("Info read failed: %v", err)
	}

	var info state.Info
	if err := json.Unmarshal(outcome.Value, &info); err != nil {
		t.Fatalf("Info payload not valid JSON: %v", err)
	}
	if info.Machine != "cp" || info.Entries != 3 {
		t.Errorf("Info = %+v, want cp machine with 3 entries", info)
	}
}

func TestLocalEngineLockExpirySweep(t *testing.T) {
	e := newTestLocalEngine(t)
	ctx := context.Background()

	if _, err := e.Propose(ctx, consistency.Operation{
		Kind: consistency.KindLock, Verb: consistency.VerbPutIfAbsent,
		Key: "short", Value: []byte("t"), Origin: "a", TTLSec: 1,
	}); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// the sweep loop runs once per second; the lock must disappear shortly
	// after its 1s lifetime ends
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		outcome, err := e.Read(ctx, consistency.Query{
			Kind: consistency.KindLock, Verb: consistency.QueryHas, Key: "short",
		})
		if err != nil {
			t.Fatalf("Has read failed: %v", err)
		}
		if !outcome.Ok {
			return // swept
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Error("Expired lock was not swept in time")
}
