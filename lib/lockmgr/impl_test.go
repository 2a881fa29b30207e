package lockmgr

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/raft"
	"github.com/ValentinKolb/dCR/lib/state"
)

// apStub satisfies the router constructor; lock traffic never reaches the
// eventually consistent engine.
type apStub struct{}

func (apStub) Apply(context.Context, consistency.Operation) (consistency.Outcome, error) {
	return consistency.Outcome{}, consistency.NewError(consistency.ErrCInvalidOperation, "not under test")
}

func (apStub) Read(context.Context, consistency.Query) (consistency.Outcome, error) {
	return consistency.Outcome{}, consistency.NewError(consistency.ErrCInvalidOperation, "not under test")
}

func (apStub) Ready() bool  { return true }
func (apStub) Close() error { return nil }

// flakyEngine wraps a real engine and reports the first failures proposals
// as timed out after they applied, mimicking a consensus round that lands
// but whose acknowledgement is lost.
type flakyEngine struct {
	consistency.ICPEngine
	failures int
	calls    int
}

func (f *flakyEngine) Propose(ctx context.Context, op consistency.Operation) (consistency.Outcome, error) {
	f.calls++
	outcome, err := f.ICPEngine.Propose(ctx, op)
	if f.calls <= f.failures {
		return consistency.Outcome{}, consistency.NewError(consistency.ErrCTimeout, "simulated lost ack")
	}
	return outcome, err
}

func newTestRouter(t *testing.T) consistency.IRouter {
	t.Helper()
	engine := raft.NewLocalEngine(state.NewCPMachine, "test:1")
	t.Cleanup(func() { _ = engine.Close() })
	return consistency.NewRouter(engine, apStub{})
}

// TestAcquireAndRelease verifies the basic lifecycle: take the lock, give it
// back, take it again under a fresh token.
func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	locks := NewLockManager(newTestRouter(t), "alice")

	token, ok, err := locks.AcquireLock(ctx, "namespaces/prod", 0)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !ok || len(token) == 0 {
		t.Fatalf("Expected the lock with a token, got ok=%v token=%q", ok, token)
	}

	released, err := locks.ReleaseLock(ctx, "namespaces/prod", token)
	if err != nil || !released {
		t.Fatalf("ReleaseLock = (%v, %v), want (true, nil)", released, err)
	}

	token2, ok, err := locks.AcquireLock(ctx, "namespaces/prod", 0)
	if err != nil || !ok {
		t.Fatalf("Re-acquire after release = (%v, %v), want success", ok, err)
	}
	if bytes.Equal(token, token2) {
		t.Error("Each acquisition must carry a fresh token")
	}
}

// TestAcquireConflict verifies that a held lock is not handed out twice and
// becomes available again after a release.
func TestAcquireConflict(t *testing.T) {
	ctx := context.Background()
	router := newTestRouter(t)
	alice := NewLockManager(router, "alice")
	bob := NewLockManager(router, "bob")

	token, ok, err := alice.AcquireLock(ctx, "res", 0)
	if err != nil || !ok {
		t.Fatalf("Alice failed to acquire: (%v, %v)", ok, err)
	}

	bobToken, ok, err := bob.AcquireLock(ctx, "res", 0)
	if err != nil {
		t.Fatalf("A lost race is not an error, got: %v", err)
	}
	if ok || bobToken != nil {
		t.Fatalf("Bob must not win a held lock, got ok=%v token=%q", ok, bobToken)
	}

	if released, err := alice.ReleaseLock(ctx, "res", token); err != nil || !released {
		t.Fatalf("Alice failed to release: (%v, %v)", released, err)
	}
	if _, ok, err := bob.AcquireLock(ctx, "res", 0); err != nil || !ok {
		t.Fatalf("Bob should win after the release, got (%v, %v)", ok, err)
	}
}

// TestReleaseIsIdempotent verifies that releasing an absent lock reports
// success: the caller no longer holds it, which is all release promises.
func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	locks := NewLockManager(newTestRouter(t), "alice")

	released, err := locks.ReleaseLock(ctx, "never-locked", []byte("whatever"))
	if err != nil || !released {
		t.Fatalf("Releasing an unknown lock = (%v, %v), want (true, nil)", released, err)
	}

	token, _, err := locks.AcquireLock(ctx, "res", 0)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if released, err := locks.ReleaseLock(ctx, "res", token); err != nil || !released {
			t.Fatalf("Release #%d = (%v, %v), want (true, nil)", i+1, released, err)
		}
	}
}

// TestReleaseForeignToken verifies that only the token holder can release.
func TestReleaseForeignToken(t *testing.T) {
	ctx := context.Background()
	router := newTestRouter(t)
	alice := NewLockManager(router, "alice")
	bob := NewLockManager(router, "bob")

	token, _, err := alice.AcquireLock(ctx, "res", 0)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	released, err := bob.ReleaseLock(ctx, "res", []byte("not-the-token"))
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if released {
		t.Fatal("A foreign token must not release the lock")
	}

	if released, err := alice.ReleaseLock(ctx, "res", token); err != nil || !released {
		t.Fatalf("The real holder must still be able to release, got (%v, %v)", released, err)
	}
}

// TestLeaseExpiry verifies that an expired lock can be taken over and that
// the previous holder's token is worthless afterwards.
func TestLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	router := newTestRouter(t)
	alice := NewLockManager(router, "alice")
	bob := NewLockManager(router, "bob")

	staleToken, ok, err := alice.AcquireLock(ctx, "res", 1)
	if err != nil || !ok {
		t.Fatalf("Alice failed to acquire: (%v, %v)", ok, err)
	}
	if _, ok, _ := bob.AcquireLock(ctx, "res", 0); ok {
		t.Fatal("Bob must not win while the lease is alive")
	}

	time.Sleep(1100 * time.Millisecond)

	// the lease ran out, the resource is up for grabs again
	if _, ok, err := bob.AcquireLock(ctx, "res", 0); err != nil || !ok {
		t.Fatalf("Bob should take over the expired lock, got (%v, %v)", ok, err)
	}

	// alice's token is stale now that bob holds the lock
	released, err := alice.ReleaseLock(ctx, "res", staleToken)
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if released {
		t.Fatal("A stale token must not release the new holder's lock")
	}

	// releasing an expired, unclaimed lock reports success whether or not
	// the sweeper removed it first
	token2, _, err := alice.AcquireLock(ctx, "abandoned", 1)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if released, err := alice.ReleaseLock(ctx, "abandoned", token2); err != nil || !released {
		t.Fatalf("Releasing an expired lock = (%v, %v), want (true, nil)", released, err)
	}
}

// TestLeaseDeadlines verifies the lifetime recorded with the lock: the
// requested TTL, or the engine default when none is given.
func TestLeaseDeadlines(t *testing.T) {
	ctx := context.Background()
	router := newTestRouter(t)
	locks := NewLockManager(router, "alice")

	tests := []struct {
		resource string
		ttlSec   uint64
		wantMs   int64
	}{
		{"default-lease", 0, int64(state.DefaultLockTTLSec) * 1000},
		{"short-lease", 30, 30_000},
	}

	for _, tc := range tests {
		if _, ok, err := locks.AcquireLock(ctx, tc.resource, tc.ttlSec); err != nil || !ok {
			t.Fatalf("AcquireLock(%s) = (%v, %v)", tc.resource, ok, err)
		}
		out, err := router.Read(ctx, consistency.Query{
			Kind: consistency.KindLock, Verb: consistency.QueryGet, Key: tc.resource,
		})
		if err != nil || !out.Ok {
			t.Fatalf("Read(%s) = (%+v, %v)", tc.resource, out, err)
		}
		item := out.Items[0]
		if got := item.Beat - item.Stamp; got != tc.wantMs {
			t.Errorf("%s: lease length = %dms, want %dms", tc.resource, got, tc.wantMs)
		}
	}
}

// TestLockReadShowsHolderNotToken verifies that reads expose the holder name
// while the fencing token stays private to the acquirer.
func TestLockReadShowsHolderNotToken(t *testing.T) {
	ctx := context.Background()
	router := newTestRouter(t)
	locks := NewLockManager(router, "alice")

	token, _, err := locks.AcquireLock(ctx, "res", 0)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	out, err := router.Read(ctx, consistency.Query{
		Kind: consistency.KindLock, Verb: consistency.QueryGet, Key: "res",
	})
	if err != nil || !out.Ok {
		t.Fatalf("Read = (%+v, %v)", out, err)
	}
	if string(out.Value) != "alice" {
		t.Errorf("Lock read should expose the holder, got %q", out.Value)
	}
	if bytes.Contains(out.Value, token) {
		t.Error("The token must never be readable")
	}
}

// TestExclusiveUnderContention races concurrent acquires for one resource
// and demands exactly one winner.
func TestExclusiveUnderContention(t *testing.T) {
	ctx := context.Background()
	router := newTestRouter(t)

	const contenders = 16
	var (
		mu      sync.Mutex
		winners [][]byte
		wg      sync.WaitGroup
	)
	start := make(chan struct{})

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			locks := NewLockManager(router, fmt.Sprintf("worker-%d", id))
			<-start
			token, ok, err := locks.AcquireLock(ctx, "contested", 0)
			if err != nil {
				t.Errorf("worker-%d: AcquireLock failed: %v", id, err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, token)
				mu.Unlock()
			}
		}(i)
	}

	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("Expected exactly one winner, got %d", len(winners))
	}
	released, err := NewLockManager(router, "janitor").ReleaseLock(ctx, "contested", winners[0])
	if err != nil || !released {
		t.Fatalf("The winning token must release the lock, got (%v, %v)", released, err)
	}
}

// TestAcquireRetriesAmbiguousTimeout verifies that a lost acknowledgement
// does not lose the lock: the manager re-proposes the same token and the
// machine treats the repeat as a renewal.
func TestAcquireRetriesAmbiguousTimeout(t *testing.T) {
	ctx := context.Background()
	engine := raft.NewLocalEngine(state.NewCPMachine, "test:1")
	t.Cleanup(func() { _ = engine.Close() })
	flaky := &flakyEngine{ICPEngine: engine, failures: 2}
	router := consistency.NewRouter(flaky, apStub{})

	alice := NewLockManager(router, "alice")
	token, ok, err := alice.AcquireLock(ctx, "res", 0)
	if err != nil || !ok {
		t.Fatalf("AcquireLock = (%v, %v), want success after retries", ok, err)
	}
	if flaky.calls != 3 {
		t.Errorf("Expected 3 proposals (2 lost acks + 1 confirmed), got %d", flaky.calls)
	}

	// the retries must not have broken exclusion
	if _, ok, err := NewLockManager(router, "bob").AcquireLock(ctx, "res", 0); err != nil || ok {
		t.Fatalf("Bob must still lose against the held lock, got (%v, %v)", ok, err)
	}
	if released, err := alice.ReleaseLock(ctx, "res", token); err != nil || !released {
		t.Fatalf("ReleaseLock = (%v, %v), want (true, nil)", released, err)
	}
}

// TestReleaseRetriesAmbiguousTimeout verifies the release side of the same
// story: the re-proposed delete conflicts on the already removed lock and
// the follow-up read settles it as released.
func TestReleaseRetriesAmbiguousTimeout(t *testing.T) {
	ctx := context.Background()
	engine := raft.NewLocalEngine(state.NewCPMachine, "test:1")
	t.Cleanup(func() { _ = engine.Close() })
	flaky := &flakyEngine{ICPEngine: engine}
	router := consistency.NewRouter(flaky, apStub{})

	alice := NewLockManager(router, "alice")
	token, ok, err := alice.AcquireLock(ctx, "res", 0)
	if err != nil || !ok {
		t.Fatalf("AcquireLock = (%v, %v)", ok, err)
	}

	// lose the ack of the next proposal, which is the delete
	flaky.failures = flaky.calls + 1

	released, err := alice.ReleaseLock(ctx, "res", token)
	if err != nil || !released {
		t.Fatalf("ReleaseLock = (%v, %v), want (true, nil)", released, err)
	}
	if _, ok, err := NewLockManager(router, "bob").AcquireLock(ctx, "res", 0); err != nil || !ok {
		t.Fatalf("The lock must be free after the release, got (%v, %v)", ok, err)
	}
}

// TestAcquireGivesUpWhenContextEnds verifies that the retry loop is bounded
// by the caller's context and surfaces the ambiguous timeout.
func TestAcquireGivesUpWhenContextEnds(t *testing.T) {
	engine := raft.NewLocalEngine(state.NewCPMachine, "test:1")
	t.Cleanup(func() { _ = engine.Close() })
	flaky := &flakyEngine{ICPEngine: engine, failures: 1 << 30}
	router := consistency.NewRouter(flaky, apStub{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	token, ok, err := NewLockManager(router, "alice").AcquireLock(ctx, "res", 0)
	if ok || token != nil {
		t.Fatalf("An unconfirmed acquisition must not report success, got ok=%v", ok)
	}
	if consistency.CodeOf(err) != consistency.ErrCTimeout {
		t.Fatalf("Expected the ambiguous timeout to surface, got %v", err)
	}
}
