package consistency

import (
	"context"
	"errors"
	"testing"
)

// recordingEngine implements both engine interfaces and records which calls
// reached it, so the tests can assert the router's classification.
type recordingEngine struct {
	applied []Operation
	read    []Query
	ready   bool
	leader  string
}

func (e *recordingEngine) Propose(_ context.Context, op Operation) (Outcome, error) {
	e.applied = append(e.applied, op)
	return Outcome{Ok: true, Index: uint64(len(e.applied))}, nil
}

func (e *recordingEngine) Apply(ctx context.Context, op Operation) (Outcome, error) {
	return e.Propose(ctx, op)
}

func (e *recordingEngine) Read(_ context.Context, q Query) (Outcome, error) {
	e.read = append(e.read, q)
	return Outcome{Ok: true, Stale: q.Stale}, nil
}

func (e *recordingEngine) LeaderHint() (string, bool) { return e.leader, e.leader != "" }
func (e *recordingEngine) Ready() bool                { return e.ready }
func (e *recordingEngine) Close() error               { return nil }

// TestRouterClassification verifies that each data kind reaches exactly the
// engine its consistency mode demands.
func TestRouterClassification(t *testing.T) {
	tests := []struct {
		kind   DataKind
		wantCP bool
	}{
		{KindConfig, true},
		{KindNamespace, true},
		{KindLock, true},
		{KindRelease, true},
		{KindGray, true},
		{KindInstance, false},
		{KindBeat, false},
	}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			cp := &recordingEngine{ready: true}
			ap := &recordingEngine{ready: true}
			router := NewRouter(cp, ap)

			op := Operation{Kind: tc.kind, Verb: VerbPut, Key: "k", Value: []byte("v")}
			if _, err := router.Apply(context.Background(), op); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			q := Query{Kind: tc.kind, Verb: QueryGet, Key: "k"}
			if _, err := router.Read(context.Background(), q); err != nil {
				t.Fatalf("Read failed: %v", err)
			}

			gotCPApplies := len(cp.applied)
			gotAPApplies := len(ap.applied)
			if tc.wantCP && (gotCPApplies != 1 || gotAPApplies != 0) {
				t.Errorf("kind %s: expected CP apply, got cp=%d ap=%d", tc.kind, gotCPApplies, gotAPApplies)
			}
			if !tc.wantCP && (gotCPApplies != 0 || gotAPApplies != 1) {
				t.Errorf("kind %s: expected AP apply, got cp=%d ap=%d", tc.kind, gotCPApplies, gotAPApplies)
			}
			if tc.wantCP && len(cp.read) != 1 {
				t.Errorf("kind %s: expected CP read", tc.kind)
			}
			if !tc.wantCP && len(ap.read) != 1 {
				t.Errorf("kind %s: expected AP read", tc.kind)
			}
		})
	}
}

// TestRouterUnknownKind verifies that unbound kinds are rejected instead of
// silently picking an engine.
func TestRouterUnknownKind(t *testing.T) {
	cp := &recordingEngine{ready: true}
	ap := &recordingEngine{ready: true}
	router := NewRouter(cp, ap)

	_, err := router.Apply(context.Background(), Operation{Kind: KindUnknown, Verb: VerbPut, Key: "k"})
	if CodeOf(err) != ErrCInvalidOperation {
		t.Errorf("Expected ErrCInvalidOperation, got %v", err)
	}

	_, err = router.Read(context.Background(), Query{Kind: DataKind(99), Verb: QueryGet, Key: "k"})
	if CodeOf(err) != ErrCInvalidOperation {
		t.Errorf("Expected ErrCInvalidOperation, got %v", err)
	}

	if len(cp.applied)+len(ap.applied)+len(cp.read)+len(ap.read) != 0 {
		t.Error("No engine should have been reached for unknown kinds")
	}
}

// TestRouterReady verifies readiness aggregates both engines.
func TestRouterReady(t *testing.T) {
	tests := []struct {
		name    string
		cpReady bool
		apReady bool
		want    bool
	}{
		{"both ready", true, true, true},
		{"cp loading", false, true, false},
		{"ap loading", true, false, false},
		{"none ready", false, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(&recordingEngine{ready: tc.cpReady}, &recordingEngine{ready: tc.apReady})
			if got := router.Ready(); got != tc.want {
				t.Errorf("Ready() = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestRouterStaleReadFlag verifies the stale marker passes through untouched.
func TestRouterStaleReadFlag(t *testing.T) {
	router := NewRouter(&recordingEngine{ready: true}, &recordingEngine{ready: true})

	out, err := router.Read(context.Background(), Query{Kind: KindConfig, Verb: QueryGet, Key: "k", Stale: true})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !out.Stale {
		t.Error("Expected Outcome.Stale to be set for a stale read")
	}

	out, err = router.Read(context.Background(), Query{Kind: KindConfig, Verb: QueryGet, Key: "k"})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if out.Stale {
		t.Error("Outcome.Stale must not be set for a linearizable read")
	}
}

// TestErrorCodes verifies code extraction and the retry classification that
// clients base their behavior on.
func TestErrorCodes(t *testing.T) {
	if CodeOf(nil) != ErrCSuccess {
		t.Error("nil error should map to ErrCSuccess")
	}
	if CodeOf(errors.New("plain")) != ErrCInternal {
		t.Error("plain error should map to ErrCInternal")
	}
	if CodeOf(NewError(ErrCConflict, "lost the race")) != ErrCConflict {
		t.Error("ErrCConflict not extracted")
	}

	// wrapped errors unwrap
	wrapped := wrapErr(NewError(ErrCUnavailable, "loading"))
	if CodeOf(wrapped) != ErrCUnavailable {
		t.Error("wrapped consistency error should unwrap")
	}

	retryable := []ErrCode{ErrCNotLeader, ErrCUnavailable, ErrCMembershipChange}
	for _, code := range retryable {
		if !IsRetryable(NewError(code, "x")) {
			t.Errorf("%s should be retryable", code)
		}
	}
	notRetryable := []ErrCode{ErrCTimeout, ErrCConflict, ErrCInvalidOperation, ErrCInternal}
	for _, code := range notRetryable {
		if IsRetryable(NewError(code, "x")) {
			t.Errorf("%s should not be retryable", code)
		}
	}
}

// TestLeaderHint verifies the hint round-trips through the error type.
func TestLeaderHint(t *testing.T) {
	err := NewNotLeaderError("node-2")
	hint, ok := LeaderHintOf(err)
	if !ok || hint != "node-2" {
		t.Errorf("Expected hint node-2, got (%s, %v)", hint, ok)
	}

	if _, ok := LeaderHintOf(NewNotLeaderError("")); ok {
		t.Error("Unknown leader should yield no hint")
	}
	if _, ok := LeaderHintOf(NewError(ErrCTimeout, "x")); ok {
		t.Error("Non-leader errors should yield no hint")
	}
}

func wrapErr(err error) error {
	return &wrappingError{inner: err}
}

type wrappingError struct{ inner error }

func (w *wrappingError) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrappingError) Unwrap() error { return w.inner }
