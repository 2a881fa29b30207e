package common

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/state"
)

func TestServiceOf(t *testing.T) {
	tests := []struct {
		msgType MessageType
		want    uint64
	}{
		{MsgTCfgPublish, ServiceConfig},
		{MsgTCfgWatch, ServiceConfig},
		{MsgTNSList, ServiceConfig},
		{MsgTNamRegister, ServiceNaming},
		{MsgTNamServices, ServiceNaming},
		{MsgTLockAcquire, ServiceLock},
		{MsgTLockRelease, ServiceLock},
		{MsgTClsSync, ServiceCluster},
		{MsgTClsInfo, ServiceCluster},
		{MsgTError, 0},
		{MsgTSuccess, 0},
		{MsgTUnknown, 0},
	}

	for _, tt := range tests {
		if got := ServiceOf(tt.msgType); got != tt.want {
			t.Errorf("ServiceOf(%s) = %d, want %d", tt.msgType, got, tt.want)
		}
	}
}

func TestErrorRoundTrip(t *testing.T) {
	// A consistency error keeps its code and leader hint across the wire.
	msg := NewErrorResponse(consistency.NewNotLeaderError("node-2"))
	err := ErrorFromMessage(msg)
	if consistency.CodeOf(err) != consistency.ErrCNotLeader {
		t.Fatalf("expected NotLeader, got %v", consistency.CodeOf(err))
	}
	if hint, ok := consistency.LeaderHintOf(err); !ok || hint != "node-2" {
		t.Fatalf("expected leader hint node-2, got %q (%t)", hint, ok)
	}

	// A plain error degrades to internal.
	msg = NewErrorResponse(errors.New("disk on fire"))
	err = ErrorFromMessage(msg)
	if consistency.CodeOf(err) != consistency.ErrCInternal {
		t.Fatalf("expected Internal, got %v", consistency.CodeOf(err))
	}

	// A clean response carries no error.
	if err := ErrorFromMessage(NewConfigGetResponse([]byte("v"), 7, true, false, nil)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	// A nil message is never silently ok.
	if err := ErrorFromMessage(nil); err == nil {
		t.Fatal("expected error for nil message")
	}
}

func TestErrorMessageNotDoubleWrapped(t *testing.T) {
	orig := consistency.NewError(consistency.ErrCTimeout, "proposal timed out")
	rebuilt := ErrorFromMessage(NewErrorResponse(orig))
	if rebuilt.Error() != orig.Error() {
		t.Fatalf("rebuilt error diverged:\n  orig:    %s\n  rebuilt: %s", orig, rebuilt)
	}
}

func TestWireItemKeepsSyncFields(t *testing.T) {
	it := state.DataItem{
		Key:     "ns@@web@@inst-1",
		Value:   []byte(`{"ip":"10.0.0.1"}`),
		Version: 42,
		Stamp:   1700000000000,
		Origin:  "node-1",
		Beat:    1700000000500,
		TTLSec:  15,
		Flags:   consistency.FlagTombstone,
	}

	got := NewWireItem(it).DataItem()
	if got.Key != it.Key || !bytes.Equal(got.Value, it.Value) ||
		got.Version != it.Version || got.Stamp != it.Stamp ||
		got.Origin != it.Origin || got.Beat != it.Beat ||
		got.TTLSec != it.TTLSec || got.Flags != it.Flags {
		t.Fatalf("wire round trip lost fields: %+v != %+v", got, it)
	}
}
