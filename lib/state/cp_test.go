package state

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dCR/lib/consistency"
)

const testBase = int64(1_700_000_000_000) // fixed wall clock base for determinism

func TestCPConfigPutGet(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	sum := m.PutConfig("ns@@grp@@app.yaml", []byte("timeout: 5s"), 1, testBase)
	if sum == 0 {
		t.Error("Expected a non-zero checksum")
	}

	item, ok := m.Get(consistency.KindConfig, "ns@@grp@@app.yaml")
	if !ok {
		t.Fatal("Config not found after put")
	}
	if string(item.Value) != "timeout: 5s" {
		t.Errorf("Value = %q, want %q", item.Value, "timeout: 5s")
	}
	if item.Version != 1 {
		t.Errorf("Version = %d, want 1", item.Version)
	}
	if item.Flags&consistency.FlagGray != 0 {
		t.Error("Fresh config must not carry the gray flag")
	}

	if _, ok := m.Get(consistency.KindConfig, "missing"); ok {
		t.Error("Missing key should not be found")
	}

	// updates overwrite and re-version
	m.PutConfig("ns@@grp@@app.yaml", []byte("timeout: 10s"), 2, testBase+1)
	item, _ = m.Get(consistency.KindConfig, "ns@@grp@@app.yaml")
	if string(item.Value) != "timeout: 10s" || item.Version != 2 {
		t.Errorf("Update not applied: value=%q version=%d", item.Value, item.Version)
	}
}

func TestCPReleaseHistory(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	key := "ns@@grp@@svc.properties"
	for i := 0; i < 15; i++ {
		m.PutConfig(key, []byte{byte(i)}, uint64(i+1), testBase+int64(i))
	}

	history := m.History(key, 0)
	if len(history) != DefaultHistoryLimit {
		t.Fatalf("History length = %d, want %d", len(history), DefaultHistoryLimit)
	}

	// newest first, versions strictly descending
	if history[0].Version != 15 {
		t.Errorf("Newest record version = %d, want 15", history[0].Version)
	}
	for i := 1; i < len(history); i++ {
		if history[i].Version >= history[i-1].Version {
			t.Errorf("History not descending at %d: %d >= %d", i, history[i].Version, history[i-1].Version)
		}
	}
	// oldest retained record is version 6 (15 - 10 + 1)
	if last := history[len(history)-1].Version; last != 6 {
		t.Errorf("Oldest retained version = %d, want 6", last)
	}

	// limited query
	if got := len(m.History(key, 3)); got != 3 {
		t.Errorf("Limited history length = %d, want 3", got)
	}

	if got := len(m.History("unknown", 0)); got != 0 {
		t.Errorf("Unknown key history length = %d, want 0", got)
	}
}

func TestCPConfigDeleteCascades(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	key := "ns@@grp@@db.yaml"
	m.PutConfig(key, []byte("a"), 1, testBase)
	m.PutConfig(key, []byte("b"), 2, testBase+1)
	if !m.PutGray(key, []byte(`{"percent":10}`), 3, testBase+2) {
		t.Fatal("PutGray on existing config should succeed")
	}

	if !m.DeleteConfig(key, 4, testBase+3) {
		t.Fatal("DeleteConfig should report the key existed")
	}

	if m.Has(consistency.KindConfig, key) {
		t.Error("Config should be gone")
	}
	if m.Has(consistency.KindGray, key) {
		t.Error("Gray rule should be cascaded away")
	}
	if len(m.History(key, 0)) != 0 {
		t.Error("History should be cascaded away")
	}

	// idempotent second delete
	if m.DeleteConfig(key, 5, testBase+4) {
		t.Error("Second delete should report the key missing")
	}
}

func TestCPNamespaces(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	m.PutNamespace("prod", []byte("production"), 1, testBase)
	m.PutNamespace("dev", []byte("development"), 2, testBase)
	m.PutNamespace("dev-eu", []byte("dev europe"), 3, testBase)

	items := m.List(consistency.KindNamespace, "", 0)
	if len(items) != 3 {
		t.Fatalf("Expected 3 namespaces, got %d", len(items))
	}
	// sorted by key
	if items[0].Key != "dev" || items[1].Key != "dev-eu" || items[2].Key != "prod" {
		t.Errorf("Namespaces not sorted: %v %v %v", items[0].Key, items[1].Key, items[2].Key)
	}

	// prefix filter
	if got := len(m.List(consistency.KindNamespace, "dev", 0)); got != 2 {
		t.Errorf("Prefix list length = %d, want 2", got)
	}

	if !m.DeleteNamespace("dev", 4, testBase) {
		t.Error("DeleteNamespace should report the key existed")
	}
	if m.Has(consistency.KindNamespace, "dev") {
		t.Error("Namespace should be gone")
	}
}

func TestCPLockAcquireConflict(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	tokenA := []byte("token-a")
	tokenB := []byte("token-b")

	if !m.AcquireLock("ns/deploy", tokenA, "worker-a", 30, 1, testBase) {
		t.Fatal("First acquire should win")
	}

	// a concurrent acquire before the deadline loses
	if m.AcquireLock("ns/deploy", tokenB, "worker-b", 30, 2, testBase+1000) {
		t.Error("Second acquire before expiry should lose")
	}

	// the losing proposal must not have replaced the holder
	item, _ := m.Get(consistency.KindLock, "ns/deploy")
	if string(item.Value) != "worker-a" {
		t.Errorf("Holder = %q, want worker-a", item.Value)
	}

	// the holder may renew with its own token before the deadline
	if !m.AcquireLock("ns/deploy", tokenA, "worker-a", 30, 3, testBase+2000) {
		t.Error("Renewal with the owner token should win")
	}
	item, _ = m.Get(consistency.KindLock, "ns/deploy")
	if item.Beat != testBase+2000+30*1000 {
		t.Errorf("Renewal did not extend the deadline: %d", item.Beat)
	}

	// after the deadline the lock counts as absent and may be taken over
	afterExpiry := testBase + 2000 + 31*1000
	if !m.AcquireLock("ns/deploy", tokenB, "worker-b", 30, 4, afterExpiry) {
		t.Error("Acquire after expiry should win")
	}
	item, _ = m.Get(consistency.KindLock, "ns/deploy")
	if string(item.Value) != "worker-b" {
		t.Errorf("Holder after takeover = %q, want worker-b", item.Value)
	}
}

func TestCPLockRelease(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	token := []byte("secret")
	m.AcquireLock("res", token, "me", 60, 1, testBase)

	if m.ReleaseLock("res", []byte("wrong"), 2, testBase+1) {
		t.Error("Release with a foreign token must fail")
	}
	if !m.Has(consistency.KindLock, "res") {
		t.Error("Lock must survive a failed release")
	}

	if !m.ReleaseLock("res", token, 3, testBase+2) {
		t.Error("Release with the owner token should succeed")
	}
	if m.Has(consistency.KindLock, "res") {
		t.Error("Lock should be gone after release")
	}

	if m.ReleaseLock("res", token, 4, testBase+3) {
		t.Error("Releasing a missing lock should fail")
	}
}

func TestCPLockSweep(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	m.AcquireLock("b", []byte("t1"), "h1", 10, 1, testBase)
	m.AcquireLock("a", []byte("t2"), "h2", 10, 2, testBase)
	m.AcquireLock("c", []byte("t3"), "h3", 120, 3, testBase)

	// at +11s the two 10s locks are overdue, the 120s lock is not
	removed := m.SweepLocks(4, testBase+11*1000)
	if len(removed) != 2 {
		t.Fatalf("Sweep removed %d locks, want 2", len(removed))
	}
	// deterministic order
	if removed[0] != "a" || removed[1] != "b" {
		t.Errorf("Sweep order = %v, want [a b]", removed)
	}
	if !m.Has(consistency.KindLock, "c") {
		t.Error("Unexpired lock must survive the sweep")
	}

	// nothing left to sweep
	if got := m.SweepLocks(5, testBase+12*1000); len(got) != 0 {
		t.Errorf("Second sweep removed %v, want nothing", got)
	}
}

func TestCPStaleWriteIgnored(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	m.PutConfig("k", []byte("new"), 5, testBase)
	m.PutConfig("k", []byte("old"), 3, testBase-10)

	item, _ := m.Get(consistency.KindConfig, "k")
	if string(item.Value) != "new" {
		t.Errorf("Stale write was applied: value = %q", item.Value)
	}
	if m.AppliedIndex() != 5 {
		t.Errorf("AppliedIndex = %d, want 5", m.AppliedIndex())
	}
	if len(m.History("k", 0)) != 1 {
		t.Error("Stale write must not append history")
	}
}

func TestCPGrayRules(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	if m.PutGray("nope", []byte("r"), 1, testBase) {
		t.Error("Gray rule on a missing config must fail")
	}

	m.PutConfig("cfg", []byte("v1"), 2, testBase)
	if !m.PutGray("cfg", []byte(`{"ips":["10.0.0.1"]}`), 3, testBase+1) {
		t.Fatal("Gray rule on an existing config should succeed")
	}

	// the config item and the newest history record carry the flag
	item, _ := m.Get(consistency.KindConfig, "cfg")
	if item.Flags&consistency.FlagGray == 0 {
		t.Error("Config item should carry the gray flag")
	}
	history := m.History("cfg", 0)
	if len(history) == 0 || history[0].Flags&consistency.FlagGray == 0 {
		t.Error("Newest history record should carry the gray flag")
	}

	if !m.DeleteGray("cfg", 4, testBase+2) {
		t.Error("DeleteGray should report the rule existed")
	}
	item, _ = m.Get(consistency.KindConfig, "cfg")
	if item.Flags&consistency.FlagGray != 0 {
		t.Error("Gray flag should be cleared after rule removal")
	}
}

// TestCPDeterministicReplay feeds two fresh machines the same command
// sequence and expects byte-identical snapshots - the property raft
// replication depends on.
func TestCPDeterministicReplay(t *testing.T) {
	replay := func() *CPMachine {
		m := NewCPMachine()
		m.PutNamespace("prod", []byte("production"), 1, testBase)
		m.PutConfig("prod@@g@@a", []byte("alpha"), 2, testBase+1)
		m.PutConfig("prod@@g@@b", []byte("beta"), 3, testBase+2)
		m.PutConfig("prod@@g@@a", []byte("alpha2"), 4, testBase+3)
		m.PutGray("prod@@g@@a", []byte("rule"), 5, testBase+4)
		m.AcquireLock("prod/deploy", []byte("tok"), "ci", 30, 6, testBase+5)
		m.AcquireLock("prod/other", []byte("tok2"), "ci2", 1, 7, testBase+6)
		m.SweepLocks(8, testBase+7+1000)
		m.DeleteConfig("prod@@g@@b", 9, testBase+8)
		return m
	}

	m1 := replay()
	defer m1.Close()
	m2 := replay()
	defer m2.Close()

	var s1, s2 bytes.Buffer
	if err := m1.Save(&s1); err != nil {
		t.Fatalf("Save m1: %v", err)
	}
	if err := m2.Save(&s2); err != nil {
		t.Fatalf("Save m2: %v", err)
	}
	if !bytes.Equal(s1.Bytes(), s2.Bytes()) {
		t.Error("Identical command sequences produced different snapshots")
	}
}

func TestCPSnapshotPreservesLocksAndHistory(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	token := []byte("tok")
	m.PutConfig("cfg", []byte("v1"), 1, testBase)
	m.PutConfig("cfg", []byte("v2"), 2, testBase+1)
	m.PutGray("cfg", []byte("rule"), 3, testBase+2)
	m.AcquireLock("l", token, "holder", 3600, 4, testBase+3)

	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := NewCPMachine()
	defer restored.Close()
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if restored.AppliedIndex() != 4 {
		t.Errorf("AppliedIndex = %d, want 4", restored.AppliedIndex())
	}
	if got := len(restored.History("cfg", 0)); got != 2 {
		t.Errorf("History length after restore = %d, want 2", got)
	}
	// the owner token must survive the roundtrip, otherwise restored
	// replicas could never release pre-snapshot locks
	if !restored.ReleaseLock("l", token, 5, testBase+4) {
		t.Error("Release with the original token failed after restore")
	}
	item, _ := restored.Get(consistency.KindConfig, "cfg")
	if item.Flags&consistency.FlagGray == 0 {
		t.Error("Gray flag lost in the snapshot roundtrip")
	}
}

func TestCPChangeCallback(t *testing.T) {
	m := NewCPMachine()
	defer m.Close()

	type change struct {
		kind consistency.DataKind
		key  string
	}
	var changes []change
	m.SetOnChange(func(kind consistency.DataKind, key string, _ uint64) {
		changes = append(changes, change{kind, key})
	})

	m.PutConfig("a", []byte("x"), 1, testBase)
	m.PutConfig("a", []byte("x"), 1, testBase) // stale, must not notify
	m.DeleteConfig("missing", 2, testBase)     // no-op, must not notify
	m.AcquireLock("l", []byte("t"), "h", 10, 3, testBase)

	want := []change{
		{consistency.KindConfig, "a"},
		{consistency.KindLock, "l"},
	}
	if len(changes) != len(want) {
		t.Fatalf("Got %d notifications, want %d: %v", len(changes), len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("Notification %d = %v, want %v", i, changes[i], want[i])
		}
	}
}
