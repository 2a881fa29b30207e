package testing

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dCR/lib/state"
)

// Harness adapts one state machine implementation to the shared contract
// suite. New creates an empty machine, Populate applies n distinct writes
// through the machine's own write API.
type Harness struct {
	New      func() state.IStateMachine
	Populate func(m state.IStateMachine, n int)
}

// RunStateMachineTests runs the contract every state machine must satisfy:
// counted entries, deterministic snapshots and lossless save/load.
func RunStateMachineTests(t *testing.T, name string, h Harness) {
	t.Run(name, func(t *testing.T) {
		t.Run("EmptyMachine", func(t *testing.T) {
			testEmptyMachine(t, h)
		})

		t.Run("PopulateAndCount", func(t *testing.T) {
			testPopulateAndCount(t, h)
		})

		t.Run("SaveLoadRoundtrip", func(t *testing.T) {
			testSaveLoadRoundtrip(t, h)
		})

		t.Run("DeterministicSave", func(t *testing.T) {
			testDeterministicSave(t, h)
		})

		t.Run("InfoReporting", func(t *testing.T) {
			testInfoReporting(t, h)
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testEmptyMachine(t *testing.T, h Harness) {
	m := h.New()
	defer m.Close()

	if count := m.EntryCount(); count != 0 {
		t.Errorf("Fresh machine should be empty, has %d entries", count)
	}

	// empty machines must still snapshot and restore
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save of empty machine failed: %v", err)
	}

	restored := h.New()
	defer restored.Close()
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load of empty snapshot failed: %v", err)
	}
	if count := restored.EntryCount(); count != 0 {
		t.Errorf("Restored empty machine has %d entries", count)
	}
}

func testPopulateAndCount(t *testing.T, h Harness) {
	m := h.New()
	defer m.Close()

	const n = 50
	h.Populate(m, n)

	if count := m.EntryCount(); count != n {
		t.Errorf("Expected %d entries after populate, got %d", n, count)
	}
}

func testSaveLoadRoundtrip(t *testing.T, h Harness) {
	m := h.New()
	defer m.Close()

	const n = 100
	h.Populate(m, n)

	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := h.New()
	defer restored.Close()
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got, want := restored.EntryCount(), m.EntryCount(); got != want {
		t.Errorf("Restored machine has %d entries, want %d", got, want)
	}

	// a snapshot of the restored machine must equal a fresh snapshot of the
	// original - this catches silently dropped or reordered fields
	var bufOrig, bufRestored bytes.Buffer
	if err := m.Save(&bufOrig); err != nil {
		t.Fatalf("Second save of original failed: %v", err)
	}
	if err := restored.Save(&bufRestored); err != nil {
		t.Fatalf("Save of restored machine failed: %v", err)
	}
	if !bytes.Equal(bufOrig.Bytes(), bufRestored.Bytes()) {
		t.Error("Snapshot of restored machine differs from original")
	}
}

func testDeterministicSave(t *testing.T, h Harness) {
	m := h.New()
	defer m.Close()

	h.Populate(m, 64)

	var first, second bytes.Buffer
	if err := m.Save(&first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := m.Save(&second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("Two saves of the same state produced different bytes")
	}
}

func testInfoReporting(t *testing.T, h Harness) {
	m := h.New()
	defer m.Close()

	h.Populate(m, 10)

	info := m.Info()
	if info.Machine != m.Name() {
		t.Errorf("Info.Machine = %q, want %q", info.Machine, m.Name())
	}
	if info.Entries != 10 {
		t.Errorf("Info.Entries = %d, want 10", info.Entries)
	}
	if info.AvgValueSize <= 0 {
		t.Errorf("Info.AvgValueSize = %d, want > 0", info.AvgValueSize)
	}
}
