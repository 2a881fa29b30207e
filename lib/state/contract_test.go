package state_test

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dCR/lib/state"
	statetest "github.com/ValentinKolb/dCR/lib/state/testing"
)

// base stamp mirroring the in-package tests, fixed for deterministic snapshots
const contractBase = int64(1_700_000_000_000)

func TestCPMachineContract(t *testing.T) {
	statetest.RunStateMachineTests(t, "cp", statetest.Harness{
		New: func() state.IStateMachine {
			return state.NewCPMachine()
		},
		Populate: func(m state.IStateMachine, n int) {
			cp := m.(*state.CPMachine)
			for i := 0; i < n; i++ {
				key := fmt.Sprintf("ns@@grp@@cfg-%04d", i)
				cp.PutConfig(key, []byte(fmt.Sprintf("payload-%04d", i)), uint64(i+1), contractBase+int64(i))
			}
		},
	})
}

func TestAPMachineContract(t *testing.T) {
	statetest.RunStateMachineTests(t, "ap", statetest.Harness{
		New: func() state.IStateMachine {
			return state.NewAPMachine(state.DefaultAPOptions())
		},
		Populate: func(m state.IStateMachine, n int) {
			ap := m.(*state.APMachine)
			for i := 0; i < n; i++ {
				key := fmt.Sprintf("svc@@inst-%04d", i)
				ap.Put(key, []byte(fmt.Sprintf("10.0.0.%d:8080", i%250)), "node-test", 15, contractBase+int64(i))
			}
		},
	})
}
