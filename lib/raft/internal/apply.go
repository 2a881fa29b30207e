package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/state"
)

// Dispatch applies a deserialized command to the CP state machine. The index
// is the raft log index of the entry (or the local sequence number of the
// standalone engine) and becomes the version of the written entry.
//
// The returned code is consistency.ErrCSuccess if the mutation was accepted.
// On success the returned data carries the applied index as 8 bytes big
// endian so the proposer learns the version of its write; on failure it
// carries a human-readable reason.
func Dispatch(m *state.CPMachine, cmd *Command, index uint64) (consistency.ErrCode, []byte) {
	switch cmd.Type {

	case CommandTPut:
		switch cmd.Kind {
		case consistency.KindConfig:
			m.PutConfig(cmd.Key, cmd.Value, index, cmd.Stamp)
			return consistency.ErrCSuccess, indexBytes(index)
		case consistency.KindNamespace:
			m.PutNamespace(cmd.Key, cmd.Value, index, cmd.Stamp)
			return consistency.ErrCSuccess, indexBytes(index)
		case consistency.KindGray:
			if !m.PutGray(cmd.Key, cmd.Value, index, cmd.Stamp) {
				return consistency.ErrCConflict, []byte(fmt.Sprintf("no config for gray rule: key=%s", cmd.Key))
			}
			return consistency.ErrCSuccess, indexBytes(index)
		}

	case CommandTPutIfAbsent:
		switch cmd.Kind {
		case consistency.KindLock:
			if !m.AcquireLock(cmd.Key, cmd.Value, cmd.Origin, cmd.TTLSec, index, cmd.Stamp) {
				return consistency.ErrCConflict, []byte(fmt.Sprintf("lock held: key=%s", cmd.Key))
			}
			return consistency.ErrCSuccess, indexBytes(index)
		case consistency.KindNamespace:
			if !m.PutNamespaceIfAbsent(cmd.Key, cmd.Value, index, cmd.Stamp) {
				return consistency.ErrCConflict, []byte(fmt.Sprintf("namespace exists: key=%s", cmd.Key))
			}
			return consistency.ErrCSuccess, indexBytes(index)
		}

	case CommandTDelete:
		switch cmd.Kind {
		case consistency.KindConfig:
			m.DeleteConfig(cmd.Key, index, cmd.Stamp)
			return consistency.ErrCSuccess, indexBytes(index)
		case consistency.KindNamespace:
			m.DeleteNamespace(cmd.Key, index, cmd.Stamp)
			return consistency.ErrCSuccess, indexBytes(index)
		case consistency.KindGray:
			m.DeleteGray(cmd.Key, index, cmd.Stamp)
			return consistency.ErrCSuccess, indexBytes(index)
		case consistency.KindLock:
			if !m.ReleaseLock(cmd.Key, cmd.Value, index, cmd.Stamp) {
				return consistency.ErrCConflict, []byte(fmt.Sprintf("not the lock holder: key=%s", cmd.Key))
			}
			return consistency.ErrCSuccess, indexBytes(index)
		}

	case CommandTSweepLocks:
		m.SweepLocks(index, cmd.Stamp)
		return consistency.ErrCSuccess, indexBytes(index)
	}

	return consistency.ErrCInvalidOperation,
		[]byte(fmt.Sprintf("unsupported command: type=%s kind=%s", cmd.Type, cmd.Kind))
}

// Resolve answers a read-only query against the CP state machine. The caller
// casts the result to the type the query implies (see QueryType docs).
func Resolve(m *state.CPMachine, q Query) (interface{}, error) {
	switch q.Type {
	case QueryTGet:
		item, ok := m.Get(q.Kind, q.Key)
		return QueryResult{Ok: ok, Item: item}, nil
	case QueryTHas:
		return m.Has(q.Kind, q.Key), nil
	case QueryTList:
		return m.List(q.Kind, q.Key, q.Limit), nil
	case QueryTHistory:
		return m.History(q.Key, q.Limit), nil
	case QueryTInfo:
		return m.Info(), nil
	case QueryTLockDeadlines:
		return m.LockDeadlines(), nil
	default:
		return nil, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"unknown query operation: %d", q.Type)
	}
}

func indexBytes(index uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, index)
	return data
}

// ParseIndex decodes the applied index a successful Dispatch reported.
func ParseIndex(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}
