package state

import (
	"io"

	"github.com/ValentinKolb/dCR/lib/consistency"
)

// --------------------------------------------------------------------------
// Shared State Machine Contract
// --------------------------------------------------------------------------

// IStateMachine is the contract both machines implement. Writes are versioned
// (a write at or below the stored version is a silent no-op) and the full
// state can be saved to and restored from a binary snapshot.
type IStateMachine interface {
	// Name returns a short label ("cp" or "ap") used in logs and info output.
	Name() string
	// EntryCount returns the number of live entries (tombstones excluded).
	EntryCount() int
	// Info returns a point-in-time metadata snapshot. It is not guaranteed
	// that all fields are filled in for both machines.
	Info() Info
	// Save writes a snapshot of the full state. The output is deterministic:
	// the same state produces byte-identical snapshots.
	Save(w io.Writer) error
	// Load restores state from a snapshot produced by Save.
	Load(r io.Reader) error
	// Close releases machine resources.
	Close()
}

// Info describes a state machine for monitoring purposes.
type Info struct {
	Machine         string  `json:"machine"`
	Entries         int     `json:"entries"`
	AppliedIndex    uint64  `json:"applied_index,omitempty"`
	MaxStamp        int64   `json:"max_stamp,omitempty"`
	Namespaces      int     `json:"namespaces,omitempty"`
	Locks           int     `json:"locks,omitempty"`
	Histories       int     `json:"histories,omitempty"`
	Grays           int     `json:"grays,omitempty"`
	Tombstones      int     `json:"tombstones,omitempty"`
	Unhealthy       int     `json:"unhealthy,omitempty"`
	AvgValueSize    int     `json:"avg_value_size"`
	MedianValueSize int     `json:"median_value_size"`
	ShardQuality    float64 `json:"shard_quality,omitempty"`
}

// --------------------------------------------------------------------------
// AP Data Item
// --------------------------------------------------------------------------

// DataItem is one eventually consistent entry as replicated by the distro
// protocol. The version/stamp pair orders concurrent updates; Beat carries
// the heartbeat watermark used by the owner's expiry sweep.
type DataItem struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Version uint64 `json:"version"`
	Stamp   int64  `json:"stamp"`            // wall clock of the version assignment (unix-milli)
	Origin  string `json:"origin,omitempty"` // member that produced this version
	Beat    int64  `json:"beat,omitempty"`   // last heartbeat (unix-milli), 0 = never
	TTLSec  uint64 `json:"ttl_sec,omitempty"`
	Flags   uint8  `json:"flags,omitempty"`
}

// Tombstone reports whether the item is a deletion marker.
func (it DataItem) Tombstone() bool {
	return it.Flags&consistency.FlagTombstone != 0
}

// Unhealthy reports whether the item missed its heartbeat deadline.
func (it DataItem) Unhealthy() bool {
	return it.Flags&consistency.FlagUnhealthy != 0
}

// Item converts the data item into the outcome shape shared by all engines.
func (it DataItem) Item() consistency.Item {
	return consistency.Item{
		Key:     it.Key,
		Value:   it.Value,
		Version: it.Version,
		Stamp:   it.Stamp,
		Flags:   it.Flags,
		Beat:    it.Beat,
	}
}
