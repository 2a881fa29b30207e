package state

import (
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants & Options
// --------------------------------------------------------------------------

const apMagicNum = "DCRAPSM\x00" // AP snapshot format identifier
const apVersion = 1              // AP snapshot format version

// APOptions configures the APMachine during initialization
type APOptions struct {
	NumShards int // number of shards (0 = auto based on CPU count)
}

// DefaultAPOptions returns the default APMachine options
func DefaultAPOptions() *APOptions {
	return &APOptions{
		NumShards: runtime.NumCPU(),
	}
}

// --------------------------------------------------------------------------
// APMachine
// --------------------------------------------------------------------------

// apShard holds one stripe of the AP key space
type apShard struct {
	data *xsync.MapOf[string, DataItem]
}

// APMachine is the eventually consistent state machine. Local writes assign
// per-key monotonic versions; remote deltas are folded in through Merge. All
// per-key decisions run atomically inside the shard map's Compute, so
// concurrent writers never interleave on the same key.
type APMachine struct {
	seed      uint64
	shards    []*apShard
	sizes     *util.SizeHistogram
	mergeSeen atomic.Uint64 // total merges offered, for info output

	// onChange is invoked after every accepted mutation (local or merged).
	// It must not block.
	onChange func(item DataItem)
}

// NewAPMachine creates an empty AP state machine with the specified options
// (optional).
func NewAPMachine(opts *APOptions) *APMachine {
	if opts == nil {
		opts = DefaultAPOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	shards := make([]*apShard, opts.NumShards)
	for i := range shards {
		shards[i] = &apShard{data: xsync.NewMapOf[string, DataItem]()}
	}

	return &APMachine{
		seed:   util.GenerateSeed(),
		shards: shards,
		sizes:  util.NewSizeHistogram(),
	}
}

// SetOnChange installs the change callback used to feed the watch hub.
// Must be called before the machine starts applying writes.
func (m *APMachine) SetOnChange(fn func(item DataItem)) {
	m.onChange = fn
}

func (m *APMachine) notify(item DataItem) {
	if m.onChange != nil {
		m.onChange(item)
	}
}

// shardFor stripes keys across the shard maps
func (m *APMachine) shardFor(key string) *apShard {
	return m.shards[uint64(util.HashString(key, m.seed))%uint64(len(m.shards))]
}

// --------------------------------------------------------------------------
// Local Write Operations
// --------------------------------------------------------------------------

// Put inserts or updates an item locally, assigning the next per-key version.
// The new version is old+1 so that a re-registration always supersedes every
// previously replicated state of the key, including tombstones.
func (m *APMachine) Put(key string, value []byte, origin string, ttlSec uint64, stamp int64) DataItem {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	var result DataItem
	m.shardFor(key).data.Compute(key, func(old DataItem, loaded bool) (DataItem, bool) {
		var version uint64 = 1
		if loaded {
			version = old.Version + 1
		}
		result = DataItem{
			Key:     key,
			Value:   valueCopy,
			Version: version,
			Stamp:   stamp,
			Origin:  origin,
			Beat:    stamp,
			TTLSec:  ttlSec,
		}
		return result, false
	})

	m.sizes.AddSample(len(valueCopy))
	m.notify(result)
	return result
}

// Touch refreshes the heartbeat watermark of an item without bumping its
// version. Returns false if the key is unknown or deleted. A touch also
// clears the unhealthy flag: a beating instance is alive by definition.
func (m *APMachine) Touch(key string, origin string, stamp int64) (DataItem, bool) {
	var (
		result DataItem
		found  bool
	)
	m.shardFor(key).data.Compute(key, func(old DataItem, loaded bool) (DataItem, bool) {
		if !loaded || old.Tombstone() {
			return old, !loaded // keep state untouched, delete the phantom entry
		}
		found = true
		if stamp > old.Beat {
			old.Beat = stamp
		}
		if old.Unhealthy() {
			// recovery must propagate, the flag change rides a new version
			old.Flags &^= consistency.FlagUnhealthy
			old.Version++
			old.Stamp = stamp
			old.Origin = origin
		}
		result = old
		return old, false
	})

	if found {
		m.notify(result)
	}
	return result, found
}

// Tombstone marks an item deleted. The tombstone itself is replicated so
// that every node applies the removal instead of inferring it. Returns the
// tombstone and whether a live item existed.
func (m *APMachine) Tombstone(key string, origin string, stamp int64) (DataItem, bool) {
	var (
		result  DataItem
		existed bool
	)
	m.shardFor(key).data.Compute(key, func(old DataItem, loaded bool) (DataItem, bool) {
		existed = loaded && !old.Tombstone()
		var version uint64 = 1
		if loaded {
			version = old.Version + 1
		}
		result = DataItem{
			Key:     key,
			Version: version,
			Stamp:   stamp,
			Origin:  origin,
			Flags:   consistency.FlagTombstone,
		}
		return result, false
	})

	if existed {
		m.notify(result)
	}
	return result, existed
}

// MarkUnhealthy flags an item whose heartbeat deadline passed. The flag
// change rides a version bump so it replicates like any other update.
// Returns false if the item is unknown, deleted or already unhealthy.
func (m *APMachine) MarkUnhealthy(key string, origin string, stamp int64) (DataItem, bool) {
	var (
		result DataItem
		marked bool
	)
	m.shardFor(key).data.Compute(key, func(old DataItem, loaded bool) (DataItem, bool) {
		if !loaded || old.Tombstone() || old.Unhealthy() {
			return old, !loaded
		}
		marked = true
		old.Flags |= consistency.FlagUnhealthy
		old.Version++
		old.Stamp = stamp
		old.Origin = origin
		result = old
		return old, false
	})

	if marked {
		m.notify(result)
	}
	return result, marked
}

// --------------------------------------------------------------------------
// Merge (remote deltas)
// --------------------------------------------------------------------------

// Merge folds a delta received from a peer into local state. The merge is
// commutative and idempotent:
//
//   - the higher version wins
//   - at equal versions the higher stamp wins
//   - at identical version+stamp only the heartbeat watermark widens
//
// Returns the item now stored and whether the delta changed local state.
func (m *APMachine) Merge(in DataItem) (DataItem, bool) {
	m.mergeSeen.Add(1)

	var (
		result  DataItem
		applied bool
	)
	m.shardFor(in.Key).data.Compute(in.Key, func(old DataItem, loaded bool) (DataItem, bool) {
		if !loaded {
			applied = true
			result = in
			return in, false
		}
		if in.Version > old.Version || (in.Version == old.Version && in.Stamp > old.Stamp) {
			// preserve a younger local heartbeat watermark
			if old.Beat > in.Beat && in.Version == old.Version {
				in.Beat = old.Beat
			}
			applied = true
			result = in
			return in, false
		}
		if in.Version == old.Version && in.Stamp == old.Stamp && in.Beat > old.Beat {
			old.Beat = in.Beat
			applied = true
			result = old
			return old, false
		}
		// stale delta, keep what we have
		result = old
		return old, false
	})

	if applied {
		if len(result.Value) > 0 {
			m.sizes.AddSample(len(result.Value))
		}
		m.notify(result)
	}
	return result, applied
}

// Remove drops an item without leaving a tombstone. The verify path uses
// this when the owner's digest proves the key no longer exists.
func (m *APMachine) Remove(key string) bool {
	_, existed := m.shardFor(key).data.LoadAndDelete(key)
	return existed
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns a live item. Tombstones read as missing.
func (m *APMachine) Get(key string) (DataItem, bool) {
	item, ok := m.shardFor(key).data.Load(key)
	if !ok || item.Tombstone() {
		return DataItem{}, false
	}
	return item, true
}

// GetRaw returns the stored item including tombstones.
func (m *APMachine) GetRaw(key string) (DataItem, bool) {
	return m.shardFor(key).data.Load(key)
}

// List returns all live items under a prefix, sorted by key. Unhealthy
// items are excluded unless includeUnhealthy is set.
func (m *APMachine) List(prefix string, limit int, includeUnhealthy bool) []DataItem {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var items []DataItem
	m.Range(func(item DataItem) bool {
		if item.Tombstone() || !strings.HasPrefix(item.Key, prefix) {
			return true
		}
		if item.Unhealthy() && !includeUnhealthy {
			return true
		}
		items = append(items, item)
		return true
	})

	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Range iterates over all stored items including tombstones.
func (m *APMachine) Range(fn func(item DataItem) bool) {
	for _, shard := range m.shards {
		cont := true
		shard.data.Range(func(_ string, item DataItem) bool {
			cont = fn(item)
			return cont
		})
		if !cont {
			return
		}
	}
}

// Digest returns key->version for every stored item (tombstones included)
// accepted by the filter. The verify loop feeds it the ring's ownership
// predicate to digest exactly the locally-owned key space.
func (m *APMachine) Digest(filter func(key string) bool) map[string]uint64 {
	digest := make(map[string]uint64)
	m.Range(func(item DataItem) bool {
		if filter == nil || filter(item.Key) {
			digest[item.Key] = item.Version
		}
		return true
	})
	return digest
}

// Items returns all stored items accepted by the filter, sorted by key.
// A nil filter returns everything including tombstones.
func (m *APMachine) Items(filter func(item DataItem) bool) []DataItem {
	var items []DataItem
	m.Range(func(item DataItem) bool {
		if filter == nil || filter(item) {
			items = append(items, item)
		}
		return true
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

// PurgeTombstones physically removes tombstones older than the given stamp.
// Returns the number of purged entries.
func (m *APMachine) PurgeTombstones(before int64) int {
	purged := 0
	for _, shard := range m.shards {
		var victims []string
		shard.data.Range(func(key string, item DataItem) bool {
			if item.Tombstone() && item.Stamp < before {
				victims = append(victims, key)
			}
			return true
		})
		for _, key := range victims {
			// re-check inside Compute, the tombstone may have been superseded
			shard.data.Compute(key, func(old DataItem, loaded bool) (DataItem, bool) {
				if loaded && old.Tombstone() && old.Stamp < before {
					purged++
					return old, true
				}
				return old, !loaded
			})
		}
	}
	return purged
}

// --------------------------------------------------------------------------
// Interface Methods (docu see state.IStateMachine)
// --------------------------------------------------------------------------

func (m *APMachine) Name() string { return "ap" }

func (m *APMachine) EntryCount() int {
	count := 0
	m.Range(func(item DataItem) bool {
		if !item.Tombstone() {
			count++
		}
		return true
	})
	return count
}

func (m *APMachine) Info() Info {
	var (
		live       int
		tombstones int
		unhealthy  int
	)
	shardSizes := make([]float64, len(m.shards))
	for i, shard := range m.shards {
		shardSizes[i] = float64(shard.data.Size())
	}
	m.Range(func(item DataItem) bool {
		switch {
		case item.Tombstone():
			tombstones++
		case item.Unhealthy():
			unhealthy++
			live++
		default:
			live++
		}
		return true
	})

	return Info{
		Machine:         m.Name(),
		Entries:         live,
		Tombstones:      tombstones,
		Unhealthy:       unhealthy,
		AvgValueSize:    m.sizes.AverageSize(),
		MedianValueSize: m.sizes.MedianEstimate(),
		ShardQuality:    util.NewDistributionStats(shardSizes).DistributionQuality,
	}
}

func (m *APMachine) Close() {
	// nothing to release, the machine owns no goroutines
}
