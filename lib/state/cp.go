package state

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/util"
	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	cpMagicNum = "DCRCPSM\x00" // CP snapshot format identifier
	cpVersion  = 1             // CP snapshot format version

	// DefaultHistoryLimit is the number of release records kept per config key.
	DefaultHistoryLimit = 10

	// DefaultListLimit caps list/history responses when the caller gives no limit.
	DefaultListLimit = 500

	// DefaultLockTTLSec bounds the lifetime of locks acquired without one, so
	// a crashed holder cannot pin a lock forever.
	DefaultLockTTLSec = 60
)

// --------------------------------------------------------------------------
// Entry Types
// --------------------------------------------------------------------------

// cpEntry is one strongly consistent key-value entry
type cpEntry struct {
	value    []byte
	version  uint64 // raft log index of the last write
	stamp    int64  // proposer wall clock of the last write (unix-milli)
	checksum uint64 // xxhash of value, configs only
}

// lockEntry is one held namespace lock
type lockEntry struct {
	token    []byte // owner token, compared on release
	holder   string // informational holder name
	deadline int64  // lifetime end (unix-milli), decided against command stamps
	version  uint64
	stamp    int64
}

// ReleaseRecord is one entry of a config key's bounded release history
type ReleaseRecord struct {
	Version  uint64 `json:"version"`
	Stamp    int64  `json:"stamp"`
	Checksum uint64 `json:"checksum"`
	Gray     bool   `json:"gray"`
}

// --------------------------------------------------------------------------
// CPMachine
// --------------------------------------------------------------------------

// CPMachine is the strongly consistent state machine. The raft engine feeds
// it applied log entries in order; every replica holds an identical copy.
//
// Thread-safety: all methods are safe for concurrent use. Writes are expected
// to arrive serialized (the raft apply loop), lookups may run concurrently.
type CPMachine struct {
	mu sync.RWMutex

	configs    map[string]cpEntry
	namespaces map[string]cpEntry
	grays      map[string]cpEntry
	locks      map[string]lockEntry
	histories  map[string][]ReleaseRecord // oldest first, capped at historyLimit

	appliedIndex uint64
	maxStamp     int64

	historyLimit int
	valueSizes   *util.SizeHistogram

	// onChange is invoked after every accepted mutation. It must not block:
	// it runs on the apply path.
	onChange func(kind consistency.DataKind, key string, version uint64)
}

// NewCPMachine creates an empty CP state machine.
func NewCPMachine() *CPMachine {
	return &CPMachine{
		configs:      make(map[string]cpEntry),
		namespaces:   make(map[string]cpEntry),
		grays:        make(map[string]cpEntry),
		locks:        make(map[string]lockEntry),
		histories:    make(map[string][]ReleaseRecord),
		historyLimit: DefaultHistoryLimit,
		valueSizes:   util.NewSizeHistogram(),
	}
}

// SetOnChange installs the change callback used to feed the watch hub.
// Must be called before the machine starts applying commands.
func (m *CPMachine) SetOnChange(fn func(kind consistency.DataKind, key string, version uint64)) {
	m.onChange = fn
}

// notify fires the change callback if one is installed
func (m *CPMachine) notify(kind consistency.DataKind, key string, version uint64) {
	if m.onChange != nil {
		m.onChange(kind, key, version)
	}
}

// advance moves the applied index / stamp watermarks forward.
// Returns false for stale writes, which the caller must treat as a no-op.
func (m *CPMachine) advance(index uint64, stamp int64) bool {
	if index <= m.appliedIndex && m.appliedIndex != 0 {
		return false
	}
	m.appliedIndex = index
	if stamp > m.maxStamp {
		m.maxStamp = stamp
	}
	return true
}

// --------------------------------------------------------------------------
// Write Operations - Configs
// --------------------------------------------------------------------------

// PutConfig inserts or updates a configuration entry and appends a release
// record to its history. Returns the content checksum of the stored value.
func (m *CPMachine) PutConfig(key string, value []byte, index uint64, stamp int64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return 0
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	sum := xxhash.Sum64(valueCopy)

	m.configs[key] = cpEntry{
		value:    valueCopy,
		version:  index,
		stamp:    stamp,
		checksum: sum,
	}
	m.valueSizes.AddSample(len(valueCopy))

	// append to the bounded release history
	history := append(m.histories[key], ReleaseRecord{
		Version:  index,
		Stamp:    stamp,
		Checksum: sum,
	})
	if len(history) > m.historyLimit {
		history = history[len(history)-m.historyLimit:]
	}
	m.histories[key] = history

	m.notify(consistency.KindConfig, key, index)
	return sum
}

// DeleteConfig removes a configuration entry together with its release
// history and any gray rule attached to it. Returns whether the key existed.
func (m *CPMachine) DeleteConfig(key string, index uint64, stamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return false
	}

	_, existed := m.configs[key]
	delete(m.configs, key)
	delete(m.histories, key)
	delete(m.grays, key)

	if existed {
		m.notify(consistency.KindConfig, key, index)
	}
	return existed
}

// --------------------------------------------------------------------------
// Write Operations - Namespaces
// --------------------------------------------------------------------------

// PutNamespace registers a namespace. The value carries opaque metadata
// (display name, description) the core does not interpret.
func (m *CPMachine) PutNamespace(key string, value []byte, index uint64, stamp int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	m.namespaces[key] = cpEntry{
		value:   valueCopy,
		version: index,
		stamp:   stamp,
	}
	m.notify(consistency.KindNamespace, key, index)
}

// PutNamespaceIfAbsent registers a namespace only if no namespace with that
// key exists yet. Reports whether the write was applied (first writer wins).
func (m *CPMachine) PutNamespaceIfAbsent(key string, value []byte, index uint64, stamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return false
	}

	if _, exists := m.namespaces[key]; exists {
		return false
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	m.namespaces[key] = cpEntry{
		value:   valueCopy,
		version: index,
		stamp:   stamp,
	}
	m.notify(consistency.KindNamespace, key, index)
	return true
}

// DeleteNamespace removes a namespace registry entry. Configs below the
// namespace are not cascaded; emptiness is enforced by the calling layer.
func (m *CPMachine) DeleteNamespace(key string, index uint64, stamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return false
	}

	_, existed := m.namespaces[key]
	delete(m.namespaces, key)

	if existed {
		m.notify(consistency.KindNamespace, key, index)
	}
	return existed
}

// --------------------------------------------------------------------------
// Write Operations - Locks
// --------------------------------------------------------------------------

// AcquireLock attempts a first-writer-wins lock acquisition. A held lock
// whose deadline lies before the command stamp counts as expired and may be
// taken over; the current holder may re-acquire with its own token to extend
// the lease. Returns whether the caller holds the lock afterwards.
//
// Expiry is decided against the stamp carried in the replicated command, not
// the local clock, so every replica reaches the same verdict.
func (m *CPMachine) AcquireLock(key string, token []byte, holder string, ttlSec uint64, index uint64, stamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return false
	}

	if existing, held := m.locks[key]; held && existing.deadline > stamp && !bytes.Equal(existing.token, token) {
		// lock still active and owned by someone else, caller lost
		return false
	}

	tokenCopy := make([]byte, len(token))
	copy(tokenCopy, token)

	var deadline int64
	if ttlSec > 0 {
		deadline = stamp + int64(ttlSec)*1000
	} else {
		// a lock without lifetime would survive a crashed holder forever
		deadline = stamp + int64(DefaultLockTTLSec)*1000
	}

	m.locks[key] = lockEntry{
		token:    tokenCopy,
		holder:   holder,
		deadline: deadline,
		version:  index,
		stamp:    stamp,
	}
	m.notify(consistency.KindLock, key, index)
	return true
}

// ReleaseLock removes a lock if the token matches the holder's token.
// Returns whether the lock was released.
func (m *CPMachine) ReleaseLock(key string, token []byte, index uint64, stamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return false
	}

	existing, held := m.locks[key]
	if !held || !bytes.Equal(existing.token, token) {
		return false
	}

	delete(m.locks, key)
	m.notify(consistency.KindLock, key, index)
	return true
}

// SweepLocks removes all locks whose deadline lies before the command stamp.
// The leader proposes sweeps periodically so that expired locks disappear
// physically instead of lingering until the next acquisition attempt.
// Returns the removed keys in deterministic order.
func (m *CPMachine) SweepLocks(index uint64, stamp int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return nil
	}

	var removed []string
	for key, lock := range m.locks {
		if lock.deadline <= stamp {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)

	for _, key := range removed {
		delete(m.locks, key)
		m.notify(consistency.KindLock, key, index)
	}
	return removed
}

// --------------------------------------------------------------------------
// Write Operations - Gray Rules
// --------------------------------------------------------------------------

// PutGray attaches a gray release rule to an existing config key and marks
// the newest release record. Returns false if the config key does not exist.
func (m *CPMachine) PutGray(key string, rule []byte, index uint64, stamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return false
	}

	if _, exists := m.configs[key]; !exists {
		return false
	}

	ruleCopy := make([]byte, len(rule))
	copy(ruleCopy, rule)

	m.grays[key] = cpEntry{
		value:   ruleCopy,
		version: index,
		stamp:   stamp,
	}
	m.markNewestRelease(key, true)

	m.notify(consistency.KindGray, key, index)
	return true
}

// DeleteGray removes the gray rule of a config key.
// Returns whether a rule existed.
func (m *CPMachine) DeleteGray(key string, index uint64, stamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.advance(index, stamp) {
		return false
	}

	_, existed := m.grays[key]
	delete(m.grays, key)
	m.markNewestRelease(key, false)

	if existed {
		m.notify(consistency.KindGray, key, index)
	}
	return existed
}

// markNewestRelease flags the newest history record of a key (caller holds mu)
func (m *CPMachine) markNewestRelease(key string, gray bool) {
	history := m.histories[key]
	if len(history) > 0 {
		history[len(history)-1].Gray = gray
	}
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the entry for a key of the given kind. For locks the value is
// the holder name, not the token.
func (m *CPMachine) Get(kind consistency.DataKind, key string) (consistency.Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch kind {
	case consistency.KindConfig:
		if e, ok := m.configs[key]; ok {
			return m.entryItem(key, e), true
		}
	case consistency.KindNamespace:
		if e, ok := m.namespaces[key]; ok {
			return m.entryItem(key, e), true
		}
	case consistency.KindGray:
		if e, ok := m.grays[key]; ok {
			return m.entryItem(key, e), true
		}
	case consistency.KindLock:
		if l, ok := m.locks[key]; ok {
			return consistency.Item{
				Key:     key,
				Value:   []byte(l.holder),
				Version: l.version,
				Stamp:   l.stamp,
				Beat:    l.deadline,
			}, true
		}
	}
	return consistency.Item{}, false
}

// Has reports whether a key of the given kind exists.
func (m *CPMachine) Has(kind consistency.DataKind, key string) bool {
	_, ok := m.Get(kind, key)
	return ok
}

// List returns all entries of a kind under the given key prefix, sorted by
// key. A limit of 0 falls back to DefaultListLimit.
func (m *CPMachine) List(kind consistency.DataKind, prefix string, limit int) []consistency.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}

	var keys []string
	collect := func(source map[string]cpEntry) {
		for key := range source {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	}

	switch kind {
	case consistency.KindConfig:
		collect(m.configs)
	case consistency.KindNamespace:
		collect(m.namespaces)
	case consistency.KindGray:
		collect(m.grays)
	case consistency.KindLock:
		for key := range m.locks {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	default:
		return nil
	}

	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	items := make([]consistency.Item, 0, len(keys))
	for _, key := range keys {
		if item, ok := m.getLocked(kind, key); ok {
			items = append(items, item)
		}
	}
	return items
}

// getLocked resolves a single item, caller holds at least mu.RLock
func (m *CPMachine) getLocked(kind consistency.DataKind, key string) (consistency.Item, bool) {
	switch kind {
	case consistency.KindConfig:
		if e, ok := m.configs[key]; ok {
			return m.entryItem(key, e), true
		}
	case consistency.KindNamespace:
		if e, ok := m.namespaces[key]; ok {
			return m.entryItem(key, e), true
		}
	case consistency.KindGray:
		if e, ok := m.grays[key]; ok {
			return m.entryItem(key, e), true
		}
	case consistency.KindLock:
		if l, ok := m.locks[key]; ok {
			return consistency.Item{Key: key, Value: []byte(l.holder), Version: l.version, Stamp: l.stamp, Beat: l.deadline}, true
		}
	}
	return consistency.Item{}, false
}

// entryItem converts a cpEntry, marking configs that carry a gray rule
func (m *CPMachine) entryItem(key string, e cpEntry) consistency.Item {
	item := consistency.Item{
		Key:     key,
		Value:   e.value,
		Version: e.version,
		Stamp:   e.stamp,
	}
	if _, hasGray := m.grays[key]; hasGray {
		item.Flags |= consistency.FlagGray
	}
	return item
}

// History returns the release history of a config key, newest first. The
// item value carries the content checksum in hex.
func (m *CPMachine) History(key string, limit int) []consistency.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = m.historyLimit
	}

	history := m.histories[key]
	items := make([]consistency.Item, 0, len(history))
	for i := len(history) - 1; i >= 0 && len(items) < limit; i-- {
		rec := history[i]
		item := consistency.Item{
			Key:     key,
			Value:   []byte(strconv.FormatUint(rec.Checksum, 16)),
			Version: rec.Version,
			Stamp:   rec.Stamp,
		}
		if rec.Gray {
			item.Flags |= consistency.FlagGray
		}
		items = append(items, item)
	}
	return items
}

// LockDeadlines returns the deadline of every held lock. The leader's sweep
// loop uses this to decide when to propose the next sweep command.
func (m *CPMachine) LockDeadlines() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deadlines := make(map[string]int64, len(m.locks))
	for key, lock := range m.locks {
		deadlines[key] = lock.deadline
	}
	return deadlines
}

// AppliedIndex returns the raft log index of the last applied command.
func (m *CPMachine) AppliedIndex() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appliedIndex
}

// --------------------------------------------------------------------------
// Interface Methods (docu see state.IStateMachine)
// --------------------------------------------------------------------------

func (m *CPMachine) Name() string { return "cp" }

func (m *CPMachine) EntryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.configs) + len(m.namespaces) + len(m.locks) + len(m.grays)
}

func (m *CPMachine) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Info{
		Machine:         m.Name(),
		Entries:         len(m.configs),
		AppliedIndex:    m.appliedIndex,
		MaxStamp:        m.maxStamp,
		Namespaces:      len(m.namespaces),
		Locks:           len(m.locks),
		Histories:       len(m.histories),
		Grays:           len(m.grays),
		AvgValueSize:    m.valueSizes.AverageSize(),
		MedianValueSize: m.valueSizes.MedianEstimate(),
	}
}

func (m *CPMachine) Close() {
	// nothing to release, the machine owns no goroutines
}
