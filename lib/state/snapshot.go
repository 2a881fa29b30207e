// This file implements the binary snapshot format of both state machines.
//
// Layout discipline for both formats: a magic string identifies the file, a
// version byte guards against format drift, all integers are little endian,
// all strings and byte blobs are length-prefixed with uint32. Entries are
// written in sorted key order so that identical state produces identical
// bytes - the CP determinism tests rely on this.
package state

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const snapshotBufferSize = 1024 * 1024 // 1 MB buffered IO for save and load

// --------------------------------------------------------------------------
// Primitive Helpers
// --------------------------------------------------------------------------

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readHeader(r io.Reader, magic string, wantVersion uint8) error {
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("failed to read snapshot magic: %w", err)
	}
	if string(got) != magic {
		return fmt.Errorf("invalid snapshot magic %q", got)
	}
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("failed to read snapshot version: %w", err)
	}
	if version != wantVersion {
		return fmt.Errorf("unsupported snapshot version %d (want %d)", version, wantVersion)
	}
	return nil
}

// --------------------------------------------------------------------------
// CP Snapshot
// --------------------------------------------------------------------------

// Save writes the full CP state. See the file header for format discipline.
func (m *CPMachine) Save(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bw := bufio.NewWriterSize(w, snapshotBufferSize)

	// header
	if _, err := bw.WriteString(cpMagicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(cpVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, m.appliedIndex); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, m.maxStamp); err != nil {
		return err
	}

	// plain kv sections, sorted for determinism
	writeSection := func(entries map[string]cpEntry) error {
		keys := sortedKeys(entries)
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(keys))); err != nil {
			return err
		}
		for _, key := range keys {
			e := entries[key]
			if err := writeString(bw, key); err != nil {
				return err
			}
			if err := writeBytes(bw, e.value); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, e.version); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, e.stamp); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, e.checksum); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writeSection(m.namespaces); err != nil {
		return err
	}
	if err := writeSection(m.configs); err != nil {
		return err
	}
	if err := writeSection(m.grays); err != nil {
		return err
	}

	// locks
	lockKeys := make([]string, 0, len(m.locks))
	for key := range m.locks {
		lockKeys = append(lockKeys, key)
	}
	sort.Strings(lockKeys)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(lockKeys))); err != nil {
		return err
	}
	for _, key := range lockKeys {
		l := m.locks[key]
		if err := writeString(bw, key); err != nil {
			return err
		}
		if err := writeBytes(bw, l.token); err != nil {
			return err
		}
		if err := writeString(bw, l.holder); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, l.deadline); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, l.version); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, l.stamp); err != nil {
			return err
		}
	}

	// release histories
	historyKeys := make([]string, 0, len(m.histories))
	for key := range m.histories {
		historyKeys = append(historyKeys, key)
	}
	sort.Strings(historyKeys)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(historyKeys))); err != nil {
		return err
	}
	for _, key := range historyKeys {
		records := m.histories[key]
		if err := writeString(bw, key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(records))); err != nil {
			return err
		}
		for _, rec := range records {
			if err := binary.Write(bw, binary.LittleEndian, rec.Version); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, rec.Stamp); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, rec.Checksum); err != nil {
				return err
			}
			gray := uint8(0)
			if rec.Gray {
				gray = 1
			}
			if err := binary.Write(bw, binary.LittleEndian, gray); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// Load restores CP state from a snapshot, replacing all current contents.
func (m *CPMachine) Load(r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	br := bufio.NewReaderSize(r, snapshotBufferSize)

	if err := readHeader(br, cpMagicNum, cpVersion); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &m.appliedIndex); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &m.maxStamp); err != nil {
		return err
	}

	readSection := func() (map[string]cpEntry, error) {
		var count uint64
		if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
			return nil, err
		}
		entries := make(map[string]cpEntry, count)
		for i := uint64(0); i < count; i++ {
			key, err := readString(br)
			if err != nil {
				return nil, err
			}
			var e cpEntry
			if e.value, err = readBytes(br); err != nil {
				return nil, err
			}
			if err := binary.Read(br, binary.LittleEndian, &e.version); err != nil {
				return nil, err
			}
			if err := binary.Read(br, binary.LittleEndian, &e.stamp); err != nil {
				return nil, err
			}
			if err := binary.Read(br, binary.LittleEndian, &e.checksum); err != nil {
				return nil, err
			}
			entries[key] = e
		}
		return entries, nil
	}

	var err error
	if m.namespaces, err = readSection(); err != nil {
		return fmt.Errorf("failed to load namespaces: %w", err)
	}
	if m.configs, err = readSection(); err != nil {
		return fmt.Errorf("failed to load configs: %w", err)
	}
	if m.grays, err = readSection(); err != nil {
		return fmt.Errorf("failed to load grays: %w", err)
	}

	// locks
	var lockCount uint64
	if err := binary.Read(br, binary.LittleEndian, &lockCount); err != nil {
		return err
	}
	m.locks = make(map[string]lockEntry, lockCount)
	for i := uint64(0); i < lockCount; i++ {
		key, err := readString(br)
		if err != nil {
			return err
		}
		var l lockEntry
		if l.token, err = readBytes(br); err != nil {
			return err
		}
		if l.holder, err = readString(br); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &l.deadline); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &l.version); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &l.stamp); err != nil {
			return err
		}
		m.locks[key] = l
	}

	// release histories
	var historyCount uint64
	if err := binary.Read(br, binary.LittleEndian, &historyCount); err != nil {
		return err
	}
	m.histories = make(map[string][]ReleaseRecord, historyCount)
	for i := uint64(0); i < historyCount; i++ {
		key, err := readString(br)
		if err != nil {
			return err
		}
		var recCount uint32
		if err := binary.Read(br, binary.LittleEndian, &recCount); err != nil {
			return err
		}
		records := make([]ReleaseRecord, recCount)
		for j := uint32(0); j < recCount; j++ {
			if err := binary.Read(br, binary.LittleEndian, &records[j].Version); err != nil {
				return err
			}
			if err := binary.Read(br, binary.LittleEndian, &records[j].Stamp); err != nil {
				return err
			}
			if err := binary.Read(br, binary.LittleEndian, &records[j].Checksum); err != nil {
				return err
			}
			var gray uint8
			if err := binary.Read(br, binary.LittleEndian, &gray); err != nil {
				return err
			}
			records[j].Gray = gray == 1
		}
		m.histories[key] = records
	}

	return nil
}

func sortedKeys(entries map[string]cpEntry) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// AP Snapshot & Item Codec
// --------------------------------------------------------------------------

// WriteItems encodes a batch of data items, tombstones included. The same
// format serves the AP machine snapshot and the distro full-state transfer.
func WriteItems(w io.Writer, items []DataItem) error {
	bw := bufio.NewWriterSize(w, snapshotBufferSize)

	if _, err := bw.WriteString(apMagicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(apVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(items))); err != nil {
		return err
	}

	for _, item := range items {
		if err := writeString(bw, item.Key); err != nil {
			return err
		}
		if err := writeBytes(bw, item.Value); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.Version); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.Stamp); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.Beat); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.TTLSec); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.Flags); err != nil {
			return err
		}
		if err := writeString(bw, item.Origin); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// ReadItems decodes a batch written by WriteItems.
func ReadItems(r io.Reader) ([]DataItem, error) {
	br := bufio.NewReaderSize(r, snapshotBufferSize)

	if err := readHeader(br, apMagicNum, apVersion); err != nil {
		return nil, err
	}
	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	items := make([]DataItem, 0, count)
	for i := uint64(0); i < count; i++ {
		var (
			item DataItem
			err  error
		)
		if item.Key, err = readString(br); err != nil {
			return nil, err
		}
		if item.Value, err = readBytes(br); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &item.Version); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &item.Stamp); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &item.Beat); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &item.TTLSec); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &item.Flags); err != nil {
			return nil, err
		}
		if item.Origin, err = readString(br); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// EncodeItems is WriteItems into a fresh byte slice.
func EncodeItems(items []DataItem) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteItems(&buf, items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeItems is ReadItems from a byte slice.
func DecodeItems(b []byte) ([]DataItem, error) {
	return ReadItems(bytes.NewReader(b))
}

// Save writes all AP items including tombstones.
func (m *APMachine) Save(w io.Writer) error {
	return WriteItems(w, m.Items(nil))
}

// Load merges all items of a snapshot into the machine. On an empty machine
// this is an exact restore; on a non-empty machine the usual merge rule
// applies, so loading is idempotent and never regresses newer local state.
func (m *APMachine) Load(r io.Reader) error {
	items, err := ReadItems(r)
	if err != nil {
		return err
	}
	for _, item := range items {
		m.Merge(item)
	}
	return nil
}
