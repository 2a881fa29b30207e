package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCR/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present. Boolean fields
// carry no payload: the presence bit is the value.
const (
	hasKey     uint16 = 1 << 0
	hasValue   uint16 = 1 << 1
	hasVersion uint16 = 1 << 2
	hasTTLSec  uint16 = 1 << 3
	hasStamp   uint16 = 1 << 4
	hasOrigin  uint16 = 1 << 5
	hasLimit   uint16 = 1 << 6
	hasStale   uint16 = 1 << 7
	hasKeys    uint16 = 1 << 8
	hasItems   uint16 = 1 << 9
	hasDigest  uint16 = 1 << 10
	hasOk      uint16 = 1 << 11
	hasErr     uint16 = 1 << 12
	hasCode    uint16 = 1 << 13
	hasHint    uint16 = 1 << 14
	hasMeta    uint16 = 1 << 15
)

// Per-item presence bits for the variable wire item fields.
const (
	itemHasValue  byte = 1 << 0
	itemHasOrigin byte = 1 << 1
)

// Fixed per-item bytes: item flags, key length, version, stamp, beat, ttl,
// state flags. Also the minimum size of an encoded item, used to sanity-check
// counts before allocating.
const itemFixedSize = 1 + 4 + 8 + 8 + 8 + 8 + 1

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags
	var flags uint16

	// Set position for writing, start after MsgType and flags
	pos := 3

	if msg.Key != "" {
		flags |= hasKey
		pos = putStr(result, pos, msg.Key)
	}
	if msg.Value != nil {
		flags |= hasValue
		pos = putBlob(result, pos, msg.Value)
	}
	if msg.Version > 0 {
		flags |= hasVersion
		pos = putU64(result, pos, msg.Version)
	}
	if msg.TTLSec > 0 {
		flags |= hasTTLSec
		pos = putU64(result, pos, msg.TTLSec)
	}
	if msg.Stamp != 0 {
		flags |= hasStamp
		pos = putU64(result, pos, uint64(msg.Stamp))
	}
	if msg.Origin != "" {
		flags |= hasOrigin
		pos = putStr(result, pos, msg.Origin)
	}
	if msg.Limit > 0 {
		flags |= hasLimit
		pos = putU32(result, pos, msg.Limit)
	}
	if msg.Stale {
		flags |= hasStale
	}
	if msg.Keys != nil {
		flags |= hasKeys
		pos = putU32(result, pos, uint32(len(msg.Keys)))
		for _, k := range msg.Keys {
			pos = putStr(result, pos, k)
		}
	}
	if msg.Items != nil {
		flags |= hasItems
		pos = putU32(result, pos, uint32(len(msg.Items)))
		for i := range msg.Items {
			pos = putItem(result, pos, &msg.Items[i])
		}
	}
	if msg.Digest != nil {
		flags |= hasDigest
		pos = putU32(result, pos, uint32(len(msg.Digest)))
		for k, v := range msg.Digest {
			pos = putStr(result, pos, k)
			pos = putU64(result, pos, v)
		}
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		pos = putStr(result, pos, msg.Err)
	}
	if msg.Code > 0 {
		flags |= hasCode
		pos = putU64(result, pos, msg.Code)
	}
	if msg.Hint != "" {
		flags |= hasHint
		pos = putStr(result, pos, msg.Hint)
	}
	if msg.Meta != nil {
		flags |= hasMeta
		_ = putBlob(result, pos, msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 3 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type and flags
	msg.MsgType = common.MessageType(data[0])
	flags := binary.BigEndian.Uint16(data[1:3])

	r := &binReader{data: data, pos: 3}

	if flags&hasKey != 0 {
		msg.Key = r.str("key")
	} else {
		msg.Key = ""
	}
	if flags&hasValue != 0 {
		msg.Value = r.blob("value", msg.Value)
	} else {
		msg.Value = nil
	}
	if flags&hasVersion != 0 {
		msg.Version = r.u64("version")
	} else {
		msg.Version = 0
	}
	if flags&hasTTLSec != 0 {
		msg.TTLSec = r.u64("ttl")
	} else {
		msg.TTLSec = 0
	}
	if flags&hasStamp != 0 {
		msg.Stamp = int64(r.u64("stamp"))
	} else {
		msg.Stamp = 0
	}
	if flags&hasOrigin != 0 {
		msg.Origin = r.str("origin")
	} else {
		msg.Origin = ""
	}
	if flags&hasLimit != 0 {
		msg.Limit = r.u32("limit")
	} else {
		msg.Limit = 0
	}
	msg.Stale = flags&hasStale != 0

	if flags&hasKeys != 0 {
		n := r.count("keys", 4)
		keys := make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			keys = append(keys, r.str("keys entry"))
		}
		msg.Keys = keys
	} else {
		msg.Keys = nil
	}

	if flags&hasItems != 0 {
		n := r.count("items", itemFixedSize)
		items := make([]common.WireItem, n)
		for i := 0; i < n && r.err == nil; i++ {
			readItem(r, &items[i])
		}
		msg.Items = items
	} else {
		msg.Items = nil
	}

	if flags&hasDigest != 0 {
		n := r.count("digest", 4+8)
		digest := make(map[string]uint64, n)
		for i := 0; i < n && r.err == nil; i++ {
			k := r.str("digest key")
			digest[k] = r.u64("digest version")
		}
		msg.Digest = digest
	} else {
		msg.Digest = nil
	}

	msg.Ok = flags&hasOk != 0

	if flags&hasErr != 0 {
		msg.Err = r.str("error")
	} else {
		msg.Err = ""
	}
	if flags&hasCode != 0 {
		msg.Code = r.u64("code")
	} else {
		msg.Code = 0
	}
	if flags&hasHint != 0 {
		msg.Hint = r.str("hint")
	} else {
		msg.Hint = ""
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.blob("meta", msg.Meta)
	} else {
		msg.Meta = nil
	}

	return r.err
}

// --------------------------------------------------------------------------
// Wire Item Encoding
// --------------------------------------------------------------------------

func putItem(buf []byte, pos int, it *common.WireItem) int {
	var itemFlags byte
	if it.Value != nil {
		itemFlags |= itemHasValue
	}
	if it.Origin != "" {
		itemFlags |= itemHasOrigin
	}
	buf[pos] = itemFlags
	pos++
	pos = putStr(buf, pos, it.Key)
	pos = putU64(buf, pos, it.Version)
	pos = putU64(buf, pos, uint64(it.Stamp))
	pos = putU64(buf, pos, uint64(it.Beat))
	pos = putU64(buf, pos, it.TTLSec)
	buf[pos] = it.Flags
	pos++
	if itemFlags&itemHasValue != 0 {
		pos = putBlob(buf, pos, it.Value)
	}
	if itemFlags&itemHasOrigin != 0 {
		pos = putStr(buf, pos, it.Origin)
	}
	return pos
}

func readItem(r *binReader, it *common.WireItem) {
	itemFlags := r.u8("item header")
	it.Key = r.str("item key")
	it.Version = r.u64("item version")
	it.Stamp = int64(r.u64("item stamp"))
	it.Beat = int64(r.u64("item beat"))
	it.TTLSec = r.u64("item ttl")
	it.Flags = r.u8("item state flags")
	if itemFlags&itemHasValue != 0 {
		it.Value = r.blob("item value", nil)
	}
	if itemFlags&itemHasOrigin != 0 {
		it.Origin = r.str("item origin")
	}
}

func itemSize(it *common.WireItem) int {
	size := itemFixedSize + len(it.Key)
	if it.Value != nil {
		size += 4 + len(it.Value)
	}
	if it.Origin != "" {
		size += 4 + len(it.Origin)
	}
	return size
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 2 bytes for flags
	size := 3

	// Add sizes for the fields that are present; booleans live in the flags
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Version > 0 {
		size += 8
	}
	if msg.TTLSec > 0 {
		size += 8
	}
	if msg.Stamp != 0 {
		size += 8
	}
	if msg.Origin != "" {
		size += 4 + len(msg.Origin)
	}
	if msg.Limit > 0 {
		size += 4
	}
	if msg.Keys != nil {
		size += 4
		for _, k := range msg.Keys {
			size += 4 + len(k)
		}
	}
	if msg.Items != nil {
		size += 4
		for i := range msg.Items {
			size += itemSize(&msg.Items[i])
		}
	}
	if msg.Digest != nil {
		size += 4
		for k := range msg.Digest {
			size += 4 + len(k) + 8
		}
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Code > 0 {
		size += 8
	}
	if msg.Hint != "" {
		size += 4 + len(msg.Hint)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}

func putU32(buf []byte, pos int, v uint32) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], v)
	return pos + 4
}

func putU64(buf []byte, pos int, v uint64) int {
	binary.BigEndian.PutUint64(buf[pos:pos+8], v)
	return pos + 8
}

func putBlob(buf []byte, pos int, b []byte) int {
	pos = putU32(buf, pos, uint32(len(b)))
	copy(buf[pos:pos+len(b)], b)
	return pos + len(b)
}

func putStr(buf []byte, pos int, s string) int {
	pos = putU32(buf, pos, uint32(len(s)))
	copy(buf[pos:pos+len(s)], s)
	return pos + len(s)
}

// binReader walks the encoded buffer with a sticky error: after the first
// short read every further accessor is a no-op, so call sites read straight
// through and check the error once.
type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("data too short for %s", what)
	}
}

func (r *binReader) u8(what string) byte {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.data) {
		r.fail(what)
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *binReader) u32(what string) uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.data) {
		r.fail(what)
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *binReader) u64(what string) uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.data) {
		r.fail(what)
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

// count reads an element count and rejects counts that could not possibly fit
// in the remaining buffer, so corrupt input cannot force huge allocations.
func (r *binReader) count(what string, minPer int) int {
	n := int(r.u32(what))
	if r.err != nil {
		return 0
	}
	if n*minPer > len(r.data)-r.pos {
		r.fail(what + " entries")
		return 0
	}
	return n
}

func (r *binReader) str(what string) string {
	n := int(r.u32(what))
	if r.err != nil {
		return ""
	}
	if r.pos+n > len(r.data) {
		r.fail(what)
		return ""
	}
	v := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return v
}

// blob reads a length-prefixed byte field, reusing the given slice when its
// capacity suffices. A present field of length zero yields an empty non-nil
// slice.
func (r *binReader) blob(what string, reuse []byte) []byte {
	n := int(r.u32(what))
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.fail(what)
		return nil
	}
	var out []byte
	if reuse == nil || cap(reuse) < n {
		out = make([]byte, n)
	} else {
		out = reuse[:n]
	}
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out
}
