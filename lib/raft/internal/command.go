package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCR/lib/consistency"
)

// CommandType defines the possible mutations of the replicated state machine.
type CommandType uint8

const (
	CommandTPut         CommandType = iota // Insert or update an entry of the given kind.
	CommandTPutIfAbsent                    // Insert only if absent (lock acquisition, first writer wins).
	CommandTDelete                         // Delete an entry (for locks the value carries the owner token).
	CommandTSweepLocks                     // Remove all locks expired at the command stamp (leader proposed).
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPut:
		return "Put"
	case CommandTPutIfAbsent:
		return "PutIfAbsent"
	case CommandTDelete:
		return "Delete"
	case CommandTSweepLocks:
		return "SweepLocks"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(ct))
	}
}

// Command represents a single entry in the raft log. After the log commits
// it, every replica deserializes and applies it in the same order.
type Command struct {
	Type   CommandType
	Kind   consistency.DataKind
	TTLSec uint64 // lock lifetime in seconds, 0 = machine default
	Stamp  int64  // proposer wall clock (unix-milli), the only clock replicas agree on
	Key    string
	Value  []byte
	Origin string // lock holder name or proposing node, informational
}

// commandHeaderSize is the fixed prefix before the variable-length fields:
// Type + Kind + TTLSec + Stamp + KeyLen
const commandHeaderSize = 1 + 1 + 8 + 8 + 4

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return commandHeaderSize + len(command.Key) + 4 + len(command.Value) + len(command.Origin)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 1 byte for data kind,
// 8 bytes for ttl seconds (big endian),
// 8 bytes for the proposer stamp (big endian, two's complement),
// 4 bytes for key length (big endian),
// N bytes for key data,
// 4 bytes for value length (big endian),
// N bytes for value data,
// remaining bytes for the origin string (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	result[1] = byte(command.Kind)
	binary.BigEndian.PutUint64(result[2:10], command.TTLSec)
	binary.BigEndian.PutUint64(result[10:18], uint64(command.Stamp))
	binary.BigEndian.PutUint32(result[18:22], uint32(len(command.Key)))

	offset := commandHeaderSize
	copy(result[offset:], command.Key)
	offset += len(command.Key)

	binary.BigEndian.PutUint32(result[offset:offset+4], uint32(len(command.Value)))
	offset += 4
	copy(result[offset:], command.Value)
	offset += len(command.Value)

	copy(result[offset:], command.Origin)
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < commandHeaderSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Kind = consistency.DataKind(data[1])
	command.TTLSec = binary.BigEndian.Uint64(data[2:10])
	command.Stamp = int64(binary.BigEndian.Uint64(data[10:18]))
	keyLen := binary.BigEndian.Uint32(data[18:22])

	offset := commandHeaderSize
	if len(data) < offset+int(keyLen)+4 {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[offset : offset+int(keyLen)])
	offset += int(keyLen)

	valueLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if len(data) < offset+int(valueLen) {
		return fmt.Errorf("data too short for value of length %d", valueLen)
	}

	if valueLen > 0 {
		// Reuse existing buffer if possible to reduce allocations
		if command.Value == nil || cap(command.Value) < int(valueLen) {
			command.Value = make([]byte, valueLen)
		} else {
			command.Value = command.Value[:valueLen]
		}
		copy(command.Value, data[offset:offset+int(valueLen)])
	} else {
		command.Value = nil
	}
	offset += int(valueLen)

	command.Origin = string(data[offset:])
	return nil
}
