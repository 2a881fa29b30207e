package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dCR/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled.
// Empty non-nil slices are deliberately absent here: json and gob cannot
// round-trip the nil/empty distinction, the binary-specific test covers it.
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Config publish request
		{
			MsgType: common.MsgTCfgPublish,
			Key:     "prod@@db@@jdbc.properties",
			Value:   []byte("url=jdbc:mysql://db:3306"),
			Origin:  "node-1",
		},

		// Config get response
		{
			MsgType: common.MsgTCfgGet,
			Key:     "prod@@db@@jdbc.properties",
			Value:   []byte("url=jdbc:mysql://db:3306"),
			Version: 17,
			Ok:      true,
			Stale:   true,
		},

		// Error response with code and leader hint
		{
			MsgType: common.MsgTError,
			Err:     "not the leader",
			Code:    1,
			Hint:    "node-2:4000",
		},

		// Watch request
		{
			MsgType: common.MsgTCfgWatch,
			Key:     "prod@@db@@jdbc.properties",
			Version: 17,
			TTLSec:  30,
		},

		// Peer sync batch
		{
			MsgType: common.MsgTClsSync,
			Items: []common.WireItem{
				{
					Key:     "ns@@web@@inst-1",
					Value:   []byte(`{"ip":"10.0.0.1"}`),
					Version: 3,
					Stamp:   1700000000000,
					Origin:  "node-1",
					Beat:    1700000000500,
					TTLSec:  15,
				},
				{
					Key:     "ns@@web@@inst-2",
					Version: 9,
					Stamp:   1700000001000,
					Origin:  "node-2",
					Flags:   1, // tombstone
				},
			},
		},

		// Peer verify digest
		{
			MsgType: common.MsgTClsVerify,
			Origin:  "node-1",
			Digest: map[string]uint64{
				"ns@@web@@inst-1": 3,
				"ns@@web@@inst-2": 9,
				"ns@@api@@inst-7": 12,
			},
		},

		// Peer pull request
		{
			MsgType: common.MsgTClsPull,
			Keys:    []string{"ns@@web@@inst-1", "ns@@api@@inst-7"},
		},

		// Message with all scalar fields filled
		{
			MsgType: common.MsgTLockAcquire,
			Key:     "scheduler-leader",
			Value:   []byte("7c31e9f2-token"),
			Version: 99,
			TTLSec:  60,
			Stamp:   1700000002000,
			Origin:  "worker-4",
			Limit:   25,
			Stale:   true,
			Ok:      true,
			Err:     "still carried",
			Code:    3,
			Hint:    "node-3:4000",
			Meta:    []byte("test-meta-data"),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTClsInfo; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with empty strings and zero values",
			msg: common.Message{
				MsgType: common.MsgTCfgPublish,
				Key:     "",
				Version: 0,
				TTLSec:  0,
				Value:   []byte{},
				Ok:      false,
				Err:     "",
				Meta:    []byte{},
			},
		},
		{
			name: "Message with empty strings but Ok=true",
			msg: common.Message{
				MsgType: common.MsgTCfgGet,
				Key:     "",
				Ok:      true,
				Value:   nil,
			},
		},
		{
			name: "Message with stale flag only",
			msg: common.Message{
				MsgType: common.MsgTCfgGet,
				Stale:   true,
			},
		},
		{
			name: "Message with empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTCfgPublish,
				Key:     "test",
				Value:   []byte{},
			},
		},
		{
			name: "Message with empty batches but not nil",
			msg: common.Message{
				MsgType: common.MsgTClsSync,
				Keys:    []string{},
				Items:   []common.WireItem{},
				Digest:  map[string]uint64{},
			},
		},
		{
			name: "Item with empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTClsSync,
				Items: []common.WireItem{
					{Key: "k", Value: []byte{}, Version: 1},
				},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Serialize
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			// Deserialize
			var result common.Message
			err = serializer.Deserialize(data, &result)
			if err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// The binary format preserves the nil/empty distinction, so a
			// full structural comparison holds.
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("Message doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
					tc.msg, result)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 2, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Item count exceeding buffer",
			data:        []byte{1, 2, 0, 0xFF, 0xFF, 0xFF, 0xFF}, // Items flag with an absurd count
			expectError: true,
		},
		{
			name:        "Digest count exceeding buffer",
			data:        []byte{1, 4, 0, 0, 0, 1, 0}, // Digest flag claiming 256 entries in 0 bytes
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
