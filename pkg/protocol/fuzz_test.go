package protocol

import (
	"bytes"
	"testing"
)

// FuzzReadEnvelope fuzzes both envelope decoders with random bytes
func FuzzReadEnvelope(f *testing.F) {
	for _, env := range []*Envelope{NewChatMessage("alice", "hi"), NewUserJoined("bob"), NewUserLeft("bob")} {
		legacy, _ := EncodeEnvelope(LegacyCodec{}, env)
		framed, _ := EncodeEnvelope(FramedCodec{}, env)
		f.Add(legacy)
		f.Add(framed)
	}
	f.Add([]byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic or hang; errors are expected
		_, _ = LegacyCodec{}.ReadEnvelope(bytes.NewReader(data))
		_, _ = FramedCodec{}.ReadEnvelope(bytes.NewReader(data))
	})
}

// FuzzReadString fuzzes the string decoder
func FuzzReadString(f *testing.F) {
	f.Add([]byte{0x00})                          // Empty string
	f.Add([]byte{0x05, 'h', 'e', 'l', 'l', 'o'}) // "hello"
	f.Add([]byte{0x80, 0x80, 0x80, 0x80, 0x08})  // Huge length

	f.Fuzz(func(t *testing.T, data []byte) {
		str, err := ReadString(bytes.NewReader(data))
		if err == nil {
			var buf bytes.Buffer
			if err := WriteString(&buf, str); err != nil {
				t.Fatalf("decoded string failed to re-encode: %v", err)
			}
		}
	})
}

// FuzzReadUserList fuzzes the user list decoder
func FuzzReadUserList(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0x00, 0x00})
	f.Add([]byte{0x01, 0x00, 0x00, 0x00, 0x01, 'a'})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0x7F})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ReadUserList(bytes.NewReader(data))
	})
}
