package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// textGen draws strings that mix ASCII with multi-byte runes
func textGen() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.String(),
		rapid.SampledFrom([]string{"", "héllo", "日本語", "emoji 🎉", "Bienvenue sur le server, zoé !"}),
	)
}

func envelopeGen() *rapid.Generator[*Envelope] {
	return rapid.Custom(func(t *rapid.T) *Envelope {
		username := textGen().Draw(t, "username")
		switch rapid.IntRange(0, 2).Draw(t, "type") {
		case 0:
			return NewChatMessage(username, textGen().Draw(t, "text"))
		case 1:
			return NewUserJoined(username)
		default:
			return NewUserLeft(username)
		}
	})
}

// TestEnvelopeRoundTrip tests that any envelope survives encode/decode with both codecs
func TestEnvelopeRoundTrip(t *testing.T) {
	for _, codec := range []Codec{LegacyCodec{}, FramedCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				original := envelopeGen().Draw(t, "envelope")

				var buf bytes.Buffer
				if err := codec.WriteEnvelope(&buf, original); err != nil {
					t.Fatalf("encode failed: %v", err)
				}

				decoded, err := codec.ReadEnvelope(&buf)
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}

				if decoded.Type != original.Type {
					t.Fatalf("type mismatch: got %v, want %v", decoded.Type, original.Type)
				}
				if decoded.Username != original.Username {
					t.Fatalf("username mismatch: got %q, want %q", decoded.Username, original.Username)
				}
				if len(decoded.Fields) != len(original.Fields) {
					t.Fatalf("field count mismatch: got %d, want %d", len(decoded.Fields), len(original.Fields))
				}
				for i := range original.Fields {
					if decoded.Fields[i] != original.Fields[i] {
						t.Fatalf("field %d mismatch: got %q, want %q", i, decoded.Fields[i], original.Fields[i])
					}
				}
				if buf.Len() != 0 {
					t.Fatalf("%d bytes left after decode", buf.Len())
				}
			})
		})
	}
}

// TestStringRoundTrip tests that any valid string can be encoded and decoded
func TestStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := rapid.String().Draw(t, "string")

		var buf bytes.Buffer
		if err := WriteString(&buf, original); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := ReadString(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded != original {
			t.Fatalf("string mismatch: got %q, want %q", decoded, original)
		}
	})
}

// TestLengthRoundTrip covers every width of the 7-bit length encoding
func TestLengthRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 1<<31-1).Draw(t, "n")

		var buf bytes.Buffer
		if err := Write7BitLength(&buf, n); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if buf.Len() > 5 {
			t.Fatalf("encoded length used %d bytes", buf.Len())
		}

		got, err := Read7BitLength(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if got != n {
			t.Fatalf("length mismatch: got %d, want %d", got, n)
		}
	})
}

// TestUserListRoundTrip tests arbitrary user lists
func TestUserListRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		users := rapid.SliceOfN(textGen(), 0, 20).Draw(t, "users")

		var buf bytes.Buffer
		if err := WriteUserList(&buf, users); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		got, err := ReadUserList(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(got) != len(users) {
			t.Fatalf("length mismatch: got %d, want %d", len(got), len(users))
		}
		for i := range users {
			if got[i] != users[i] {
				t.Fatalf("user %d mismatch: got %q, want %q", i, got[i], users[i])
			}
		}
	})
}
