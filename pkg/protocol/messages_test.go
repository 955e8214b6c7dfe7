package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyEnvelopeLayout(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
		want []byte
	}{
		{
			name: "chat message",
			env:  NewChatMessage("alice", "hi"),
			want: []byte{0x00, 0x00, 0x00, 0x00, 0x05, 'a', 'l', 'i', 'c', 'e', 0x02, 'h', 'i'},
		},
		{
			name: "user joined",
			env:  NewUserJoined("bob"),
			want: []byte{0x01, 0x00, 0x00, 0x00, 0x03, 'b', 'o', 'b'},
		},
		{
			name: "user left",
			env:  NewUserLeft("bob"),
			want: []byte{0x02, 0x00, 0x00, 0x00, 0x03, 'b', 'o', 'b'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEnvelope(LegacyCodec{}, tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)

			decoded, err := DecodeEnvelope(LegacyCodec{}, data)
			require.NoError(t, err)
			assert.Equal(t, tt.env, decoded)
		})
	}
}

func TestEnvelopeValidate(t *testing.T) {
	assert.NoError(t, NewChatMessage("a", "b").Validate())
	assert.NoError(t, NewUserJoined("a").Validate())

	bad := &Envelope{Type: TypeUserLeft, Username: "a", Fields: []string{"extra"}}
	assert.ErrorIs(t, bad.Validate(), ErrFieldCount)

	unknown := &Envelope{Type: MessageType(9), Username: "a"}
	assert.ErrorIs(t, unknown.Validate(), ErrUnknownMessageType)

	_, err := EncodeEnvelope(LegacyCodec{}, bad)
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestReadEnvelopeUnknownType(t *testing.T) {
	data := []byte{0x07, 0x00, 0x00, 0x00, 0x01, 'x'}
	_, err := DecodeEnvelope(LegacyCodec{}, data)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestReadEnvelopeTruncated(t *testing.T) {
	full, err := EncodeEnvelope(LegacyCodec{}, NewChatMessage("alice", "hello"))
	require.NoError(t, err)

	for cut := 0; cut < len(full); cut++ {
		_, err := DecodeEnvelope(LegacyCodec{}, full[:cut])
		assert.ErrorIs(t, err, ErrStreamClosed, "cut at %d", cut)
	}
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "CHAT_MESSAGE", TypeChatMessage.String())
	assert.Equal(t, "USER_JOINED", TypeUserJoined.String())
	assert.Equal(t, "USER_LEFT", TypeUserLeft.String())
	assert.Equal(t, "UNKNOWN", MessageType(42).String())
}

func TestUserList(t *testing.T) {
	var buf bytes.Buffer
	users := []string{"alice", "bob", "zoé"}
	require.NoError(t, WriteUserList(&buf, users))
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00}, buf.Bytes()[:4])

	got, err := ReadUserList(&buf)
	require.NoError(t, err)
	assert.Equal(t, users, got)

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteUserList(&buf, nil))
		got, err := ReadUserList(&buf)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := ReadUserList(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
		assert.ErrorIs(t, err, ErrInvalidListLength)
	})

	t.Run("count larger than payload", func(t *testing.T) {
		_, err := ReadUserList(bytes.NewReader([]byte{0x02, 0x00, 0x00, 0x00, 0x01, 'a'}))
		assert.ErrorIs(t, err, ErrStreamClosed)
	})
}

func TestWelcomeText(t *testing.T) {
	assert.Equal(t, "Bienvenue sur le server, alice !", WelcomeText("", "alice"))
	assert.Equal(t, "hello bob", WelcomeText("hello %s", "bob"))
}

func TestEnvelopeText(t *testing.T) {
	assert.Equal(t, "hi", NewChatMessage("a", "hi").Text())
	assert.Equal(t, "", NewUserJoined("a").Text())
}
