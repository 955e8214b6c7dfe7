package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize is the maximum allowed frame size (1 MB + header slack)
	MaxFrameSize = MaxStringLength + 64*1024

	// ProtocolVersion is the version byte carried by framed envelopes
	ProtocolVersion = 1
)

// Codec names accepted by CodecByName and the configuration file
const (
	CodecLegacy = "legacy"
	CodecFramed = "framed"
)

var (
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")
	ErrInvalidVersion     = errors.New("invalid protocol version")
	ErrInvalidFrameLength = errors.New("invalid frame length")
	ErrUnknownCodec       = errors.New("unknown codec")
)

// Codec reads and writes steady-state event envelopes.
// Handshake data (username, acceptance flag, user list, welcome) and the
// client-to-server chat strings always use the plain string layout.
type Codec interface {
	WriteEnvelope(w io.Writer, env *Envelope) error
	ReadEnvelope(r io.Reader) (*Envelope, error)
	Name() string
}

// CodecByName returns the codec for a configuration value. Empty means legacy.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecLegacy:
		return LegacyCodec{}, nil
	case CodecFramed:
		return FramedCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// LegacyCodec is the BinaryWriter-compatible layout every client understands:
// [Type (int32 LE)][Username (string)][Fields (string)...]
type LegacyCodec struct{}

func (LegacyCodec) Name() string { return CodecLegacy }

// WriteEnvelope encodes into a buffer first so a failed encode never leaves a
// partial envelope on the stream.
func (LegacyCodec) WriteEnvelope(w io.Writer, env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := WriteInt32(&buf, int32(env.Type)); err != nil {
		return err
	}
	if err := env.EncodeTo(&buf); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return streamError(err)
}

func (LegacyCodec) ReadEnvelope(r io.Reader) (*Envelope, error) {
	tag, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	return decodeBody(r, MessageType(tag))
}

// Frame represents a versioned envelope frame
// Format: [Length (4 bytes)][Version (1 byte)][Type (1 byte)][Flags (1 byte)][Payload (N bytes)]
type Frame struct {
	Version uint8  // Protocol version (currently 1)
	Type    uint8  // Message type
	Flags   uint8  // Reserved, always 0
	Payload []byte // Username and fields, string-encoded
}

// EncodeFrame writes a frame to the writer
func EncodeFrame(w io.Writer, f *Frame) error {
	// Version (1) + Type (1) + Flags (1) + Payload (N)
	length := uint32(3 + len(f.Payload))
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 0, 4+length)
	buf = append(buf, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	buf = append(buf, f.Version, f.Type, f.Flags)
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)
	return streamError(err)
}

// DecodeFrame reads a frame from the reader
func DecodeFrame(r io.Reader) (*Frame, error) {
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}

	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	// Length must cover version + type + flags
	if length < 3 {
		return nil, ErrInvalidFrameLength
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, streamError(err)
	}

	return &Frame{
		Version: body[0],
		Type:    body[1],
		Flags:   body[2],
		Payload: body[3:],
	}, nil
}

// FramedCodec wraps each envelope in a length-prefixed, versioned frame so a
// reader can detect protocol skew.
type FramedCodec struct{}

func (FramedCodec) Name() string { return CodecFramed }

func (FramedCodec) WriteEnvelope(w io.Writer, env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	var payload bytes.Buffer
	if err := env.EncodeTo(&payload); err != nil {
		return err
	}

	return EncodeFrame(w, &Frame{
		Version: ProtocolVersion,
		Type:    uint8(env.Type),
		Payload: payload.Bytes(),
	})
}

func (FramedCodec) ReadEnvelope(r io.Reader) (*Envelope, error) {
	frame, err := DecodeFrame(r)
	if err != nil {
		return nil, err
	}

	if frame.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidVersion, frame.Version, ProtocolVersion)
	}

	payload := bytes.NewReader(frame.Payload)
	env, err := decodeBody(payload, MessageType(frame.Type))
	if err != nil {
		return nil, err
	}
	if payload.Len() != 0 {
		return nil, ErrInvalidFrameLength
	}
	return env, nil
}

// EncodeEnvelope is a helper that encodes an envelope to a byte slice
func EncodeEnvelope(c Codec, env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.WriteEnvelope(&buf, env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope is a helper that decodes an envelope from a byte slice
func DecodeEnvelope(c Codec, data []byte) (*Envelope, error) {
	return c.ReadEnvelope(bytes.NewReader(data))
}
