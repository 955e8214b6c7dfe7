package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxStringLength bounds every length-prefixed string on the wire (1 MB)
const MaxStringLength = 1024 * 1024

var (
	// ErrStreamClosed is returned (wrapped) for any read or write that fails
	// because the underlying stream ended, was truncated, or was closed.
	ErrStreamClosed = errors.New("stream closed")

	ErrStringTooLong     = errors.New("string exceeds maximum length (1 MB)")
	ErrInvalidUTF8       = errors.New("invalid UTF-8 string")
	ErrInvalidLengthCode = errors.New("invalid 7-bit encoded length")
)

// streamError tags an I/O error so callers can match it with errors.Is(err, ErrStreamClosed)
// while keeping the underlying cause available.
func streamError(err error) error {
	if err == nil || errors.Is(err, ErrStreamClosed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStreamClosed, err)
}

// WriteUint8 writes a single byte
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return streamError(err)
}

// ReadUint8 reads a single byte
func ReadUint8(r io.Reader) (uint8, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, streamError(err)
	}
	return buf[0], nil
}

// WriteInt32 writes a 32-bit signed integer in little-endian
func WriteInt32(w io.Writer, v int32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	_, err := w.Write(buf)
	return streamError(err)
}

// ReadInt32 reads a 32-bit signed integer in little-endian
func ReadInt32(r io.Reader) (int32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, streamError(err)
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

// WriteUint32 writes a 32-bit unsigned integer in big-endian (frame headers only)
func WriteUint32(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return streamError(err)
}

// ReadUint32 reads a 32-bit unsigned integer in big-endian (frame headers only)
func ReadUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, streamError(err)
	}
	return binary.BigEndian.Uint32(buf), nil
}

// WriteBool writes a boolean as a single byte (0x00 or 0x01)
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteUint8(w, 0x01)
	}
	return WriteUint8(w, 0x00)
}

// ReadBool reads a boolean from a single byte
func ReadBool(r io.Reader) (bool, error) {
	b, err := ReadUint8(r)
	if err != nil {
		return false, err
	}
	return b != 0x00, nil
}

// Write7BitLength writes n as a 7-bit encoded integer: low seven bits per byte,
// high bit set while more bytes follow.
func Write7BitLength(w io.Writer, n int) error {
	if n < 0 {
		return ErrInvalidLengthCode
	}
	buf := make([]byte, 0, 5)
	v := uint32(n)
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	buf = append(buf, byte(v))
	_, err := w.Write(buf)
	return streamError(err)
}

// Read7BitLength reads a 7-bit encoded integer (at most five bytes)
func Read7BitLength(r io.Reader) (int, error) {
	var result uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := ReadUint8(r)
		if err != nil {
			return 0, err
		}
		// The fifth byte carries only the top four bits and no continuation
		if shift == 28 && b > 0x0F {
			return 0, ErrInvalidLengthCode
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			if result > 1<<31-1 {
				return 0, ErrInvalidLengthCode
			}
			return int(result), nil
		}
	}
	return 0, ErrInvalidLengthCode
}

// WriteString writes a length-prefixed UTF-8 string
// Format: [Byte length (7-bit encoded)][Data (N bytes UTF-8)]
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLength {
		return ErrStringTooLong
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}

	if err := Write7BitLength(w, len(s)); err != nil {
		return err
	}

	if len(s) > 0 {
		_, err := io.WriteString(w, s)
		return streamError(err)
	}
	return nil
}

// ReadString reads a length-prefixed UTF-8 string
func ReadString(r io.Reader) (string, error) {
	length, err := Read7BitLength(r)
	if err != nil {
		return "", err
	}

	if length > MaxStringLength {
		return "", ErrStringTooLong
	}

	if length == 0 {
		return "", nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", streamError(err)
	}

	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}

	return string(data), nil
}
