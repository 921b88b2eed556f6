package stats

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Layout of the serialized traffic map
const (
	ContainerTag   = 0x1c // tagged key/value map
	ValueTagUInt64 = 4
	MinPairs       = 1
	MaxPairs       = 10
	MaxKeyLength   = 200 // bytes of UTF-16BE
)

// Keys carrying lifetime traffic in qBittorrent-data.conf
const (
	KeyAlltimeUL = "AlltimeUL"
	KeyAlltimeDL = "AlltimeDL"
)

// Totals holds lifetime traffic in bytes
type Totals struct {
	Uploaded   uint64 `json:"uploaded"`
	Downloaded uint64 `json:"downloaded"`
}

// Add returns the element-wise sum of two totals
func (t Totals) Add(other Totals) Totals {
	return Totals{
		Uploaded:   t.Uploaded + other.Uploaded,
		Downloaded: t.Downloaded + other.Downloaded,
	}
}

// FormatError describes a structural mismatch in the binary stats blob
type FormatError struct {
	Offset   int
	Field    string
	Expected string
	Actual   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("stats: invalid %s at offset %d: expected %s, got %s", e.Field, e.Offset, e.Expected, e.Actual)
}

var utf16Decoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

type reader struct {
	buf    []byte
	offset int
}

func (r *reader) need(n int, field string) error {
	if n < 0 || len(r.buf)-r.offset < n {
		return &FormatError{
			Offset:   r.offset,
			Field:    field,
			Expected: fmt.Sprintf("%d more bytes", n),
			Actual:   fmt.Sprintf("%d remaining", len(r.buf)-r.offset),
		}
	}
	return nil
}

func (r *reader) int32(field string) (int32, error) {
	if err := r.need(4, field); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.offset:]))
	r.offset += 4
	return v, nil
}

func (r *reader) uint64(field string) (uint64, error) {
	if err := r.need(8, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *reader) bytes(n int, field string) ([]byte, error) {
	if err := r.need(n, field); err != nil {
		return nil, err
	}
	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// DecodeMap parses the serialized map into key/value pairs.
// Trailing bytes after the last pair are ignored.
func DecodeMap(raw []byte) (map[string]uint64, error) {
	r := &reader{buf: raw}

	tagOffset := r.offset
	tag, err := r.int32("container tag")
	if err != nil {
		return nil, err
	}
	if tag != ContainerTag {
		return nil, &FormatError{
			Offset:   tagOffset,
			Field:    "container tag",
			Expected: fmt.Sprintf("0x%x", ContainerTag),
			Actual:   fmt.Sprintf("0x%x", uint32(tag)),
		}
	}

	countOffset := r.offset
	count, err := r.int32("pair count")
	if err != nil {
		return nil, err
	}
	if count < MinPairs || count > MaxPairs {
		return nil, &FormatError{
			Offset:   countOffset,
			Field:    "pair count",
			Expected: fmt.Sprintf("%d..%d", MinPairs, MaxPairs),
			Actual:   fmt.Sprintf("%d", count),
		}
	}

	values := make(map[string]uint64, count)
	for i := int32(0); i < count; i++ {
		lengthOffset := r.offset
		keyLength, err := r.int32("key length")
		if err != nil {
			return nil, err
		}
		if keyLength < 0 || keyLength > MaxKeyLength || keyLength%2 != 0 {
			return nil, &FormatError{
				Offset:   lengthOffset,
				Field:    "key length",
				Expected: fmt.Sprintf("even value in 0..%d", MaxKeyLength),
				Actual:   fmt.Sprintf("%d", keyLength),
			}
		}

		keyOffset := r.offset
		keyBytes, err := r.bytes(int(keyLength), "key")
		if err != nil {
			return nil, err
		}
		key, err := utf16Decoder.NewDecoder().Bytes(keyBytes)
		if err != nil {
			return nil, &FormatError{
				Offset:   keyOffset,
				Field:    "key",
				Expected: "UTF-16BE text",
				Actual:   err.Error(),
			}
		}

		valueTagOffset := r.offset
		valueTag, err := r.int32("value tag")
		if err != nil {
			return nil, err
		}
		if valueTag != ValueTagUInt64 {
			return nil, &FormatError{
				Offset:   valueTagOffset,
				Field:    "value tag",
				Expected: fmt.Sprintf("%d", ValueTagUInt64),
				Actual:   fmt.Sprintf("%d", valueTag),
			}
		}

		value, err := r.uint64("value")
		if err != nil {
			return nil, err
		}
		values[string(key)] = value
	}

	return values, nil
}

// Decode parses the serialized map and extracts lifetime traffic.
// Keys other than AlltimeUL and AlltimeDL are ignored, missing ones count as zero.
func Decode(raw []byte) (Totals, error) {
	values, err := DecodeMap(raw)
	if err != nil {
		return Totals{}, err
	}
	return Totals{
		Uploaded:   values[KeyAlltimeUL],
		Downloaded: values[KeyAlltimeDL],
	}, nil
}

// Encode serializes key/value pairs in the same layout DecodeMap reads.
// Keys are written in the order given.
func Encode(keys []string, values map[string]uint64) ([]byte, error) {
	buf := make([]byte, 0, 8+len(keys)*32)
	buf = binary.BigEndian.AppendUint32(buf, ContainerTag)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(keys)))

	encoder := utf16Decoder.NewEncoder()
	for _, key := range keys {
		keyBytes, err := encoder.Bytes([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to encode key %q: %w", key, err)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(keyBytes)))
		buf = append(buf, keyBytes...)
		buf = binary.BigEndian.AppendUint32(buf, ValueTagUInt64)
		buf = binary.BigEndian.AppendUint64(buf, values[key])
	}
	return buf, nil
}
