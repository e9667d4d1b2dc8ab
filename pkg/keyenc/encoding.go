// ABOUTME: Order-preserving encoding for composite B-tree keys
// ABOUTME: Supports multiple data types with lexicographic ordering

package keyenc

import (
	"encoding/binary"
	"fmt"
)

// Value types for composite keys.
const (
	TypeBytes = 1
	TypeInt64 = 2
)

// Value represents a single value in a composite key.
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
}

// Bytes creates a bytes value.
func Bytes(data []byte) Value { return Value{Type: TypeBytes, Str: data} }

// Int64 creates an int64 value.
func Int64(i int64) Value { return Value{Type: TypeInt64, I64: i} }

// EncodeValues encodes multiple values in order-preserving format.
// Each value is tagged with its type so the tags can't collide with escaped bytes.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, byte(v.Type))
		switch v.Type {
		case TypeInt64:
			var buf [8]byte
			u := uint64(v.I64) + (1 << 63) // flip sign bit for ordering
			binary.BigEndian.PutUint64(buf[:], u)
			out = append(out, buf[:]...)
		case TypeBytes:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("keyenc: unknown value type %d", v.Type))
		}
	}
	return out
}

// escapeString escapes null bytes (0x00 -> 0x01 0x01, 0x01 -> 0x01 0x02) so
// they can't be confused with the null terminator, while keeping escaped
// strings in the same byte order as the originals.
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b <= 0x01 {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			out = append(out, s[i+1]-1)
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues decodes values from the encoded format.
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0
	for pos < len(data) {
		typ := data[pos]
		pos++
		switch typ {
		case TypeInt64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("keyenc: incomplete int64 at pos %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			vals = append(vals, Int64(int64(u-(1<<63))))
			pos += 8
		case TypeBytes:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("keyenc: unterminated string at pos %d", pos)
			}
			vals = append(vals, Bytes(unescapeString(data[pos:end])))
			pos = end + 1
		default:
			return nil, fmt.Errorf("keyenc: unknown type %d at pos %d", typ, pos-1)
		}
	}
	return vals, nil
}

// EncodeKey encodes a composite key with a 4-byte namespace prefix.
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := make([]byte, 4, 4+32)
	binary.BigEndian.PutUint32(out, prefix)
	return append(out, EncodeValues(vals)...)
}

// Comparison operators for EncodeKeyPartial.
const (
	CmpGE = 1 // >=
	CmpGT = 2 // >
	CmpLT = 3 // <
	CmpLE = 4 // <=
)

// EncodeKeyPartial encodes a partial key for range queries. Missing trailing
// columns are encoded as +/- infinity depending on the comparison direction.
func EncodeKeyPartial(prefix uint32, vals []Value, cmp int) []byte {
	out := EncodeKey(prefix, vals)
	if cmp == CmpGT || cmp == CmpLE {
		out = append(out, 0xFF) // unreachable +infinity suffix
	}
	return out
}

// ExtractPrefix extracts the namespace prefix from an encoded key.
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes the values from an encoded key.
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("keyenc: key too short")
	}
	return DecodeValues(key[4:])
}
