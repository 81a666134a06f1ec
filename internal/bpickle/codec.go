package bpickle

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// CorruptPayloadError is returned by Decode when the byte stream does not
// parse as a well-formed bpickle value. Offset points at the byte where
// the parser gave up, so callers can log the exact failing field.
type CorruptPayloadError struct {
	Offset int
	Reason string
}

func (e *CorruptPayloadError) Error() string {
	return fmt.Sprintf("corrupt payload at offset %d: %s", e.Offset, e.Reason)
}

// Encode serializes v into the wire format.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNull:
		buf.WriteByte('n')
	case KindBool:
		buf.WriteByte('b')
		if v.Bool {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte(';')
	case KindFloat:
		buf.WriteByte('f')
		buf.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
		buf.WriteByte(';')
	case KindBytes:
		buf.WriteByte('s')
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteByte(':')
		buf.Write(v.Bytes)
	case KindText:
		encoded := []byte(v.Text)
		buf.WriteByte('u')
		buf.WriteString(strconv.Itoa(len(encoded)))
		buf.WriteByte(':')
		buf.Write(encoded)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(';')
	case KindDict:
		buf.WriteByte('d')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encode(buf, Text(k)); err != nil {
				return err
			}
			if err := encode(buf, v.Dict[k]); err != nil {
				return err
			}
		}
		buf.WriteByte(';')
	default:
		return fmt.Errorf("bpickle: unsupported kind %v", v.Kind)
	}
	return nil
}

// Decode parses b as a single bpickle value. Trailing bytes after the value
// are ignored, matching the original's pick-the-first-object behavior.
func Decode(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, &CorruptPayloadError{Offset: 0, Reason: "empty payload"}
	}
	v, _, err := decode(b, 0)
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

func decode(b []byte, pos int) (Value, int, error) {
	if pos >= len(b) {
		return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "truncated value"}
	}
	switch b[pos] {
	case 'n':
		return Null(), pos + 1, nil
	case 'b':
		if pos+2 > len(b) {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "truncated bool"}
		}
		return Bool(b[pos+1] != '0'), pos + 2, nil
	case 'i':
		end := indexByte(b, ';', pos)
		if end < 0 {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "unterminated int"}
		}
		n, err := strconv.ParseInt(string(b[pos+1:end]), 10, 64)
		if err != nil {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "invalid int"}
		}
		return Int(n), end + 1, nil
	case 'f':
		end := indexByte(b, ';', pos)
		if end < 0 {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "unterminated float"}
		}
		f, err := strconv.ParseFloat(string(b[pos+1:end]), 64)
		if err != nil {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "invalid float"}
		}
		return Float(f), end + 1, nil
	case 's':
		return decodeLengthPrefixed(b, pos, false)
	case 'u':
		return decodeLengthPrefixed(b, pos, true)
	case 'l':
		return decodeContainer(b, pos, false)
	case 't':
		return decodeContainer(b, pos, false)
	case 'd':
		return decodeDict(b, pos)
	default:
		return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: fmt.Sprintf("unknown type tag %q", b[pos])}
	}
}

func decodeLengthPrefixed(b []byte, pos int, text bool) (Value, int, error) {
	colon := indexByte(b, ':', pos)
	if colon < 0 {
		return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "missing length separator"}
	}
	n, err := strconv.Atoi(string(b[pos+1 : colon]))
	if err != nil || n < 0 {
		return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "invalid length prefix"}
	}
	start := colon + 1
	end := start + n
	if end > len(b) {
		return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "length prefix exceeds payload"}
	}
	if text {
		return Text(string(b[start:end])), end, nil
	}
	raw := make([]byte, n)
	copy(raw, b[start:end])
	return Bytes(raw), end, nil
}

func decodeContainer(b []byte, pos int, _ bool) (Value, int, error) {
	pos++
	var items []Value
	for {
		if pos >= len(b) {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "unterminated list"}
		}
		if b[pos] == ';' {
			return List(items...), pos + 1, nil
		}
		var (
			v   Value
			err error
		)
		v, pos, err = decode(b, pos)
		if err != nil {
			return Value{}, pos, err
		}
		items = append(items, v)
	}
}

func decodeDict(b []byte, pos int) (Value, int, error) {
	pos++
	m := make(map[string]Value)
	for {
		if pos >= len(b) {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "unterminated dict"}
		}
		if b[pos] == ';' {
			return Dict(m), pos + 1, nil
		}
		key, next, err := decode(b, pos)
		if err != nil {
			return Value{}, pos, err
		}
		pos = next
		if key.Kind != KindText && key.Kind != KindBytes {
			return Value{}, pos, &CorruptPayloadError{Offset: pos, Reason: "dict key is not a string"}
		}
		keyStr := key.Text
		if key.Kind == KindBytes {
			keyStr = string(key.Bytes)
		}
		val, next2, err := decode(b, pos)
		if err != nil {
			return Value{}, pos, err
		}
		pos = next2
		m[keyStr] = val
	}
}

func indexByte(b []byte, c byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}
