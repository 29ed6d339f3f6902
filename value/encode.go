package value

import (
	"encoding/binary"
	"math"

	"github.com/nervusdb/nervusdb/errkind"
)

// property type tags for the self-describing binary encoding.
const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagDateTime
	tagBlob
	tagList
	tagMap
)

// EncodeProperty serializes a PropertyValue-shaped Value (Null, Bool, Int,
// Float, String, DateTime, Blob, List, Map — never Node/Edge/Path, which
// are never persisted) into the one-byte-tag, u32-length binary format
// uses. NaN floats round-trip via their raw bit pattern.
func EncodeProperty(v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte{tagNull}, nil
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{tagBool, b}, nil
	case KindInt:
		buf := make([]byte, 9)
		buf[0] = tagInt
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Int))
		return buf, nil
	case KindFloat:
		buf := make([]byte, 9)
		buf[0] = tagFloat
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.Float))
		return buf, nil
	case KindString:
		return encodeTagged(tagString, []byte(v.Str)), nil
	case KindDateTime:
		buf := make([]byte, 9)
		buf[0] = tagDateTime
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.DateTime))
		return buf, nil
	case KindBlob:
		return encodeTagged(tagBlob, v.Blob), nil
	case KindList:
		buf := []byte{tagList}
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(v.List)))
		buf = append(buf, lenBuf...)
		for _, item := range v.List {
			enc, err := EncodeProperty(item)
			if err != nil {
				return nil, err
			}
			sz := make([]byte, 4)
			binary.LittleEndian.PutUint32(sz, uint32(len(enc)))
			buf = append(buf, sz...)
			buf = append(buf, enc...)
		}
		return buf, nil
	case KindMap:
		buf := []byte{tagMap}
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(v.Map)))
		buf = append(buf, lenBuf...)
		for k, mv := range v.Map {
			kb := []byte(k)
			klenBuf := make([]byte, 4)
			binary.LittleEndian.PutUint32(klenBuf, uint32(len(kb)))
			buf = append(buf, klenBuf...)
			buf = append(buf, kb...)
			enc, err := EncodeProperty(mv)
			if err != nil {
				return nil, err
			}
			sz := make([]byte, 4)
			binary.LittleEndian.PutUint32(sz, uint32(len(enc)))
			buf = append(buf, sz...)
			buf = append(buf, enc...)
		}
		return buf, nil
	default:
		return nil, errkind.New(errkind.KindTypeMismatch, "property encoding does not support "+v.Kind.String())
	}
}

func encodeTagged(tag byte, data []byte) []byte {
	buf := make([]byte, 1+4+len(data))
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(data)))
	copy(buf[5:], data)
	return buf
}

// DecodeProperty is the inverse of EncodeProperty. An empty input is a
// decode error: empty bytes never spell a valid value.
func DecodeProperty(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return Value{}, errkind.New(errkind.KindStorageCorrupted, "empty property encoding")
	}
	tag, body := buf[0], buf[1:]
	switch tag {
	case tagNull:
		return Null, nil
	case tagBool:
		if len(body) < 1 {
			return Value{}, shortErr()
		}
		return Bool(body[0] != 0), nil
	case tagInt:
		if len(body) < 8 {
			return Value{}, shortErr()
		}
		return Int(int64(binary.LittleEndian.Uint64(body))), nil
	case tagFloat:
		if len(body) < 8 {
			return Value{}, shortErr()
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(body))), nil
	case tagString:
		s, _, err := decodeTagged(body)
		if err != nil {
			return Value{}, err
		}
		return String(string(s)), nil
	case tagDateTime:
		if len(body) < 8 {
			return Value{}, shortErr()
		}
		return DateTime(int64(binary.LittleEndian.Uint64(body))), nil
	case tagBlob:
		b, _, err := decodeTagged(body)
		if err != nil {
			return Value{}, err
		}
		return Blob(b), nil
	case tagList:
		if len(body) < 4 {
			return Value{}, shortErr()
		}
		count := binary.LittleEndian.Uint32(body)
		off := 4
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(body) < off+4 {
				return Value{}, shortErr()
			}
			sz := int(binary.LittleEndian.Uint32(body[off:]))
			off += 4
			if len(body) < off+sz {
				return Value{}, shortErr()
			}
			item, err := DecodeProperty(body[off : off+sz])
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
			off += sz
		}
		return List(items), nil
	case tagMap:
		if len(body) < 4 {
			return Value{}, shortErr()
		}
		count := binary.LittleEndian.Uint32(body)
		off := 4
		m := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			if len(body) < off+4 {
				return Value{}, shortErr()
			}
			klen := int(binary.LittleEndian.Uint32(body[off:]))
			off += 4
			if len(body) < off+klen {
				return Value{}, shortErr()
			}
			k := string(body[off : off+klen])
			off += klen
			if len(body) < off+4 {
				return Value{}, shortErr()
			}
			sz := int(binary.LittleEndian.Uint32(body[off:]))
			off += 4
			if len(body) < off+sz {
				return Value{}, shortErr()
			}
			mv, err := DecodeProperty(body[off : off+sz])
			if err != nil {
				return Value{}, err
			}
			m[k] = mv
			off += sz
		}
		return Map(m), nil
	default:
		return Value{}, errkind.New(errkind.KindStorageCorrupted, "unknown property type tag")
	}
}

func decodeTagged(body []byte) ([]byte, int, error) {
	if len(body) < 4 {
		return nil, 0, shortErr()
	}
	n := int(binary.LittleEndian.Uint32(body))
	if len(body) < 4+n {
		return nil, 0, shortErr()
	}
	return append([]byte(nil), body[4:4+n]...), 4 + n, nil
}

func shortErr() error {
	return errkind.New(errkind.KindStorageCorrupted, "truncated property encoding")
}
