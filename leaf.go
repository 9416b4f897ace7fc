package tdb

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// classNameField marks a stored map as a reference to another record.
const classNameField = "class_name"

type ValueKind int

const (
	Missing ValueKind = iota
	Scalar
	ForeignRef
)

// StoredValue is one attribute of a StoredLeaf: a plain scalar in its stored
// (encoded) form, a reference to another record by schema name and primary
// key, or nothing.
type StoredValue struct {
	Kind      ValueKind
	Scalar    any
	ClassName string
	Key       KeyMap
}

func ScalarValue(v any) StoredValue {
	if v == nil {
		return StoredValue{}
	}
	return StoredValue{Kind: Scalar, Scalar: v}
}

func RefValue(className string, key KeyMap) StoredValue {
	return StoredValue{Kind: ForeignRef, ClassName: className, Key: key}
}

// StoredLeaf is the flat attribute-name to stored-value mapping persisted at
// a key store leaf for one record.
type StoredLeaf map[string]StoredValue

func (leaf StoredLeaf) encode() []byte {
	m := make(map[string]any, len(leaf))
	for name, sv := range leaf {
		switch sv.Kind {
		case Scalar:
			m[name] = sv.Scalar
		case ForeignRef:
			ref := make(map[string]any, len(sv.Key)+1)
			for k, v := range sv.Key {
				ref[k] = v
			}
			ref[classNameField] = sv.ClassName
			m[name] = ref
		}
	}

	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(m)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode leaf using MsgPack: %w", err))
	}
	return buf.Bytes()
}

func decodeLeaf(data []byte) (StoredLeaf, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	dec.UseLooseInterfaceDecoding(true)
	raw, err := dec.DecodeMap()
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(data, 0, err, "failed to decode msgpack leaf")
	}

	leaf := make(StoredLeaf, len(raw))
	for name, v := range raw {
		if m, ok := v.(map[string]any); ok {
			if cn, ok := m[classNameField].(string); ok {
				key := make(KeyMap, len(m)-1)
				for k, kv := range m {
					if k == classNameField {
						continue
					}
					s, ok := kv.(string)
					if !ok {
						return nil, dataErrf(data, 0, nil, "reference %s has non-string key component %s = %T", name, k, kv)
					}
					key[k] = s
				}
				leaf[name] = RefValue(cn, key)
				continue
			}
		}
		leaf[name] = ScalarValue(normalizeStored(v))
	}
	return leaf, nil
}

// normalizeStored brings loosely decoded msgpack values to one representation
// per kind: int64 for integers that fit, float64 for floats.
func normalizeStored(v any) any {
	switch v := v.(type) {
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	case float32:
		return float64(v)
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeStored(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = normalizeStored(e)
		}
		return v
	default:
		return v
	}
}

// encodeKeyLeaf encodes the primary key stored in secondary index entries.
func encodeKeyLeaf(km KeyMap) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(map[string]string(km))
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode key using MsgPack: %w", err))
	}
	return buf.Bytes()
}

func decodeKeyLeaf(data []byte) (KeyMap, error) {
	var km map[string]string
	err := msgpack.Unmarshal(data, &km)
	if err != nil {
		return nil, dataErrf(data, 0, err, "failed to decode msgpack key")
	}
	return KeyMap(km), nil
}
