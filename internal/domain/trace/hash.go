package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

var canonicalMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor encoder: %v", err))
	}
	return em
}

// HashPayload returns a stable SHA-256 hex digest for an arbitrary payload.
//
// The payload is first reduced to records (string-keyed maps), lists and
// scalars: map keys are stringified, every numeric leaf becomes a float64,
// pointers are dereferenced, structs become records of their exported fields.
// The canonical form is then encoded with CBOR core deterministic encoding,
// which fixes key order, so two payloads that differ only in key order or
// numeric representation (3 vs 3.0) hash identically.
func HashPayload(payload any) (string, error) {
	encoded, err := canonicalMode.Marshal(Canonicalize(payload))
	if err != nil {
		return "", fmt.Errorf("trace: encode payload: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// MustHashPayload is HashPayload for payloads built from plain values, which
// cannot fail to encode.
func MustHashPayload(payload any) string {
	h, err := HashPayload(payload)
	if err != nil {
		panic(err)
	}
	return h
}

// Canonicalize reduces v to map[string]any, []any, float64, string, bool or nil.
func Canonicalize(v any) any {
	if v == nil {
		return nil
	}
	return canonicalValue(reflect.ValueOf(v))
}

func canonicalValue(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return canonicalValue(rv.Elem())
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = canonicalValue(rv.Index(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = canonicalValue(iter.Value())
		}
		return out
	case reflect.Struct:
		t := rv.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			out[f.Name] = canonicalValue(rv.Field(i))
		}
		return out
	default:
		return fmt.Sprintf("%v", rv.Interface())
	}
}

// SortedKeys returns the keys of a flattened record in lexical order.
func SortedKeys(f Flat) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
