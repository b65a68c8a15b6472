// Package canonjson implements the byte-deterministic JSON form the store
// persists to disk and hashes: object keys sorted ascending, no
// insignificant whitespace, UTF-8 without a BOM, and numbers in Go's
// shortest round-trip form. Array order is preserved verbatim since only
// object keys carry an ordering contract.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal encodes v into canonical form. v is first passed through the
// standard encoder (so struct tags, field skipping, and number formatting
// all follow normal encoding/json rules) and the resulting generic value is
// then re-emitted with object keys sorted and no extra whitespace.
func Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonjson: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		encodeString(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonjson: unsupported type %T", v)
	}
	return nil
}

// encodeString writes a JSON string literal for s without HTML escaping,
// so that paths containing '<', '>' or '&' round-trip byte-for-byte.
func encodeString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	// Encode never fails for a plain string.
	_ = enc.Encode(s)
	out := tmp.Bytes()
	// Trim the trailing newline Encoder always appends.
	buf.Write(out[:len(out)-1])
}

// Unmarshal parses canonical (or any valid) JSON into v. Canonical JSON is
// ordinary JSON, so this is a direct alias of encoding/json.Unmarshal kept
// here for symmetry with Marshal.
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
