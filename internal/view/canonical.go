package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Document is a merged view body under assembly: nested objects keyed by
// the model's field names, with opaque stored values at the leaves.
type Document map[string]any

// MarshalCanonical serializes a document deterministically: object keys
// sorted, strings NFC normalized, no HTML escaping. Equal documents always
// yield identical bytes, which the size ceiling and the golden-file tests
// rely on.
//
// Leaf values arrive as json.RawMessage straight from storage and are
// emitted verbatim after a syntax check; the encoder never re-interprets
// them.
func MarshalCanonical(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, map[string]any(doc)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case json.RawMessage:
		if !json.Valid(val) {
			return fmt.Errorf("leaf value is not valid JSON: %.40q", string(val))
		}
		compact := bytes.NewBuffer(make([]byte, 0, len(val)))
		if err := json.Compact(compact, val); err != nil {
			return fmt.Errorf("compact leaf value: %w", err)
		}
		buf.Write(compact.Bytes())
		return nil
	case Document:
		return encodeObject(buf, val)
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case string:
		return encodeString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case int:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case int64:
		fmt.Fprintf(buf, "%d", val)
		return nil
	default:
		return fmt.Errorf("unsupported document value type %T", v)
	}
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// encodeString writes an NFC-normalized JSON string without HTML escaping.
func encodeString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	out := tmp.Bytes()
	// json.Encoder appends a trailing newline.
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	buf.Write(out)
	return nil
}
