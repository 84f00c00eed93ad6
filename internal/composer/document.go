package composer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Document is a JSON object whose keys keep their insertion order through a
// parse/serialize round trip. Composer clients depend on the generated key
// order (providers-url before providers, first-provider-wins lookups), so a
// plain map will not do. Values are *Document, []any, string, json.Number,
// bool or nil.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// Set stores v under key, appending the key if it is new.
func (d *Document) Set(key string, v any) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value for key and whether the key is present.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Delete removes key if present.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order. The returned slice is shared;
// callers must not modify it.
func (d *Document) Keys() []string {
	return d.keys
}

// Len returns the number of keys.
func (d *Document) Len() int {
	return len(d.keys)
}

// Object returns the child object stored under key. An absent key returns
// (nil, nil) so callers can tolerate missing structure; a present value of
// any other shape is a TypeError.
func (d *Document) Object(key string) (*Document, error) {
	v, ok := d.values[key]
	if !ok {
		return nil, nil
	}
	obj, ok := v.(*Document)
	if !ok {
		return nil, &TypeError{Key: key, Want: "object", Got: v}
	}
	return obj, nil
}

// String returns the string stored under key. Absent or null values return
// ("", false, nil); any other non-string shape is a TypeError.
func (d *Document) String(key string) (string, bool, error) {
	v, ok := d.values[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, &TypeError{Key: key, Want: "string", Got: v}
	}
	return s, true, nil
}

// ParseDocument decodes a JSON payload whose root must be an object.
func ParseDocument(payload []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &ParseError{Err: fmt.Errorf("root is %v, not an object", tok)}
	}

	doc, err := parseObject(dec)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Err: fmt.Errorf("trailing data after document")}
	}
	return doc, nil
}

// parseObject consumes tokens up to and including the matching '}'.
func parseObject(dec *json.Decoder) (*Document, error) {
	doc := NewDocument()
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if delim, ok := tok.(json.Delim); ok && delim == '}' {
			return doc, nil
		}
		key := tok.(string)
		v, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		doc.Set(key, v)
	}
}

func parseArray(dec *json.Decoder) ([]any, error) {
	arr := []any{}
	for {
		if !dec.More() {
			// Consume the closing ']'.
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		v, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
}

func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); ok {
		switch delim {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", delim)
		}
	}
	return tok, nil
}

// MarshalJSON serializes the document with keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Serialize renders the document as a JSON payload. It never fails for
// documents built from ParseDocument or by the builders in this package.
func (d *Document) Serialize() ([]byte, error) {
	return json.Marshal(d)
}
