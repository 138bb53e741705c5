package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SourceRecord is a record exactly as returned by the registry API, either a
// search result item or a company detail payload.
type SourceRecord map[string]any

// Lookup resolves key, optionally inside the object stored under parent.
// A missing key or a parent that is not an object resolves to nil.
func (r SourceRecord) Lookup(key, parent string) any {
	if r == nil {
		return nil
	}
	if parent == "" {
		return r[key]
	}
	obj, ok := r[parent].(map[string]any)
	if !ok {
		return nil
	}
	return obj[key]
}

// DecodeJSON decodes a registry payload into v, keeping numbers as
// json.Number so large integers survive a round trip.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// MarshalCompact encodes v as compact JSON without HTML escaping.
func MarshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// RawJSON returns the compact JSON encoding of the record. Values and
// numbers are kept as received; object keys come out sorted.
func (r SourceRecord) RawJSON() (string, error) {
	s, err := MarshalCompact(map[string]any(r))
	if err != nil {
		return "", fmt.Errorf("marshal source record: %w", err)
	}
	return s, nil
}
