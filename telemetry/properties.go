package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Properties is an insertion-ordered string to string map. Keys are unique;
// setting an existing key replaces its value in place.
//
// The JSON encoding is a flat object whose members appear in insertion order,
// so two equal Properties always marshal to identical bytes.
type Properties struct {
	keys   []string
	values map[string]string
}

// NewProperties builds Properties from alternating key/value pairs.
// A trailing key without a value is stored with an empty value.
func NewProperties(kv ...string) Properties {
	var p Properties
	for i := 0; i < len(kv); i += 2 {
		value := ""
		if i+1 < len(kv) {
			value = kv[i+1]
		}
		p.Set(kv[i], value)
	}
	return p
}

// Set stores value under key.
func (p *Properties) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored under key.
func (p Properties) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Len returns the number of properties.
func (p Properties) Len() int { return len(p.keys) }

// Keys returns the keys in insertion order.
func (p Properties) Keys() []string { return slices.Clone(p.keys) }

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	var out Properties
	for _, k := range p.keys {
		out.Set(k, p.values[k])
	}
	return out
}

// Map returns an unordered copy of the properties.
func (p Properties) Map() map[string]string {
	out := make(map[string]string, len(p.keys))
	for _, k := range p.keys {
		out[k] = p.values[k]
	}
	return out
}

// Equal reports whether p and o hold the same pairs in the same order.
func (p Properties) Equal(o Properties) bool {
	if !slices.Equal(p.keys, o.keys) {
		return false
	}
	for _, k := range p.keys {
		if p.values[k] != o.values[k] {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Member order is preserved;
// non-string values and duplicate keys are rejected with ErrMalformedPayload.
func (p *Properties) UnmarshalJSON(data []byte) error {
	*p = Properties{}
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: properties: %v", ErrMalformedPayload, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: properties must be an object", ErrMalformedPayload)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: properties: %v", ErrMalformedPayload, err)
		}
		key, _ := tok.(string)

		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("%w: property %q: %v", ErrMalformedPayload, key, err)
		}
		value, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: property %q is not a string", ErrMalformedPayload, key)
		}
		if _, dup := p.values[key]; dup {
			return fmt.Errorf("%w: duplicate property %q", ErrMalformedPayload, key)
		}
		p.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: properties: %v", ErrMalformedPayload, err)
	}
	return nil
}
