package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Params is an ordered mapping of request parameter names to values. It
// marshals to a JSON object whose keys appear in insertion order. The zero
// value is an empty mapping ready to use.
type Params struct {
	keys   []string
	values map[string]any
}

// NewParams returns an empty parameter mapping.
func NewParams() *Params {
	return &Params{values: make(map[string]any)}
}

// Set stores value under key. Overwriting a key keeps its original position.
func (p *Params) Set(key string, value any) *Params {
	if p.values == nil {
		p.values = make(map[string]any)
	}

	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}

	p.values[key] = value

	return p
}

// Get returns the value stored under key.
func (p *Params) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}

	value, ok := p.values[key]

	return value, ok
}

// Keys returns the parameter names in insertion order.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}

	return append([]string(nil), p.keys...)
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}

	return len(p.keys)
}

// MarshalJSON implements json.Marshaler.
func (p *Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	if p != nil {
		for i, key := range p.keys {
			if i > 0 {
				buf.WriteByte(',')
			}

			encodedKey, err := json.Marshal(key)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal parameter name %q: %w", key, err)
			}

			encodedValue, err := json.Marshal(p.values[key])
			if err != nil {
				return nil, fmt.Errorf("failed to marshal parameter %q: %w", key, err)
			}

			buf.Write(encodedKey)
			buf.WriteByte(':')
			buf.Write(encodedValue)
		}
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
