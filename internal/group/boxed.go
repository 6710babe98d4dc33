package group

import (
	"bytes"
	"encoding/json"
)

// Boxed carries a member's answer across a wire transport that cannot
// deliver a decoded Go value. The raw JSON travels unchanged; the reduction
// layer unwraps the box before handing the value to the caller, so callers
// never see the carrier itself.
type Boxed struct {
	Raw json.RawMessage `json:"raw"`
}

// Box wraps already-encoded JSON. A nil or empty payload boxes JSON null.
func Box(raw json.RawMessage) *Boxed {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return &Boxed{Raw: raw}
}

// BoxValue encodes value and wraps it.
func BoxValue(value any) (*Boxed, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &Boxed{Raw: raw}, nil
}

// IsNull reports whether the box carries JSON null (or nothing at all).
// A null box is treated as "no value" by the reduction layer.
func (b *Boxed) IsNull() bool {
	if b == nil || len(b.Raw) == 0 {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(b.Raw), []byte("null"))
}

// Unwrap decodes the boxed payload into a plain Go value (map/slice/string/
// float64/bool/nil following encoding/json defaults).
func (b *Boxed) Unwrap() (any, error) {
	if b.IsNull() {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b.Raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
