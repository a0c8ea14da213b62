package domain

import "encoding/json"

// ChangePayload wraps a JSON rendering of attribute values captured for one
// tracked object (its changed attributes, or its full state on insert).
// Callers unmarshal the raw bytes into typed structures as needed.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload from raw JSON. The bytes are cloned so the
// caller may reuse its buffer. A nil slice yields a defined but empty payload;
// use UndefinedChangePayload for "not set".
func NewChangePayload(raw json.RawMessage) ChangePayload {
	payload := ChangePayload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewChangePayloadFromValues marshals attribute values keyed by name.
func NewChangePayloadFromValues(values map[string]any) (ChangePayload, error) {
	if len(values) == 0 {
		return NewChangePayload(nil), nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// UndefinedChangePayload returns an uninitialized payload.
func UndefinedChangePayload() ChangePayload {
	return ChangePayload{}
}

// Defined reports whether the payload has been initialized.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p ChangePayload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw returns a copy of the JSON bytes, nil when undefined or empty.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// Values decodes the payload into a generic attribute map.
func (p ChangePayload) Values() (map[string]any, error) {
	if p.IsEmpty() {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(p.raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalJSON renders undefined payloads as null.
func (p ChangePayload) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON accepts any JSON value; null leaves the payload undefined.
func (p *ChangePayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = ChangePayload{}
		return nil
	}
	*p = NewChangePayload(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
