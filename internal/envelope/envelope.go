// Package envelope implements spec §3/§4.D: the canonical message envelope
// and its structural validator.
//
// The struct shape and the Parse/Serialize/Validate/Clone methods are
// grounded on cellorg/internal/envelope/envelope.go, with field names
// remapped to the vocabulary spec.md actually uses (format/version/type/
// meta.uuid/meta.relations/payload) instead of the teacher's own
// Source/Destination/MessageType fields.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Relation is a typed edge from this envelope's meta.uuid to another uuid.
type Relation struct {
	Type string `json:"type"`
	UUID string `json:"uuid"`
}

// Meta carries envelope identity and relations, per spec §3.
type Meta struct {
	UUID      string     `json:"uuid"`
	Relations []Relation `json:"relations,omitempty"`
}

// Envelope is the canonical unit that flows across the processing graph.
type Envelope struct {
	Format  string          `json:"format"`
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Meta    Meta            `json:"meta"`
	Payload json.RawMessage `json:"payload"`
}

// New builds an envelope with a freshly generated meta.uuid.
func New(format string, version int, typ string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return &Envelope{
		Format:  format,
		Version: version,
		Type:    typ,
		Meta:    Meta{UUID: uuid.NewString()},
		Payload: raw,
	}, nil
}

// ValidationError reports a structural defect found by Validate.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("envelope: field %q: %s", e.Field, e.Message)
}

// Validate performs the structural check required before on_message runs
// when a processor's validate_msg config flag is set (spec §4.D).
func (e *Envelope) Validate() error {
	if e.Meta.UUID == "" {
		return &ValidationError{Field: "meta.uuid", Message: "must be present"}
	}
	if _, err := uuid.Parse(e.Meta.UUID); err != nil {
		return &ValidationError{Field: "meta.uuid", Message: "not a valid uuid"}
	}
	if e.Format == "" {
		return &ValidationError{Field: "format", Message: "must be set"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Message: "must be set"}
	}
	if e.Version == 0 {
		return &ValidationError{Field: "version", Message: "must be set"}
	}
	if len(e.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "must be present"}
	}
	for i, rel := range e.Meta.Relations {
		if rel.UUID == "" {
			return &ValidationError{Field: fmt.Sprintf("meta.relations[%d].uuid", i), Message: "must be present"}
		}
		if rel.Type == "" {
			return &ValidationError{Field: fmt.Sprintf("meta.relations[%d].type", i), Message: "must be present"}
		}
	}
	return nil
}

// ValidateSemantic is a reserved hook for domain rules; default true,
// per spec §4.D.
func (e *Envelope) ValidateSemantic() bool { return true }

// Parse decodes wire bytes into an Envelope. Decode errors are the
// DecodeError case of spec §7: poison-pill, reject without requeue.
func Parse(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return &e, nil
}

// Serialize produces the canonical UTF-8 JSON wire representation.
func (e *Envelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Clone returns a deep copy, so callers may mutate one instance (e.g. to
// add a relation before re-publishing) without aliasing the original.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	cp.Meta.Relations = append([]Relation(nil), e.Meta.Relations...)
	cp.Payload = append(json.RawMessage(nil), e.Payload...)
	return &cp
}

// UnmarshalPayload decodes the envelope's payload into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// AddRelation appends a typed edge to another uuid.
func (e *Envelope) AddRelation(relType, toUUID string) {
	e.Meta.Relations = append(e.Meta.Relations, Relation{Type: relType, UUID: toUUID})
}
