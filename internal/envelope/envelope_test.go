package envelope

import "testing"

func TestNewAndValidate(t *testing.T) {
	env, err := New("raw", 1, "raw", map[string]string{"raw": "aGVsbG8="})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("expected valid envelope, got: %v", err)
	}
	if env.Meta.UUID == "" {
		t.Fatal("expected meta.uuid to be generated")
	}
}

func TestValidateMissingUUID(t *testing.T) {
	env := &Envelope{Format: "raw", Version: 1, Type: "raw", Payload: []byte(`{"raw":"x"}`)}
	err := env.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing meta.uuid")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Field != "meta.uuid" {
		t.Errorf("expected ValidationError on meta.uuid, got %v", err)
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	env, err := New("raw", 1, "event", map[string]int{"n": 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, err := env.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	parsed, err := Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Meta.UUID != env.Meta.UUID || parsed.Format != env.Format || parsed.Type != env.Type {
		t.Errorf("round-trip mismatch: got %+v, want %+v", parsed, env)
	}
}

func TestParseDecodeError(t *testing.T) {
	_, err := Parse([]byte("not json"))
	if err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	env, _ := New("raw", 1, "raw", map[string]string{"raw": "x"})
	env.AddRelation("parent", "abc")

	clone := env.Clone()
	clone.AddRelation("sibling", "def")

	if len(env.Meta.Relations) != 1 {
		t.Errorf("expected original to be unaffected by mutating the clone, got %d relations", len(env.Meta.Relations))
	}
	if len(clone.Meta.Relations) != 2 {
		t.Errorf("expected clone to have both relations, got %d", len(clone.Meta.Relations))
	}
}

func TestValidateRelationFields(t *testing.T) {
	env, _ := New("raw", 1, "raw", map[string]string{"raw": "x"})
	env.Meta.Relations = []Relation{{Type: "", UUID: "abc"}}
	if err := env.Validate(); err == nil {
		t.Fatal("expected validation error for relation missing type")
	}
}
