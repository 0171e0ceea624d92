package nullenricher

import (
	"context"
	"testing"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/envelope"
)

func TestOnMessagePassesThroughUnchanged(t *testing.T) {
	r, err := New(config.Map{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, err := envelope.New("parsed", 1, "event", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := r.OnMessage(context.Background(), env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == env {
		t.Error("expected a clone, not the same pointer")
	}
	if string(out.Payload) != string(env.Payload) {
		t.Errorf("expected payload to be forwarded unchanged")
	}
	if out.Meta.UUID != env.Meta.UUID {
		t.Errorf("expected uuid to be preserved by a pass-through enricher")
	}
}
