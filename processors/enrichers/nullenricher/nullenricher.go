// Package nullenricher is a pass-through reference enricher used by the
// seed end-to-end test (spec.md §8 scenario 1): it forwards the envelope
// unchanged, exercising the registry/lifecycle plumbing without adding any
// domain logic.
//
// Grounded on original_source/processors/enrichers/null/nullEnricher.py.
package nullenricher

import (
	"context"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/envelope"
	"github.com/aaronkaplan/yellowsub/internal/processor"
	"github.com/aaronkaplan/yellowsub/internal/registry"
)

type Runner struct{}

func init() {
	registry.Register("nullenricher", processor.GroupEnricher, New)
}

func New(config.Map) (processor.Runner, error) {
	return &Runner{}, nil
}

func (r *Runner) Validate([]byte) bool { return true }

func (r *Runner) OnMessage(_ context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	return env.Clone(), nil
}
