// Package hashparser implements the reference parser of spec.md's seed
// end-to-end scenario 1: it decodes payload.raw (base64), classifies each
// line as an MD5 or SHA1 hash, and emits one typed object per hash.
//
// Grounded on
// original_source/processors/parsers/flatlisttostixbundleparser.py, with
// the STIX-bundle construction deliberately dropped — spec.md §1 places
// "the on-disk structured-data payload formats themselves (STIX bundles,
// etc.)" explicitly out of scope.
package hashparser

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/envelope"
	"github.com/aaronkaplan/yellowsub/internal/processor"
	"github.com/aaronkaplan/yellowsub/internal/registry"
)

var (
	md5Regex  = regexp.MustCompile(`^[a-f0-9]{32}$`)
	sha1Regex = regexp.MustCompile(`^[a-f0-9]{40}$`)
)

// Hash is one classified indicator emitted into the output payload.
type Hash struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Runner struct{}

func init() {
	registry.Register("hashparser", processor.GroupParser, New)
}

func New(config.Map) (processor.Runner, error) {
	return &Runner{}, nil
}

func (r *Runner) Validate([]byte) bool { return true }

func (r *Runner) OnMessage(_ context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	var raw struct {
		Raw string `json:"raw"`
	}
	if err := env.UnmarshalPayload(&raw); err != nil || raw.Raw == "" {
		return nil, fmt.Errorf("hashparser: payload.raw missing: %v", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(raw.Raw)
	if err != nil {
		return nil, fmt.Errorf("hashparser: base64 decode: %w", err)
	}

	var hashes []Hash
	for _, line := range strings.Split(strings.TrimSpace(string(decoded)), "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		switch {
		case md5Regex.MatchString(line):
			hashes = append(hashes, Hash{Type: "md5", Value: line})
		case sha1Regex.MatchString(line):
			hashes = append(hashes, Hash{Type: "sha1", Value: line})
		default:
			continue // unrecognized family: skip, matching the original's behavior
		}
	}

	out, err := envelope.New("parsed", 1, "event", map[string]interface{}{"hashes": hashes})
	if err != nil {
		return nil, err
	}
	out.AddRelation("parsed-from", env.Meta.UUID)
	return out, nil
}
