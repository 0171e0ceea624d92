// Package fileoutput implements the reference output sink of spec.md's
// seed end-to-end scenario 1: it writes payload as the matching file
// `<timestamp>_<uuid>.json` under its configured directory, then signals
// "drop" (returns nil) since an output-group processor's on_message
// performs the side effect itself rather than publishing downstream
// (spec §4.E point 4).
//
// Grounded on original_source/processors/outputs/fileOutput/fileoutput.py.
package fileoutput

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/envelope"
	"github.com/aaronkaplan/yellowsub/internal/processor"
	"github.com/aaronkaplan/yellowsub/internal/registry"
)

type Runner struct {
	path string
}

func init() {
	registry.Register("fileoutput", processor.GroupOutput, New)
}

func New(cfg config.Map) (processor.Runner, error) {
	params := config.Sub(cfg, "parameters")
	path := config.GetString(params, "path", "")
	if path == "" {
		return nil, fmt.Errorf("fileoutput: config missing parameters.path")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("fileoutput: create %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("fileoutput: stat %s: %w", path, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("fileoutput: %s exists and is not a folder", path)
	}
	return &Runner{path: path}, nil
}

func (r *Runner) Validate([]byte) bool { return true }

func (r *Runner) OnMessage(_ context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	filename := time.Now().Format("2006-01-02T15:04:05") + "_" + env.Meta.UUID + ".json"
	full := filepath.Join(r.path, filename)
	if err := os.WriteFile(full, env.Payload, 0644); err != nil {
		return nil, fmt.Errorf("fileoutput: write %s: %w", full, err)
	}
	return nil, nil // output group: side effect done, ack only, no publish
}
