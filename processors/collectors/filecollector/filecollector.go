// Package filecollector implements the reference collector of
// spec.md's seed end-to-end scenario 1: it watches a directory, and for
// every unprocessed file emits one envelope with payload.raw = base64(file
// contents), then moves the source file to a "processed" subdirectory
// (or deletes it, if configured to).
//
// Grounded directly on
// original_source/processors/collectors/fileCollector/filecollector.py,
// including its Maildir-style <name> -> <name>.processing -> processed/<name>
// rename dance.
package filecollector

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/envelope"
	"github.com/aaronkaplan/yellowsub/internal/processor"
	"github.com/aaronkaplan/yellowsub/internal/registry"
)

const (
	processedFolder = "processed"
	processingExt   = ".processing"
)

type Runner struct {
	path        string
	deleteFiles bool
	pollEvery   time.Duration
}

func init() {
	registry.Register("filecollector", processor.GroupCollector, New)
}

// New satisfies registry.Constructor. Config is read from
// processors[FileCollector]: {path, delete_files}, mirroring the original's
// config["processors"][self.__class__.__name__] lookup.
func New(cfg config.Map) (processor.Runner, error) {
	own := config.Sub(config.Sub(cfg, "processors"), "FileCollector")
	path := config.GetString(own, "path", "")
	if path == "" {
		return nil, fmt.Errorf("filecollector: config missing processors.FileCollector.path")
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("filecollector: path %q does not exist or is not a folder", path)
	}
	deleteFiles := config.GetBool(own, "delete_files", false)
	if !deleteFiles {
		if err := os.MkdirAll(filepath.Join(path, processedFolder), 0755); err != nil {
			return nil, fmt.Errorf("filecollector: create processed folder: %w", err)
		}
	}
	pollMs := config.GetInt(own, "poll_interval_ms", 1000)
	return &Runner{path: path, deleteFiles: deleteFiles, pollEvery: time.Duration(pollMs) * time.Millisecond}, nil
}

func (r *Runner) Validate([]byte) bool { return true }

// OnMessage is unused for a collector; all work happens in ProduceForever.
func (r *Runner) OnMessage(context.Context, *envelope.Envelope) (*envelope.Envelope, error) {
	return nil, fmt.Errorf("filecollector: on_message should not be invoked on a collector")
}

// ProduceForever implements processor.CollectorRunner: spec §4.E point 3.
func (r *Runner) ProduceForever(ctx context.Context, publish func(*envelope.Envelope) error) error {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.scanOnce(publish); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) scanOnce(publish func(*envelope.Envelope) error) error {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return fmt.Errorf("filecollector: list %s: %w", r.path, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == processingExt {
			continue
		}
		if err := r.collectOne(name, publish); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) collectOne(name string, publish func(*envelope.Envelope) error) error {
	full := filepath.Join(r.path, name)
	processing := full + processingExt
	if err := os.Rename(full, processing); err != nil {
		return fmt.Errorf("filecollector: rename %s: %w", full, err)
	}

	data, err := os.ReadFile(processing)
	if err != nil {
		return fmt.Errorf("filecollector: read %s: %w", processing, err)
	}

	payload := map[string]string{"raw": base64.StdEncoding.EncodeToString(data)}
	env, err := envelope.New("raw", 1, "raw", payload)
	if err != nil {
		return err
	}

	if r.deleteFiles {
		if err := os.Remove(processing); err != nil {
			return fmt.Errorf("filecollector: delete %s: %w", processing, err)
		}
	} else {
		dest := filepath.Join(r.path, processedFolder, name)
		if err := os.Rename(processing, dest); err != nil {
			return fmt.Errorf("filecollector: move to processed: %w", err)
		}
	}

	return publish(env)
}
