// Package workflow implements spec §4.G: parsing workflow.yml into a
// canonical stream of wiring records, and spec §3's workflow-definition
// invariants.
//
// Grounded on cellorg/internal/config.go's LoadCells (load+iterate shape)
// and original_source/lib/workflow.py /
// lib/processor/abstractProcessor.py.load_workflows (exact field set and
// defaulting rules: parallelism defaults to 1, missing keys are nil).
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step is one node of a workflow graph (spec §3).
type Step struct {
	Processor   string `yaml:"processor"`
	FromQ       string `yaml:"from_q"`
	ToEx        string `yaml:"to_ex"`
	ToQ         string `yaml:"to_q"`
	Parallelism int    `yaml:"parallelism"`
}

type flowDoc struct {
	Flow []Step `yaml:"flow"`
}

// Document is the raw top-level shape: workflow_name -> {flow: [...]}.
type Document map[string]flowDoc

// WiringRecord is a fully-resolved step, tagged with its owning workflow
// name, emitted by Load (spec §4.G contract).
type WiringRecord struct {
	WorkflowName string
	Step
}

// ConflictError is raised when two steps declare the same to_q bound to
// different to_ex (spec §4.G validation; spec §3 invariant).
type ConflictError struct {
	Queue  string
	ExOne  string
	ExTwo  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("workflow: queue %q bound to both %q and %q", e.Queue, e.ExOne, e.ExTwo)
}

// Load reads path and returns every wiring record across all workflows,
// applying defaults (parallelism=1) and validating queue/exchange
// consistency. The returned slice is the "lazy sequence" of spec §4.G
// materialized eagerly for Go's simpler iteration model; callers are still
// expected to iterate it once per run.
func Load(path string) ([]WiringRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: parse %s: %w", path, err)
	}

	var records []WiringRecord
	queueOwner := map[string]string{} // to_q -> to_ex
	for name, fd := range doc {
		for _, step := range fd.Flow {
			if step.Parallelism <= 0 {
				step.Parallelism = 1
			}
			if step.ToQ != "" {
				if owner, exists := queueOwner[step.ToQ]; exists && owner != step.ToEx {
					return nil, &ConflictError{Queue: step.ToQ, ExOne: owner, ExTwo: step.ToEx}
				}
				queueOwner[step.ToQ] = step.ToEx
			}
			records = append(records, WiringRecord{WorkflowName: name, Step: step})
		}
	}

	warnUnproducedFromQ(records)
	return records, nil
}

// warnUnproducedFromQ implements the "warn if a from_q is not produced by
// any earlier step (may be external)" rule of spec §4.G. It returns
// nothing — per spec.md's open question #1, an externally-fed from_q is
// legitimate and not an error.
func warnUnproducedFromQ(records []WiringRecord) {
	// Load appends each workflow's steps contiguously and in flow order.
	var produced map[string]bool
	current := ""
	for i, r := range records {
		if i == 0 || r.WorkflowName != current {
			current = r.WorkflowName
			produced = map[string]bool{}
		}
		if r.FromQ != "" && !produced[r.FromQ] {
			fmt.Fprintf(os.Stderr, "warn: workflow %s step %s: from_q %q is not produced by any earlier step (assumed external)\n",
				r.WorkflowName, r.Processor, r.FromQ)
		}
		if r.ToQ != "" {
			produced[r.ToQ] = true
		}
	}
}

// ForWorkflow filters records by workflow name; empty name returns all.
func ForWorkflow(records []WiringRecord, name string) []WiringRecord {
	if name == "" {
		return records
	}
	var out []WiringRecord
	for _, r := range records {
		if r.WorkflowName == name {
			out = append(out, r)
		}
	}
	return out
}

// ForProcessor filters records by processor name (used by cmd/processor to
// resolve its own from_q/to_ex/to_q, per
// original_source/lib/processor/abstractProcessor.py.load_workflows).
func ForProcessor(records []WiringRecord, processorName string) []WiringRecord {
	var out []WiringRecord
	for _, r := range records {
		if r.Processor == processorName {
			out = append(out, r)
		}
	}
	return out
}

// Names returns every distinct workflow name present in records, for
// `workflows list`.
func Names(records []WiringRecord) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range records {
		if !seen[r.WorkflowName] {
			seen[r.WorkflowName] = true
			names = append(names, r.WorkflowName)
		}
	}
	return names
}
