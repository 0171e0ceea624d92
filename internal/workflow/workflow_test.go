package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBasic(t *testing.T) {
	path := writeWorkflow(t, `
hashlist_demo:
  flow:
    - processor: filecollector
      to_ex: ex1
    - processor: hashparser
      from_q: q1
      to_ex: ex2
      to_q: q1
    - processor: nullenricher
      from_q: q2
      to_ex: ex3
      to_q: q2
    - processor: fileoutput
      from_q: q3
`)

	records, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Parallelism != 1 {
			t.Errorf("expected default parallelism 1, got %d for %s", r.Parallelism, r.Processor)
		}
		if r.WorkflowName != "hashlist_demo" {
			t.Errorf("expected workflow name to be tagged on every record, got %q", r.WorkflowName)
		}
	}
}

func TestLoadConflictingQueueBinding(t *testing.T) {
	path := writeWorkflow(t, `
wf:
  flow:
    - processor: a
      to_ex: ex1
      to_q: shared
    - processor: b
      to_ex: ex2
      to_q: shared
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected ConflictError for queue bound to two different exchanges")
	}
	if _, ok := err.(*ConflictError); !ok {
		t.Errorf("expected *ConflictError, got %T: %v", err, err)
	}
}

func TestForWorkflowAndForProcessor(t *testing.T) {
	path := writeWorkflow(t, `
wf1:
  flow:
    - processor: a
      to_ex: ex1
wf2:
  flow:
    - processor: a
      to_ex: ex2
    - processor: b
      from_q: q
`)
	records, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wf1 := ForWorkflow(records, "wf1")
	if len(wf1) != 1 {
		t.Errorf("expected 1 record for wf1, got %d", len(wf1))
	}

	aRecords := ForProcessor(records, "a")
	if len(aRecords) != 2 {
		t.Errorf("expected processor 'a' to appear in both workflows, got %d", len(aRecords))
	}

	names := Names(records)
	if len(names) != 2 {
		t.Errorf("expected 2 distinct workflow names, got %v", names)
	}
}

func TestLoadParallelismExplicit(t *testing.T) {
	path := writeWorkflow(t, `
wf:
  flow:
    - processor: a
      to_ex: ex1
      parallelism: 3
`)
	records, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[0].Parallelism != 3 {
		t.Errorf("expected explicit parallelism to be honored, got %d", records[0].Parallelism)
	}
}
