package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aaronkaplan/yellowsub/internal/workflow"
)

func TestPidFileNameFormat(t *testing.T) {
	got := pidFileName("intel-feed", "hashparser", 4242)
	want := "intel-feed.hashparser.4242.pid"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestReadPidParsesFileContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.pid")
	if err := os.WriteFile(path, []byte("  1234\n"), 0644); err != nil {
		t.Fatal(err)
	}
	pid, err := readPid(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid != 1234 {
		t.Errorf("expected 1234, got %d", pid)
	}
}

func TestReadPidRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.pid")
	os.WriteFile(path, []byte("not-a-pid"), 0644)
	if _, err := readPid(path); err == nil {
		t.Fatal("expected error for non-numeric pid file content")
	}
}

func TestListReportsAliveCountFromPidFiles(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(dir, "/usr/bin/true")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "intel-feed.hashparser.111.pid"), []byte("111"), 0644)
	os.WriteFile(filepath.Join(dir, "intel-feed.hashparser.222.pid"), []byte("222"), 0644)
	os.WriteFile(filepath.Join(dir, "other-flow.fileoutput.333.pid"), []byte("333"), 0644)

	records := []workflow.WiringRecord{
		{WorkflowName: "intel-feed", Step: workflow.Step{Processor: "hashparser"}},
		{WorkflowName: "other-flow", Step: workflow.Step{Processor: "fileoutput"}},
		{WorkflowName: "idle-flow", Step: workflow.Step{Processor: "nullenricher"}},
	}

	statuses, err := sup.List(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byName := map[string]int{}
	for _, s := range statuses {
		byName[s.Name] = s.Alive
	}
	if byName["intel-feed"] != 2 {
		t.Errorf("expected intel-feed alive=2, got %d", byName["intel-feed"])
	}
	if byName["other-flow"] != 1 {
		t.Errorf("expected other-flow alive=1, got %d", byName["other-flow"])
	}
	if byName["idle-flow"] != 0 {
		t.Errorf("expected idle-flow alive=0, got %d", byName["idle-flow"])
	}
}

func TestStopUnknownWorkflowErrors(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(dir, "/usr/bin/true")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = sup.Stop("does-not-exist")
	if err == nil {
		t.Fatal("expected UnknownWorkflowError")
	}
	if _, ok := err.(*UnknownWorkflowError); !ok {
		t.Errorf("expected *UnknownWorkflowError, got %T", err)
	}
}
