// Package orchestrator implements spec §4.H: the supervisor that
// translates a workflow definition into running processor worker processes,
// tracks them via PID files, and terminates them cleanly.
//
// Overall structure (load -> iterate steps continuing past per-step
// failures -> signal handling -> graceful shutdown with a WaitGroup and
// timeout) is grounded on cellorg/cmd/orchestrator/main.go. That file calls
// into an internal/deployer package not present in the retrieved example
// pack; the spawn/track/terminate logic below is therefore designed
// directly from main.go's call shape (DeployAgent, StopAll) plus spec
// §4.H/§3's own PID-file contract, which is fully specified on its own.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aaronkaplan/yellowsub/internal/workflow"
)

// OrchestratorSpawnError is recoverable per step: other steps proceed, but
// the overall exit code is non-zero (spec §7).
type OrchestratorSpawnError struct {
	Processor string
	Err       error
}

func (e *OrchestratorSpawnError) Error() string {
	return fmt.Sprintf("orchestrator: spawn %s: %v", e.Processor, e.Err)
}

// OrchestratorReapError is logged; the PID file is force-removed (spec §7).
type OrchestratorReapError struct {
	Path string
	Err  error
}

func (e *OrchestratorReapError) Error() string {
	return fmt.Sprintf("orchestrator: reap %s: %v", e.Path, e.Err)
}

// Supervisor owns the PID-file directory and the set of spawned children.
type Supervisor struct {
	pidDir     string
	binaryPath string // path to the `processor` binary, "module run" equivalent

	mu       sync.Mutex
	children map[string]*child // pid-file name -> child
	wg       sync.WaitGroup
}

type child struct {
	cmd     *exec.Cmd
	pidFile string
}

// New creates a Supervisor rooted at pidDir (created if absent).
func New(pidDir, binaryPath string) (*Supervisor, error) {
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return nil, fmt.Errorf("orchestrator: create pid dir: %w", err)
	}
	return &Supervisor{pidDir: pidDir, binaryPath: binaryPath, children: map[string]*child{}}, nil
}

func pidFileName(workflowName, processorName string, pid int) string {
	return fmt.Sprintf("%s.%s.%d.pid", workflowName, processorName, pid)
}

// Start spawns parallelism child processes per matching wiring record
// (spec §4.H.start): for each, a child process running
// `<binary> --name=<processor> --workflow-id=<workflow>` is spawned and a
// PID file is written. Per-step spawn failures are recorded as
// OrchestratorSpawnError and do not stop the remaining steps.
func (s *Supervisor) Start(ctx context.Context, records []workflow.WiringRecord, workflowID string) []error {
	matching := workflow.ForWorkflow(records, workflowID)
	if workflowID != "" && len(matching) == 0 {
		return []error{&UnknownWorkflowError{ID: workflowID}}
	}

	var errs []error
	for _, step := range matching {
		for i := 0; i < step.Parallelism; i++ {
			if err := s.spawnOne(ctx, step); err != nil {
				errs = append(errs, &OrchestratorSpawnError{Processor: step.Processor, Err: err})
			}
		}
	}
	return errs
}

// UnknownWorkflowError maps to exit code 254 per spec §4.H/§6.
type UnknownWorkflowError struct{ ID string }

func (e *UnknownWorkflowError) Error() string {
	return fmt.Sprintf("orchestrator: unknown workflow %q", e.ID)
}

func (s *Supervisor) spawnOne(ctx context.Context, step workflow.WiringRecord) error {
	args := []string{
		"--name=" + step.Processor,
		"--workflow-id=" + step.WorkflowName,
		"--from-q=" + step.FromQ,
		"--to-ex=" + step.ToEx,
		"--to-q=" + step.ToQ,
	}
	cmd := exec.CommandContext(ctx, s.binaryPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	pidFile := filepath.Join(s.pidDir, pidFileName(step.WorkflowName, step.Processor, pid))
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		cmd.Process.Kill()
		return fmt.Errorf("write pid file: %w", err)
	}

	c := &child{cmd: cmd, pidFile: pidFile}
	s.mu.Lock()
	s.children[pidFile] = c
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cmd.Wait()
		s.reap(pidFile)
	}()

	return nil
}

func (s *Supervisor) reap(pidFile string) {
	s.mu.Lock()
	delete(s.children, pidFile)
	s.mu.Unlock()
	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, (&OrchestratorReapError{Path: pidFile, Err: err}).Error())
	}
}

// Stop enumerates PID files matching workflowID (or all, if empty), sends
// SIGTERM to the pid recorded in each, and removes the file whether or not
// the signal could be delivered. Returns exit code semantics via the returned error:
// *UnknownWorkflowError maps to 254 (spec §4.H/§6).
func (s *Supervisor) Stop(workflowID string) error {
	entries, err := os.ReadDir(s.pidDir)
	if err != nil {
		return fmt.Errorf("orchestrator: list pid dir: %w", err)
	}

	matched := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".pid") {
			continue
		}
		if workflowID != "" && !strings.HasPrefix(name, workflowID+".") {
			continue
		}
		matched++
		path := filepath.Join(s.pidDir, name)
		pid, perr := readPid(path)
		if perr == nil {
			// SIGTERM only (best-effort graceful stop()). Stop neither
			// waits for the process to exit nor follows up with SIGKILL;
			// the grace-period SIGKILL exists only in StopAll, for
			// children of this same process.
			syscall.Kill(pid, syscall.SIGTERM)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, (&OrchestratorReapError{Path: path, Err: err}).Error())
		}
	}

	if workflowID != "" && matched == 0 {
		return &UnknownWorkflowError{ID: workflowID}
	}
	return nil
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// List enumerates distinct workflows known to records, reporting which
// have at least one live PID file (spec §4.H.list).
type WorkflowStatus struct {
	Name  string
	Alive int
}

func (s *Supervisor) List(records []workflow.WiringRecord) ([]WorkflowStatus, error) {
	entries, err := os.ReadDir(s.pidDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list pid dir: %w", err)
	}
	alive := map[string]int{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".pid") {
			continue
		}
		parts := strings.SplitN(name, ".", 2)
		if len(parts) > 0 {
			alive[parts[0]]++
		}
	}

	var out []WorkflowStatus
	for _, name := range workflow.Names(records) {
		out = append(out, WorkflowStatus{Name: name, Alive: alive[name]})
	}
	return out, nil
}

// StopAll signals every tracked in-process child (used by this same
// orchestrator process's own children, as opposed to Stop which operates
// on arbitrary PID files potentially from a prior invocation) and waits up
// to the grace period before giving up.
func (s *Supervisor) StopAll(grace time.Duration) {
	s.mu.Lock()
	var children []*child
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	for _, c := range children {
		syscall.Kill(-c.cmd.Process.Pid, syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.mu.Lock()
		for _, c := range s.children {
			syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL)
		}
		s.mu.Unlock()
	}
}
