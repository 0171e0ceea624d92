// Command workflows is the workflow-level control surface of spec §6:
// `workflows {start|stop|list} [--workflow-id ID] [--workflow-config PATH]
// [--rootdir DIR] [--verbose] [--processor-binary PATH]`. There is no
// --config flag: this tool does not read the global config.
//
// Overall shape (load config -> load pool/workflow -> iterate steps
// continuing past per-step failures -> signal handling -> graceful
// shutdown) is grounded on cellorg/cmd/orchestrator/main.go; the
// subcommand/flag surface mirrors original_source/bin/workflows.py.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/orchestrator"
	"github.com/aaronkaplan/yellowsub/internal/workflow"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: workflows {start|stop|list} [options]")
		return 255
	}
	sub := args[0]
	fs := flag.NewFlagSet("workflows "+sub, flag.ContinueOnError)
	workflowID := fs.String("workflow-id", "", "start/stop a specific workflow id; default all")
	rootDir := fs.String("rootdir", "", "override YELLOWSUB_ROOT_DIR")
	workflowConfig := fs.String("workflow-config", "", "override workflow.yml path")
	verbose := fs.Bool("verbose", false, "verbose progress output")
	binaryPath := fs.String("processor-binary", "processor", "path to the processor worker binary")
	if err := fs.Parse(args[1:]); err != nil {
		return 255
	}

	paths := config.ResolvePaths(*rootDir)
	wfFile := paths.WorkflowFile
	if *workflowConfig != "" {
		wfFile = *workflowConfig
	}

	records, err := workflow.Load(wfFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load workflow config file %s: %v\n", wfFile, err)
		return 255
	}

	sup, err := orchestrator.New(filepath.Join(paths.RootDir, "run"), *binaryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 255
	}

	switch sub {
	case "start":
		if *verbose {
			fmt.Printf("starting workflow-id=%q using %s\n", *workflowID, wfFile)
		}
		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			sup.StopAll(10 * time.Second)
			cancel()
		}()

		errs := sup.Start(ctx, records, *workflowID)
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
			if _, ok := e.(*orchestrator.UnknownWorkflowError); ok {
				return 254
			}
		}
		if len(errs) > 0 {
			return 1
		}
		<-ctx.Done()
		return 0

	case "stop":
		if *verbose {
			fmt.Printf("stopping workflow-id=%q\n", *workflowID)
		}
		if err := sup.Stop(*workflowID); err != nil {
			fmt.Fprintln(os.Stderr, err)
			if _, ok := err.(*orchestrator.UnknownWorkflowError); ok {
				return 254
			}
			return 1
		}
		return 0

	case "list":
		statuses, err := sup.List(records)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 255
		}
		for _, s := range statuses {
			fmt.Printf("%s\t%d running\n", s.Name, s.Alive)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		return 255
	}
}
