// Command processors is the processor-level control surface of spec §6:
// `processors {start|stop|list} [--processor-name N] [--rootdir DIR]
// [--verbose] [--processor-binary PATH]`. There is no --config flag: this
// tool does not read the global config. Where `workflows` operates on whole
// workflows, this tool targets a single named processor across whichever
// workflow(s) reference it — grounded on original_source/bin/processors.py.
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
	"github.com/aaronkaplan/yellowsub/internal/registry"
	"github.com/aaronkaplan/yellowsub/internal/workflow"

	_ "github.com/aaronkaplan/yellowsub/processors/collectors/filecollector"
	_ "github.com/aaronkaplan/yellowsub/processors/enrichers/nullenricher"
	_ "github.com/aaronkaplan/yellowsub/processors/outputs/fileoutput"
	_ "github.com/aaronkaplan/yellowsub/processors/parsers/hashparser"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: processors {start|stop|list} [options]")
		return 255
	}
	sub := args[0]
	fs := flag.NewFlagSet("processors "+sub, flag.ContinueOnError)
	processorName := fs.String("processor-name", "", "target a single processor by name; default all registered")
	rootDir := fs.String("rootdir", "", "override YELLOWSUB_ROOT_DIR")
	verbose := fs.Bool("verbose", false, "verbose progress output")
	binaryPath := fs.String("processor-binary", "processor", "path to the processor worker binary")
	if err := fs.Parse(args[1:]); err != nil {
		return 255
	}

	paths := config.ResolvePaths(*rootDir)
	records, err := workflow.Load(paths.WorkflowFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load workflow config file %s: %v\n", paths.WorkflowFile, err)
		return 255
	}
	if *processorName != "" {
		records = workflow.ForProcessor(records, *processorName)
		if len(records) == 0 {
			fmt.Fprintf(os.Stderr, "no wiring found for processor %s\n", *processorName)
			return 254
		}
	}

	sup, err := orchestrator.New(filepath.Join(paths.RootDir, "run"), *binaryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 255
	}

	switch sub {
	case "start":
		if *verbose {
			fmt.Printf("starting processor-name=%q\n", *processorName)
		}
		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			sup.StopAll(10 * time.Second)
			cancel()
		}()

		errs := sup.Start(ctx, records, "")
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		if len(errs) > 0 {
			return 1
		}
		<-ctx.Done()
		return 0

	case "stop":
		if *processorName == "" {
			if err := sup.Stop(""); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			return 0
		}
		// PID files are named <workflow>.<processor>.<pid>.pid, so a
		// "<workflow>.<processor>" prefix selects only this processor's files.
		for _, r := range records {
			if err := sup.Stop(r.WorkflowName + "." + r.Processor); err != nil {
				if _, ok := err.(*orchestrator.UnknownWorkflowError); !ok {
					fmt.Fprintln(os.Stderr, err)
					return 1
				}
			}
		}
		return 0

	case "list":
		for _, name := range registry.Names() {
			fmt.Println(name)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		return 255
	}
}
