// Command processor runs a single named processor worker: it resolves its
// own wiring (from_q/to_ex/to_q) either from flags (passed by the
// orchestrator, see internal/orchestrator.spawnOne) or, if absent, by
// reading workflow.yml directly (spec §4.H.start step 2 passes the step so
// the child "knows its from_q/to_ex/to_q"; original_source/bin/processor.py
// is the direct ancestor of this entrypoint).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aaronkaplan/yellowsub/internal/broker"
	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/dedup"
	"github.com/aaronkaplan/yellowsub/internal/processor"
	"github.com/aaronkaplan/yellowsub/internal/registry"
	"github.com/aaronkaplan/yellowsub/internal/workflow"
	"github.com/aaronkaplan/yellowsub/internal/yslog"

	_ "github.com/aaronkaplan/yellowsub/processors/collectors/filecollector"
	_ "github.com/aaronkaplan/yellowsub/processors/enrichers/nullenricher"
	_ "github.com/aaronkaplan/yellowsub/processors/outputs/fileoutput"
	_ "github.com/aaronkaplan/yellowsub/processors/parsers/hashparser"
)

func main() {
	os.Exit(run())
}

func run() int {
	name := flag.String("name", "", "processor name, as registered and as referenced by workflow.yml")
	workflowID := flag.String("workflow-id", "", "workflow this worker belongs to")
	fromQ := flag.String("from-q", "", "input queue (overrides workflow.yml lookup if set)")
	toEx := flag.String("to-ex", "", "output exchange (overrides workflow.yml lookup if set)")
	toQ := flag.String("to-q", "", "downstream queue bound to to-ex (overrides workflow.yml lookup if set)")
	rootDir := flag.String("rootdir", "", "override YELLOWSUB_ROOT_DIR")
	brokerHost := flag.String("broker-host", "localhost", "broker host")
	brokerPort := flag.Int("broker-port", 5672, "broker port")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "no processor name given")
		return 255
	}

	paths := config.ResolvePaths(*rootDir)
	cfg, err := config.LoadMerged(paths, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error for processor %s: %v\n", *name, err)
		if _, ok := err.(*config.ConfigInvalid); ok {
			return 254
		}
		return 255
	}

	if err := yslog.Setup(yslog.Config{
		Dir:     config.GetString(config.Sub(cfg, "logging"), "dir", "/tmp/yellowsub-logs"),
		Level:   yslog.INFO,
		Console: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		return 255
	}
	logger, err := yslog.Get(yslog.RootName + "." + *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 255
	}

	effFromQ, effToEx, effToQ := *fromQ, *toEx, *toQ
	if effFromQ == "" && effToEx == "" && effToQ == "" {
		records, err := workflow.Load(paths.WorkflowFile)
		if err != nil {
			logger.Error("load workflow: %v", err)
			return 255
		}
		matches := workflow.ForProcessor(workflow.ForWorkflow(records, *workflowID), *name)
		if len(matches) == 0 {
			logger.Error("no wiring found for processor %s in %s", *name, paths.WorkflowFile)
			return 255
		}
		step := matches[0]
		effFromQ, effToEx, effToQ = step.FromQ, step.ToEx, step.ToQ
	}

	runner, group, err := registry.Instantiate(*name, cfg)
	if err != nil {
		logger.Error("instantiate: %v", err)
		return 255
	}

	rabbit := config.Sub(cfg, "rabbitmq")
	brokerCfg := broker.Config{
		Host:     config.GetString(rabbit, "host", *brokerHost),
		Port:     config.GetInt(rabbit, "port", *brokerPort),
		User:     config.GetString(rabbit, "user", ""),
		Password: config.GetString(rabbit, "password", ""),
	}

	redisCfg := config.Sub(cfg, "redis")
	cacheTTL := config.GetInt(redisCfg, "cache_ttl", 0)
	var cache *dedup.Cache
	switch backend := config.GetString(redisCfg, "backend", "badger"); backend {
	case "redis":
		rc := dedup.DefaultRedisConfig(config.GetString(redisCfg, "addr", "localhost:6379"))
		rc.Password = config.GetString(redisCfg, "password", "")
		if db := config.GetInt(redisCfg, "db", -1); db >= 0 {
			rc.DB = db
		}
		store := dedup.OpenRedisStore(rc)
		defer store.Close()
		cache = dedup.New(store, time.Duration(cacheTTL)*time.Second)
	case "badger":
		if badgerDir := config.GetString(redisCfg, "badger_dir", ""); badgerDir != "" {
			store, err := dedup.OpenBadgerStore(badgerDir)
			if err != nil {
				logger.Error("open dedup store: %v", err)
				return 255
			}
			defer store.Close()
			cache = dedup.New(store, time.Duration(cacheTTL)*time.Second)
		}
	default:
		logger.Error("unknown redis.backend %q", backend)
		return 255
	}

	worker, err := processor.New(*name, group, runner, cfg, logger, cache)
	if err != nil {
		logger.Error("new worker: %v", err)
		return 255
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		worker.Stop()
		cancel()
	}()

	if err := worker.Start(ctx, brokerCfg, effFromQ, effToEx, effToQ); err != nil {
		logger.Error("start: %v", err)
		return 255
	}
	defer worker.Stop()

	if group == processor.GroupCollector {
		if err := worker.RunCollector(ctx); err != nil && ctx.Err() == nil {
			logger.Error("collector loop: %v", err)
			return 1
		}
		return 0
	}

	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("run loop: %v", err)
		return 1
	}
	return 0
}
