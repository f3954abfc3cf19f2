package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/graphmesh-backend/internal/jobs/orchestrator"
	"github.com/yungbote/graphmesh-backend/internal/jobs/tools"
	"github.com/yungbote/graphmesh-backend/internal/observability"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
	"github.com/yungbote/graphmesh-backend/internal/provenance"
	"github.com/yungbote/graphmesh-backend/internal/services"
)

func main() {
	var (
		planPath = flag.String("plan", "", "path to YAML DAG plan (required)")
		queryArg = flag.String("query", "", "query text handed to the run as input")
		parallel = flag.Int("parallel", 4, "max concurrently running nodes")
		timeout  = flag.Duration("timeout", 0, "run-level deadline (0 = none)")
	)
	flag.Parse()
	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "usage: graphmesh -plan plan.yaml [-query text] [-parallel n] [-timeout 5m]")
		os.Exit(2)
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "graphmesh",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	if shutdownOtel != nil {
		defer shutdownOtel(context.Background())
	}

	svc, err := services.New(ctx, services.ConfigFromEnv(), log)
	if err != nil {
		log.Error("service context init failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close(context.Background())

	registry := orchestrator.NewRegistry()
	if err := tools.RegisterAll(registry, svc); err != nil {
		log.Error("tool registration failed", "error", err)
		os.Exit(1)
	}

	plan, err := orchestrator.LoadPlan(*planPath)
	if err != nil {
		log.Error("plan load failed", "path", *planPath, "error", err)
		os.Exit(1)
	}

	engine, err := orchestrator.NewEngine(registry, mustRecorder(svc, log), log)
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}
	engine.MaxParallel = *parallel
	engine.RunTimeout = *timeout

	runInputs := map[string]any{}
	if *queryArg != "" {
		runInputs["query"] = *queryArg
	}

	result, err := engine.Run(ctx, plan, runInputs)
	if err != nil {
		log.Error("run rejected", "error", err)
		os.Exit(1)
	}

	printResult(plan, result)
	if !result.Success {
		os.Exit(1)
	}
}

func mustRecorder(svc *services.Context, log *logger.Logger) provenance.Recorder {
	rec, err := svc.Recorder()
	if err != nil {
		log.Warn("provenance recorder unavailable, node operations will not be audited", "error", err)
		return nil
	}
	return rec
}

func printResult(plan *orchestrator.Plan, result *orchestrator.RunResult) {
	order, err := plan.TopoOrder()
	if err != nil {
		order = plan.NodeIDs()
	}
	fmt.Printf("run %s  success=%v  duration=%s\n", result.RunID, result.Success, result.Duration().Round(time.Millisecond))
	for _, id := range order {
		ns := result.Nodes[id]
		if ns == nil {
			continue
		}
		line := fmt.Sprintf("  %-20s %-8s %8s", ns.NodeID, ns.Status, ns.Duration().Round(time.Millisecond))
		if ns.Error != "" {
			line += "  " + ns.Error
		}
		fmt.Println(line)
		if exps, ok := ns.Outputs["explanations"].([]string); ok {
			for _, e := range exps {
				fmt.Println("      " + e)
			}
		}
	}
	if result.FailedNode != "" {
		fmt.Printf("first failure: %s: %v\n", result.FailedNode, result.Err)
	}
}
