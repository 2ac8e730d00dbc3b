// covalent-lambda dispatches one registered task through a full remote
// lifecycle: provision a function, run the task, fetch the value, tear the
// resources down. It is the standalone face of the executor plugin for
// smoke-testing an account setup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/config"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/executor"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/observability"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task/samples"
	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/workpool"
)

func main() {
	cfgPath := flag.String("config", "", "path to covalent-lambda.yaml (optional)")
	name := flag.String("task", "math.add", "registered task name to dispatch")
	argsJSON := flag.String("args", "[]", "positional arguments, JSON array")
	kwargsJSON := flag.String("kwargs", "{}", "keyword arguments, JSON object")
	dispatch := flag.String("dispatch", "", "dispatch id (default: random)")
	node := flag.Int("node", 0, "node id within the dispatch")
	resultsDir := flag.String("results-dir", "", "workdir root override (default: cache_dir)")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall lifecycle deadline")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer logger.Sync()

	samples.RegisterAll(task.Default)
	fn, err := task.Default.Resolve(*name)
	if err != nil {
		fatalf("%v (registered: %v)", err, task.Default.Names())
	}

	var args []any
	if err := json.Unmarshal([]byte(*argsJSON), &args); err != nil {
		fatalf("parse -args: %v", err)
	}
	var kwargs map[string]any
	if err := json.Unmarshal([]byte(*kwargsJSON), &kwargs); err != nil {
		fatalf("parse -kwargs: %v", err)
	}

	dispatchID := *dispatch
	if dispatchID == "" {
		dispatchID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool := workpool.New(cfg.WorkerPoolSize)
	exe, err := executor.NewFromAWS(ctx, cfg, pool)
	if err != nil {
		fatalf("initialize executor: %v", err)
	}

	logger.Info("dispatching task",
		zap.String("task", *name),
		zap.String("dispatch", dispatchID),
		zap.Int("node", *node))

	value, _, _, err := exe.Execute(ctx, fn, args, kwargs, dispatchID, *resultsDir, *node)
	if err != nil {
		fatalf("execute: %v", err)
	}

	out, err := json.Marshal(value)
	if err != nil {
		fatalf("render result: %v", err)
	}
	fmt.Println(string(out))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
