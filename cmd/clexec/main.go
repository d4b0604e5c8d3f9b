// Command clexec is the reference CLI: it loads a {config, algorithm}
// wire document, compiles it once, runs it N times, and prints a metrics
// summary. It exists to demonstrate the Compile-once/Execute-many facade,
// not as a production host (spec.md §8, SPEC_FULL.md §8).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	clexec "github.com/behrlich/clexec"
	"github.com/behrlich/clexec/internal/config"
	"github.com/behrlich/clexec/internal/logging"
	"github.com/behrlich/clexec/internal/wire"
)

func main() {
	var (
		path        = flag.String("f", "", "path to a {config, algorithm} JSON document")
		n           = flag.Int("n", 1, "number of times to Execute the algorithm after compiling once")
		quiet       = flag.Bool("q", false, "suppress per-run outcome lines, print only the final metrics summary")
		blockingCPU = flag.String("blocking-cpus", "", "comma-separated CPU set to pin the blocking pool to (e.g. 2,3)")
	)
	rt := config.Default().FromEnv()
	config.RegisterFlags(flag.CommandLine, &rt)
	flag.Parse()
	if *blockingCPU != "" {
		rt.BlockingCPUs = config.ParseCPUList(*blockingCPU)
	}

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: clexec -f <document.json> [-n N] [-v] [-q]")
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	if rt.Verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	data, err := os.ReadFile(*path)
	if err != nil {
		logger.Error("failed to read document", "path", *path, "error", err)
		os.Exit(1)
	}

	doc, err := wire.Decode(data)
	if err != nil {
		logger.Error("failed to decode document", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex, err := clexec.Compile(ctx, doc.Config,
		clexec.WithShutdownGrace(rt.ShutdownGrace),
		clexec.WithBlockingCPUs(rt.BlockingCPUs))
	if err != nil {
		logger.Error("compile failed", "error", err)
		os.Exit(1)
	}
	defer ex.Close()

	logger.Info("compiled", "memory_size", doc.Config.MemorySize, "context_offset", doc.Config.ContextOffset)

	installStackDumpHandler(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	algo := doc.Algorithm
	if algo.WorkerThreads == 0 {
		algo.WorkerThreads = uint32(rt.WorkerThreads)
	}
	if algo.BlockingThreads == 0 {
		algo.BlockingThreads = uint32(rt.BlockingThreads)
	}

	for i := 0; i < *n; i++ {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, stopping early", "completed", i)
		default:
			outcome, err := ex.Execute(ctx, algo)
			if !*quiet {
				fmt.Printf("run %d: status=%s actions_run=%d err=%v\n", i, outcome.Status, outcome.ActionsRun, err)
			}
			if err != nil && !clexec.IsKind(err, clexec.KindTimeout) {
				logger.Warn("execute returned an error", "run", i, "error", err)
			}
			continue
		}
		break
	}

	fmt.Println(ex.Metrics().String())
}

// installStackDumpHandler mirrors the teacher's SIGUSR1 goroutine-dump
// convenience for diagnosing a stuck Execute call.
func installStackDumpHandler(logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])

			filename := fmt.Sprintf("clexec-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()
}
