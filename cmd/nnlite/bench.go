package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nnlite/pkg/logger"
	"github.com/samcharles93/nnlite/pkg/nn"
	"github.com/samcharles93/nnlite/pkg/timer"
)

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
	)

	flags := append(commonModelFlags(), engineFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup passes",
			Value:       3,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Aliases:     []string{"n"},
			Usage:       "number of timed passes",
			Value:       50,
			Destination: &benchRuns,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time forward passes on zero-filled inputs",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEngineConfig(cmd, LoadConfig())
			log := logger.FromContext(ctx)

			timers := timer.NewRegistry()
			e, err := openEngine(ctx, timers)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := fillInputs(e, nil, nil); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			for i := range warmupRuns {
				if err := e.Invoke(); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}
			log.V(1).Info("warmup done", "runs", warmupRuns)

			// Only timed passes count towards the invoke statistics.
			initStats, _ := timers.Get(nn.TimerInit)
			timers.Reset()
			for i := range benchRuns {
				if err := e.Invoke(); err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
			}

			fmt.Println("=== nnlite bench ===")
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Threads:    %d\n", threads)
			fmt.Printf("Delegated:  %t\n", e.Delegated())
			fmt.Printf("Init:       %s\n", round(initStats.Total))
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n", benchRuns)
			fmt.Println()
			printTimers(os.Stdout, timers)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}
