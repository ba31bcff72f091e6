package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nnlite/pkg/logger"
	"github.com/samcharles93/nnlite/pkg/nn"
	"github.com/samcharles93/nnlite/pkg/timer"
)

func runCmd() *cli.Command {
	var (
		inputs     []string
		inputFiles []string
		runs       int64
	)

	flags := append(commonModelFlags(), engineFlags()...)
	flags = append(flags,
		&cli.StringSliceFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "comma separated values for the next input tensor (repeatable)",
			Destination: &inputs,
		},
		&cli.StringSliceFlag{
			Name:        "input-file",
			Usage:       "raw little-endian bytes for the next input tensor (repeatable)",
			Destination: &inputFiles,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Aliases:     []string{"n"},
			Usage:       "number of forward passes",
			Value:       1,
			Destination: &runs,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run a model on the given inputs and print its outputs",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEngineConfig(cmd, LoadConfig())

			timers := timer.NewRegistry()
			e, err := openEngine(ctx, timers)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := fillInputs(e, inputs, inputFiles); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			for i := range max(runs, 1) {
				if err := e.Invoke(); err != nil {
					return cli.Exit(fmt.Sprintf("error: run %d: %v", i+1, err), 1)
				}
			}

			for i, out := range e.Outputs() {
				fmt.Printf("output %d %s %s%v: %s\n", i, out.Name, out.DType, out.Shape, formatOutput(e, i, out))
			}
			fmt.Println()
			printTimers(os.Stdout, timers)
			return nil
		},
	}
}

// openEngine resolves the model from the common flags and initialises an
// engine with the engine flags.
func openEngine(ctx context.Context, timers *timer.Registry) (*nn.Engine, error) {
	path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
	}

	log := logger.FromContext(ctx)
	e := nn.New(nn.WithLogger(log), nn.WithTimers(timers))
	cfg := nn.Config{Threads: int(threads), UseAcceleration: accel}
	if err := e.InitFromFile(path, cfg); err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
	}
	log.Info("model loaded", "path", path, "threads", cfg.Threads, "delegated", e.Delegated())
	return e, nil
}

func printTimers(w io.Writer, timers *timer.Registry) {
	_, _ = fmt.Fprintf(w, "%-8s %6s %12s %12s %12s %12s\n", "timer", "count", "avg", "min", "max", "total")
	for _, name := range timers.Names() {
		s, _ := timers.Get(name)
		_, _ = fmt.Fprintf(w, "%-8s %6d %12s %12s %12s %12s\n", s.Name, s.Count,
			round(s.Average), round(s.Min), round(s.Max), round(s.Total))
	}
}

func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(time.Microsecond)
	default:
		return d
	}
}
