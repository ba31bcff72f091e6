package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nnlite/pkg/logger"
)

var (
	modelPath  string
	modelsPath string
	threads    int64
	accel      bool
	logLevel   string
	logFormat  string
	verbosity  int64
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .mcf file",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing .mcf models",
			Destination: &modelsPath,
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "worker threads for the interpreter and delegate",
			Value:       1,
			Destination: &threads,
		},
		&cli.BoolFlag{
			Name:        "accel",
			Usage:       "use the CPU acceleration delegate when available",
			Destination: &accel,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       logger.FormatPretty,
			Destination: &logFormat,
		},
		&cli.Int64Flag{
			Name:        "verbosity",
			Aliases:     []string{"v"},
			Usage:       "highest verbose log level to emit",
			Destination: &verbosity,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging installs the process logger from flags, falling back to the
// config file for anything not given on the command line.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg := LoadConfig()
	applyLoggingConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	l, err := logger.Setup(logger.Config{
		Level:     level,
		Format:    logFormat,
		Verbosity: int(verbosity),
	})
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 2)
	}
	return logger.WithContext(ctx, l), nil
}
