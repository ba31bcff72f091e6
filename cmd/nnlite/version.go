package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nnlite/internal/delegate/cpu"
	"github.com/samcharles93/nnlite/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version and CPU delegate information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("go:         %s\n", info.GoVersion)

			if err := cpu.Available(); err != nil {
				fmt.Printf("delegate:   unavailable (%v)\n", err)
			} else {
				fmt.Printf("delegate:   %s %+v\n", cpu.Name, cpu.HostFeatures())
			}
			return nil
		},
	}
}
