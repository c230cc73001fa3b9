package main

import (
	"context"
	"fmt"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/sdruntime"

	"github.com/urfave/cli/v3"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("sdgen:            %s\n", core.GetVersionInfo())
			fmt.Printf("stable-diffusion: %s\n", sdruntime.Version())
			return nil
		},
	}
}
