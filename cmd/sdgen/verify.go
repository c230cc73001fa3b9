package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/sdruntime"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func verifyCmd() *cli.Command {
	var expected string

	return &cli.Command{
		Name:      "verify",
		Usage:     "Check model files against known SHA-256 checksums",
		ArgsUsage: "<model>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sha256", Usage: "expected checksum (single model only)", Destination: &expected},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return usageError(fmt.Errorf("no model given"))
			}
			if expected != "" {
				if len(paths) != 1 {
					return usageError(fmt.Errorf("--sha256 needs exactly one model"))
				}
				if err := sdruntime.RegisterModelChecksum(filepath.Base(paths[0]), strings.ToLower(expected)); err != nil {
					return usageError(err)
				}
			}

			failed := 0
			for _, p := range paths {
				if err := verifyOne(p); err != nil {
					failed++
				}
			}
			if failed > 0 {
				return withExitCode(core.ExitCodeModel, fmt.Errorf("%d of %d models failed verification", failed, len(paths)))
			}
			return nil
		},
	}
}

func verifyOne(path string) error {
	ok, err := sdruntime.VerifyModelChecksum(path)
	switch {
	case err != nil:
		fmt.Printf("%s %s\n", color.RedString("✗ %s", path), color.HiBlackString("- %v", err))
		logger.Warn("Model verification failed", zap.String("model", path), zap.Error(err))
		return err
	case !ok:
		sum, err := sdruntime.CalculateChecksum(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", color.YellowString("! %s", path), color.HiBlackString("- unregistered, sha256 %s", sum))
	default:
		fmt.Println(color.GreenString("✓ %s", path))
	}
	return nil
}
