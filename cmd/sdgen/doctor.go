package main

import (
	"context"
	"fmt"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/preflight"
	"github.com/jaypaulb/sdbridge/sdruntime"

	"github.com/urfave/cli/v3"
)

func doctorCmd() *cli.Command {
	var (
		configPath string
		model      string
		outDir     string
		checksum   bool
		needCUDA   bool
	)

	return &cli.Command{
		Name:  "doctor",
		Usage: "Check that the model, output directory and backend are ready",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML file with generation defaults", Destination: &configPath},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model to check instead of $SD_MODEL_PATH", Destination: &model},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory to check", Destination: &outDir},
			&cli.BoolFlag{Name: "checksum", Usage: "hash the model (slow for large files)", Value: true, Destination: &checksum},
			&cli.BoolFlag{Name: "require-cuda", Usage: "fail when the backend cannot use CUDA", Destination: &needCUDA},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := sdruntime.LoadSDConfig()
			if configPath != "" {
				var err error
				if cfg, err = sdruntime.LoadSDConfigFile(configPath); err != nil {
					return usageError(err)
				}
			}
			if model != "" {
				cfg.ModelPath = model
			}
			if outDir == "" {
				outDir = defaultOutputDir()
			}

			result := preflight.NewDoctorSuite(preflight.DoctorConfig{
				SD:           cfg,
				OutputDir:    outDir,
				SkipChecksum: !checksum,
				RequireCUDA:  needCUDA,
			}).Run()

			logger.Debug(result.Summary())
			if !result.Success {
				return withExitCode(core.ExitCodeModel, fmt.Errorf("%d checks failed: %w", result.FailedSteps, result.FirstError()))
			}
			return nil
		},
	}
}
