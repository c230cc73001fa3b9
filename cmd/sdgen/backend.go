package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/logging"
	"github.com/jaypaulb/sdbridge/metrics"
	"github.com/jaypaulb/sdbridge/sdruntime"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
)

func backendCmd() *cli.Command {
	var (
		smiPath  string
		needCUDA bool
	)

	return &cli.Command{
		Name:  "backend",
		Usage: "Show the compute backend, library version and GPU state",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "nvidia-smi", Usage: "path to nvidia-smi", Value: "nvidia-smi", Destination: &smiPath},
			&cli.BoolFlag{Name: "require-cuda", Usage: "exit non-zero when CUDA is not available", Destination: &needCUDA},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			report := sdruntime.Backend()
			logger.Debug("Backend", logging.BackendFields(report)...)

			label := color.New(color.FgCyan).SprintFunc()
			fmt.Printf("%s %s\n", label("backend:"), report.Info)
			fmt.Printf("%s %s\n", label("version:"), report.Version)
			if report.CUDAAvailable {
				fmt.Printf("%s %s\n", label("cuda:   "), color.GreenString("available"))
			} else {
				fmt.Printf("%s %s\n", label("cuda:   "), color.YellowString("not available"))
			}
			if sdruntime.IsStub() {
				fmt.Println(color.HiBlackString("built without -tags sd: images are synthetic"))
			}
			if needCUDA {
				if err := report.RequireCUDA(); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			reader := metrics.NewNvidiaSMIReader(smiPath)
			gpu, err := reader.ReadGPUMetrics(ctx)
			if err != nil {
				if !errors.Is(err, metrics.ErrNoGPU) {
					fmt.Println(color.HiBlackString("gpu:     unavailable (%v)", err))
				} else {
					fmt.Println(color.HiBlackString("gpu:     none"))
				}
				return nil
			}
			fmt.Printf("%s %.0f%% utilization, %.0f°C\n", label("gpu:    "), gpu.Utilization, gpu.Temperature)
			fmt.Printf("%s %s / %s used\n", label("vram:   "),
				core.FormatBytes(gpu.MemoryUsed), core.FormatBytes(gpu.MemoryTotal))
			return nil
		},
	}
}
