// Command sdgen generates images with stable-diffusion.cpp and keeps a
// local history of what it produced.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/logging"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap/zapcore"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	envFile  string
	logLevel string
	logFile  string
	dev      bool
	dataDir  string
}

var (
	global globalOptions

	// logger is set up in the root Before hook.
	logger = logging.NewNopLogger()
)

func main() {
	os.Exit(run(context.Background(), os.Args))
}

func run(ctx context.Context, args []string) int {
	if err := newApp().Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return core.ExitCodeSuccess
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "sdgen",
		Usage:   "Text-to-image generation with stable-diffusion.cpp",
		Version: core.GetVersionInfo(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file to load before reading SD_* variables",
				Value:       ".env",
				Destination: &global.envFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "debug, info, warn or error",
				Sources:     cli.EnvVars(logging.LogLevelEnv),
				Value:       "info",
				Destination: &global.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "also write JSON logs to this rotated file",
				Sources:     cli.EnvVars("SDBRIDGE_LOG_FILE"),
				Destination: &global.logFile,
			},
			&cli.BoolFlag{
				Name:        "dev",
				Usage:       "human-readable colored console logs",
				Sources:     cli.EnvVars("DEV_MODE"),
				Destination: &global.dev,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "directory for the history database and default output",
				Sources:     cli.EnvVars(core.DataDirEnv),
				Destination: &global.dataDir,
			},
		},
		Before: setup,
		After: func(ctx context.Context, cmd *cli.Command) error {
			logger.Sync()
			return nil
		},
		// Errors are mapped to exit codes by run, not by the cli package.
		ExitErrHandler: func(ctx context.Context, cmd *cli.Command, err error) {},
		Commands: []*cli.Command{
			generateCmd(),
			inspectCmd(),
			verifyCmd(),
			backendCmd(),
			historyCmd(),
			doctorCmd(),
			versionCmd(),
		},
	}
}

// setup loads the dotenv file and builds the logger.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if global.envFile != "" {
		if err := godotenv.Load(global.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return ctx, usageError(fmt.Errorf("load %s: %w", global.envFile, err))
		}
	}

	level := logging.ParseLogLevelString(global.logLevel, zapcore.InfoLevel)
	l, err := logging.NewLogger(logging.Options{
		Level:       level,
		Development: global.dev,
		FilePath:    global.logFile,
	})
	if err != nil {
		return ctx, fmt.Errorf("initialize logger: %w", err)
	}
	logger = l
	return ctx, nil
}

// dataDir returns --data-dir, falling back to the platform default.
func dataDir() string {
	if global.dataDir != "" {
		return global.dataDir
	}
	return core.GetDataDirectory()
}

func defaultHistoryPath() string {
	return filepath.Join(dataDir(), "history.db")
}

func defaultOutputDir() string {
	return filepath.Join(dataDir(), "outputs")
}
