package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/logging"
	"github.com/jaypaulb/sdbridge/sdruntime"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

// modelReport is the JSON form of `sdgen inspect --json`.
type modelReport struct {
	Path        string            `json:"path"`
	Format      string            `json:"format"`
	SizeBytes   int64             `json:"size_bytes"`
	Tensors     int               `json:"tensors"`
	ModelType   string            `json:"model_type"`
	NativeSize  int               `json:"native_size,omitempty"`
	GGUFVersion uint32            `json:"gguf_version,omitempty"`
	GGUFKVCount uint64            `json:"gguf_kv_count,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func newModelReport(info *sdruntime.ModelInfo) modelReport {
	return modelReport{
		Path:        info.Path,
		Format:      string(info.Format),
		SizeBytes:   info.SizeBytes,
		Tensors:     info.TensorCount,
		ModelType:   info.Type.String(),
		NativeSize:  info.Type.NativeSize(),
		GGUFVersion: info.GGUFVersion,
		GGUFKVCount: info.GGUFKVCount,
		Metadata:    info.Metadata,
	}
}

func inspectCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show format, family and tensor count of model files",
		ArgsUsage: "<model>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of text", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				if env := os.Getenv("SD_MODEL_PATH"); env != "" {
					paths = []string{env}
				} else {
					return usageError(fmt.Errorf("no model given and SD_MODEL_PATH is not set"))
				}
			}

			reports := make([]modelReport, 0, len(paths))
			for _, p := range paths {
				info, err := sdruntime.InspectModel(p)
				if err != nil {
					return classify(fmt.Errorf("%s: %w", p, err))
				}
				logger.Debug("Inspected model", logging.ModelFields(info)...)
				reports = append(reports, newModelReport(info))
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if len(reports) == 1 {
					return enc.Encode(reports[0])
				}
				return enc.Encode(reports)
			}
			for i, r := range reports {
				if i > 0 {
					fmt.Println()
				}
				printModelReport(os.Stdout, r)
			}
			return nil
		},
	}
}

func printModelReport(w io.Writer, r modelReport) {
	fmt.Fprintf(w, "path:        %s\n", r.Path)
	fmt.Fprintf(w, "format:      %s\n", r.Format)
	fmt.Fprintf(w, "size:        %s\n", core.FormatBytes(r.SizeBytes))
	if r.Format == string(sdruntime.FormatCheckpoint) {
		return
	}
	fmt.Fprintf(w, "tensors:     %s\n", core.FormatCount(int64(r.Tensors)))
	fmt.Fprintf(w, "family:      %s\n", r.ModelType)
	if r.NativeSize > 0 {
		fmt.Fprintf(w, "native size: %dx%d\n", r.NativeSize, r.NativeSize)
	}
	if r.GGUFVersion > 0 {
		fmt.Fprintf(w, "gguf:        v%d, %d metadata keys\n", r.GGUFVersion, r.GGUFKVCount)
	}
	if len(r.Metadata) > 0 {
		keys := make([]string, 0, len(r.Metadata))
		for k := range r.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "metadata:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, truncate(r.Metadata[k], 80))
		}
	}
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
