package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoGPU is returned when nvidia-smi reports no devices.
var ErrNoGPU = errors.New("metrics: no GPU reported by nvidia-smi")

const defaultSMITimeout = 5 * time.Second

// smiQuery lists the columns parseNvidiaSMIOutput expects, in order.
var smiQuery = []string{"utilization.gpu", "temperature.gpu", "memory.used", "memory.total"}

// NvidiaSMIReader samples the first GPU through the nvidia-smi CLI.
type NvidiaSMIReader struct {
	Path    string        // binary; "nvidia-smi" resolves through PATH
	Timeout time.Duration // per query
}

// NewNvidiaSMIReader returns a reader for path, or for PATH lookup when empty.
func NewNvidiaSMIReader(path string) *NvidiaSMIReader {
	if path == "" {
		path = "nvidia-smi"
	}
	return &NvidiaSMIReader{Path: path, Timeout: defaultSMITimeout}
}

// ReadGPUMetrics runs one nvidia-smi query.
func (r *NvidiaSMIReader) ReadGPUMetrics(ctx context.Context) (GPUMetrics, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultSMITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path,
		"--query-gpu="+strings.Join(smiQuery, ","),
		"--format=csv,noheader,nounits")
	cmd.Stdout, cmd.Stderr = &out, &errOut

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(errOut.String()); msg != "" {
			return GPUMetrics{}, fmt.Errorf("metrics: %s: %w: %s", r.Path, err, msg)
		}
		return GPUMetrics{}, fmt.Errorf("metrics: %s: %w", r.Path, err)
	}
	return parseNvidiaSMIOutput(out.String())
}

// parseNvidiaSMIOutput reads the first CSV row. "[N/A]" fields read as zero.
func parseNvidiaSMIOutput(output string) (GPUMetrics, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return GPUMetrics{}, ErrNoGPU
	}

	cr := csv.NewReader(strings.NewReader(output))
	cr.TrimLeadingSpace = true
	row, err := cr.Read()
	if err != nil {
		return GPUMetrics{}, fmt.Errorf("metrics: nvidia-smi csv: %w", err)
	}
	if len(row) < len(smiQuery) {
		return GPUMetrics{}, fmt.Errorf("metrics: nvidia-smi returned %d fields, want %d", len(row), len(smiQuery))
	}

	vals := make([]float64, len(smiQuery))
	for i, col := range smiQuery {
		field := strings.TrimSpace(row[i])
		if field == "[N/A]" || field == "N/A" {
			continue
		}
		if vals[i], err = strconv.ParseFloat(field, 64); err != nil {
			return GPUMetrics{}, fmt.Errorf("metrics: nvidia-smi %s: %w", col, err)
		}
	}

	const mib = 1 << 20
	used, total := int64(vals[2]*mib), int64(vals[3]*mib)
	return GPUMetrics{
		Utilization: vals[0],
		Temperature: vals[1],
		MemoryUsed:  used,
		MemoryTotal: total,
		MemoryFree:  total - used,
	}, nil
}
