// Package metrics keeps in-process statistics about image generation runs
// and GPU utilization sampled while they execute.
package metrics

import "time"

// GenerationRecord is one txt2img call as seen by the Generator.
type GenerationRecord struct {
	ID           string        `json:"id"`
	ModelPath    string        `json:"model_path"`
	SampleMethod string        `json:"sample_method"`
	Steps        int           `json:"steps"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	BatchCount   int           `json:"batch_count"`
	Seed         int64         `json:"seed"`
	Images       int           `json:"images"`
	Status       string        `json:"status"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"duration"`
	ErrorMsg     string        `json:"error_msg,omitempty"`
}

// SecondsPerStep is the wall time per denoising step, or 0 when unknown.
func (r GenerationRecord) SecondsPerStep() float64 {
	if r.Steps <= 0 || r.Duration <= 0 {
		return 0
	}
	return r.Duration.Seconds() / float64(r.Steps)
}

// GPUMetrics is a single nvidia-smi sample. Memory values are bytes.
type GPUMetrics struct {
	Utilization float64 `json:"utilization"`
	Temperature float64 `json:"temperature"`
	MemoryTotal int64   `json:"memory_total"`
	MemoryUsed  int64   `json:"memory_used"`
	MemoryFree  int64   `json:"memory_free"`
}

// GenerationMetrics aggregates every record seen since the store was created,
// including records that have since rotated out of the history buffer.
type GenerationMetrics struct {
	TotalRuns     int64                      `json:"total_runs"`
	TotalSuccess  int64                      `json:"total_success"`
	TotalErrors   int64                      `json:"total_errors"`
	TotalImages   int64                      `json:"total_images"`
	TotalDuration time.Duration              `json:"total_duration"`
	BySampler     map[string]*SamplerMetrics `json:"by_sampler"`
}

// SuccessRate returns the percentage of successful runs (0-100).
func (m GenerationMetrics) SuccessRate() float64 {
	if m.TotalRuns == 0 {
		return 0
	}
	return float64(m.TotalSuccess) / float64(m.TotalRuns) * 100
}

// SamplerMetrics are the statistics for one sample method.
type SamplerMetrics struct {
	Count             int64         `json:"count"`
	SuccessRate       float64       `json:"success_rate"`
	AvgDuration       time.Duration `json:"avg_duration"`
	AvgSecondsPerStep float64       `json:"avg_seconds_per_step"`
}

// Status values for GenerationRecord.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusCanceled = "canceled"
)
