package logging

import (
	"github.com/jaypaulb/sdbridge/sdruntime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// generationObject marshals GenerationStats as a nested "generation" object.
type generationObject sdruntime.GenerationStats

func (g generationObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("model", g.ModelPath)
	enc.AddString("sample_method", g.Params.SampleMethod.String())
	enc.AddInt("steps", g.Params.Steps)
	enc.AddFloat64("cfg_scale", g.Params.CFGScale)
	enc.AddInt("width", g.Params.Width)
	enc.AddInt("height", g.Params.Height)
	enc.AddInt("clip_skip", g.Params.ClipSkip)
	enc.AddInt("batch_count", g.Params.BatchCount)
	enc.AddInt64("seed", g.Params.Seed)
	enc.AddInt("images", g.Images)
	enc.AddInt64("duration_ms", g.Duration.Milliseconds())
	if g.Params.Steps > 0 && g.Duration > 0 {
		enc.AddFloat64("seconds_per_step", g.Duration.Seconds()/float64(g.Params.Steps))
	}
	enc.AddBool("success", g.Err == nil)
	if g.Err != nil {
		enc.AddString("error", g.Err.Error())
	}
	return nil
}

// GenerationFields returns the stats of one generation as a single
// structured field. Prompts are deliberately left out.
func GenerationFields(stats sdruntime.GenerationStats) zap.Field {
	return zap.Object("generation", generationObject(stats))
}

// ModelFields describes an inspected model file.
func ModelFields(info *sdruntime.ModelInfo) []zap.Field {
	if info == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("model", info.Path),
		zap.String("format", string(info.Format)),
		zap.Int64("size_bytes", info.SizeBytes),
		zap.Int("tensors", info.TensorCount),
		zap.String("model_type", info.Type.String()),
	}
	if info.Format == sdruntime.FormatGGUF {
		fields = append(fields, zap.Uint32("gguf_version", info.GGUFVersion))
	}
	return fields
}

// BackendFields describes the linked compute backend.
func BackendFields(report sdruntime.BackendReport) []zap.Field {
	return []zap.Field{
		zap.String("backend", report.Info),
		zap.String("sd_version", report.Version),
		zap.Bool("cuda", report.CUDAAvailable),
	}
}
