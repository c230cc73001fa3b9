package sdruntime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// GenerationStats describes one finished (or failed) generation.
type GenerationStats struct {
	ModelPath   string
	Params      GenerateParams // Normalized; Seed is the resolved base seed on success
	Images      int
	Duration    time.Duration
	Err         error
	CompletedAt time.Time
}

// Succeeded reports whether the generation produced images.
func (s GenerationStats) Succeeded() bool {
	return s.Err == nil
}

// Observer receives a GenerationStats after every Generator call.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveGeneration(GenerationStats)
}

// Generator is the high-level entry point: a ContextPool plus logging and
// an optional Observer.
type Generator struct {
	pool     *ContextPool
	logger   *zap.Logger
	observer Observer
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLogger sets the logger used for per-generation records.
// Default is a no-op logger.
func WithLogger(logger *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObserver registers an Observer for generation results.
func WithObserver(o Observer) GeneratorOption {
	return func(g *Generator) {
		g.observer = o
	}
}

// NewGenerator creates a Generator backed by a pool of poolSize contexts.
func NewGenerator(poolSize int, params ContextParams, opts ...GeneratorOption) (*Generator, error) {
	pool, err := NewContextPool(poolSize, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create context pool: %w", err)
	}

	g := &Generator{
		pool:   pool,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate runs one text-to-image request through the pool.
// The result carries the seed actually used, so seed -1 requests can be
// reproduced.
func (g *Generator) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	params = params.normalized()

	start := time.Now()
	result, err := g.pool.Generate(ctx, params)

	stats := GenerationStats{
		ModelPath:   g.pool.ModelPath(),
		Params:      params,
		Err:         err,
		CompletedAt: time.Now(),
		Duration:    time.Since(start),
	}
	if result != nil {
		stats.Params = result.Params
		stats.Images = len(result.Images)
		stats.Duration = result.Duration
	}
	g.record(stats)

	return result, err
}

// GeneratePNG runs Generate and encodes every image as PNG.
func (g *Generator) GeneratePNG(ctx context.Context, params GenerateParams) ([][]byte, *GenerateResult, error) {
	result, err := g.Generate(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	encoded := make([][]byte, len(result.Images))
	for i, img := range result.Images {
		data, err := img.PNG()
		if err != nil {
			return nil, nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		encoded[i] = data
	}
	return encoded, result, nil
}

func (g *Generator) record(stats GenerationStats) {
	fields := []zap.Field{
		zap.String("model", stats.ModelPath),
		zap.String("sample_method", stats.Params.SampleMethod.String()),
		zap.Int("steps", stats.Params.Steps),
		zap.Int("width", stats.Params.Width),
		zap.Int("height", stats.Params.Height),
		zap.Int("batch_count", stats.Params.BatchCount),
		zap.Duration("duration", stats.Duration),
	}

	if stats.Err != nil {
		g.logger.Warn("Image generation failed", append(fields, zap.Error(stats.Err))...)
	} else {
		g.logger.Info("Image generation completed",
			append(fields, zap.Int64("seed", stats.Params.Seed), zap.Int("images", stats.Images))...)
	}

	if g.observer != nil {
		g.observer.ObserveGeneration(stats)
	}
}

// Close releases all pooled contexts. Safe to call multiple times.
func (g *Generator) Close() error {
	return g.pool.Close()
}

// PoolSize returns the maximum number of contexts in the pool.
func (g *Generator) PoolSize() int {
	return g.pool.MaxSize()
}

// PoolAvailable returns the number of idle contexts.
func (g *Generator) PoolAvailable() int {
	return g.pool.Size()
}

// IsClosed returns whether the generator has been closed.
func (g *Generator) IsClosed() bool {
	return g.pool.IsClosed()
}

// QuickGenerate loads modelPath, generates one image with DefaultParams
// and the given prompt, and unloads the model again. Reuse a Generator for
// more than one image.
func QuickGenerate(ctx context.Context, modelPath string, prompt string) (*GenerateResult, error) {
	gen, err := NewGenerator(1, DefaultContextParams(modelPath))
	if err != nil {
		return nil, err
	}
	defer gen.Close()

	params := DefaultParams()
	params.Prompt = prompt

	return gen.Generate(ctx, params)
}
