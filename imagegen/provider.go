// Package imagegen turns generation requests into PNG files on disk. A
// Provider produces RGBA images either locally through sdruntime or
// remotely through an OpenAI-compatible images API.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaypaulb/sdbridge/sdruntime"
)

// ErrProviderClosed is returned by a provider used after Close.
var ErrProviderClosed = errors.New("imagegen: provider is closed")

// Result is what a provider produced for one request.
type Result struct {
	Images []sdruntime.Image
	// Seed is the base seed actually used, or RandomSeedValue when the
	// provider does not expose seeds.
	Seed     int64
	Params   sdruntime.GenerateParams
	Provider string
	Duration time.Duration
}

// ImageSeed returns the seed that produced image i, or RandomSeedValue for
// every image when the provider does not expose seeds.
func (r *Result) ImageSeed(i int) int64 {
	if r.Seed == sdruntime.RandomSeedValue {
		return sdruntime.RandomSeedValue
	}
	return r.Seed + int64(i)
}

// Provider generates images for GenerateParams.
type Provider interface {
	Generate(ctx context.Context, params sdruntime.GenerateParams) (*Result, error)
	Name() string
	Close() error
}

// LocalProvider runs stable-diffusion.cpp in-process.
type LocalProvider struct {
	gen *sdruntime.Generator
}

// NewLocalProvider wraps an existing Generator. Closing the provider
// closes the generator.
func NewLocalProvider(gen *sdruntime.Generator) (*LocalProvider, error) {
	if gen == nil {
		return nil, fmt.Errorf("imagegen: generator cannot be nil")
	}
	return &LocalProvider{gen: gen}, nil
}

// Generate implements Provider.
func (p *LocalProvider) Generate(ctx context.Context, params sdruntime.GenerateParams) (*Result, error) {
	if p.gen.IsClosed() {
		return nil, ErrProviderClosed
	}
	res, err := p.gen.Generate(ctx, params)
	if err != nil {
		return nil, err
	}
	return &Result{
		Images:   res.Images,
		Seed:     res.Seed,
		Params:   res.Params,
		Provider: p.Name(),
		Duration: res.Duration,
	}, nil
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return "local" }

// Close implements Provider.
func (p *LocalProvider) Close() error { return p.gen.Close() }

var _ Provider = (*LocalProvider)(nil)
