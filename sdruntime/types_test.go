package sdruntime

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validParams() GenerateParams {
	return GenerateParams{
		Prompt:         "a beautiful sunset over the ocean",
		NegativePrompt: "blurry, low quality",
		ClipSkip:       DefaultClipSkip,
		CFGScale:       7.5,
		Width:          512,
		Height:         512,
		SampleMethod:   SampleDPMPP2M,
		Steps:          20,
		Seed:           12345,
		BatchCount:     1,
	}
}

func TestValidateParams_ValidInput(t *testing.T) {
	if err := ValidateParams(validParams()); err != nil {
		t.Errorf("expected no error for valid params, got: %v", err)
	}

	if err := ValidateParams(DefaultParams()); !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("DefaultParams() without prompt: got %v, want ErrInvalidPrompt", err)
	}
}

func TestValidateParams_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *GenerateParams)
		wantErr error
	}{
		{"width too small", func(p *GenerateParams) { p.Width = 64 }, ErrInvalidParams},
		{"width too large", func(p *GenerateParams) { p.Width = 4096 }, ErrInvalidParams},
		{"width not divisible by 8", func(p *GenerateParams) { p.Width = 513 }, ErrInvalidParams},
		{"height too small", func(p *GenerateParams) { p.Height = 100 }, ErrInvalidParams},
		{"height not divisible by 8", func(p *GenerateParams) { p.Height = 515 }, ErrInvalidParams},
		{"zero steps", func(p *GenerateParams) { p.Steps = 0 }, ErrInvalidParams},
		{"too many steps", func(p *GenerateParams) { p.Steps = 150 }, ErrInvalidParams},
		{"cfg too low", func(p *GenerateParams) { p.CFGScale = 0.5 }, ErrInvalidParams},
		{"cfg too high", func(p *GenerateParams) { p.CFGScale = 31 }, ErrInvalidParams},
		{"sample method negative", func(p *GenerateParams) { p.SampleMethod = -1 }, ErrInvalidParams},
		{"sample method past lcm", func(p *GenerateParams) { p.SampleMethod = 8 }, ErrInvalidParams},
		{"clip skip below -1", func(p *GenerateParams) { p.ClipSkip = -2 }, ErrInvalidParams},
		{"clip skip too high", func(p *GenerateParams) { p.ClipSkip = 13 }, ErrInvalidParams},
		{"batch negative", func(p *GenerateParams) { p.BatchCount = -1 }, ErrInvalidParams},
		{"batch too large", func(p *GenerateParams) { p.BatchCount = 17 }, ErrInvalidParams},
		{"seed below -1", func(p *GenerateParams) { p.Seed = -2 }, ErrInvalidParams},
		{"seed overflows batch", func(p *GenerateParams) { p.Seed = MaxSeed + 1 }, ErrInvalidParams},
		{"negative prompt too long", func(p *GenerateParams) { p.NegativePrompt = strings.Repeat("x", 1001) }, ErrInvalidParams},
		{"negative prompt with NUL", func(p *GenerateParams) { p.NegativePrompt = "bad\x00" }, ErrInvalidParams},
		{"empty prompt", func(p *GenerateParams) { p.Prompt = "   " }, ErrInvalidPrompt},
		{"prompt with NUL", func(p *GenerateParams) { p.Prompt = "a\x00b" }, ErrInvalidPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := ValidateParams(p)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateParams() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParams_EdgeValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *GenerateParams)
	}{
		{"minimum size", func(p *GenerateParams) { p.Width, p.Height = MinImageSize, MinImageSize }},
		{"maximum size", func(p *GenerateParams) { p.Width, p.Height = MaxImageSize, MaxImageSize }},
		{"one step", func(p *GenerateParams) { p.Steps = 1 }},
		{"cfg 1.0", func(p *GenerateParams) { p.CFGScale = 1.0 }},
		{"cfg 30.0", func(p *GenerateParams) { p.CFGScale = 30.0 }},
		{"lcm", func(p *GenerateParams) { p.SampleMethod = SampleLCM }},
		{"clip skip 12", func(p *GenerateParams) { p.ClipSkip = 12 }},
		{"random seed", func(p *GenerateParams) { p.Seed = RandomSeedValue }},
		{"max seed", func(p *GenerateParams) { p.Seed = MaxSeed }},
		{"max batch", func(p *GenerateParams) { p.BatchCount = MaxBatchCount }},
		{"batch zero means one", func(p *GenerateParams) { p.BatchCount = 0 }},
		{"clip skip zero means default", func(p *GenerateParams) { p.ClipSkip = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			if err := ValidateParams(p); err != nil {
				t.Errorf("ValidateParams() = %v, want nil", err)
			}
		})
	}
}

func TestGenerateParamsNormalized(t *testing.T) {
	p := validParams()
	p.BatchCount = 0
	p.ClipSkip = 0

	n := p.normalized()
	if n.BatchCount != 1 {
		t.Errorf("BatchCount = %d, want 1", n.BatchCount)
	}
	if n.ClipSkip != DefaultClipSkip {
		t.Errorf("ClipSkip = %d, want %d", n.ClipSkip, DefaultClipSkip)
	}
	if p.BatchCount != 0 {
		t.Error("normalized() modified its receiver")
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if p.Width != 512 || p.Height != 512 {
		t.Errorf("size = %dx%d, want 512x512", p.Width, p.Height)
	}
	if p.Steps != 20 || p.CFGScale != 7.0 {
		t.Errorf("steps/cfg = %d/%.1f, want 20/7.0", p.Steps, p.CFGScale)
	}
	if p.SampleMethod != SampleEulerA || p.ClipSkip != -1 || p.Seed != -1 || p.BatchCount != 1 {
		t.Errorf("unexpected defaults: %+v", p)
	}
}

func TestValidateContextParams(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "taesd.safetensors")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		params  ContextParams
		wantErr bool
	}{
		{"model only", ContextParams{ModelPath: "/models/sd.gguf"}, false},
		{"all optional paths", ContextParams{ModelPath: "m", VAEPath: file, TAESDPath: file, LoraModelDir: dir}, false},
		{"blank model path", ContextParams{ModelPath: "  "}, true},
		{"negative threads", ContextParams{ModelPath: "m", Threads: -1}, true},
		{"vae is directory", ContextParams{ModelPath: "m", VAEPath: dir}, true},
		{"taesd missing", ContextParams{ModelPath: "m", TAESDPath: filepath.Join(dir, "nope")}, true},
		{"lora dir missing", ContextParams{ModelPath: "m", LoraModelDir: filepath.Join(dir, "nope")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContextParams(tt.params)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidContextParams) {
					t.Errorf("ValidateContextParams() = %v, want ErrInvalidContextParams", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateContextParams() unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultContextParams(t *testing.T) {
	p := DefaultContextParams("/m.safetensors")
	if !p.VAEDecodeOnly {
		t.Error("VAEDecodeOnly = false, want true")
	}
	if p.Threads <= 0 {
		t.Errorf("Threads = %d, want > 0", p.Threads)
	}
	if p.VAETiling || p.FreeParamsImmediately {
		t.Error("tiling and free-immediately should default to false")
	}
	if (ContextParams{}).effectiveThreads() <= 0 {
		t.Error("effectiveThreads() did not resolve zero")
	}
}

func TestGenerateResultImageSeed(t *testing.T) {
	r := &GenerateResult{Seed: 100}
	for i, want := range []int64{100, 101, 102} {
		if got := r.ImageSeed(i); got != want {
			t.Errorf("ImageSeed(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestValidateParams_BatchMessage(t *testing.T) {
	p := DefaultParams()
	p.Prompt = "a lighthouse"
	p.BatchCount = -1
	err := ValidateParams(p)
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("ValidateParams() = %v, want ErrInvalidParams", err)
	}
	if !strings.Contains(err.Error(), "between 1 and 16") {
		t.Errorf("error %q should state the accepted range", err)
	}
}
