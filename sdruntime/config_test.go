package sdruntime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var sdEnvVars = []string{
	"SD_MODEL_PATH", "SD_VAE_PATH", "SD_TAESD_PATH", "SD_LORA_DIR", "SD_THREADS",
	"SD_VAE_TILING", "SD_VAE_DECODE_ONLY", "SD_FREE_PARAMS_IMMEDIATELY",
	"SD_IMAGE_SIZE", "SD_INFERENCE_STEPS", "SD_GUIDANCE_SCALE", "SD_SAMPLE_METHOD",
	"SD_CLIP_SKIP", "SD_BATCH_COUNT", "SD_NEGATIVE_PROMPT", "SD_TIMEOUT_SECONDS",
	"SD_MAX_CONCURRENT",
}

func clearSDEnv(t *testing.T) {
	t.Helper()
	for _, key := range sdEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoadSDConfig_Defaults(t *testing.T) {
	clearSDEnv(t)

	cfg := LoadSDConfig()

	if cfg.ImageSize != DefaultImageSize {
		t.Errorf("ImageSize = %d, want %d", cfg.ImageSize, DefaultImageSize)
	}
	if cfg.InferenceSteps != DefaultInferenceSteps {
		t.Errorf("InferenceSteps = %d, want %d", cfg.InferenceSteps, DefaultInferenceSteps)
	}
	if cfg.GuidanceScale != DefaultGuidanceScale {
		t.Errorf("GuidanceScale = %.1f, want %.1f", cfg.GuidanceScale, DefaultGuidanceScale)
	}
	if cfg.SampleMethod != SampleEulerA || cfg.ClipSkip != DefaultClipSkip || cfg.BatchCount != 1 {
		t.Errorf("sampler defaults = %v/%d/%d", cfg.SampleMethod, cfg.ClipSkip, cfg.BatchCount)
	}
	if cfg.Timeout != DefaultTimeoutSeconds*time.Second {
		t.Errorf("Timeout = %v, want %ds", cfg.Timeout, DefaultTimeoutSeconds)
	}
	if cfg.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d, want %d", cfg.MaxConcurrent, DefaultMaxConcurrent)
	}
	if !cfg.VAEDecodeOnly || cfg.VAETiling || cfg.Threads != 0 {
		t.Errorf("context defaults = decodeOnly %v tiling %v threads %d", cfg.VAEDecodeOnly, cfg.VAETiling, cfg.Threads)
	}
}

func TestLoadSDConfig_FromEnv(t *testing.T) {
	clearSDEnv(t)
	t.Setenv("SD_MODEL_PATH", "/models/sd_xl_base_1.0.safetensors")
	t.Setenv("SD_VAE_PATH", "/models/sdxl_vae.safetensors")
	t.Setenv("SD_THREADS", "6")
	t.Setenv("SD_VAE_TILING", "yes")
	t.Setenv("SD_VAE_DECODE_ONLY", "false")
	t.Setenv("SD_IMAGE_SIZE", "1024")
	t.Setenv("SD_INFERENCE_STEPS", "30")
	t.Setenv("SD_GUIDANCE_SCALE", "5.5")
	t.Setenv("SD_SAMPLE_METHOD", "dpmpp-2m")
	t.Setenv("SD_CLIP_SKIP", "2")
	t.Setenv("SD_BATCH_COUNT", "4")
	t.Setenv("SD_NEGATIVE_PROMPT", "blurry")
	t.Setenv("SD_TIMEOUT_SECONDS", "300")
	t.Setenv("SD_MAX_CONCURRENT", "2")

	cfg := LoadSDConfig()

	cp := cfg.ContextParams()
	if cp.ModelPath != "/models/sd_xl_base_1.0.safetensors" || cp.VAEPath != "/models/sdxl_vae.safetensors" {
		t.Errorf("paths = %q / %q", cp.ModelPath, cp.VAEPath)
	}
	if cp.Threads != 6 || !cp.VAETiling || cp.VAEDecodeOnly {
		t.Errorf("context params = %+v", cp)
	}

	gp := cfg.GenerateParams("a mountain lake")
	want := GenerateParams{
		Prompt:         "a mountain lake",
		NegativePrompt: "blurry",
		ClipSkip:       2,
		CFGScale:       5.5,
		Width:          1024,
		Height:         1024,
		SampleMethod:   SampleDPMPP2M,
		Steps:          30,
		Seed:           RandomSeedValue,
		BatchCount:     4,
	}
	if gp != want {
		t.Errorf("GenerateParams() = %+v, want %+v", gp, want)
	}
	if err := ValidateParams(gp); err != nil {
		t.Errorf("configured params do not validate: %v", err)
	}
	if cfg.Timeout != 300*time.Second || cfg.MaxConcurrent != 2 {
		t.Errorf("runtime = %v / %d", cfg.Timeout, cfg.MaxConcurrent)
	}
}

func TestLoadSDConfig_InvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*SDConfig) bool
	}{
		{"SD_IMAGE_SIZE", "100", func(c *SDConfig) bool { return c.ImageSize == DefaultImageSize }},
		{"SD_IMAGE_SIZE", "513", func(c *SDConfig) bool { return c.ImageSize == DefaultImageSize }},
		{"SD_IMAGE_SIZE", "640", func(c *SDConfig) bool { return c.ImageSize == 640 }},
		{"SD_INFERENCE_STEPS", "0", func(c *SDConfig) bool { return c.InferenceSteps == DefaultInferenceSteps }},
		{"SD_GUIDANCE_SCALE", "abc", func(c *SDConfig) bool { return c.GuidanceScale == DefaultGuidanceScale }},
		{"SD_SAMPLE_METHOD", "ddim", func(c *SDConfig) bool { return c.SampleMethod == SampleEulerA }},
		{"SD_CLIP_SKIP", "0", func(c *SDConfig) bool { return c.ClipSkip == DefaultClipSkip }},
		{"SD_CLIP_SKIP", "13", func(c *SDConfig) bool { return c.ClipSkip == DefaultClipSkip }},
		{"SD_BATCH_COUNT", "17", func(c *SDConfig) bool { return c.BatchCount == DefaultBatchCount }},
		{"SD_THREADS", "-4", func(c *SDConfig) bool { return c.Threads == 0 }},
		{"SD_TIMEOUT_SECONDS", "-1", func(c *SDConfig) bool { return c.Timeout == DefaultTimeoutSeconds*time.Second }},
		{"SD_MAX_CONCURRENT", "0", func(c *SDConfig) bool { return c.MaxConcurrent == DefaultMaxConcurrent }},
		{"SD_VAE_TILING", "maybe", func(c *SDConfig) bool { return !c.VAETiling }},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearSDEnv(t)
			t.Setenv(tt.key, tt.value)
			if cfg := LoadSDConfig(); !tt.check(cfg) {
				t.Errorf("%s=%q not handled: %+v", tt.key, tt.value, cfg)
			}
		})
	}
}

func TestLoadSDConfigFile(t *testing.T) {
	clearSDEnv(t)
	t.Setenv("SD_MODEL_PATH", "/env/model.safetensors")
	t.Setenv("SD_INFERENCE_STEPS", "25")

	path := filepath.Join(t.TempDir(), "sdgen.yaml")
	yamlText := `
vae_path: /models/vae.safetensors
image_size: 768
sample_method: lcm
guidance_scale: 1.5
batch_count: 2
vae_tiling: true
timeout_seconds: 45
`
	if err := os.WriteFile(path, []byte(yamlText), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadSDConfigFile(path)
	if err != nil {
		t.Fatalf("LoadSDConfigFile() failed: %v", err)
	}

	if cfg.ModelPath != "/env/model.safetensors" {
		t.Errorf("ModelPath = %q, env value should survive", cfg.ModelPath)
	}
	if cfg.InferenceSteps != 25 {
		t.Errorf("InferenceSteps = %d, env value should survive", cfg.InferenceSteps)
	}
	if cfg.VAEPath != "/models/vae.safetensors" || cfg.ImageSize != 768 || cfg.SampleMethod != SampleLCM {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.GuidanceScale != 1.5 || cfg.BatchCount != 2 || !cfg.VAETiling || cfg.Timeout != 45*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestLoadSDConfigFile_Errors(t *testing.T) {
	clearSDEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"bad sample method", "sample_method: ddim\n", ErrInvalidParams},
		{"bad image size", "image_size: 100\n", ErrInvalidParams},
		{"bad steps", "inference_steps: 500\n", ErrInvalidParams},
		{"bad clip skip", "clip_skip: 0\n", ErrInvalidParams},
		{"bad batch", "batch_count: 0\n", ErrInvalidParams},
		{"negative threads", "threads: -1\n", ErrInvalidContextParams},
		{"malformed yaml", "image_size: [\n", nil},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadSDConfigFile(path)
			if err == nil {
				t.Fatalf("case %d: expected error", i)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadSDConfigFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
