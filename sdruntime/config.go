package sdruntime

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jaypaulb/sdbridge/core"

	"gopkg.in/yaml.v3"
)

// SDConfig holds configuration for Stable Diffusion image generation.
type SDConfig struct {
	// Model configuration
	ModelPath             string
	VAEPath               string
	TAESDPath             string
	LoraModelDir          string
	Threads               int // 0 = runtime.NumCPU()
	VAETiling             bool
	VAEDecodeOnly         bool
	FreeParamsImmediately bool

	// Image generation defaults
	ImageSize      int     // Default image size (512, 768, 1024 or any valid size)
	InferenceSteps int     // Default inference steps (1-100)
	GuidanceScale  float64 // Default CFG scale (1.0-30.0)
	SampleMethod   SampleMethod
	ClipSkip       int
	BatchCount     int
	NegativePrompt string

	// Runtime configuration
	Timeout       time.Duration // Generation timeout
	MaxConcurrent int           // Contexts in the pool
}

// Default configuration values
const (
	DefaultImageSize      = 512
	DefaultInferenceSteps = 20
	DefaultGuidanceScale  = 7.5
	DefaultBatchCount     = 1
	DefaultTimeoutSeconds = 120
	DefaultMaxConcurrent  = 1
)

// LoadSDConfig loads SD configuration from environment variables.
// Invalid values fall back to defaults.
func LoadSDConfig() *SDConfig {
	return &SDConfig{
		ModelPath:             os.Getenv("SD_MODEL_PATH"),
		VAEPath:               os.Getenv("SD_VAE_PATH"),
		TAESDPath:             os.Getenv("SD_TAESD_PATH"),
		LoraModelDir:          os.Getenv("SD_LORA_DIR"),
		Threads:               parseThreads(os.Getenv("SD_THREADS")),
		VAETiling:             core.ParseBoolEnv("SD_VAE_TILING", false),
		VAEDecodeOnly:         core.ParseBoolEnv("SD_VAE_DECODE_ONLY", true),
		FreeParamsImmediately: core.ParseBoolEnv("SD_FREE_PARAMS_IMMEDIATELY", false),

		ImageSize:      parseImageSize(os.Getenv("SD_IMAGE_SIZE")),
		InferenceSteps: parseInferenceSteps(os.Getenv("SD_INFERENCE_STEPS")),
		GuidanceScale:  parseGuidanceScale(os.Getenv("SD_GUIDANCE_SCALE")),
		SampleMethod:   parseSampleMethod(os.Getenv("SD_SAMPLE_METHOD")),
		ClipSkip:       parseClipSkip(os.Getenv("SD_CLIP_SKIP")),
		BatchCount:     parseBatchCount(os.Getenv("SD_BATCH_COUNT")),
		NegativePrompt: os.Getenv("SD_NEGATIVE_PROMPT"),

		Timeout:       parseTimeout(os.Getenv("SD_TIMEOUT_SECONDS")),
		MaxConcurrent: parseMaxConcurrent(os.Getenv("SD_MAX_CONCURRENT")),
	}
}

// fileConfig mirrors SDConfig for YAML; nil fields leave the env value alone.
type fileConfig struct {
	ModelPath             *string  `yaml:"model_path"`
	VAEPath               *string  `yaml:"vae_path"`
	TAESDPath             *string  `yaml:"taesd_path"`
	LoraModelDir          *string  `yaml:"lora_dir"`
	Threads               *int     `yaml:"threads"`
	VAETiling             *bool    `yaml:"vae_tiling"`
	VAEDecodeOnly         *bool    `yaml:"vae_decode_only"`
	FreeParamsImmediately *bool    `yaml:"free_params_immediately"`
	ImageSize             *int     `yaml:"image_size"`
	InferenceSteps        *int     `yaml:"inference_steps"`
	GuidanceScale         *float64 `yaml:"guidance_scale"`
	SampleMethod          *string  `yaml:"sample_method"`
	ClipSkip              *int     `yaml:"clip_skip"`
	BatchCount            *int     `yaml:"batch_count"`
	NegativePrompt        *string  `yaml:"negative_prompt"`
	TimeoutSeconds        *int     `yaml:"timeout_seconds"`
	MaxConcurrent         *int     `yaml:"max_concurrent"`
}

// LoadSDConfigFile loads the environment configuration and overlays the
// YAML file at path on top of it. Unlike environment variables, invalid
// values in the file are reported as errors.
func LoadSDConfigFile(path string) (*SDConfig, error) {
	cfg := LoadSDConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := fc.apply(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *SDConfig) error {
	setString(&cfg.ModelPath, fc.ModelPath)
	setString(&cfg.VAEPath, fc.VAEPath)
	setString(&cfg.TAESDPath, fc.TAESDPath)
	setString(&cfg.LoraModelDir, fc.LoraModelDir)
	setString(&cfg.NegativePrompt, fc.NegativePrompt)
	setBool(&cfg.VAETiling, fc.VAETiling)
	setBool(&cfg.VAEDecodeOnly, fc.VAEDecodeOnly)
	setBool(&cfg.FreeParamsImmediately, fc.FreeParamsImmediately)

	if fc.Threads != nil {
		if *fc.Threads < 0 {
			return fmt.Errorf("%w: threads %d must not be negative", ErrInvalidContextParams, *fc.Threads)
		}
		cfg.Threads = *fc.Threads
	}
	if fc.ImageSize != nil {
		size := *fc.ImageSize
		if size < MinImageSize || size > MaxImageSize || size%ImageSizeMultple != 0 {
			return fmt.Errorf("%w: image size %d", ErrInvalidParams, size)
		}
		cfg.ImageSize = size
	}
	if fc.InferenceSteps != nil {
		if *fc.InferenceSteps < MinSteps || *fc.InferenceSteps > MaxSteps {
			return fmt.Errorf("%w: inference steps %d", ErrInvalidParams, *fc.InferenceSteps)
		}
		cfg.InferenceSteps = *fc.InferenceSteps
	}
	if fc.GuidanceScale != nil {
		if *fc.GuidanceScale < MinCFGScale || *fc.GuidanceScale > MaxCFGScale {
			return fmt.Errorf("%w: guidance scale %.2f", ErrInvalidParams, *fc.GuidanceScale)
		}
		cfg.GuidanceScale = *fc.GuidanceScale
	}
	if fc.SampleMethod != nil {
		method, err := ParseSampleMethod(*fc.SampleMethod)
		if err != nil {
			return err
		}
		cfg.SampleMethod = method
	}
	if fc.ClipSkip != nil {
		if !validClipSkip(*fc.ClipSkip) {
			return fmt.Errorf("%w: clip skip %d", ErrInvalidParams, *fc.ClipSkip)
		}
		cfg.ClipSkip = *fc.ClipSkip
	}
	if fc.BatchCount != nil {
		if *fc.BatchCount < 1 || *fc.BatchCount > MaxBatchCount {
			return fmt.Errorf("%w: batch count %d", ErrInvalidParams, *fc.BatchCount)
		}
		cfg.BatchCount = *fc.BatchCount
	}
	if fc.TimeoutSeconds != nil {
		if *fc.TimeoutSeconds <= 0 {
			return fmt.Errorf("%w: timeout %ds must be positive", ErrInvalidParams, *fc.TimeoutSeconds)
		}
		cfg.Timeout = time.Duration(*fc.TimeoutSeconds) * time.Second
	}
	if fc.MaxConcurrent != nil {
		if *fc.MaxConcurrent < 1 {
			return fmt.Errorf("%w: max concurrent %d must be at least 1", ErrInvalidParams, *fc.MaxConcurrent)
		}
		cfg.MaxConcurrent = *fc.MaxConcurrent
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// ContextParams returns the context parameters described by the config.
func (c *SDConfig) ContextParams() ContextParams {
	return ContextParams{
		ModelPath:             c.ModelPath,
		VAEPath:               c.VAEPath,
		TAESDPath:             c.TAESDPath,
		LoraModelDir:          c.LoraModelDir,
		VAEDecodeOnly:         c.VAEDecodeOnly,
		Threads:               c.Threads,
		VAETiling:             c.VAETiling,
		FreeParamsImmediately: c.FreeParamsImmediately,
	}
}

// GenerateParams returns generation parameters for prompt using the
// configured defaults. The seed is always -1.
func (c *SDConfig) GenerateParams(prompt string) GenerateParams {
	return GenerateParams{
		Prompt:         prompt,
		NegativePrompt: c.NegativePrompt,
		ClipSkip:       c.ClipSkip,
		CFGScale:       c.GuidanceScale,
		Width:          c.ImageSize,
		Height:         c.ImageSize,
		SampleMethod:   c.SampleMethod,
		Steps:          c.InferenceSteps,
		Seed:           RandomSeedValue,
		BatchCount:     c.BatchCount,
	}
}

// parseImageSize parses and validates image size from string.
// Returns default if invalid or empty.
func parseImageSize(s string) int {
	if s == "" {
		return DefaultImageSize
	}

	size, err := strconv.Atoi(s)
	if err != nil {
		return DefaultImageSize
	}

	switch size {
	case 512, 768, 1024:
		return size
	default:
		if size >= MinImageSize && size <= MaxImageSize && size%ImageSizeMultple == 0 {
			return size
		}
		return DefaultImageSize
	}
}

// parseInferenceSteps parses and validates inference steps from string.
// Returns default if invalid or out of range.
func parseInferenceSteps(s string) int {
	if s == "" {
		return DefaultInferenceSteps
	}

	steps, err := strconv.Atoi(s)
	if err != nil {
		return DefaultInferenceSteps
	}

	if steps < MinSteps || steps > MaxSteps {
		return DefaultInferenceSteps
	}

	return steps
}

// parseGuidanceScale parses and validates CFG scale from string.
// Returns default if invalid or out of range.
func parseGuidanceScale(s string) float64 {
	if s == "" {
		return DefaultGuidanceScale
	}

	scale, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return DefaultGuidanceScale
	}

	if scale < MinCFGScale || scale > MaxCFGScale {
		return DefaultGuidanceScale
	}

	return scale
}

func parseSampleMethod(s string) SampleMethod {
	if s == "" {
		return SampleEulerA
	}
	method, err := ParseSampleMethod(s)
	if err != nil {
		return SampleEulerA
	}
	return method
}

func parseClipSkip(s string) int {
	if s == "" {
		return DefaultClipSkip
	}
	skip, err := strconv.Atoi(s)
	if err != nil || !validClipSkip(skip) {
		return DefaultClipSkip
	}
	return skip
}

func validClipSkip(skip int) bool {
	return skip == DefaultClipSkip || (skip >= 1 && skip <= MaxClipSkip)
}

func parseBatchCount(s string) int {
	if s == "" {
		return DefaultBatchCount
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxBatchCount {
		return DefaultBatchCount
	}
	return n
}

func parseThreads(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseTimeout parses timeout in seconds from string.
// Returns default if invalid.
func parseTimeout(s string) time.Duration {
	if s == "" {
		return time.Duration(DefaultTimeoutSeconds) * time.Second
	}

	seconds, err := strconv.Atoi(s)
	if err != nil || seconds <= 0 {
		return time.Duration(DefaultTimeoutSeconds) * time.Second
	}

	return time.Duration(seconds) * time.Second
}

// parseMaxConcurrent parses max concurrent generations from string.
// Returns default if invalid.
func parseMaxConcurrent(s string) int {
	if s == "" {
		return DefaultMaxConcurrent
	}

	concurrent, err := strconv.Atoi(s)
	if err != nil || concurrent < 1 {
		return DefaultMaxConcurrent
	}

	return concurrent
}
