package sdruntime

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
	"time"
)

// ContextParams holds everything needed to create a native context.
// Only ModelPath is required; empty optional paths are passed to the
// library as NULL.
type ContextParams struct {
	ModelPath             string // Required: .safetensors, .ckpt or .gguf weights
	VAEPath               string // Optional: separate VAE weights
	TAESDPath             string // Optional: TAESD weights for fast preview decoding
	LoraModelDir          string // Optional: directory containing LoRA weights
	VAEDecodeOnly         bool   // Skip the VAE encoder (txt2img only)
	Threads               int    // CPU threads for non-CUDA work (0 = runtime.NumCPU())
	VAETiling             bool   // Decode the VAE in tiles to save memory
	FreeParamsImmediately bool   // Free weights after loading them to the backend
}

// DefaultContextParams returns context parameters for plain text-to-image use.
func DefaultContextParams(modelPath string) ContextParams {
	return ContextParams{
		ModelPath:     modelPath,
		VAEDecodeOnly: true,
		Threads:       runtime.NumCPU(),
	}
}

// ValidateContextParams checks that the paths named in p exist.
// The model file itself is checked by NewContext so that a missing model
// surfaces as ErrModelNotFound.
func ValidateContextParams(p ContextParams) error {
	if strings.TrimSpace(p.ModelPath) == "" {
		return fmt.Errorf("%w: model path is required", ErrInvalidContextParams)
	}
	if p.Threads < 0 {
		return fmt.Errorf("%w: threads %d must not be negative", ErrInvalidContextParams, p.Threads)
	}

	for _, opt := range []struct {
		name string
		path string
	}{
		{"vae", p.VAEPath},
		{"taesd", p.TAESDPath},
	} {
		if opt.path == "" {
			continue
		}
		info, err := os.Stat(opt.path)
		if err != nil {
			return fmt.Errorf("%w: %s path %s: %v", ErrInvalidContextParams, opt.name, opt.path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s path %s is a directory", ErrInvalidContextParams, opt.name, opt.path)
		}
	}

	if p.LoraModelDir != "" {
		info, err := os.Stat(p.LoraModelDir)
		if err != nil {
			return fmt.Errorf("%w: lora dir %s: %v", ErrInvalidContextParams, p.LoraModelDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: lora dir %s is not a directory", ErrInvalidContextParams, p.LoraModelDir)
		}
	}

	return nil
}

// effectiveThreads resolves the zero value to the number of CPUs.
func (p ContextParams) effectiveThreads() int {
	if p.Threads <= 0 {
		return runtime.NumCPU()
	}
	return p.Threads
}

// GenerateParams holds parameters for image generation.
type GenerateParams struct {
	Prompt         string       // Required: text description of the image to generate
	NegativePrompt string       // Optional: what to avoid in the image
	ClipSkip       int          // CLIP layers to skip (-1 or 0 for model default, 1-12)
	CFGScale       float64      // Classifier-free guidance scale (1.0-30.0)
	Width          int          // Image width in pixels (128-2048, must be divisible by 8)
	Height         int          // Image height in pixels (128-2048, must be divisible by 8)
	SampleMethod   SampleMethod // Sampling algorithm
	Steps          int          // Number of inference steps (1-100)
	Seed           int64        // Random seed for reproducibility (-1 for random)
	BatchCount     int          // Images to generate (0 is treated as 1, max 16)
}

// Parameter validation constants
const (
	MinImageSize     = 128
	MaxImageSize     = 2048
	ImageSizeMultple = 8 // Image dimensions must be divisible by this

	MinSteps = 1
	MaxSteps = 100

	MinCFGScale = 1.0
	MaxCFGScale = 30.0

	MaxClipSkip = 12

	MaxBatchCount = 16

	MaxPromptLength = 1000

	// RandomSeedValue asks for a freshly drawn seed.
	RandomSeedValue int64 = -1

	// MaxSeed leaves room for Seed+i across a full batch without overflow.
	MaxSeed int64 = math.MaxInt64 - MaxBatchCount

	// DefaultClipSkip lets the library pick the layer count for the model.
	DefaultClipSkip = -1

	// ImageChannels is the channel count of every generated image (RGBA).
	ImageChannels = 4
)

// DefaultParams returns sensible default parameters for image generation.
// The caller should at minimum set the Prompt field.
//
// Default values:
//   - Width: 512
//   - Height: 512
//   - Steps: 20
//   - CFGScale: 7.0
//   - SampleMethod: euler_a
//   - ClipSkip: -1 (model default)
//   - Seed: -1 (random)
//   - BatchCount: 1
func DefaultParams() GenerateParams {
	return GenerateParams{
		Prompt:         "",
		NegativePrompt: "",
		ClipSkip:       DefaultClipSkip,
		CFGScale:       7.0,
		Width:          512,
		Height:         512,
		SampleMethod:   SampleEulerA,
		Steps:          20,
		Seed:           RandomSeedValue,
		BatchCount:     1,
	}
}

// normalized returns p with zero values that carry a default meaning resolved.
func (p GenerateParams) normalized() GenerateParams {
	if p.BatchCount == 0 {
		p.BatchCount = 1
	}
	if p.ClipSkip == 0 {
		p.ClipSkip = DefaultClipSkip
	}
	return p
}

// ValidateParams validates generation parameters and returns an error if invalid.
// Zero values with a default meaning are resolved first, so BatchCount 0
// validates as 1 and ClipSkip 0 as -1. This is a pure function.
func ValidateParams(p GenerateParams) error {
	p = p.normalized()

	// Validate prompt
	if err := ValidatePrompt(p.Prompt); err != nil {
		return err
	}

	// Validate width
	if p.Width < MinImageSize || p.Width > MaxImageSize {
		return fmt.Errorf("%w: width %d must be between %d and %d",
			ErrInvalidParams, p.Width, MinImageSize, MaxImageSize)
	}
	if p.Width%ImageSizeMultple != 0 {
		return fmt.Errorf("%w: width %d must be divisible by %d",
			ErrInvalidParams, p.Width, ImageSizeMultple)
	}

	// Validate height
	if p.Height < MinImageSize || p.Height > MaxImageSize {
		return fmt.Errorf("%w: height %d must be between %d and %d",
			ErrInvalidParams, p.Height, MinImageSize, MaxImageSize)
	}
	if p.Height%ImageSizeMultple != 0 {
		return fmt.Errorf("%w: height %d must be divisible by %d",
			ErrInvalidParams, p.Height, ImageSizeMultple)
	}

	// Validate steps
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}

	// Validate CFG scale
	if p.CFGScale < MinCFGScale || p.CFGScale > MaxCFGScale {
		return fmt.Errorf("%w: CFGScale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, p.CFGScale, MinCFGScale, MaxCFGScale)
	}

	if !p.SampleMethod.Valid() {
		return fmt.Errorf("%w: sample method %d is not supported", ErrInvalidParams, int(p.SampleMethod))
	}

	if p.ClipSkip < DefaultClipSkip || p.ClipSkip > MaxClipSkip {
		return fmt.Errorf("%w: clip skip %d must be -1 or between 1 and %d",
			ErrInvalidParams, p.ClipSkip, MaxClipSkip)
	}

	if p.BatchCount < 1 || p.BatchCount > MaxBatchCount {
		return fmt.Errorf("%w: batch count %d must be between 1 and %d",
			ErrInvalidParams, p.BatchCount, MaxBatchCount)
	}

	// Only -1 is reserved; other negative seeds are rejected.
	if p.Seed < RandomSeedValue {
		return fmt.Errorf("%w: seed %d must be -1 or non-negative", ErrInvalidParams, p.Seed)
	}
	if p.Seed > MaxSeed {
		return fmt.Errorf("%w: seed %d exceeds maximum %d", ErrInvalidParams, p.Seed, MaxSeed)
	}

	// Negative prompt is optional, but if provided, validate length
	if len(p.NegativePrompt) > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt length %d exceeds maximum %d",
			ErrInvalidParams, len(p.NegativePrompt), MaxPromptLength)
	}
	if strings.ContainsRune(p.NegativePrompt, '\x00') {
		return fmt.Errorf("%w: negative prompt contains null bytes", ErrInvalidParams)
	}

	return nil
}

// GenerateResult holds the result of an image generation operation.
type GenerateResult struct {
	// Images holds exactly BatchCount images, in generation order.
	Images []Image
	// Seed is the base seed used; image i was generated with Seed+i.
	// It differs from the requested seed when -1 was specified.
	Seed int64
	// Params are the normalized parameters the library was called with.
	Params GenerateParams
	// Duration is the wall time spent inside the native call.
	Duration time.Duration
}

// ImageSeed returns the seed that produced image i of the batch.
func (r *GenerateResult) ImageSeed(i int) int64 {
	return r.Seed + int64(i)
}
