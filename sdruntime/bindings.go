// Build-independent half of the stable-diffusion.cpp bindings. The native
// half lives in bindings_sd.go (real library, -tags sd) and bindings_stub.go.
//
// Build requirements for the real implementation:
//   - libstable-diffusion (.so/.dylib/.dll) in lib/
//   - deps/stable-diffusion.cpp/include/stable-diffusion.h
//
//	CGO_ENABLED=1 go build -tags sd ./...

package sdruntime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
)

// Context is a loaded model ready to generate images. It owns one native
// sd_ctx_t and serializes calls into it; the library does not support
// concurrent use of a single context.
//
// A Context must be closed with Close. Close is idempotent and safe on a nil
// *Context. A finalizer frees the native handle if Close is never called.
type Context struct {
	// sem is a one-slot semaphore guarding native; unlike a mutex it lets
	// Generate give up while waiting when its context.Context is done.
	sem    chan struct{}
	native *nativeContext
	params ContextParams
}

// NewContext loads the model described by p and returns a Context.
//
// Error cases:
//   - ErrInvalidContextParams: p fails ValidateContextParams
//   - ErrModelNotFound: p.ModelPath does not exist
//   - ErrModelLoadFailed / ErrModelCorrupted: the library could not load the model
func NewContext(p ContextParams) (*Context, error) {
	if err := ValidateContextParams(p); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.ModelPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, p.ModelPath)
	} else if err != nil {
		return nil, fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, p.ModelPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrModelLoadFailed, p.ModelPath)
	}

	p.Threads = p.effectiveThreads()

	native, err := createNativeContext(p)
	if err != nil {
		return nil, err
	}

	c := &Context{
		sem:    make(chan struct{}, 1),
		native: native,
		params: p,
	}
	runtime.SetFinalizer(c, func(c *Context) {
		c.native.free()
	})
	return c, nil
}

// LoadModel loads a model with DefaultContextParams.
// The returned Context must be closed when no longer needed.
func LoadModel(modelPath string) (*Context, error) {
	return NewContext(DefaultContextParams(modelPath))
}

// Close releases the native context and all resources it owns.
// It waits for an in-flight Generate to finish. Calling Close on a nil or
// already-closed Context is a no-op.
func (c *Context) Close() error {
	if c == nil {
		return nil
	}

	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	if c.native != nil {
		c.native.free()
		c.native = nil
		runtime.SetFinalizer(c, nil)
	}
	return nil
}

// IsValid returns whether this context is loaded and not yet closed.
func (c *Context) IsValid() bool {
	if c == nil {
		return false
	}
	c.sem <- struct{}{}
	defer func() { <-c.sem }()
	return c.native != nil
}

// ModelPath returns the model path used to create this context.
func (c *Context) ModelPath() string {
	if c == nil {
		return ""
	}
	return c.params.ModelPath
}

// Params returns the parameters the context was created with.
func (c *Context) Params() ContextParams {
	if c == nil {
		return ContextParams{}
	}
	return c.params
}

// Generate runs text-to-image generation and returns exactly
// params.BatchCount images. A seed of -1 is replaced by RandomSeed and
// the seed actually used is reported in the result.
//
// ctx bounds the wait for the context and is checked before the native call;
// the native call itself cannot be interrupted.
//
// Error cases:
//   - ErrInvalidParams / ErrInvalidPrompt: params fail ValidateParams
//   - ErrContextClosed: Close has been called
//   - ErrGenerationCanceled / ErrGenerationTimeout: ctx ended first
//   - ErrGenerationFailed: the library returned no images or malformed ones
func (c *Context) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	if c == nil {
		return nil, ErrContextClosed
	}

	params = params.normalized()
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	params.Seed = ResolveSeed(params.Seed)

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	}
	defer func() { <-c.sem }()

	if c.native == nil {
		return nil, ErrContextClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	start := time.Now()
	images, err := c.native.txt2img(params)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	if len(images) != params.BatchCount {
		return nil, newSDError("txt2img", ErrGenerationFailed,
			"expected %d images, got %d", params.BatchCount, len(images))
	}
	for i, img := range images {
		if err := img.Validate(); err != nil {
			return nil, newSDError("txt2img", ErrGenerationFailed, "image %d: %v", i, err)
		}
		if img.Width != params.Width || img.Height != params.Height {
			return nil, newSDError("txt2img", ErrGenerationFailed,
				"image %d is %dx%d, requested %dx%d", i, img.Width, img.Height, params.Width, params.Height)
		}
	}

	return &GenerateResult{
		Images:   images,
		Seed:     params.Seed,
		Params:   params,
		Duration: duration,
	}, nil
}

// contextError maps a context.Context error onto the package sentinels.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGenerationCanceled, err)
}

// BackendReport bundles the library's introspection results.
type BackendReport struct {
	Info          string // e.g. "CUDA", "CPU"
	Version       string // library version string
	CUDAAvailable bool
}

// RequireCUDA returns ErrCUDANotAvailable unless the library can use CUDA.
func (r BackendReport) RequireCUDA() error {
	if r.CUDAAvailable {
		return nil
	}
	return fmt.Errorf("%w: backend is %s", ErrCUDANotAvailable, r.Info)
}

var (
	backendOnce   sync.Once
	backendReport BackendReport
)

// Backend returns the compute backend description, queried once per process.
func Backend() BackendReport {
	backendOnce.Do(func() {
		backendReport = BackendReport{
			Info:          backendInfoImpl(),
			Version:       versionImpl(),
			CUDAAvailable: cudaAvailableImpl(),
		}
	})
	return backendReport
}

// BackendInfo returns a human-readable description of the compute backend.
func BackendInfo() string {
	return Backend().Info
}

// Version returns the stable-diffusion.cpp version string.
func Version() string {
	return Backend().Version
}

// CUDAAvailable reports whether CUDA acceleration is available.
func CUDAAvailable() bool {
	return Backend().CUDAAvailable
}

// IsStub reports whether the package was built without the native library.
func IsStub() bool {
	return stubBuild
}
