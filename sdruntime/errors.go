package sdruntime

import (
	"errors"
	"fmt"
)

// Sentinel errors for SD runtime operations.
// These are domain-specific errors that provide clear failure modes.
var (
	// Model-related errors
	ErrModelNotFound   = errors.New("sdruntime: model file not found")
	ErrModelLoadFailed = errors.New("sdruntime: failed to load model")
	ErrModelCorrupted  = errors.New("sdruntime: model file is corrupted or invalid")

	// Context lifecycle errors
	ErrInvalidContextParams = errors.New("sdruntime: invalid context parameters")
	ErrContextClosed        = errors.New("sdruntime: context is closed")

	// Generation errors
	ErrGenerationFailed   = errors.New("sdruntime: image generation failed")
	ErrGenerationTimeout  = errors.New("sdruntime: image generation timed out")
	ErrGenerationCanceled = errors.New("sdruntime: image generation canceled")

	// Input validation errors
	ErrInvalidPrompt = errors.New("sdruntime: invalid prompt")
	ErrInvalidParams = errors.New("sdruntime: invalid generation parameters")

	// Returned by BackendReport.RequireCUDA
	ErrCUDANotAvailable = errors.New("sdruntime: CUDA not available")

	// Context pool errors
	ErrContextPoolClosed = errors.New("sdruntime: context pool is closed")
	ErrAcquireTimeout    = errors.New("sdruntime: timeout acquiring context from pool")
)

// SDError describes a failure at the native library boundary.
// The C API only reports failure by returning NULL, so Op and Message carry
// what the Go side knows about the call that failed.
type SDError struct {
	Op      string // Native operation (e.g., "sd_ctx_create", "txt2img")
	Message string // Human-readable description
	Err     error  // Sentinel kind, usable with errors.Is
}

// Error implements the error interface.
func (e *SDError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stable-diffusion.cpp %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("stable-diffusion.cpp %s: %s", e.Op, e.Message)
}

// Unwrap returns the sentinel kind so errors.Is works through SDError.
func (e *SDError) Unwrap() error {
	return e.Err
}

// newSDError builds an SDError for op wrapping the given sentinel.
func newSDError(op string, kind error, format string, args ...interface{}) *SDError {
	return &SDError{
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     kind,
	}
}
