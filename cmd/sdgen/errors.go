package main

import (
	"context"
	"errors"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/sdruntime"
)

// exitError attaches a process exit code to an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func usageError(err error) error {
	return withExitCode(core.ExitCodeUsage, err)
}

// classify picks an exit code from the error's sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}

	switch {
	case errors.Is(err, sdruntime.ErrModelNotFound),
		errors.Is(err, sdruntime.ErrModelCorrupted),
		errors.Is(err, sdruntime.ErrModelLoadFailed):
		return withExitCode(core.ExitCodeModel, err)
	case errors.Is(err, sdruntime.ErrInvalidParams),
		errors.Is(err, sdruntime.ErrInvalidPrompt),
		errors.Is(err, sdruntime.ErrInvalidContextParams):
		return usageError(err)
	case errors.Is(err, sdruntime.ErrGenerationCanceled), errors.Is(err, context.Canceled):
		return withExitCode(core.ExitCodeSIGINT, err)
	default:
		return err
	}
}

// exitCode returns the code carried by err, or ExitCodeError.
func exitCode(err error) int {
	if err == nil {
		return core.ExitCodeSuccess
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return core.ExitCodeError
}
