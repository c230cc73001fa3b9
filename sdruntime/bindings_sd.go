//go:build sd && cgo && !stub

// Real CGo implementation of stable-diffusion.cpp bindings.
// Build with: CGO_ENABLED=1 go build -tags sd
//
// Prerequisites:
//   1. stable-diffusion.cpp compiled as a shared library into lib/
//   2. Header at deps/stable-diffusion.cpp/include/stable-diffusion.h
//
// Example with a library elsewhere:
//   CGO_LDFLAGS="-L${SD_CPP_PATH}/build -Wl,-rpath,${SD_CPP_PATH}/build" \
//   go build -tags sd

package sdruntime

/*
#cgo CFLAGS: -I${SRCDIR}/../deps/stable-diffusion.cpp/include
#cgo LDFLAGS: -L${SRCDIR}/../lib -lstable-diffusion -lm -lstdc++
#cgo linux LDFLAGS: -Wl,-rpath,${SRCDIR}/../lib
#cgo windows LDFLAGS: -lstable-diffusion

#include <stdlib.h>
#include <stdint.h>
#include <stdbool.h>
#include "stable-diffusion.h"
*/
import "C"

import (
	"unsafe"
)

const stubBuild = false

// nativeContext wraps a C sd_ctx_t pointer.
type nativeContext struct {
	ptr *C.sd_ctx_t
}

// cSampleMethods maps Go sample methods onto the header's enum constants.
var cSampleMethods = map[SampleMethod]C.sd_sample_method_t{
	SampleEulerA:    C.SD_SAMPLE_EULER_A,
	SampleEuler:     C.SD_SAMPLE_EULER,
	SampleHeun:      C.SD_SAMPLE_HEUN,
	SampleDPM2:      C.SD_SAMPLE_DPM2,
	SampleDPMPP2SA:  C.SD_SAMPLE_DPMPP_2S_A,
	SampleDPMPP2M:   C.SD_SAMPLE_DPMPP_2M,
	SampleDPMPP2MV2: C.SD_SAMPLE_DPMPP_2M_V2,
	SampleLCM:       C.SD_SAMPLE_LCM,
}

// The build fails here if a Go ordinal drifts from the header.
func _() {
	var x [1]struct{}
	_ = x[int(C.SD_SAMPLE_EULER_A)-int(SampleEulerA)]
	_ = x[int(C.SD_SAMPLE_EULER)-int(SampleEuler)]
	_ = x[int(C.SD_SAMPLE_HEUN)-int(SampleHeun)]
	_ = x[int(C.SD_SAMPLE_DPM2)-int(SampleDPM2)]
	_ = x[int(C.SD_SAMPLE_DPMPP_2S_A)-int(SampleDPMPP2SA)]
	_ = x[int(C.SD_SAMPLE_DPMPP_2M)-int(SampleDPMPP2M)]
	_ = x[int(C.SD_SAMPLE_DPMPP_2M_V2)-int(SampleDPMPP2MV2)]
	_ = x[int(C.SD_SAMPLE_LCM)-int(SampleLCM)]
	_ = x[int(C.SD_TYPE_SD1)-int(ModelTypeSD1)]
	_ = x[int(C.SD_TYPE_SD2)-int(ModelTypeSD2)]
	_ = x[int(C.SD_TYPE_SDXL)-int(ModelTypeSDXL)]
	_ = x[int(C.SD_TYPE_SD3)-int(ModelTypeSD3)]
}

// optionalCString returns NULL for an empty string.
// The result must be released with C.free (which accepts NULL).
func optionalCString(s string) *C.char {
	if s == "" {
		return nil
	}
	return C.CString(s)
}

// createNativeContext calls sd_ctx_create.
func createNativeContext(p ContextParams) (*nativeContext, error) {
	cModelPath := C.CString(p.ModelPath)
	defer C.free(unsafe.Pointer(cModelPath))

	cVAEPath := optionalCString(p.VAEPath)
	defer C.free(unsafe.Pointer(cVAEPath))

	cTAESDPath := optionalCString(p.TAESDPath)
	defer C.free(unsafe.Pointer(cTAESDPath))

	cLoraDir := optionalCString(p.LoraModelDir)
	defer C.free(unsafe.Pointer(cLoraDir))

	ptr := C.sd_ctx_create(
		cModelPath,
		cVAEPath,
		cTAESDPath,
		cLoraDir,
		C.bool(p.VAEDecodeOnly),
		C.int(p.Threads),
		C.bool(p.VAETiling),
		C.bool(p.FreeParamsImmediately),
	)
	if ptr == nil {
		return nil, newSDError("sd_ctx_create", ErrModelLoadFailed,
			"library returned null context for %s", p.ModelPath)
	}

	return &nativeContext{ptr: ptr}, nil
}

// free calls sd_ctx_free. Safe on nil and on an already-freed context.
func (n *nativeContext) free() {
	if n == nil || n.ptr == nil {
		return
	}
	C.sd_ctx_free(n.ptr)
	n.ptr = nil
}

// txt2img calls the library and copies the returned descriptors into Go
// memory. The returned array holds BatchCount contiguous sd_image_t values
// and is released with a single sd_free_image call on its base pointer.
func (n *nativeContext) txt2img(p GenerateParams) ([]Image, error) {
	if n == nil || n.ptr == nil {
		return nil, newSDError("txt2img", ErrGenerationFailed, "null context")
	}

	method, ok := cSampleMethods[p.SampleMethod]
	if !ok {
		return nil, newSDError("txt2img", ErrInvalidParams, "unsupported sample method %s", p.SampleMethod)
	}

	cPrompt := C.CString(p.Prompt)
	defer C.free(unsafe.Pointer(cPrompt))

	cNegPrompt := C.CString(p.NegativePrompt)
	defer C.free(unsafe.Pointer(cNegPrompt))

	out := C.txt2img(
		n.ptr,
		cPrompt,
		cNegPrompt,
		C.int(p.ClipSkip),
		C.float(p.CFGScale),
		C.int(p.Width),
		C.int(p.Height),
		method,
		C.int(p.Steps),
		C.int64_t(p.Seed),
		C.int(p.BatchCount),
	)
	if out == nil {
		return nil, newSDError("txt2img", ErrGenerationFailed, "library returned null image")
	}
	defer C.sd_free_image(out)

	descs := unsafe.Slice(out, p.BatchCount)
	images := make([]Image, 0, p.BatchCount)
	for i := range descs {
		d := &descs[i]
		if d.data == nil {
			return nil, newSDError("txt2img", ErrGenerationFailed, "image %d has no pixel data", i)
		}

		width, height, channels := int(d.width), int(d.height), int(d.channels)
		if width <= 0 || height <= 0 || channels <= 0 {
			return nil, newSDError("txt2img", ErrGenerationFailed,
				"image %d has invalid shape %dx%dx%d", i, width, height, channels)
		}

		raw := C.GoBytes(unsafe.Pointer(d.data), C.int(width*height*channels))
		img, err := toRGBA(raw, width, height, channels)
		if err != nil {
			return nil, newSDError("txt2img", ErrGenerationFailed, "image %d: %v", i, err)
		}
		images = append(images, img)
	}

	return images, nil
}

// backendInfoImpl returns backend info from the C library.
func backendInfoImpl() string {
	if info := C.sd_get_backend_info(); info != nil {
		return C.GoString(info)
	}
	return "unknown"
}

// versionImpl returns the library version string.
func versionImpl() string {
	if v := C.sd_get_version(); v != nil {
		return C.GoString(v)
	}
	return "unknown"
}

// cudaAvailableImpl asks the library whether CUDA is usable.
func cudaAvailableImpl() bool {
	return bool(C.sd_cuda_available())
}
