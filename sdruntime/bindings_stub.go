//go:build !sd || !cgo || stub

// Stub implementation of the native bindings for when stable-diffusion.cpp
// is not linked. It behaves like the library at the boundary: model files
// must exist and carry a recognized header, and generation returns RGBA
// images of the requested size. Pixels come from a PRNG keyed on the seed
// and every generation parameter, so identical calls give identical bytes.

package sdruntime

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync/atomic"
)

const stubBuild = true

// stubContextCounter generates unique IDs for stub contexts
var stubContextCounter uint64

// nativeContext is the stub stand-in for sd_ctx_t.
type nativeContext struct {
	id     uint64
	format ModelFormat
	params ContextParams
}

// createNativeContext is the stub implementation of sd_ctx_create.
func createNativeContext(p ContextParams) (*nativeContext, error) {
	format, err := DetectModelFormat(p.ModelPath)
	if err != nil {
		return nil, newSDError("sd_ctx_create", ErrModelCorrupted, "%s: %v", p.ModelPath, err)
	}

	return &nativeContext{
		id:     atomic.AddUint64(&stubContextCounter, 1),
		format: format,
		params: p,
	}, nil
}

// free is the stub implementation of sd_ctx_free. Safe on nil.
func (n *nativeContext) free() {}

// txt2img is the stub implementation of txt2img.
func (n *nativeContext) txt2img(p GenerateParams) ([]Image, error) {
	if n == nil {
		return nil, newSDError("txt2img", ErrGenerationFailed, "null context")
	}

	key := stubParamKey(p)
	images := make([]Image, p.BatchCount)
	for i := range images {
		images[i] = stubRender(p.Width, p.Height, uint64(p.Seed+int64(i)), key)
	}
	return images, nil
}

// stubParamKey hashes every parameter except the seed and batch count.
func stubParamKey(p GenerateParams) uint64 {
	h := fnv.New64a()
	h.Write([]byte(p.Prompt))
	h.Write([]byte{0})
	h.Write([]byte(p.NegativePrompt))
	h.Write([]byte{0})

	var buf [8]byte
	for _, v := range []uint64{
		uint64(p.ClipSkip),
		math.Float64bits(p.CFGScale),
		uint64(p.Width),
		uint64(p.Height),
		uint64(p.SampleMethod),
		uint64(p.Steps),
	} {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// stubRender draws a diagonal gradient with seeded noise.
func stubRender(width, height int, seed, key uint64) Image {
	rng := rand.New(rand.NewPCG(seed, key))
	base := [3]int{rng.IntN(256), rng.IntN(256), rng.IntN(256)}

	data := make([]byte, ImageDataSize(width, height))
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := (x + y) * 255 / (width + height)
			for c := 0; c < 3; c++ {
				data[i+c] = byte((base[c] + g + rng.IntN(16)) & 0xFF)
			}
			data[i+3] = 0xFF
			i += ImageChannels
		}
	}
	return Image{Data: data, Width: width, Height: height, Channels: ImageChannels}
}

// backendInfoImpl returns backend info for stub mode.
func backendInfoImpl() string {
	return "stub (no stable-diffusion.cpp library linked)"
}

// versionImpl returns the version reported in stub mode.
func versionImpl() string {
	return "stub"
}

// cudaAvailableImpl always reports false in stub mode.
func cudaAvailableImpl() bool {
	return false
}
