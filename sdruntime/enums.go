package sdruntime

import (
	"fmt"
	"strings"
)

// SampleMethod represents the sampling algorithm for diffusion.
// Values match sd_sample_method_t ordinals and must not be renumbered.
type SampleMethod int

const (
	// SampleEulerA is Euler Ancestral sampling (fast, good quality).
	SampleEulerA SampleMethod = 0
	// SampleEuler is deterministic Euler sampling.
	SampleEuler SampleMethod = 1
	// SampleHeun is Heun's method (slower, higher quality).
	SampleHeun SampleMethod = 2
	// SampleDPM2 is DPM2 sampling.
	SampleDPM2 SampleMethod = 3
	// SampleDPMPP2SA is DPM++ 2S Ancestral sampling.
	SampleDPMPP2SA SampleMethod = 4
	// SampleDPMPP2M is DPM++ 2M sampling (recommended).
	SampleDPMPP2M SampleMethod = 5
	// SampleDPMPP2MV2 is the v2 variant of DPM++ 2M.
	SampleDPMPP2MV2 SampleMethod = 6
	// SampleLCM is LCM sampling (very fast, requires an LCM-distilled model).
	SampleLCM SampleMethod = 7
)

var sampleMethodNames = [...]string{
	SampleEulerA:    "euler_a",
	SampleEuler:     "euler",
	SampleHeun:      "heun",
	SampleDPM2:      "dpm2",
	SampleDPMPP2SA:  "dpmpp_2s_a",
	SampleDPMPP2M:   "dpmpp_2m",
	SampleDPMPP2MV2: "dpmpp_2m_v2",
	SampleLCM:       "lcm",
}

// SampleMethods returns every sample method in ordinal order.
func SampleMethods() []SampleMethod {
	methods := make([]SampleMethod, len(sampleMethodNames))
	for i := range sampleMethodNames {
		methods[i] = SampleMethod(i)
	}
	return methods
}

// Valid reports whether s is one of the eight known sample methods.
func (s SampleMethod) Valid() bool {
	return s >= 0 && int(s) < len(sampleMethodNames)
}

// String returns the human-readable name of the sample method.
func (s SampleMethod) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return sampleMethodNames[s]
}

// ParseSampleMethod converts a name such as "dpmpp_2m" to a SampleMethod.
// Matching is case-insensitive and accepts '-' in place of '_'.
func ParseSampleMethod(s string) (SampleMethod, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, n := range sampleMethodNames {
		if n == name {
			return SampleMethod(i), nil
		}
	}
	return SampleEulerA, fmt.Errorf("%w: unknown sample method %q", ErrInvalidParams, s)
}

// ModelType identifies the model architecture generation.
// Values match sd_model_type_t ordinals.
type ModelType int

const (
	// ModelTypeUnknown is returned by inspection when the family cannot be inferred.
	ModelTypeUnknown ModelType = -1
	// ModelTypeSD1 is Stable Diffusion 1.x.
	ModelTypeSD1 ModelType = 0
	// ModelTypeSD2 is Stable Diffusion 2.x.
	ModelTypeSD2 ModelType = 1
	// ModelTypeSDXL is Stable Diffusion XL.
	ModelTypeSDXL ModelType = 2
	// ModelTypeSD3 is Stable Diffusion 3.
	ModelTypeSD3 ModelType = 3
)

var modelTypeNames = [...]string{
	ModelTypeSD1:  "sd1",
	ModelTypeSD2:  "sd2",
	ModelTypeSDXL: "sdxl",
	ModelTypeSD3:  "sd3",
}

// Valid reports whether t is a known model family.
func (t ModelType) Valid() bool {
	return t >= 0 && int(t) < len(modelTypeNames)
}

// String returns the short name of the model family.
func (t ModelType) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return modelTypeNames[t]
}

// ParseModelType converts a name such as "sdxl" to a ModelType.
func ParseModelType(s string) (ModelType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range modelTypeNames {
		if n == name {
			return ModelType(i), nil
		}
	}
	return ModelTypeUnknown, fmt.Errorf("unknown model type: %q", s)
}

// NativeSize returns the training resolution for the model family,
// or 0 when it is unknown.
func (t ModelType) NativeSize() int {
	switch t {
	case ModelTypeSD1:
		return 512
	case ModelTypeSD2:
		return 768
	case ModelTypeSDXL, ModelTypeSD3:
		return 1024
	default:
		return 0
	}
}
