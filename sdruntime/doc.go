// Package sdruntime wraps the stable-diffusion.cpp C API for text-to-image
// generation.
//
// A Context owns one loaded model. It is created from ContextParams, used
// sequentially through Generate and released with Close:
//
//	sdCtx, err := sdruntime.LoadModel("/models/v1-5-pruned-emaonly.safetensors")
//	if err != nil {
//	    return err
//	}
//	defer sdCtx.Close()
//
//	params := sdruntime.DefaultParams()
//	params.Prompt = "a lighthouse at dusk, oil painting"
//	params.BatchCount = 4
//
//	result, err := sdCtx.Generate(ctx, params)
//	if err != nil {
//	    return err
//	}
//	for i, img := range result.Images {
//	    // img.Data is width*height*4 bytes of RGBA; seed result.ImageSeed(i)
//	}
//
// ContextPool and Generator share a bounded set of contexts between
// goroutines. Generator also logs every generation with zap and reports it
// to an optional Observer.
//
// # Configuration
//
// LoadSDConfig reads SD_* environment variables (SD_MODEL_PATH,
// SD_IMAGE_SIZE, SD_SAMPLE_METHOD, ...); LoadSDConfigFile overlays a YAML
// file on top of them.
//
// # Build Tags
//
//   - Default: a deterministic reference engine stands in for the library.
//     Model files must exist and have a recognized header; generated pixels
//     depend only on the seed and parameters.
//   - CGO_ENABLED=1 go build -tags sd: links lib/libstable-diffusion against
//     deps/stable-diffusion.cpp/include/stable-diffusion.h.
//
// # Errors
//
// Failures wrap the sentinel errors in errors.go and can be tested with
// errors.Is. Failures inside the native library are reported as *SDError.
package sdruntime
