//go:build !nvml || !cgo

package metrics

// NewDefaultGPUReader returns an nvidia-smi reader. Builds with -tags nvml
// read through libnvidia-ml instead.
func NewDefaultGPUReader() (GPUReader, func() error) {
	return NewNvidiaSMIReader(""), func() error { return nil }
}
