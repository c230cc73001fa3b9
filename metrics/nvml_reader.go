//go:build nvml && cgo

package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLReader samples the first GPU through libnvidia-ml, without spawning
// nvidia-smi for every sample.
type NVMLReader struct {
	mu     sync.Mutex
	device nvml.Device
	closed bool
}

// NewNVMLReader initializes NVML. Close releases it.
func NewNVMLReader() (*NVMLReader, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
	}
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, fmt.Errorf("nvml device count: %s", nvml.ErrorString(ret))
	}
	if count == 0 {
		nvml.Shutdown()
		return nil, ErrNoGPU
	}
	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, fmt.Errorf("nvml device 0: %s", nvml.ErrorString(ret))
	}
	return &NVMLReader{device: device}, nil
}

// ReadGPUMetrics implements GPUReader.
func (r *NVMLReader) ReadGPUMetrics(ctx context.Context) (GPUMetrics, error) {
	if err := ctx.Err(); err != nil {
		return GPUMetrics{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return GPUMetrics{}, fmt.Errorf("nvml reader is closed")
	}

	var m GPUMetrics
	if util, ret := r.device.GetUtilizationRates(); ret == nvml.SUCCESS {
		m.Utilization = float64(util.Gpu)
	}
	if temp, ret := r.device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		m.Temperature = float64(temp)
	}
	mem, ret := r.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return GPUMetrics{}, fmt.Errorf("nvml memory info: %s", nvml.ErrorString(ret))
	}
	m.MemoryTotal = int64(mem.Total)
	m.MemoryUsed = int64(mem.Used)
	m.MemoryFree = int64(mem.Free)
	return m, nil
}

// Close shuts NVML down. Safe to call more than once.
func (r *NVMLReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}

// NewDefaultGPUReader prefers NVML and falls back to nvidia-smi when the
// library cannot be loaded.
func NewDefaultGPUReader() (GPUReader, func() error) {
	if r, err := NewNVMLReader(); err == nil {
		return r, r.Close
	}
	return NewNvidiaSMIReader(""), func() error { return nil }
}
