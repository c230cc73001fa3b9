package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GPUReader reads a single GPU sample.
type GPUReader interface {
	ReadGPUMetrics(ctx context.Context) (GPUMetrics, error)
}

// GPUCollectorConfig configures a GPUCollector.
type GPUCollectorConfig struct {
	CollectionInterval time.Duration // sampling period, at least 100ms
	HistorySize        int           // samples kept
	Logger             *zap.Logger   // availability changes; nil discards
}

// DefaultGPUCollectorConfig samples once a second and keeps ten minutes.
func DefaultGPUCollectorConfig() GPUCollectorConfig {
	return GPUCollectorConfig{
		CollectionInterval: time.Second,
		HistorySize:        600,
	}
}

// GPUCollector samples a GPUReader in the background while a generation runs.
type GPUCollector struct {
	config    GPUCollectorConfig
	reader    GPUReader
	logger    *zap.Logger
	onMetrics func(GPUMetrics)

	mu        sync.RWMutex
	history   *ring[GPUMetrics]
	current   GPUMetrics
	available bool
	lastErr   error
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewGPUCollector creates a collector. onMetrics, if non-nil, receives every
// successful sample; GenerationStore.UpdateGPUMetrics fits directly.
func NewGPUCollector(config GPUCollectorConfig, reader GPUReader, onMetrics func(GPUMetrics)) *GPUCollector {
	def := DefaultGPUCollectorConfig()
	if config.CollectionInterval < 100*time.Millisecond {
		config.CollectionInterval = def.CollectionInterval
	}
	if config.HistorySize < 1 {
		config.HistorySize = def.HistorySize
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GPUCollector{
		config:    config,
		reader:    reader,
		logger:    logger.Named("gpu"),
		onMetrics: onMetrics,
		history:   newRing[GPUMetrics](config.HistorySize),
	}
}

// Start samples immediately and then every CollectionInterval until ctx is
// done or Stop is called.
func (c *GPUCollector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop halts collection and waits for the sampling goroutine. It is safe to
// call without Start and more than once.
func (c *GPUCollector) Stop() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// IsAvailable reports whether the last sample succeeded.
func (c *GPUCollector) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// GetLastError returns the error from the last sample, if any.
func (c *GPUCollector) GetLastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// GetCurrentMetrics returns the last successful sample.
func (c *GPUCollector) GetCurrentMetrics() GPUMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// GetHistory returns up to limit samples, oldest first.
func (c *GPUCollector) GetHistory(limit int) []GPUMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.history.last(limit)
}

// GetHistorySize returns the number of samples held.
func (c *GPUCollector) GetHistorySize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.history.len()
}

func (c *GPUCollector) run(ctx context.Context) {
	c.collectOnce(ctx)

	ticker := time.NewTicker(c.config.CollectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *GPUCollector) collectOnce(ctx context.Context) {
	sample, err := c.reader.ReadGPUMetrics(ctx)

	c.mu.Lock()
	was := c.available
	c.available = err == nil
	c.lastErr = err
	if err == nil {
		c.current = sample
		c.history.push(sample)
	}
	c.mu.Unlock()

	switch {
	case err != nil && was:
		c.logger.Debug("GPU sampling lost", zap.Error(err))
	case err == nil && !was:
		c.logger.Debug("GPU sampling available",
			zap.Int64("memory_total", sample.MemoryTotal))
	}

	if err == nil && c.onMetrics != nil {
		c.onMetrics(sample)
	}
}
