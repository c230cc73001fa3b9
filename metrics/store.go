package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaypaulb/sdbridge/sdruntime"
)

// GenerationStore is an in-memory GenerationCollector. It keeps the most
// recent records in a fixed-size ring and aggregates all of them.
//
// It also implements sdruntime.Observer, so it can be attached directly:
//
//	store := metrics.NewGenerationStore(metrics.DefaultStoreConfig(), time.Now())
//	gen, err := sdruntime.NewGenerator(1, params, sdruntime.WithObserver(store))
type GenerationStore struct {
	mu sync.RWMutex

	history *ring[GenerationRecord]

	totalRuns     int64
	totalSuccess  int64
	totalErrors   int64
	totalImages   int64
	totalDuration time.Duration
	bySampler     map[string]*samplerStats

	gpu     GPUMetrics
	peakGPU int64

	startTime time.Time
}

type samplerStats struct {
	count         int64
	successCount  int64
	totalDuration time.Duration
	totalSteps    int64
}

// StoreConfig configures a GenerationStore.
type StoreConfig struct {
	// HistoryCapacity is the number of records retained for GetRecentGenerations.
	HistoryCapacity int
}

// DefaultStoreConfig returns a store that keeps the last 100 generations.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{HistoryCapacity: 100}
}

// NewGenerationStore creates a store. startTime is reported by Uptime.
func NewGenerationStore(config StoreConfig, startTime time.Time) *GenerationStore {
	capacity := config.HistoryCapacity
	if capacity < 1 {
		capacity = 100
	}
	return &GenerationStore{
		history:   newRing[GenerationRecord](capacity),
		bySampler: make(map[string]*samplerStats),
		startTime: startTime,
	}
}

// RecordGeneration adds rec to the history and the aggregates.
func (s *GenerationStore) RecordGeneration(rec GenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.push(rec)

	s.totalRuns++
	s.totalDuration += rec.Duration
	if rec.Status == StatusSuccess {
		s.totalSuccess++
		s.totalImages += int64(rec.Images)
	} else {
		s.totalErrors++
	}

	stats, ok := s.bySampler[rec.SampleMethod]
	if !ok {
		stats = &samplerStats{}
		s.bySampler[rec.SampleMethod] = stats
	}
	stats.count++
	if rec.Status == StatusSuccess {
		stats.successCount++
		stats.totalDuration += rec.Duration
		stats.totalSteps += int64(rec.Steps)
	}
}

// ObserveGeneration implements sdruntime.Observer.
func (s *GenerationStore) ObserveGeneration(stats sdruntime.GenerationStats) {
	s.RecordGeneration(RecordFromStats(stats))
}

// RecordFromStats converts generator statistics into a GenerationRecord with
// a fresh ID.
func RecordFromStats(stats sdruntime.GenerationStats) GenerationRecord {
	rec := GenerationRecord{
		ID:           uuid.NewString(),
		ModelPath:    stats.ModelPath,
		SampleMethod: stats.Params.SampleMethod.String(),
		Steps:        stats.Params.Steps,
		Width:        stats.Params.Width,
		Height:       stats.Params.Height,
		BatchCount:   stats.Params.BatchCount,
		Seed:         stats.Params.Seed,
		Images:       stats.Images,
		Status:       StatusSuccess,
		CompletedAt:  stats.CompletedAt,
		Duration:     stats.Duration,
	}
	if stats.Err != nil {
		rec.Status = StatusError
		if errors.Is(stats.Err, sdruntime.ErrGenerationCanceled) {
			rec.Status = StatusCanceled
		}
		rec.ErrorMsg = stats.Err.Error()
	}
	return rec
}

// GetGenerationMetrics returns the aggregates. Sampler averages only count
// successful runs.
func (s *GenerationStore) GetGenerationMetrics() GenerationMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := GenerationMetrics{
		TotalRuns:     s.totalRuns,
		TotalSuccess:  s.totalSuccess,
		TotalErrors:   s.totalErrors,
		TotalImages:   s.totalImages,
		TotalDuration: s.totalDuration,
		BySampler:     make(map[string]*SamplerMetrics, len(s.bySampler)),
	}

	for name, stats := range s.bySampler {
		sm := &SamplerMetrics{Count: stats.count}
		if stats.count > 0 {
			sm.SuccessRate = float64(stats.successCount) / float64(stats.count) * 100
		}
		if stats.successCount > 0 {
			sm.AvgDuration = stats.totalDuration / time.Duration(stats.successCount)
		}
		if stats.totalSteps > 0 {
			sm.AvgSecondsPerStep = stats.totalDuration.Seconds() / float64(stats.totalSteps)
		}
		m.BySampler[name] = sm
	}

	return m
}

// GetRecentGenerations returns the limit most recent records, oldest first.
func (s *GenerationStore) GetRecentGenerations(limit int) []GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.history.last(limit)
}

// UpdateGPUMetrics stores the latest GPU sample and tracks peak memory.
func (s *GenerationStore) UpdateGPUMetrics(gpu GPUMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpu = gpu
	if gpu.MemoryUsed > s.peakGPU {
		s.peakGPU = gpu.MemoryUsed
	}
}

// GetGPUMetrics returns the latest GPU sample.
func (s *GenerationStore) GetGPUMetrics() GPUMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gpu
}

// PeakGPUMemory returns the highest GPU memory use observed, in bytes.
func (s *GenerationStore) PeakGPUMemory() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peakGPU
}

// Uptime returns the time since the store was created.
func (s *GenerationStore) Uptime() time.Duration {
	return time.Since(s.startTime)
}

var (
	_ GenerationCollector = (*GenerationStore)(nil)
	_ sdruntime.Observer  = (*GenerationStore)(nil)
)
