package metrics

// GenerationCollector records generation runs and GPU samples.
// Implementations must be safe for concurrent use.
type GenerationCollector interface {
	RecordGeneration(rec GenerationRecord)
	GetGenerationMetrics() GenerationMetrics
	// GetRecentGenerations returns up to limit records, oldest first.
	GetRecentGenerations(limit int) []GenerationRecord

	UpdateGPUMetrics(gpu GPUMetrics)
	GetGPUMetrics() GPUMetrics
	// PeakGPUMemory returns the highest MemoryUsed seen so far.
	PeakGPUMemory() int64
}
