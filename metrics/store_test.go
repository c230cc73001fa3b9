package metrics

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jaypaulb/sdbridge/sdruntime"
)

func record(sampler, status string, steps int, d time.Duration) GenerationRecord {
	return GenerationRecord{
		ID:           fmt.Sprintf("%s-%d", sampler, d),
		SampleMethod: sampler,
		Steps:        steps,
		Images:       1,
		Status:       status,
		Duration:     d,
	}
}

func TestNewGenerationStore(t *testing.T) {
	store := NewGenerationStore(StoreConfig{HistoryCapacity: 0}, time.Now())
	if n := len(store.history.buf); n != 100 {
		t.Errorf("expected default capacity 100, got %d", n)
	}
	if got := store.GetRecentGenerations(10); len(got) != 0 {
		t.Errorf("expected empty history, got %d records", len(got))
	}
	if store.GetGenerationMetrics().SuccessRate() != 0 {
		t.Error("empty store should report 0% success")
	}
}

func TestGenerationStore_Aggregates(t *testing.T) {
	store := NewGenerationStore(DefaultStoreConfig(), time.Now())

	store.RecordGeneration(record("euler_a", StatusSuccess, 20, 10*time.Second))
	store.RecordGeneration(record("euler_a", StatusSuccess, 20, 6*time.Second))
	store.RecordGeneration(record("euler_a", StatusError, 20, time.Second))
	store.RecordGeneration(record("lcm", StatusSuccess, 4, 2*time.Second))

	m := store.GetGenerationMetrics()
	if m.TotalRuns != 4 || m.TotalSuccess != 3 || m.TotalErrors != 1 {
		t.Errorf("unexpected totals: %+v", m)
	}
	if m.TotalImages != 3 {
		t.Errorf("TotalImages = %d, want 3", m.TotalImages)
	}
	if m.SuccessRate() != 75 {
		t.Errorf("SuccessRate() = %v, want 75", m.SuccessRate())
	}

	euler := m.BySampler["euler_a"]
	if euler == nil {
		t.Fatal("missing euler_a stats")
	}
	if euler.Count != 3 {
		t.Errorf("euler_a count = %d, want 3", euler.Count)
	}
	if euler.AvgDuration != 8*time.Second {
		t.Errorf("euler_a avg = %v, want 8s", euler.AvgDuration)
	}
	if euler.AvgSecondsPerStep != 0.4 {
		t.Errorf("euler_a s/step = %v, want 0.4", euler.AvgSecondsPerStep)
	}

	if lcm := m.BySampler["lcm"]; lcm.AvgSecondsPerStep != 0.5 || lcm.SuccessRate != 100 {
		t.Errorf("unexpected lcm stats: %+v", lcm)
	}
}

func TestGenerationStore_RingBuffer(t *testing.T) {
	store := NewGenerationStore(StoreConfig{HistoryCapacity: 3}, time.Now())
	for i := 1; i <= 5; i++ {
		store.RecordGeneration(GenerationRecord{ID: fmt.Sprint(i), Status: StatusSuccess})
	}

	recent := store.GetRecentGenerations(10)
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	for i, want := range []string{"3", "4", "5"} {
		if recent[i].ID != want {
			t.Errorf("recent[%d].ID = %s, want %s", i, recent[i].ID, want)
		}
	}

	last := store.GetRecentGenerations(1)
	if len(last) != 1 || last[0].ID != "5" {
		t.Errorf("GetRecentGenerations(1) = %+v", last)
	}

	if store.GetGenerationMetrics().TotalRuns != 5 {
		t.Error("aggregates should include rotated records")
	}
}

func TestGenerationStore_ObserveGeneration(t *testing.T) {
	store := NewGenerationStore(DefaultStoreConfig(), time.Now())

	params := sdruntime.DefaultParams()
	params.Seed = 42
	params.SampleMethod = sdruntime.SampleDPMPP2M

	store.ObserveGeneration(sdruntime.GenerationStats{
		ModelPath: "m.safetensors",
		Params:    params,
		Images:    1,
		Duration:  time.Second,
	})
	store.ObserveGeneration(sdruntime.GenerationStats{
		Params: params,
		Err:    fmt.Errorf("wrap: %w", sdruntime.ErrGenerationCanceled),
	})
	store.ObserveGeneration(sdruntime.GenerationStats{
		Params: params,
		Err:    errors.New("boom"),
	})

	recent := store.GetRecentGenerations(3)
	if recent[0].Status != StatusSuccess || recent[0].SampleMethod != "dpmpp_2m" || recent[0].Seed != 42 {
		t.Errorf("unexpected success record: %+v", recent[0])
	}
	if recent[0].ID == "" || recent[0].ID == recent[1].ID {
		t.Error("records should get unique IDs")
	}
	if recent[1].Status != StatusCanceled {
		t.Errorf("status = %s, want canceled", recent[1].Status)
	}
	if recent[2].Status != StatusError || recent[2].ErrorMsg != "boom" {
		t.Errorf("unexpected error record: %+v", recent[2])
	}
}

func TestGenerationStore_GPUPeak(t *testing.T) {
	store := NewGenerationStore(DefaultStoreConfig(), time.Now())
	store.UpdateGPUMetrics(GPUMetrics{MemoryUsed: 4 << 30})
	store.UpdateGPUMetrics(GPUMetrics{MemoryUsed: 6 << 30})
	store.UpdateGPUMetrics(GPUMetrics{MemoryUsed: 1 << 30})

	if store.GetGPUMetrics().MemoryUsed != 1<<30 {
		t.Error("GetGPUMetrics should return the latest sample")
	}
	if store.PeakGPUMemory() != 6<<30 {
		t.Errorf("PeakGPUMemory() = %d, want %d", store.PeakGPUMemory(), int64(6<<30))
	}
}

func TestGenerationStore_Concurrent(t *testing.T) {
	store := NewGenerationStore(StoreConfig{HistoryCapacity: 10}, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.RecordGeneration(record("euler", StatusSuccess, 10, time.Millisecond))
				store.GetRecentGenerations(5)
				store.GetGenerationMetrics()
			}
		}()
	}
	wg.Wait()

	if got := store.GetGenerationMetrics().TotalRuns; got != 400 {
		t.Errorf("TotalRuns = %d, want 400", got)
	}
}

func TestGenerationRecord_SecondsPerStep(t *testing.T) {
	if got := (GenerationRecord{Steps: 10, Duration: 5 * time.Second}).SecondsPerStep(); got != 0.5 {
		t.Errorf("SecondsPerStep() = %v, want 0.5", got)
	}
	if got := (GenerationRecord{Duration: time.Second}).SecondsPerStep(); got != 0 {
		t.Errorf("SecondsPerStep() with no steps = %v", got)
	}
}

func TestRing(t *testing.T) {
	r := newRing[int](3)
	if got := r.last(5); len(got) != 0 {
		t.Fatalf("empty ring last() = %v", got)
	}
	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	if r.len() != 3 {
		t.Errorf("len() = %d, want 3", r.len())
	}
	tests := []struct {
		k    int
		want []int
	}{
		{1, []int{5}},
		{2, []int{4, 5}},
		{10, []int{3, 4, 5}},
		{0, []int{}},
	}
	for _, tt := range tests {
		got := r.last(tt.k)
		if len(got) != len(tt.want) {
			t.Errorf("last(%d) = %v, want %v", tt.k, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("last(%d) = %v, want %v", tt.k, got, tt.want)
				break
			}
		}
	}
}
