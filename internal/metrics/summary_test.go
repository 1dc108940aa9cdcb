package metrics

import (
	"testing"

	"github.com/castbench/castbench/pkg/model"
)

func TestSummarizeLatency(t *testing.T) {
	samples := []model.LatencySample{
		{Milliseconds: 120},
		{Milliseconds: 80},
		{Milliseconds: 200},
	}
	stats := SummarizeLatency(samples)
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.Min != 80 || stats.Max != 200 || stats.Median != 120 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if want := (120.0 + 80 + 200) / 3; stats.Average != want {
		t.Errorf("Average = %f, want %f", stats.Average, want)
	}

	// Even sample counts interpolate the median.
	samples = append(samples, model.LatencySample{Milliseconds: 100})
	if stats = SummarizeLatency(samples); stats.Median != 110 {
		t.Errorf("Median = %f, want 110", stats.Median)
	}
}

func TestSummarizeLatencyEmpty(t *testing.T) {
	stats := SummarizeLatency(nil)
	if stats.Count != 0 || stats.Average != 0 || stats.Min != 0 || stats.Max != 0 || stats.Median != 0 {
		t.Errorf("empty sample set should default to zeroes, got %+v", stats)
	}
}

func TestSummarizeCPU(t *testing.T) {
	samples := []model.CPUSample{
		{Percent: 10},
		{Percent: 30},
		{Percent: 20},
	}
	stats := SummarizeCPU(samples)
	if stats.Min != 10 || stats.Max != 30 || stats.Average != 20 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if empty := SummarizeCPU(nil); empty != (model.CPUStats{}) {
		t.Errorf("empty sample set should default to zeroes, got %+v", empty)
	}
}

func TestSummarizeTLS(t *testing.T) {
	samples := []model.TLSSample{
		{Score: 0.1},
		{Score: 0.5},
	}
	stats := SummarizeTLS(samples)
	if stats.Min != 0.1 || stats.Max != 0.5 || stats.Average != 0.3 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// No legibility samples means nothing legible was observed: worst case.
	empty := SummarizeTLS(nil)
	if empty.Average != 1.0 || empty.Min != 1.0 || empty.Max != 1.0 {
		t.Errorf("empty sample set should default to worst case, got %+v", empty)
	}
}
