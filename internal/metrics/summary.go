package metrics

import (
	"sort"

	"github.com/castbench/castbench/pkg/model"
)

// SummarizeLatency computes the latency statistics. Zero samples yield all
// zeroes: an unimpaired instrument that saw nothing is not an error.
func SummarizeLatency(samples []model.LatencySample) model.LatencyStats {
	stats := model.LatencyStats{Count: len(samples)}
	if len(samples) == 0 {
		return stats
	}
	values := make([]float64, len(samples))
	sum := 0.0
	for i, s := range samples {
		values[i] = s.Milliseconds
		sum += s.Milliseconds
	}
	sort.Float64s(values)
	stats.Min = values[0]
	stats.Max = values[len(values)-1]
	stats.Average = sum / float64(len(values))
	stats.Median = median(values)
	return stats
}

// SummarizeCPU computes the CPU statistics, zeroes for an empty sample set.
func SummarizeCPU(samples []model.CPUSample) model.CPUStats {
	if len(samples) == 0 {
		return model.CPUStats{}
	}
	stats := model.CPUStats{Min: samples[0].Percent, Max: samples[0].Percent}
	sum := 0.0
	for _, s := range samples {
		if s.Percent < stats.Min {
			stats.Min = s.Percent
		}
		if s.Percent > stats.Max {
			stats.Max = s.Percent
		}
		sum += s.Percent
	}
	stats.Average = sum / float64(len(samples))
	return stats
}

// SummarizeTLS computes the legibility statistics. An empty sample set
// defaults to the worst score (1.0): no capture means nothing legible was
// observed.
func SummarizeTLS(samples []model.TLSSample) model.TLSStats {
	if len(samples) == 0 {
		return model.TLSStats{Average: 1.0, Min: 1.0, Max: 1.0}
	}
	stats := model.TLSStats{Min: samples[0].Score, Max: samples[0].Score}
	sum := 0.0
	for _, s := range samples {
		if s.Score < stats.Min {
			stats.Min = s.Score
		}
		if s.Score > stats.Max {
			stats.Max = s.Score
		}
		sum += s.Score
	}
	stats.Average = sum / float64(len(samples))
	return stats
}

// median of an already sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
