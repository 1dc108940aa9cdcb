package model

import (
	"strings"
	"time"

	"github.com/m-lab/go/prometheusx"

	"github.com/castbench/castbench/pkg/version"
)

// CPUSample is one reading of the presenter process CPU utilization.
type CPUSample struct {
	// Timestamp is the sample time (milliseconds since the Unix epoch).
	Timestamp int64 `json:"timestamp"`
	// Percent is the process CPU utilization percentage.
	Percent float64 `json:"percent"`
}

// LatencySample is one accepted glass-to-glass latency measurement.
type LatencySample struct {
	// Timestamp is the sample time (milliseconds since the Unix epoch).
	Timestamp int64 `json:"timestamp"`
	// Milliseconds is the measured glass-to-glass latency.
	Milliseconds float64 `json:"ms"`
}

// TLSSample is one text-legibility measurement.
type TLSSample struct {
	// Timestamp is the sample time (milliseconds since the Unix epoch).
	Timestamp int64 `json:"timestamp"`
	// Screenshot is the path of the persisted viewer screenshot.
	Screenshot string `json:"screenshot,omitempty"`
	// RecognizedText is the OCR output after whitespace normalization.
	RecognizedText string `json:"recognizedText,omitempty"`
	// EditDistance is the Levenshtein distance between recognized text and
	// the ground truth.
	EditDistance int `json:"editDistance"`
	// Score is EditDistance divided by the length of the longer string.
	// It is in [0, 1]; zero means a perfect match.
	Score float64 `json:"score"`
}

// LatencyStats summarizes latency samples.
type LatencyStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Median  float64 `json:"median"`
	Count   int     `json:"count"`
}

// CPUStats summarizes CPU samples.
type CPUStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// TLSStats summarizes text-legibility samples.
type TLSStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// MetricsSummary holds the per-instrument statistics for a completed test,
// plus the raw samples for audit.
type MetricsSummary struct {
	Latency LatencyStats `json:"latency"`
	CPU     CPUStats     `json:"cpu"`
	TLS     TLSStats     `json:"tls"`

	RawLatency []LatencySample `json:"rawLatency,omitempty"`
	RawCPU     []CPUSample     `json:"rawCpu,omitempty"`
	RawTLS     []TLSSample     `json:"rawTls,omitempty"`
}

// TestResult is the archival record of one test run. The configuration
// fields are flattened so the analysis pipeline can read them directly.
// A TestResult is never mutated after creation; invariantly, a result with
// Success == false carries no Metrics.
type TestResult struct {
	// TestID is the 1-based position of the configuration in the matrix.
	TestID int `json:"testId"`

	Architecture   Architecture `json:"architecture"`
	NumViewers     int          `json:"numViewers"`
	PacketLossRate float64      `json:"packetLoss"`
	BandwidthLimit string       `json:"bandwidth"`

	// Success reports whether setup and measurement both completed.
	Success bool `json:"success"`
	// SessionID is the session identifier shared by presenter and viewers.
	SessionID string `json:"sessionId"`
	// Error holds the captured failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Timestamp is the test start time (milliseconds since the Unix epoch).
	Timestamp int64 `json:"timestamp"`
	// CompletedAt is the test end time (milliseconds since the Unix epoch).
	CompletedAt int64 `json:"completedAt"`

	// Metrics is present only when Success is true.
	Metrics *MetricsSummary `json:"metrics,omitempty"`
}

// Configuration reconstructs the TestConfiguration embedded in the result.
func (r *TestResult) Configuration() TestConfiguration {
	return TestConfiguration{
		Architecture:   r.Architecture,
		NumViewers:     r.NumViewers,
		PacketLossRate: r.PacketLossRate,
		BandwidthLimit: r.BandwidthLimit,
	}
}

// SuiteMetadata describes one suite run.
type SuiteMetadata struct {
	// GitShortCommit is the Git commit (short form) of the running code.
	GitShortCommit string `json:"gitShortCommit,omitempty"`
	// Version is the symbolic version (if any) of the running code.
	Version string `json:"version,omitempty"`
	// Timestamp is the suite start time (milliseconds since the Unix epoch).
	Timestamp int64 `json:"timestamp"`
	// TotalTests is the number of configurations in the matrix.
	TotalTests int `json:"totalTests"`
	// Config records the effective suite configuration.
	Config SuiteConfig `json:"config"`
}

// SuiteConfig is the effective runner configuration recorded in the archive.
type SuiteConfig struct {
	AppURL         string        `json:"appUrl"`
	GroundTruthURL string        `json:"groundTruthUrl"`
	Workers        int           `json:"workers"`
	TestDuration   time.Duration `json:"testDuration"`
	Interface      string        `json:"interface"`
}

// SuiteArchive is the structured results document written at the end of a
// run and consumed by the offline analysis pipeline.
type SuiteArchive struct {
	Metadata SuiteMetadata `json:"metadata"`
	Results  []TestResult  `json:"results"`
}

// NewSuiteMetadata returns a SuiteMetadata stamped with the current time
// and build information.
func NewSuiteMetadata(totalTests int, config SuiteConfig) SuiteMetadata {
	return SuiteMetadata{
		GitShortCommit: prometheusx.GitShortCommit,
		Version:        version.Version,
		Timestamp:      time.Now().UnixMilli(),
		TotalTests:     totalTests,
		Config:         config,
	}
}

// CSVRow is the flattened tabular projection of one TestResult, one row per
// test with summary statistics only.
type CSVRow struct {
	TestID         int     `csv:"testId"`
	Architecture   string  `csv:"architecture"`
	NumViewers     int     `csv:"numViewers"`
	PacketLossRate float64 `csv:"packetLoss"`
	BandwidthLimit string  `csv:"bandwidth"`
	Success        bool    `csv:"success"`
	AvgLatency     float64 `csv:"avgLatency"`
	MinLatency     float64 `csv:"minLatency"`
	MaxLatency     float64 `csv:"maxLatency"`
	MedianLatency  float64 `csv:"medianLatency"`
	LatencyCount   int     `csv:"latencyCount"`
	AvgCPU         float64 `csv:"avgCpu"`
	MinCPU         float64 `csv:"minCpu"`
	MaxCPU         float64 `csv:"maxCpu"`
	AvgTLS         float64 `csv:"avgTls"`
	MinTLS         float64 `csv:"minTls"`
	MaxTLS         float64 `csv:"maxTls"`
	Timestamp      int64   `csv:"timestamp"`
	Error          string  `csv:"error"`
}

// ToCSVRow flattens the result into its tabular projection. The analysis
// pipeline expects the architecture in upper case.
func (r *TestResult) ToCSVRow() CSVRow {
	row := CSVRow{
		TestID:         r.TestID,
		Architecture:   strings.ToUpper(string(r.Architecture)),
		NumViewers:     r.NumViewers,
		PacketLossRate: r.PacketLossRate,
		BandwidthLimit: r.BandwidthLimit,
		Success:        r.Success,
		Timestamp:      r.Timestamp,
		Error:          r.Error,
	}
	if r.Metrics != nil {
		row.AvgLatency = r.Metrics.Latency.Average
		row.MinLatency = r.Metrics.Latency.Min
		row.MaxLatency = r.Metrics.Latency.Max
		row.MedianLatency = r.Metrics.Latency.Median
		row.LatencyCount = r.Metrics.Latency.Count
		row.AvgCPU = r.Metrics.CPU.Average
		row.MinCPU = r.Metrics.CPU.Min
		row.MaxCPU = r.Metrics.CPU.Max
		row.AvgTLS = r.Metrics.TLS.Average
		row.MinTLS = r.Metrics.TLS.Min
		row.MaxTLS = r.Metrics.TLS.Max
	}
	return row
}
