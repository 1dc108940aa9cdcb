// Package executor runs one test configuration end to end: network
// impairment, session launch, measurement, teardown, result.
package executor

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/castbench/castbench/internal/metrics"
	"github.com/castbench/castbench/internal/session"
	"github.com/castbench/castbench/pkg/model"
)

// Phase is the executor's position in the per-test state machine. Phases
// advance monotonically; teardown is entered exactly once on every path.
type Phase string

const (
	PhaseQueued        = Phase("queued")
	PhaseNetworkConfig = Phase("network-configuring")
	PhaseSessionLaunch = Phase("session-launching")
	PhaseMeasuring     = Phase("measuring")
	PhaseTearingDown   = Phase("tearing-down")
	PhaseCompleted     = Phase("completed")
	PhaseFailed        = Phase("failed")
)

// NetworkController is the impairment surface the executor needs. It is
// netctl.Controller in production and a fake in tests.
type NetworkController interface {
	Apply(ctx context.Context, lossRate float64, bandwidth string) error
	Clear(ctx context.Context) error
}

// Locker matches sync.Mutex; the scheduler passes the process-wide
// impairment lock explicitly.
type Locker interface {
	Lock()
	Unlock()
}

// Executor runs tests one at a time. A worker owns exactly one Executor.
type Executor struct {
	// Net applies and clears impairment rules on the shared interface.
	Net NetworkController
	// ImpairmentMu serializes the whole network-affecting phase
	// (apply → measure → clear) across all workers. It must be the same
	// lock instance for every worker.
	ImpairmentMu Locker
	// Driver launches browser sessions.
	Driver *session.Driver
	// NewOCR builds the OCR engine for this test's legibility sampler.
	// The engine is per-test because Tesseract clients are not safe for
	// concurrent use.
	NewOCR func() (metrics.OCR, error)
	// Duration is the measurement phase length.
	Duration time.Duration
	// Intervals configures the instruments' cadence.
	Intervals metrics.Intervals
	// ScreenshotDir receives legibility audit captures.
	ScreenshotDir string
	// AbortOnImpairmentError fails the test when the impairment rule
	// cannot be applied. When false the test proceeds unimpaired, with a
	// logged warning, and the result does not record the degradation.
	AbortOnImpairmentError bool
}

// Run executes one test and always returns a TestResult: per-test errors
// are converted into a failed result at this boundary and never propagate
// to sibling workers.
func (e *Executor) Run(ctx context.Context, test model.Test) model.TestResult {
	result := model.TestResult{
		TestID:         test.ID,
		Architecture:   test.Config.Architecture,
		NumViewers:     test.Config.NumViewers,
		PacketLossRate: test.Config.PacketLossRate,
		BandwidthLimit: test.Config.BandwidthLimit,
		Timestamp:      time.Now().UnixMilli(),
	}
	phase := PhaseQueued

	if err := test.Config.Validate(); err != nil {
		return e.fail(result, phase, err)
	}

	// The impairment rule is host-wide: hold the lock for the entire
	// network-affecting span so no sibling worker reconfigures the
	// interface mid-measurement.
	e.ImpairmentMu.Lock()
	defer e.ImpairmentMu.Unlock()

	phase = PhaseNetworkConfig
	log.Info("test starting", "test", test.ID, "phase", phase,
		"architecture", test.Config.Architecture, "viewers", test.Config.NumViewers,
		"loss", test.Config.PacketLossRate, "bandwidth", test.Config.BandwidthLimit)

	if err := e.Net.Apply(ctx, test.Config.PacketLossRate, test.Config.BandwidthLimit); err != nil {
		if e.AbortOnImpairmentError {
			e.clear()
			return e.fail(result, phase, err)
		}
		log.Warn("impairment apply failed, proceeding unimpaired",
			"test", test.ID, "error", err)
	}
	// The rule is torn down unconditionally before the worker moves on,
	// error or not.
	defer e.clear()

	phase = PhaseSessionLaunch
	sessionID := session.NewSessionID(test.ID)
	result.SessionID = sessionID
	group, err := e.Driver.Start(ctx, test.Config, sessionID)
	if err != nil {
		return e.fail(result, phase, err)
	}
	defer group.Close()

	collector, err := e.buildCollector(test, group)
	if err != nil {
		return e.fail(result, phase, err)
	}
	if collector.TLS != nil && collector.TLS.Engine != nil {
		defer collector.TLS.Engine.Close()
	}

	phase = PhaseMeasuring
	collector.Run(ctx, e.Duration)
	if ctx.Err() != nil {
		return e.fail(result, phase, ctx.Err())
	}

	phase = PhaseTearingDown
	result.Metrics = collector.Summarize()
	result.Success = true
	result.CompletedAt = time.Now().UnixMilli()
	log.Info("test completed", "test", test.ID, "phase", PhaseCompleted,
		"latencySamples", result.Metrics.Latency.Count,
		"avgCpu", result.Metrics.CPU.Average,
		"avgTls", result.Metrics.TLS.Average)
	return result
}

// buildCollector wires the three instruments to the session's pages. Tests
// with zero viewers get no latency prober and no legibility sampler.
func (e *Executor) buildCollector(test model.Test, group *session.Group) (*metrics.Collector, error) {
	collector := &metrics.Collector{Intervals: e.Intervals}

	if pid, err := group.Presenter.PID(); err == nil {
		sampler, err := metrics.NewCPUSampler(pid)
		if err != nil {
			// Degraded instrument: the test still runs, CPU stats default.
			log.Warn("cpu sampler unavailable", "test", test.ID, "error", err)
		} else {
			collector.CPU = sampler
		}
	} else {
		log.Warn("presenter pid unavailable", "test", test.ID, "error", err)
	}

	if len(group.Viewers) > 0 {
		collector.Latency = &metrics.LatencyProber{
			Content: group.Content,
			Viewer:  group.Viewers[0],
		}
		engine, err := e.NewOCR()
		if err != nil {
			return nil, err
		}
		collector.TLS = &metrics.TLSSampler{
			Viewer:        group.Viewers[0],
			GroundTruth:   group.GroundTruth,
			Engine:        engine,
			ScreenshotDir: e.ScreenshotDir,
			TestID:        test.ID,
		}
	}
	return collector, nil
}

// clear removes the impairment rule, logging but otherwise swallowing the
// error: teardown must not mask the test's own outcome.
func (e *Executor) clear() {
	// Use a fresh context: teardown must run even when the test context is
	// already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Net.Clear(ctx); err != nil {
		log.Error("impairment clear failed", "error", err)
	}
}

// fail converts an error into a failed TestResult with no metrics.
func (e *Executor) fail(result model.TestResult, phase Phase, err error) model.TestResult {
	result.Success = false
	result.Error = err.Error()
	result.Metrics = nil
	result.CompletedAt = time.Now().UnixMilli()
	log.Error("test failed", "test", result.TestID, "phase", phase, "error", err)
	return result
}
