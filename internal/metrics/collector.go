package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/castbench/castbench/pkg/model"
	"github.com/castbench/castbench/pkg/spec"
)

// Intervals configures the sampling cadence of the three instruments.
type Intervals struct {
	CPU     time.Duration
	Latency time.Duration
	TLS     time.Duration
}

// DefaultIntervals returns the cadence used by the evaluation suite.
func DefaultIntervals() Intervals {
	return Intervals{
		CPU:     spec.CPUSampleInterval,
		Latency: spec.LatencySampleInterval,
		TLS:     spec.TLSSampleInterval,
	}
}

// Collector runs the three instruments of one test for a fixed duration.
// Each instrument samples on its own ticker; an instrument whose handle is
// nil (for example the latency prober when the test has zero viewers)
// simply collects nothing.
type Collector struct {
	CPU       *CPUSampler
	Latency   *LatencyProber
	TLS       *TLSSampler
	Intervals Intervals

	mu             sync.Mutex
	cpuSamples     []model.CPUSample
	latencySamples []model.LatencySample
	tlsSamples     []model.TLSSample
}

// Run samples all instruments until the duration elapses or ctx is
// cancelled. The instruments run concurrently but their collected samples
// are owned by this collector only.
func (c *Collector) Run(ctx context.Context, duration time.Duration) {
	if c.Intervals == (Intervals{}) {
		c.Intervals = DefaultIntervals()
	}
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	log.Debug("metrics collection started", "duration", duration)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.loop(ctx, c.Intervals.CPU, c.sampleCPU)
	}()
	go func() {
		defer wg.Done()
		c.loop(ctx, c.Intervals.Latency, c.sampleLatency)
	}()
	go func() {
		defer wg.Done()
		c.loop(ctx, c.Intervals.TLS, c.sampleTLS)
	}()
	wg.Wait()
	log.Debug("metrics collection finished",
		"cpuSamples", len(c.cpuSamples),
		"latencySamples", len(c.latencySamples),
		"tlsSamples", len(c.tlsSamples))
}

func (c *Collector) loop(ctx context.Context, interval time.Duration, sample func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(ctx)
		}
	}
}

func (c *Collector) sampleCPU(ctx context.Context) {
	if s := c.CPU.Sample(ctx); s != nil {
		c.mu.Lock()
		c.cpuSamples = append(c.cpuSamples, *s)
		c.mu.Unlock()
	}
}

func (c *Collector) sampleLatency(ctx context.Context) {
	if c.Latency == nil {
		return
	}
	if s := c.Latency.Sample(ctx); s != nil {
		c.mu.Lock()
		c.latencySamples = append(c.latencySamples, *s)
		c.mu.Unlock()
	}
}

func (c *Collector) sampleTLS(ctx context.Context) {
	if c.TLS == nil {
		return
	}
	if s := c.TLS.Sample(ctx); s != nil {
		c.mu.Lock()
		c.tlsSamples = append(c.tlsSamples, *s)
		c.mu.Unlock()
	}
}

// Summarize computes the per-instrument statistics over the collected
// samples and attaches the raw samples for audit.
func (c *Collector) Summarize() *model.MetricsSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &model.MetricsSummary{
		Latency:    SummarizeLatency(c.latencySamples),
		CPU:        SummarizeCPU(c.cpuSamples),
		TLS:        SummarizeTLS(c.tlsSamples),
		RawLatency: c.latencySamples,
		RawCPU:     c.cpuSamples,
		RawTLS:     c.tlsSamples,
	}
}
