// Package scheduler dispatches the test matrix to a fixed pool of workers.
// Workers share exactly three things, each under explicit discipline: the
// work queue (a channel, consumed at most once per item), the impairment
// lock (one mutex spanning each test's network phase) and the result sink
// (mutex-guarded append).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/castbench/castbench/pkg/model"
)

var (
	testsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbench_tests_completed_total",
		Help: "Tests completed, by outcome.",
	}, []string{"outcome"})

	impairmentHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castbench_impairment_lock_held",
		Help: "Whether a worker currently holds the impairment lock.",
	})
)

// Runner executes one test. It is executor.Executor in production.
type Runner interface {
	Run(ctx context.Context, test model.Test) model.TestResult
}

// Context owns the shared state of one suite run. It is passed explicitly
// into every worker rather than captured ambiently.
type Context struct {
	// Queue feeds tests to the workers in matrix order. Closed by Run once
	// all items are enqueued.
	Queue chan model.Test
	// ImpairmentMu serializes each test's whole network-affecting phase.
	ImpairmentMu sync.Locker
	// Results collects every produced TestResult.
	Results *Aggregator
}

// NewContext builds the shared suite state with the matrix preloaded.
func NewContext(tests []model.Test) *Context {
	queue := make(chan model.Test, len(tests))
	for _, t := range tests {
		queue <- t
	}
	close(queue)
	return &Context{
		Queue:        queue,
		ImpairmentMu: &trackedMutex{},
		Results:      NewAggregator(len(tests)),
	}
}

// trackedMutex is a sync.Mutex that mirrors its held state into a gauge.
type trackedMutex struct {
	mu sync.Mutex
}

func (m *trackedMutex) Lock() {
	m.mu.Lock()
	impairmentHeld.Set(1)
}

func (m *trackedMutex) Unlock() {
	impairmentHeld.Set(0)
	m.mu.Unlock()
}

// NewRunner builds the per-worker test runner. Each worker gets its own
// Runner so browser process groups are never shared between workers.
type NewRunner func(workerID int, sctx *Context) Runner

// Run starts W workers and blocks until the queue is drained. Per-test
// failures are recorded in their results and never stop the pool; there is
// no suite deadline.
func Run(ctx context.Context, sctx *Context, workers int, newRunner NewRunner) {
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(ctx, id, sctx, newRunner(id, sctx))
		}(w)
	}
	wg.Wait()
	log.Info("all workers drained", "results", sctx.Results.Len())
}

// worker loops: dequeue, run, record.
func worker(ctx context.Context, id int, sctx *Context, runner Runner) {
	for test := range sctx.Queue {
		if ctx.Err() != nil {
			// Context cancelled: record the remaining tests as failed so
			// the one-result-per-configuration invariant still holds.
			sctx.Results.Add(failedResult(test, ctx.Err().Error()))
			testsCompleted.WithLabelValues("failed").Inc()
			continue
		}
		log.Debug("worker dequeued test", "worker", id, "test", test.ID)
		result := runner.Run(ctx, test)
		sctx.Results.Add(result)
		if result.Success {
			testsCompleted.WithLabelValues("success").Inc()
		} else {
			testsCompleted.WithLabelValues("failed").Inc()
		}
	}
}

func failedResult(test model.Test, msg string) model.TestResult {
	now := time.Now().UnixMilli()
	return model.TestResult{
		TestID:         test.ID,
		Architecture:   test.Config.Architecture,
		NumViewers:     test.Config.NumViewers,
		PacketLossRate: test.Config.PacketLossRate,
		BandwidthLimit: test.Config.BandwidthLimit,
		Success:        false,
		Error:          msg,
		Timestamp:      now,
		CompletedAt:    now,
	}
}
