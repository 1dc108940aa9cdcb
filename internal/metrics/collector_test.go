package metrics

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestCollectorRunCPUOnly(t *testing.T) {
	// Sample our own process: always present, always readable.
	sampler, err := NewCPUSampler(os.Getpid())
	if err != nil {
		t.Fatalf("NewCPUSampler(): %v", err)
	}
	c := &Collector{
		CPU: sampler,
		Intervals: Intervals{
			CPU:     10 * time.Millisecond,
			Latency: 10 * time.Millisecond,
			TLS:     10 * time.Millisecond,
		},
	}
	c.Run(context.Background(), 100*time.Millisecond)

	summary := c.Summarize()
	if len(summary.RawCPU) == 0 {
		t.Fatal("no CPU samples collected")
	}
	// Instruments without handles collect nothing and summarize to their
	// documented defaults.
	if summary.Latency.Count != 0 {
		t.Errorf("latency count = %d, want 0", summary.Latency.Count)
	}
	if summary.TLS.Average != 1.0 {
		t.Errorf("TLS average = %f, want worst-case 1.0", summary.TLS.Average)
	}
}

func TestCollectorRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Collector{}
	done := make(chan bool)
	go func() {
		c.Run(ctx, time.Minute)
		done <- true
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop on context cancellation")
	}
}
