package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/castbench/castbench/internal/browser"
	"github.com/castbench/castbench/internal/metrics"
	"github.com/castbench/castbench/internal/session"
	"github.com/castbench/castbench/pkg/model"
)

// fakeNet records apply/clear calls.
type fakeNet struct {
	mu       sync.Mutex
	applies  int
	clears   int
	applyErr error
}

func (n *fakeNet) Apply(ctx context.Context, loss float64, bw string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.applies++
	return n.applyErr
}

func (n *fakeNet) Clear(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clears++
	return nil
}

func (n *fakeNet) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.applies, n.clears
}

// fakeExecPage is a minimal Page for executor tests.
type fakeExecPage struct {
	mu     sync.Mutex
	closed bool
}

func (p *fakeExecPage) Navigate(ctx context.Context, url string) error { return nil }

func (p *fakeExecPage) Eval(ctx context.Context, script string, out interface{}) error {
	if dst, ok := out.(*string); ok {
		*dst = "reference"
	}
	return nil
}

func (p *fakeExecPage) ScreenshotRegion(ctx context.Context, x, y, w, h int) ([]byte, error) {
	return nil, errors.New("no screenshots in this test")
}

func (p *fakeExecPage) PID() (int, error) { return 0, errors.New("no real process") }

func (p *fakeExecPage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

type fakeTracker struct {
	mu    sync.Mutex
	pages []*fakeExecPage
	err   error
}

func (f *fakeTracker) launch(ctx context.Context) (browser.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakeExecPage{}
	f.pages = append(f.pages, p)
	return p, nil
}

func (f *fakeTracker) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pages {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

func testExecutor(net *fakeNet, tracker *fakeTracker) *Executor {
	return &Executor{
		Net:          net,
		ImpairmentMu: &sync.Mutex{},
		Driver: &session.Driver{
			AppURL:         "http://app.test/",
			GroundTruthURL: "http://app.test/content.html",
			Launch:         tracker.launch,
			Warmup:         0,
		},
		NewOCR: func() (metrics.OCR, error) {
			return &nullOCR{}, nil
		},
		Duration: 50 * time.Millisecond,
		Intervals: metrics.Intervals{
			CPU:     10 * time.Millisecond,
			Latency: 10 * time.Millisecond,
			TLS:     10 * time.Millisecond,
		},
	}
}

type nullOCR struct{}

func (nullOCR) Recognize(png []byte) (string, error) { return "", nil }

func (nullOCR) Close() error { return nil }

func testCase(viewers int) model.Test {
	return model.Test{
		ID: 1,
		Config: model.TestConfiguration{
			Architecture:   model.ArchitectureP2P,
			NumViewers:     viewers,
			PacketLossRate: 0,
			BandwidthLimit: model.BandwidthUnlimited,
		},
	}
}

func TestRunSuccess(t *testing.T) {
	net := &fakeNet{}
	tracker := &fakeTracker{}
	result := testExecutor(net, tracker).Run(context.Background(), testCase(2))

	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	if result.Metrics == nil {
		t.Fatal("successful result must carry metrics")
	}
	if result.TestID != 1 || result.SessionID == "" {
		t.Errorf("result identity incomplete: %+v", result)
	}
	if result.CompletedAt < result.Timestamp {
		t.Error("CompletedAt precedes Timestamp")
	}
	applies, clears := net.counts()
	if applies != 1 || clears != 1 {
		t.Errorf("applies/clears = %d/%d, want 1/1", applies, clears)
	}
	if !tracker.allClosed() {
		t.Error("browser contexts leaked after a successful run")
	}
}

func TestRunZeroViewers(t *testing.T) {
	net := &fakeNet{}
	tracker := &fakeTracker{}
	result := testExecutor(net, tracker).Run(context.Background(), testCase(0))

	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	// No viewers: no latency or legibility samples, documented defaults.
	if result.Metrics.Latency.Count != 0 {
		t.Errorf("latency count = %d, want 0", result.Metrics.Latency.Count)
	}
	if result.Metrics.TLS.Average != 1.0 {
		t.Errorf("TLS average = %f, want 1.0 default", result.Metrics.TLS.Average)
	}
}

func TestRunSessionFailure(t *testing.T) {
	net := &fakeNet{}
	tracker := &fakeTracker{err: errors.New("invalid application URL")}
	result := testExecutor(net, tracker).Run(context.Background(), testCase(2))

	if result.Success {
		t.Fatal("Run() succeeded, want failure")
	}
	if result.Error == "" {
		t.Error("failed result must carry an error message")
	}
	if result.Metrics != nil {
		t.Error("failed result must not carry metrics")
	}
	// Teardown still ran: the impairment rule is cleared.
	if _, clears := net.counts(); clears != 1 {
		t.Errorf("clears = %d, want 1", clears)
	}
}

func TestRunInvalidConfiguration(t *testing.T) {
	net := &fakeNet{}
	tracker := &fakeTracker{}
	test := testCase(2)
	test.Config.PacketLossRate = 7

	result := testExecutor(net, tracker).Run(context.Background(), test)
	if result.Success {
		t.Fatal("Run() succeeded with an invalid configuration")
	}
	if applies, _ := net.counts(); applies != 0 {
		t.Errorf("applies = %d, want 0 (no impairment for invalid config)", applies)
	}
}

func TestRunImpairmentPolicy(t *testing.T) {
	// Default policy: proceed unimpaired.
	net := &fakeNet{applyErr: errors.New("tc not permitted")}
	tracker := &fakeTracker{}
	exec := testExecutor(net, tracker)
	if result := exec.Run(context.Background(), testCase(0)); !result.Success {
		t.Errorf("default policy should proceed unimpaired, got failure: %s", result.Error)
	}

	// Strict policy: fail the test, still clear.
	net = &fakeNet{applyErr: errors.New("tc not permitted")}
	exec = testExecutor(net, &fakeTracker{})
	exec.AbortOnImpairmentError = true
	result := exec.Run(context.Background(), testCase(0))
	if result.Success {
		t.Error("strict policy should fail the test")
	}
	if _, clears := net.counts(); clears != 1 {
		t.Errorf("clears = %d, want 1 (teardown is unconditional)", clears)
	}
}
