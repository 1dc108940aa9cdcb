// Package browser wraps chromedp with the small surface castbench needs:
// launch an isolated headless context, navigate, evaluate scripts, capture
// region screenshots and close. Every call is bounded by the operation
// timeout so one hung browser fails only its own test.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/castbench/castbench/pkg/spec"
)

// Page is the per-context surface consumed by the session driver and the
// metrics instruments. Tests substitute fakes.
type Page interface {
	// Navigate loads the URL and waits for load completion.
	Navigate(ctx context.Context, url string) error
	// Eval evaluates a script inside the page and unmarshals the result
	// into out. Pass nil to discard the result.
	Eval(ctx context.Context, script string, out interface{}) error
	// ScreenshotRegion captures the given page region as PNG bytes.
	ScreenshotRegion(ctx context.Context, x, y, width, height int) ([]byte, error)
	// PID returns the OS process id of the browser process backing this
	// page, for CPU accounting.
	PID() (int, error)
	// Close tears down the browser context and its OS processes.
	Close()
}

// chromePage is the chromedp-backed Page.
type chromePage struct {
	ctx    context.Context
	cancel []context.CancelFunc
}

// Launch starts a new isolated headless browser context. Callers must Close
// the returned Page on every path.
func Launch(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		// Screen capture in headless needs fake media device plumbing.
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("use-fake-device-for-media-stream", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Starting the browser eagerly surfaces launch failures here instead of
	// on the first navigation.
	startCtx, cancel := context.WithTimeout(browserCtx, spec.OperationTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser launch: %w", err)
	}
	log.Debug("browser context launched")
	return &chromePage{
		ctx:    browserCtx,
		cancel: []context.CancelFunc{cancelBrowser, cancelAlloc},
	}, nil
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	ctx, cancel := mergeTimeout(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// mergeTimeout bounds the page context with the operation timeout and
// cancels it early if the caller's context is done first.
func mergeTimeout(pageCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(pageCtx, spec.OperationTimeout)
	stop := context.AfterFunc(callCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) Eval(ctx context.Context, script string, out interface{}) error {
	if out == nil {
		var discard interface{}
		return p.run(ctx, chromedp.Evaluate(script, &discard))
	}
	return p.run(ctx, chromedp.Evaluate(script, out))
}

func (p *chromePage) ScreenshotRegion(ctx context.Context, x, y, width, height int) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				X:      float64(x),
				Y:      float64(y),
				Width:  float64(width),
				Height: float64(height),
				Scale:  1,
			}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) PID() (int, error) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Browser == nil {
		return 0, fmt.Errorf("browser process not available")
	}
	return c.Browser.Process().Pid, nil
}

// Close cancels the chromedp contexts. Cancellation alone may leave the
// browser process exiting in the background, so give it a moment before
// returning to keep process accounting of the next test clean.
func (p *chromePage) Close() {
	for _, cancel := range p.cancel {
		cancel()
	}
	time.Sleep(100 * time.Millisecond)
}
