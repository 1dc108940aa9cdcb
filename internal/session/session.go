// Package session drives the browser participants of one test: a content
// page serving the ground-truth surface, a presenter client and N viewer
// clients, all joined to the same session.
package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/castbench/castbench/internal/browser"
	"github.com/castbench/castbench/pkg/model"
	"github.com/castbench/castbench/pkg/spec"
)

// Launcher starts a new isolated browser context. It is browser.Launch in
// production and a fake in tests.
type Launcher func(ctx context.Context) (browser.Page, error)

// Driver launches and tears down the browser contexts for one test.
type Driver struct {
	// AppURL is the base URL of the application under test.
	AppURL string
	// GroundTruthURL serves the static content surface used as the OCR
	// reference.
	GroundTruthURL string
	// Launch starts browser contexts; defaults to browser.Launch.
	Launch Launcher
	// Warmup is the fixed delay granted for connection establishment.
	// There is no readiness handshake with the application under test, so
	// measurement quality depends on this being generous enough.
	Warmup time.Duration
}

// Group holds the browser contexts of one running session. All of them are
// exclusively owned by the worker that launched them.
type Group struct {
	// SessionID is the identifier shared by all participants.
	SessionID string
	// Content is the page rendering the ground-truth surface on the
	// presenter side. The latency probe paints its timestamps here.
	Content browser.Page
	// Presenter is the sharing client.
	Presenter browser.Page
	// Viewers are the receiving clients, one context each.
	Viewers []browser.Page

	// GroundTruth is the reference text extracted from the content page.
	GroundTruth string

	closeOnce sync.Once
}

// NewSessionID derives a unique session identifier for a test.
func NewSessionID(testID int) string {
	return fmt.Sprintf("test-%d-%s", testID, uuid.NewString())
}

// Start launches the content page, the presenter and the configured number
// of viewers, then waits the warm-up delay. On error every context launched
// so far is closed before returning; on success the caller owns the Group
// and must Close it.
func (d *Driver) Start(ctx context.Context, cfg model.TestConfiguration, sessionID string) (*Group, error) {
	launch := d.Launch
	if launch == nil {
		launch = browser.Launch
	}
	g := &Group{SessionID: sessionID}

	content, err := launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launching content context: %w", err)
	}
	g.Content = content
	if err := content.Navigate(ctx, d.GroundTruthURL); err != nil {
		g.Close()
		return nil, fmt.Errorf("loading ground truth surface: %w", err)
	}
	if err := content.Eval(ctx, `document.body.innerText`, &g.GroundTruth); err != nil {
		g.Close()
		return nil, fmt.Errorf("reading ground truth text: %w", err)
	}

	presenter, err := launch(ctx)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("launching presenter context: %w", err)
	}
	g.Presenter = presenter
	if err := presenter.Navigate(ctx, d.clientURL(spec.RolePresenter, cfg.Architecture, sessionID)); err != nil {
		g.Close()
		return nil, fmt.Errorf("loading presenter client: %w", err)
	}

	for i := 0; i < cfg.NumViewers; i++ {
		viewer, err := launch(ctx)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("launching viewer %d: %w", i, err)
		}
		g.Viewers = append(g.Viewers, viewer)
		if err := viewer.Navigate(ctx, d.clientURL(spec.RoleViewer, cfg.Architecture, sessionID)); err != nil {
			g.Close()
			return nil, fmt.Errorf("loading viewer %d client: %w", i, err)
		}
	}

	log.Info("session launched", "session", sessionID,
		"architecture", cfg.Architecture, "viewers", cfg.NumViewers)

	// Approximate readiness: wait a fixed interval for the peers to
	// connect, interruptible by the test context.
	select {
	case <-time.After(d.Warmup):
	case <-ctx.Done():
		g.Close()
		return nil, ctx.Err()
	}
	return g, nil
}

// clientURL builds the application URL with the auto-join parameters.
func (d *Driver) clientURL(role spec.Role, arch model.Architecture, sessionID string) string {
	q := url.Values{}
	q.Set(spec.ParamSession, sessionID)
	q.Set(spec.ParamRole, string(role))
	q.Set(spec.ParamMode, string(arch))
	q.Set(spec.ParamAutoStart, "true")
	return d.AppURL + "?" + q.Encode()
}

// Close tears down every browser context in the group. It is idempotent
// and runs on both the success and failure paths of a test.
func (g *Group) Close() {
	g.closeOnce.Do(func() {
		for _, v := range g.Viewers {
			v.Close()
		}
		if g.Presenter != nil {
			g.Presenter.Close()
		}
		if g.Content != nil {
			g.Content.Close()
		}
		log.Debug("session closed", "session", g.SessionID)
	})
}
