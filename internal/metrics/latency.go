// Package metrics implements the three measurement instruments of a test
// run (CPU utilization, glass-to-glass latency and text legibility) and the
// summary statistics computed over their samples.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/castbench/castbench/internal/browser"
	"github.com/castbench/castbench/pkg/model"
	"github.com/castbench/castbench/pkg/spec"
)

// timestampMask keeps the low 24 bits of a millisecond timestamp, the part
// that fits in one RGB pixel. 2^24 ms is about 4.6 hours, far beyond the
// acceptance window, so wraparound within a test is handled by a single
// borrow in decodeAge.
const timestampMask = 1<<24 - 1

// EncodeTimestamp splits the low 24 bits of a millisecond timestamp across
// three color channels, red holding the most significant byte.
func EncodeTimestamp(ms int64) (r, g, b uint8) {
	v := uint32(ms) & timestampMask
	return uint8(v >> 16), uint8(v >> 8 & 0xff), uint8(v & 0xff)
}

// DecodeTimestamp reassembles the 24-bit value from the color channels.
func DecodeTimestamp(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// decodeAge reconstructs the age in milliseconds of an encoded timestamp
// relative to now. The result is negative for values that decode into the
// future (corrupted pixels or a wrapped clock).
func decodeAge(decoded uint32, now int64) int64 {
	nowLow := uint32(now) & timestampMask
	age := int64(nowLow) - int64(decoded)
	if age < 0 {
		// The 24-bit counter wrapped between encode and decode.
		age += timestampMask + 1
	}
	// Values decodable only via an implausibly large age are reported as
	// negative so the caller discards them.
	if age > (timestampMask+1)/2 {
		return -1
	}
	return age
}

// AcceptLatency validates a decoded probe value against the acceptance
// window: an accepted sample must be strictly newer than now and no older
// than the window. It returns the glass-to-glass latency in milliseconds
// and whether the value was accepted. Rejected values are stale frames or
// not-yet-painted regions, never errors.
func AcceptLatency(decoded uint32, now int64, window time.Duration) (float64, bool) {
	age := decodeAge(decoded, now)
	if age <= 0 || age > window.Milliseconds() {
		return 0, false
	}
	return float64(age), true
}

// paintProbeScript paints the encoded timestamp into a fixed square at the
// top-left corner of the content surface. The square is created on first
// use and recolored on subsequent calls.
func paintProbeScript(r, g, b uint8) string {
	return fmt.Sprintf(`(() => {
	let probe = document.getElementById('g2g-probe');
	if (!probe) {
		probe = document.createElement('div');
		probe.id = 'g2g-probe';
		probe.style.position = 'fixed';
		probe.style.left = '%dpx';
		probe.style.top = '%dpx';
		probe.style.width = '%dpx';
		probe.style.height = '%dpx';
		probe.style.zIndex = '9999';
		document.body.appendChild(probe);
	}
	probe.style.backgroundColor = 'rgb(%d,%d,%d)';
	return true;
})()`, spec.ProbeRegionX, spec.ProbeRegionY, spec.ProbeRegionSize, spec.ProbeRegionSize, r, g, b)
}

// readProbeScript samples the center of the probe region from the viewer's
// rendered video element and returns the [r, g, b] channel values. A page
// without a video element yet returns null, which the prober ignores.
var readProbeScript = fmt.Sprintf(`(() => {
	const video = document.querySelector('video');
	if (!video || video.videoWidth === 0) {
		return null;
	}
	const size = %d;
	const canvas = document.createElement('canvas');
	canvas.width = size;
	canvas.height = size;
	const ctx = canvas.getContext('2d');
	ctx.drawImage(video, 0, 0, size, size, 0, 0, size, size);
	const d = ctx.getImageData(size / 2, size / 2, 1, 1).data;
	return [d[0], d[1], d[2]];
})()`, spec.ProbeRegionSize)

// LatencyProber measures glass-to-glass latency by painting a timestamp
// into the presenter's content surface and decoding it from a viewer's
// rendered video frame.
type LatencyProber struct {
	// Content is the presenter-side page the probe square is painted on.
	Content browser.Page
	// Viewer is the receiving page the probe square is read back from.
	Viewer browser.Page
	// Window is the acceptance window for decoded timestamps; zero means
	// spec.LatencyAcceptanceWindow.
	Window time.Duration

	// now is replaceable in tests.
	now func() int64
}

func (p *LatencyProber) clock() int64 {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UnixMilli()
}

func (p *LatencyProber) window() time.Duration {
	if p.Window > 0 {
		return p.Window
	}
	return spec.LatencyAcceptanceWindow
}

// Sample runs one probe cycle: paint the current timestamp on the content
// surface, then read and decode the viewer's copy of the previous paint.
// It returns nil when no sample was accepted, which is the common case for
// frames the viewer has not rendered yet.
func (p *LatencyProber) Sample(ctx context.Context) *model.LatencySample {
	if p.Viewer == nil {
		return nil
	}

	// Read the viewer's current region first: it holds a previously painted
	// timestamp, so reading before repainting maximizes its freshness.
	var channels []int
	if err := p.Viewer.Eval(ctx, readProbeScript, &channels); err != nil {
		log.Debug("latency probe read failed", "error", err)
		channels = nil
	}

	now := p.clock()
	r, g, b := EncodeTimestamp(now)
	if err := p.Content.Eval(ctx, paintProbeScript(r, g, b), nil); err != nil {
		log.Debug("latency probe paint failed", "error", err)
	}

	if len(channels) != 3 {
		return nil
	}
	decoded := DecodeTimestamp(uint8(channels[0]), uint8(channels[1]), uint8(channels[2]))
	ms, ok := AcceptLatency(decoded, now, p.window())
	if !ok {
		return nil
	}
	return &model.LatencySample{Timestamp: now, Milliseconds: ms}
}
