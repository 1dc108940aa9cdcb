// Package spec contains constants for castbench test runs.
package spec

import "time"

const (
	// DefaultTestDuration is how long each test's measurement phase runs.
	DefaultTestDuration = 60 * time.Second

	// WarmupDelay is the fixed interval between launching the last viewer
	// and starting the measurement instruments. Connection establishment is
	// not acknowledged explicitly by the application under test, so this
	// delay is the readiness approximation for the whole session.
	WarmupDelay = 5 * time.Second

	// CPUSampleInterval is the interval between CPU utilization samples.
	CPUSampleInterval = 1 * time.Second

	// LatencySampleInterval is the interval between glass-to-glass latency
	// probes.
	LatencySampleInterval = 500 * time.Millisecond

	// TLSSampleInterval is the interval between text-legibility samples.
	// OCR is expensive, so this is much slower than the other instruments.
	TLSSampleInterval = 5 * time.Second

	// LatencyAcceptanceWindow is the maximum age of a decoded probe
	// timestamp. Older decodes mean the viewer's frame has not updated yet
	// and are discarded as non-samples.
	LatencyAcceptanceWindow = 15 * time.Second

	// DefaultInterface is the interface impairment rules are applied to
	// when autodetection of the default route fails.
	DefaultInterface = "eth0"

	// DefaultWorkers is the default number of concurrent test workers.
	DefaultWorkers = 2

	// OperationTimeout bounds every external operation (browser call, OCR,
	// traffic-shaping subprocess) so a hung process fails only the current
	// test.
	OperationTimeout = 30 * time.Second

	// OCRLanguage is the language code passed to the OCR engine.
	OCRLanguage = "eng"
)

// Query parameter names understood by the application under test.
const (
	ParamSession   = "session"
	ParamRole      = "role"
	ParamMode      = "mode"
	ParamAutoStart = "autostart"
)

// Role selects the participant role in a session.
type Role string

const (
	// RolePresenter is the sharing participant.
	RolePresenter = Role("presenter")

	// RoleViewer is a receiving participant.
	RoleViewer = Role("viewer")
)

// Probe region geometry. The presenter paints the encoded timestamp into a
// fixed square at the top-left corner of its content surface and viewers
// read the same region back from the rendered video element.
const (
	ProbeRegionX    = 0
	ProbeRegionY    = 0
	ProbeRegionSize = 16
)

// OCR capture region: the portion of the viewer page holding the rendered
// ground-truth text.
const (
	OCRRegionX      = 0
	OCRRegionY      = 40
	OCRRegionWidth  = 800
	OCRRegionHeight = 400
)
