// Package model contains the configuration and result types shared by the
// castbench runner and the offline analysis pipeline.
package model

import (
	"errors"
	"fmt"
)

// Architecture selects the media distribution architecture under test.
type Architecture string

const (
	// ArchitectureP2P is the direct mesh architecture: the presenter sends
	// one stream per viewer.
	ArchitectureP2P = Architecture("p2p")

	// ArchitectureSFU is the centralized forwarding architecture: the
	// presenter sends a single stream to a selective forwarding unit.
	ArchitectureSFU = Architecture("sfu")
)

// BandwidthUnlimited disables the rate limit for a test.
const BandwidthUnlimited = "unlimited"

// TestConfiguration is one point in the experiment matrix. It is created
// once at matrix-generation time and read-only afterwards.
type TestConfiguration struct {
	// Architecture is the distribution architecture under test.
	Architecture Architecture `json:"architecture" csv:"architecture"`

	// NumViewers is the number of receiving participants.
	NumViewers int `json:"numViewers" csv:"numViewers"`

	// PacketLossRate is the packet loss fraction in [0, 1] applied to the
	// host interface for the duration of the test.
	PacketLossRate float64 `json:"packetLoss" csv:"packetLoss"`

	// BandwidthLimit is a tc rate descriptor such as "5mbit", or
	// BandwidthUnlimited for no rate limit.
	BandwidthLimit string `json:"bandwidth" csv:"bandwidth"`
}

// Validate reports whether the configuration is well formed. A malformed
// configuration fails its own test only, never the suite.
func (c TestConfiguration) Validate() error {
	if c.Architecture != ArchitectureP2P && c.Architecture != ArchitectureSFU {
		return fmt.Errorf("invalid architecture %q", c.Architecture)
	}
	if c.NumViewers < 0 {
		return fmt.Errorf("invalid viewer count %d", c.NumViewers)
	}
	if c.PacketLossRate < 0 || c.PacketLossRate > 1 {
		return fmt.Errorf("packet loss rate %f outside [0, 1]", c.PacketLossRate)
	}
	if c.BandwidthLimit == "" {
		return errors.New("empty bandwidth limit (use \"unlimited\" for no limit)")
	}
	return nil
}

// Test pairs a TestConfiguration with its stable identity. The ID is the
// 1-based position of the configuration in the generated matrix, so it does
// not depend on completion order under parallel execution.
type Test struct {
	ID     int
	Config TestConfiguration
}

// Axes holds the value sets for the four configuration axes.
type Axes struct {
	Architectures   []Architecture
	ViewerCounts    []int
	PacketLossRates []float64
	BandwidthLimits []string
}

// DefaultAxes returns the axis values used by the full evaluation suite.
func DefaultAxes() Axes {
	return Axes{
		Architectures:   []Architecture{ArchitectureP2P, ArchitectureSFU},
		ViewerCounts:    []int{1, 2, 3, 5},
		PacketLossRates: []float64{0, 0.01, 0.05},
		BandwidthLimits: []string{BandwidthUnlimited, "5mbit", "1mbit"},
	}
}

// Matrix generates the test matrix as the Cartesian product of the axes in
// fixed nested order: architecture, then viewer count, then packet loss,
// then bandwidth. Re-running with the same axes reproduces identical IDs
// for identical configurations.
func Matrix(axes Axes) []Test {
	tests := make([]Test, 0,
		len(axes.Architectures)*len(axes.ViewerCounts)*
			len(axes.PacketLossRates)*len(axes.BandwidthLimits))
	id := 1
	for _, arch := range axes.Architectures {
		for _, viewers := range axes.ViewerCounts {
			for _, loss := range axes.PacketLossRates {
				for _, bw := range axes.BandwidthLimits {
					tests = append(tests, Test{
						ID: id,
						Config: TestConfiguration{
							Architecture:   arch,
							NumViewers:     viewers,
							PacketLossRate: loss,
							BandwidthLimit: bw,
						},
					})
					id++
				}
			}
		}
	}
	return tests
}
