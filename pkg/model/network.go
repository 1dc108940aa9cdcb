package model

// NetworkImpairmentState describes the impairment rule installed on the
// shared host interface. At most one rule is logically active at any time;
// it is owned by whichever worker holds the impairment lock.
type NetworkImpairmentState struct {
	// InterfaceName is the interface the rule is installed on.
	InterfaceName string `json:"interface"`
	// LossRate is the packet loss fraction in [0, 1].
	LossRate float64 `json:"lossRate"`
	// BandwidthLimit is the tc rate descriptor, empty when unlimited.
	BandwidthLimit string `json:"bandwidthLimit"`
	// Active reports whether a rule is currently installed.
	Active bool `json:"active"`
}
