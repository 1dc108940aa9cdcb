// Package netctl applies and clears traffic-shaping rules on the host's
// default network interface using tc/netem. The interface is a host-wide
// resource: rules for different tests must never overlap in time, so the
// scheduler serializes the whole network-affecting phase of each test and
// the Controller additionally serializes individual tc invocations.
package netctl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/castbench/castbench/pkg/model"
	"github.com/castbench/castbench/pkg/spec"
)

// Runner executes a command and returns its combined output. It exists so
// tests can substitute a fake for the tc subprocess.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes the command, bounding it with the operation timeout so a
// hung tc invocation fails only the current test.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, spec.OperationTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Controller owns the impairment rule on one network interface.
type Controller struct {
	runner Runner

	mu    sync.Mutex
	iface string

	// state mirrors the rule the controller believes is installed. It is
	// diagnostic only; Verify reads the kernel's view.
	state model.NetworkImpairmentState
}

// New returns a Controller using the given Runner. If iface is empty, the
// default interface is detected on first use.
func New(runner Runner, iface string) *Controller {
	return &Controller{
		runner: runner,
		iface:  iface,
	}
}

// DetectInterface inspects the host routing state once and caches the
// default interface name. Detection failure falls back to a fixed default
// rather than erroring: the subsequent tc calls will report the real
// problem if the interface does not exist.
func (c *Controller) DetectInterface(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iface != "" {
		return c.iface
	}
	out, err := c.runner.Run(ctx, "ip", "route", "show", "default")
	if err == nil {
		c.iface = parseDefaultRoute(out)
	}
	if c.iface == "" {
		log.Warn("default interface detection failed, using fallback",
			"fallback", spec.DefaultInterface, "error", err)
		c.iface = spec.DefaultInterface
	}
	log.Debug("using network interface", "interface", c.iface)
	return c.iface
}

// parseDefaultRoute extracts the interface name from "ip route show
// default" output ("default via <gw> dev <iface> ...").
func parseDefaultRoute(out string) string {
	fields := strings.Fields(out)
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// Apply installs a netem rule encoding the loss rate and/or bandwidth
// limit. Any existing rule is removed first, so two consecutive Apply calls
// leave only the second rule active. A loss rate of zero and an unlimited
// bandwidth install no rule at all.
//
// Errors are returned to the caller, never fatal: the executor's policy
// decides whether a failed application aborts the test.
func (c *Controller) Apply(ctx context.Context, lossRate float64, bandwidth string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	iface := c.ifaceLocked(ctx)
	// Remove any leftover rule. "No rule present" is success here.
	c.deleteLocked(ctx, iface)

	args := []string{"qdisc", "add", "dev", iface, "root", "netem"}
	if lossRate > 0 {
		// %.4g keeps fractions like 0.1*100 from printing as
		// 10.000000000000002.
		args = append(args, "loss", fmt.Sprintf("%.4g%%", lossRate*100))
	}
	if bandwidth != "" && bandwidth != model.BandwidthUnlimited {
		args = append(args, "rate", bandwidth)
	}
	if len(args) == 6 {
		// Nothing to impair.
		log.Debug("no impairment requested", "interface", iface)
		c.state = model.NetworkImpairmentState{InterfaceName: iface}
		return nil
	}

	out, err := c.runner.Run(ctx, "tc", args...)
	if err != nil {
		log.Error("failed to apply impairment rule",
			"interface", iface, "loss", lossRate, "rate", bandwidth,
			"output", out, "error", err)
		return fmt.Errorf("tc qdisc add on %s: %w", iface, err)
	}
	c.state = model.NetworkImpairmentState{
		InterfaceName:  iface,
		LossRate:       lossRate,
		BandwidthLimit: bandwidth,
		Active:         true,
	}
	log.Info("impairment rule applied",
		"interface", iface, "loss", lossRate, "rate", bandwidth)
	return nil
}

// Clear removes the active rule if present. Absence of a rule is not an
// error: Clear is called unconditionally on every test's teardown path.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	iface := c.ifaceLocked(ctx)
	err := c.deleteLocked(ctx, iface)
	c.state = model.NetworkImpairmentState{InterfaceName: iface}
	if err != nil {
		log.Error("failed to clear impairment rule", "interface", iface, "error", err)
		return fmt.Errorf("tc qdisc del on %s: %w", iface, err)
	}
	log.Debug("impairment rule cleared", "interface", iface)
	return nil
}

// Verify reads back the qdisc description currently installed on the
// interface, for diagnostics and tests.
func (c *Controller) Verify(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	iface := c.ifaceLocked(ctx)
	out, err := c.runner.Run(ctx, "tc", "qdisc", "show", "dev", iface)
	return strings.TrimSpace(out), err
}

// State returns the controller's view of the installed rule.
func (c *Controller) State() model.NetworkImpairmentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) ifaceLocked(ctx context.Context) string {
	if c.iface == "" {
		out, err := c.runner.Run(ctx, "ip", "route", "show", "default")
		if err == nil {
			c.iface = parseDefaultRoute(out)
		}
		if c.iface == "" {
			c.iface = spec.DefaultInterface
		}
	}
	return c.iface
}

// deleteLocked removes the root qdisc, tolerating "no such rule" replies.
func (c *Controller) deleteLocked(ctx context.Context, iface string) error {
	out, err := c.runner.Run(ctx, "tc", "qdisc", "del", "dev", iface, "root")
	if err != nil && !noRulePresent(out) {
		return err
	}
	return nil
}

// noRulePresent recognizes tc's replies for a missing root qdisc.
func noRulePresent(out string) bool {
	s := strings.ToLower(out)
	return strings.Contains(s, "no such file or directory") ||
		strings.Contains(s, "cannot delete qdisc with handle of zero") ||
		strings.Contains(s, "invalid handle")
}
