package netctl

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeRunner records every command and simulates a kernel qdisc slot: "add"
// fails while a rule is installed, "del" fails when none is.
type fakeRunner struct {
	commands  []string
	installed string

	failAdd bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	f.commands = append(f.commands, cmd)

	if name == "ip" {
		return "default via 192.168.1.1 dev wlan0 proto dhcp metric 600", nil
	}
	switch {
	case strings.HasPrefix(cmd, "tc qdisc add"):
		if f.failAdd {
			return "RTNETLINK answers: operation not permitted", errors.New("exit status 2")
		}
		if f.installed != "" {
			return "Error: Exclusivity flag on, cannot modify.", errors.New("exit status 2")
		}
		f.installed = cmd
		return "", nil
	case strings.HasPrefix(cmd, "tc qdisc del"):
		if f.installed == "" {
			return "Error: Cannot delete qdisc with handle of zero.", errors.New("exit status 2")
		}
		f.installed = ""
		return "", nil
	case strings.HasPrefix(cmd, "tc qdisc show"):
		if f.installed == "" {
			return "qdisc noqueue 0: root refcnt 2", nil
		}
		return f.installed, nil
	}
	return "", errors.New("unexpected command: " + cmd)
}

func TestDetectInterface(t *testing.T) {
	runner := &fakeRunner{}
	c := New(runner, "")
	if iface := c.DetectInterface(context.Background()); iface != "wlan0" {
		t.Errorf("DetectInterface() = %q, want wlan0", iface)
	}
	// The detection result is cached.
	n := len(runner.commands)
	c.DetectInterface(context.Background())
	if len(runner.commands) != n {
		t.Error("DetectInterface() did not cache the result")
	}
}

func TestDetectInterfaceFallback(t *testing.T) {
	c := New(&failingRunner{}, "")
	if iface := c.DetectInterface(context.Background()); iface != "eth0" {
		t.Errorf("DetectInterface() = %q, want fallback eth0", iface)
	}
}

type failingRunner struct{}

func (failingRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return "", errors.New("no such command")
}

func TestApplyIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	c := New(runner, "eth0")
	ctx := context.Background()

	if err := c.Apply(ctx, 0.05, "5mbit"); err != nil {
		t.Fatalf("first Apply(): %v", err)
	}
	// A second Apply without an intervening Clear must leave only the
	// second rule active.
	if err := c.Apply(ctx, 0.10, "1mbit"); err != nil {
		t.Fatalf("second Apply(): %v", err)
	}
	desc, err := c.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify(): %v", err)
	}
	if !strings.Contains(desc, "loss 10%") || !strings.Contains(desc, "rate 1mbit") {
		t.Errorf("Verify() = %q, want the second rule only", desc)
	}
	if strings.Contains(desc, "5mbit") {
		t.Errorf("Verify() = %q, first rule still active", desc)
	}
}

func TestApplyNoImpairment(t *testing.T) {
	runner := &fakeRunner{}
	c := New(runner, "eth0")
	if err := c.Apply(context.Background(), 0, "unlimited"); err != nil {
		t.Fatalf("Apply() with no impairment: %v", err)
	}
	if runner.installed != "" {
		t.Errorf("no rule should be installed, got %q", runner.installed)
	}
	if c.State().Active {
		t.Error("State().Active = true, want false")
	}
}

func TestApplyEncodesRule(t *testing.T) {
	runner := &fakeRunner{}
	c := New(runner, "eth0")
	if err := c.Apply(context.Background(), 0.02, "2mbit"); err != nil {
		t.Fatalf("Apply(): %v", err)
	}
	want := "tc qdisc add dev eth0 root netem loss 2% rate 2mbit"
	if runner.installed != want {
		t.Errorf("installed rule = %q, want %q", runner.installed, want)
	}
	state := c.State()
	if !state.Active || state.LossRate != 0.02 || state.BandwidthLimit != "2mbit" {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestClearTolerant(t *testing.T) {
	runner := &fakeRunner{}
	c := New(runner, "eth0")
	ctx := context.Background()

	// Clear with no rule present is success.
	if err := c.Clear(ctx); err != nil {
		t.Errorf("Clear() with no rule: %v", err)
	}
	// And idempotent after an Apply.
	if err := c.Apply(ctx, 0.01, "unlimited"); err != nil {
		t.Fatalf("Apply(): %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Errorf("Clear(): %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Errorf("second Clear(): %v", err)
	}
	if c.State().Active {
		t.Error("State().Active = true after Clear")
	}
}

func TestApplyFailureIsReturned(t *testing.T) {
	runner := &fakeRunner{failAdd: true}
	c := New(runner, "eth0")
	if err := c.Apply(context.Background(), 0.05, "unlimited"); err == nil {
		t.Error("Apply() = nil, want error when tc fails")
	}
}
