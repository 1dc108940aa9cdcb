// The castbench-run command runs a single test configuration given as
// positional arguments:
//
//	castbench-run [flags] <architecture> <viewers> <packet-loss> <bandwidth>
//
// Example: castbench-run p2p 3 0.05 5mbit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/castbench/castbench/internal/executor"
	"github.com/castbench/castbench/internal/metrics"
	"github.com/castbench/castbench/internal/netctl"
	"github.com/castbench/castbench/internal/persistence"
	"github.com/castbench/castbench/internal/session"
	"github.com/castbench/castbench/pkg/model"
	"github.com/castbench/castbench/pkg/spec"
)

var (
	flagAppURL         = flag.String("app-url", "http://localhost:3000/", "Base URL of the application under test")
	flagGroundTruthURL = flag.String("ground-truth-url", "http://localhost:3000/content.html", "URL of the static ground-truth content surface")
	flagDataDir        = flag.String("datadir", "./results", "Directory to store screenshots in")
	flagDuration       = flag.Duration("duration", spec.DefaultTestDuration, "Measurement duration")
	flagWarmup         = flag.Duration("warmup", spec.WarmupDelay, "Warm-up delay before measuring")
	flagInterface      = flag.String("interface", "", "Interface to impair (default: autodetect)")
	flagAbortOnNetErr  = flag.Bool("abort-on-impairment-error", false, "Fail the test when the impairment rule cannot be applied")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <architecture> <viewers> <packet-loss> <bandwidth>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

func parseArgs(args []string) (model.TestConfiguration, error) {
	var cfg model.TestConfiguration
	if len(args) != 4 {
		return cfg, fmt.Errorf("expected 4 positional arguments, got %d", len(args))
	}
	viewers, err := strconv.Atoi(args[1])
	if err != nil {
		return cfg, fmt.Errorf("invalid viewer count %q: %w", args[1], err)
	}
	loss, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return cfg, fmt.Errorf("invalid packet loss rate %q: %w", args[2], err)
	}
	cfg = model.TestConfiguration{
		Architecture:   model.Architecture(args[0]),
		NumViewers:     viewers,
		PacketLossRate: loss,
		BandwidthLimit: args[3],
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "failed to parse env args")

	log.SetReportTimestamp(true)
	log.SetLevel(log.InfoLevel)

	cfg, err := parseArgs(flag.Args())
	if err != nil {
		log.Error("invalid arguments", "error", err)
		usage()
	}

	shotsDir, err := persistence.Prepare(*flagDataDir)
	rtx.Must(err, "failed to create output directory")

	engine, err := metrics.NewTesseractOCR()
	rtx.Must(err, "failed to initialize OCR engine")
	engine.Close()

	controller := netctl.New(netctl.ExecRunner{}, *flagInterface)
	controller.DetectInterface(context.Background())

	exec := &executor.Executor{
		Net:          controller,
		ImpairmentMu: &noopLocker{},
		Driver: &session.Driver{
			AppURL:         *flagAppURL,
			GroundTruthURL: *flagGroundTruthURL,
			Warmup:         *flagWarmup,
		},
		NewOCR: func() (metrics.OCR, error) {
			return metrics.NewTesseractOCR()
		},
		Duration:               *flagDuration,
		ScreenshotDir:          shotsDir,
		AbortOnImpairmentError: *flagAbortOnNetErr,
	}

	start := time.Now()
	result := exec.Run(context.Background(), model.Test{ID: 1, Config: cfg})
	log.Info("test finished", "success", result.Success, "elapsed", time.Since(start))

	out, err := json.MarshalIndent(result, "", "  ")
	rtx.Must(err, "failed to marshal result")
	fmt.Println(string(out))
}

// noopLocker satisfies the executor's lock requirement: a single-test run
// has no sibling workers to exclude.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}
