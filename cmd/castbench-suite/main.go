// The castbench-suite command runs the full evaluation matrix: every
// combination of architecture, viewer count, packet loss and bandwidth
// limit, dispatched over a fixed pool of concurrent workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/castbench/castbench/internal/executor"
	"github.com/castbench/castbench/internal/metrics"
	"github.com/castbench/castbench/internal/netctl"
	"github.com/castbench/castbench/internal/persistence"
	"github.com/castbench/castbench/internal/scheduler"
	"github.com/castbench/castbench/internal/session"
	"github.com/castbench/castbench/internal/status"
	"github.com/castbench/castbench/pkg/model"
	"github.com/castbench/castbench/pkg/spec"
)

var (
	flagAppURL         = flag.String("app-url", "http://localhost:3000/", "Base URL of the application under test")
	flagGroundTruthURL = flag.String("ground-truth-url", "http://localhost:3000/content.html", "URL of the static ground-truth content surface")
	flagDataDir        = flag.String("datadir", "./results", "Directory to store results in")
	flagWorkers        = flag.Int("workers", spec.DefaultWorkers, "Number of concurrent test workers")
	flagDuration       = flag.Duration("duration", spec.DefaultTestDuration, "Measurement duration per test")
	flagWarmup         = flag.Duration("warmup", spec.WarmupDelay, "Warm-up delay before measuring")
	flagInterface      = flag.String("interface", "", "Interface to impair (default: autodetect)")
	flagStatusAddr     = flag.String("status-addr", "", "Listen address for the live status server (empty: disabled)")
	flagAbortOnNetErr  = flag.Bool("abort-on-impairment-error", false, "Fail a test when its impairment rule cannot be applied instead of proceeding unimpaired")

	flagArchitectures = flag.String("architectures", "p2p,sfu", "Comma-separated architecture axis")
	flagViewers       = flag.String("viewers", "1,2,3,5", "Comma-separated viewer count axis")
	flagLossRates     = flag.String("loss-rates", "0,0.01,0.05", "Comma-separated packet loss axis (fractions)")
	flagBandwidths    = flag.String("bandwidths", "unlimited,5mbit,1mbit", "Comma-separated bandwidth axis (tc rates)")
)

func parseAxes() (model.Axes, error) {
	axes := model.Axes{
		BandwidthLimits: strings.Split(*flagBandwidths, ","),
	}
	for _, a := range strings.Split(*flagArchitectures, ",") {
		axes.Architectures = append(axes.Architectures, model.Architecture(a))
	}
	for _, v := range strings.Split(*flagViewers, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return axes, fmt.Errorf("invalid viewer count %q: %w", v, err)
		}
		axes.ViewerCounts = append(axes.ViewerCounts, n)
	}
	for _, l := range strings.Split(*flagLossRates, ",") {
		rate, err := strconv.ParseFloat(strings.TrimSpace(l), 64)
		if err != nil {
			return axes, fmt.Errorf("invalid loss rate %q: %w", l, err)
		}
		axes.PacketLossRates = append(axes.PacketLossRates, rate)
	}
	return axes, nil
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "failed to parse env args")

	log.SetReportTimestamp(true)
	log.SetLevel(log.DebugLevel)

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	ctx := context.Background()

	axes, err := parseAxes()
	rtx.Must(err, "invalid axis configuration")
	tests := model.Matrix(axes)
	log.Info("test matrix generated", "tests", len(tests), "workers", *flagWorkers)

	shotsDir, err := persistence.Prepare(*flagDataDir)
	rtx.Must(err, "failed to create output directory")

	// OCR warm-up is the shared one-time initialization step: if the
	// engine cannot start, the whole run aborts now rather than failing
	// every test individually.
	engine, err := metrics.NewTesseractOCR()
	rtx.Must(err, "failed to initialize OCR engine")
	engine.Close()

	controller := netctl.New(netctl.ExecRunner{}, *flagInterface)
	iface := controller.DetectInterface(ctx)

	sctx := scheduler.NewContext(tests)
	metadata := model.NewSuiteMetadata(len(tests), model.SuiteConfig{
		AppURL:         *flagAppURL,
		GroundTruthURL: *flagGroundTruthURL,
		Workers:        *flagWorkers,
		TestDuration:   *flagDuration,
		Interface:      iface,
	})

	var statusSrv *status.Server
	if *flagStatusAddr != "" {
		statusSrv = status.NewServer(metadata, sctx.Results)
		statusSrv.Start(*flagStatusAddr)
		defer statusSrv.Close()
	}
	sctx.Results.OnAdd(func(result model.TestResult) {
		// Intermediate snapshot: an interrupted suite loses at most the
		// tests in flight.
		if err := persistence.WriteSnapshot(*flagDataDir, sctx.Results.Snapshot()); err != nil {
			log.Error("failed to write snapshot", "error", err)
		}
		if statusSrv != nil {
			statusSrv.Notify(result)
		}
	})

	start := time.Now()
	scheduler.Run(ctx, sctx, *flagWorkers, func(id int, _ *scheduler.Context) scheduler.Runner {
		return &executor.Executor{
			Net:          controller,
			ImpairmentMu: sctx.ImpairmentMu,
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
	})

	results := sctx.Results.Sorted()
	if len(results) != len(tests) {
		// Every configuration must yield exactly one result.
		log.Fatal("result count does not match matrix size",
			"results", len(results), "tests", len(tests))
	}

	archive := model.SuiteArchive{Metadata: metadata, Results: results}
	rtx.Must(persistence.WriteArchive(*flagDataDir, archive), "failed to write results archive")
	rtx.Must(persistence.WriteCSV(*flagDataDir, results), "failed to write results CSV")

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	log.Info("suite completed", "tests", len(results), "succeeded", succeeded,
		"failed", len(results)-succeeded, "elapsed", time.Since(start))
}
