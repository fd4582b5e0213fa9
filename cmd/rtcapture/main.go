package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/use-agent/rtcapture/capture"
	"github.com/use-agent/rtcapture/config"
	"github.com/use-agent/rtcapture/engine"
	"github.com/use-agent/rtcapture/export"
	"github.com/use-agent/rtcapture/models"
	"github.com/use-agent/rtcapture/scraper"
	"github.com/use-agent/rtcapture/webhook"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one capture run and returns the process exit code:
// 0 when the run completes (whatever the per-URL outcomes), 1 when it
// cannot start.
func run(args []string) int {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rtcapture: invalid configuration:", err)
		return 1
	}
	if err := applyFlags(cfg, args, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "rtcapture:", err)
		return 1
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("rtcapture starting",
		"mode", cfg.Capture.Mode,
		"engine", cfg.Browser.Engine,
		"urls", cfg.Output.URLsFile,
		"out", cfg.Output.Dir,
		"screenshots", cfg.Capture.TakeScreenshots,
	)

	// ── 3. Read input ───────────────────────────────────────────────
	targets, err := models.ReadTargets(cfg.Output.URLsFile)
	if err != nil {
		slog.Error("cannot read URL list", "path", cfg.Output.URLsFile, "code", models.CodeOf(err), "error", err)
		return 1
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		slog.Error("cannot create output directory", "path", cfg.Output.Dir, "error", err)
		return 1
	}

	// ── 4. Stamp the run ────────────────────────────────────────────
	loc, zone := cfg.Output.Location()
	rc := models.NewRunContext(cfg.Output.Dir, time.Now(), loc, zone)
	slog.Info("run started", "run_id", rc.RunID, "timestamp", rc.Timestamp, "targets", len(targets))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 5. Open the page ────────────────────────────────────────────
	page, closePage, err := openPage(cfg)
	if err != nil {
		slog.Error("failed to open page engine", "code", models.CodeOf(err), "error", err)
		return 1
	}
	defer closePage()

	// ── 6. Capture ──────────────────────────────────────────────────
	capture.NewPipeline(cfg.Capture).Run(ctx, page, rc, targets)

	// ── 7. Export ───────────────────────────────────────────────────
	exports, err := export.NewExporter(cfg.Output.ExportFormats).Export(rc)
	if err != nil {
		slog.Error("export failed", "code", models.CodeOf(err), "error", err)
	}
	summary := export.NewSummary(rc, exports, time.Now())
	if path, err := export.WriteSummary(rc, summary); err != nil {
		slog.Error("summary write failed", "error", err)
	} else {
		slog.Info("saved", "path", path)
	}

	// ── 8. Notify ───────────────────────────────────────────────────
	if cfg.Webhook.URL != "" {
		event := &webhook.Event{
			Type:      webhook.EventRunCompleted,
			RunID:     rc.RunID,
			Timestamp: time.Now().Unix(),
			Data:      summary,
		}
		// The run is over; a late SIGINT should not cut the notification short.
		_ = webhook.DeliverWithRetry(context.WithoutCancel(ctx), cfg.Webhook.URL, cfg.Webhook.Secret, event, webhook.DefaultDelays)
	}

	slog.Info("run complete",
		"run_id", rc.RunID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"records", summary.Records,
		"export", exports,
	)
	return 0
}

// openPage builds the page engine: a rod tab, or a static page over the
// utls HTTP client. The returned func releases it.
func openPage(cfg *config.Config) (engine.Page, func(), error) {
	if cfg.Browser.Engine == config.EngineHTTP {
		fetcher := engine.NewHTTPEngine(cfg.Browser.Proxy, cfg.Capture.NavigationTimeout)
		return engine.NewStaticPage(fetcher), func() {}, nil
	}

	sc, err := scraper.NewScraper(cfg.Browser)
	if err != nil {
		return nil, nil, err
	}
	page, err := sc.NewPage(cfg.Capture.ViewportWidth, cfg.Capture.ViewportHeight)
	if err != nil {
		sc.Close()
		return nil, nil, err
	}
	return page, func() {
		page.Close()
		sc.Close()
	}, nil
}

// applyFlags overrides cfg with command-line flags and revalidates it.
func applyFlags(cfg *config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("rtcapture", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Output.URLsFile, "urls", cfg.Output.URLsFile, "file with one URL per line")
	fs.StringVar(&cfg.Output.Dir, "out", cfg.Output.Dir, "output directory")
	fs.StringVar(&cfg.Capture.Mode, "mode", cfg.Capture.Mode, `capture mode: "data" or "visual"`)
	fs.BoolVar(&cfg.Capture.TakeScreenshots, "screenshots", cfg.Capture.TakeScreenshots, "also save screenshots")
	fs.BoolVar(&cfg.Capture.Reveal, "reveal", cfg.Capture.Reveal, "click to reveal the score breakdown before capture")
	fs.StringVar(&cfg.Browser.Engine, "engine", cfg.Browser.Engine, `page engine: "browser" or "http"`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg.Validate()
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
