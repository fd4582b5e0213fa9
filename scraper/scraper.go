package scraper

import (
	"log/slog"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/rtcapture/config"
	"github.com/use-agent/rtcapture/models"
)

// Scraper owns the headless browser process and hands out prepared tabs.
type Scraper struct {
	browser     *rod.Browser
	launcher    *launcher.Launcher
	browserCfg  config.BrowserConfig
	activePages atomic.Int32
}

// NewScraper launches a browser according to cfg and connects to it.
func NewScraper(cfg config.BrowserConfig) (*Scraper, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	// Consent banners and the reveal control are matched by English
	// labels, so pin the UI language.
	l.Set(flags.Flag("lang"), "en-US")
	l.Set(flags.Flag("accept-lang"), "en-US,en")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	return &Scraper{browser: browser, launcher: l, browserCfg: cfg}, nil
}

// NewPage opens a tab sized to the viewport with stealth and request
// blocking installed. Both must be in place before the first navigation.
// The caller must Close the returned Page.
func (s *Scraper) NewPage(width, height int) (*Page, error) {
	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to open browser tab",
			err,
		)
	}
	s.activePages.Add(1)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		slog.Warn("failed to set viewport, using browser default", "error", err)
	}

	if s.browserCfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	p := &Page{page: page, onClose: func() { s.activePages.Add(-1) }}
	if f := newRequestFilter(s.browserCfg.BlockedResourceTypes, s.browserCfg.BlockAds); f != nil {
		p.filter = f
		p.router = f.mount(page)
	}
	return p, nil
}

// ActivePages reports how many tabs are currently open.
func (s *Scraper) ActivePages() int {
	return int(s.activePages.Load())
}

// Close kills the browser process.
// Call this on shutdown to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: closing browser")
	if n := s.ActivePages(); n > 0 {
		slog.Warn("closing browser with open tabs", "tabs", n)
	}
	if err := s.browser.Close(); err != nil {
		slog.Warn("browser close failed, killing process", "error", err)
		s.launcher.Kill()
	}
	s.launcher.Cleanup()
	slog.Info("scraper shutdown complete")
}
