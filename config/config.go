package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Capture modes.
const (
	ModeData   = "data"
	ModeVisual = "visual"
)

// Engines.
const (
	EngineBrowser = "browser"
	EngineHTTP    = "http"
)

// envPrefix namespaces every environment variable.
const envPrefix = "RTCAPTURE_"

// MinDismissPasses is the fewest dismissal passes run per URL.
const MinDismissPasses = 2

// Config holds all application configuration.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Browser BrowserConfig `yaml:"browser"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// CaptureConfig controls the per-URL pipeline.
type CaptureConfig struct {
	// Mode selects structured-data extraction ("data") or visual capture ("visual").
	Mode string `yaml:"mode"` // default: "data"

	// TakeScreenshots enables image capture. In data mode the screenshot
	// is supplementary and its failure does not fail the URL.
	TakeScreenshots bool `yaml:"take_screenshots"` // default: false

	// Reveal clicks the score region to open its breakdown before capture.
	Reveal bool `yaml:"reveal"` // default: false

	ViewportWidth  int `yaml:"viewport_width"`  // default: 1440
	ViewportHeight int `yaml:"viewport_height"` // default: 900

	// Clip is used only when no target region was resolved. Its origin is
	// viewport-relative.
	ClipX      float64 `yaml:"clip_x"`      // default: 0
	ClipY      float64 `yaml:"clip_y"`      // default: 0
	ClipWidth  float64 `yaml:"clip_width"`  // default: 1440
	ClipHeight float64 `yaml:"clip_height"` // default: 900

	// ScrollStep is how far the page is scrolled to reveal content
	// before a clipped capture.
	ScrollStep float64 `yaml:"scroll_step"` // default: 400

	NavigationTimeout  time.Duration `yaml:"navigation_timeout"`   // default: 60s
	NetworkIdleTimeout time.Duration `yaml:"network_idle_timeout"` // default: 10s
	SettleDelay        time.Duration `yaml:"settle_delay"`         // default: 2.5s
	ClickTimeout       time.Duration `yaml:"click_timeout"`        // default: 1.5s
	DismissPasses      int           `yaml:"dismiss_passes"`       // default: 2, minimum MinDismissPasses
	DismissDelay       time.Duration `yaml:"dismiss_delay"`        // default: 800ms
	ResolveTimeout     time.Duration `yaml:"resolve_timeout"`      // default: 3s
	RevealDelay        time.Duration `yaml:"reveal_delay"`         // default: 1.5s
	CaptureTimeout     time.Duration `yaml:"capture_timeout"`      // default: 15s

	// RequireOK fails a URL whose navigation returned an HTTP error status.
	RequireOK bool `yaml:"require_ok"` // default: false

	// URLInterval is the minimum spacing between two navigations (0 = off).
	URLInterval time.Duration `yaml:"url_interval"` // default: 0
}

// BrowserConfig controls the page engine.
type BrowserConfig struct {
	// Engine is "browser" (headless Chromium via rod) or "http" (no JS).
	Engine string `yaml:"engine"` // default: "browser"

	Headless   bool   `yaml:"headless"`    // default: true
	NoSandbox  bool   `yaml:"no_sandbox"`  // default: false
	BrowserBin string `yaml:"browser_bin"` // default: auto-download / system
	Proxy      string `yaml:"proxy"`

	// Stealth injects anti-bot-detection evasions before each navigation.
	Stealth bool `yaml:"stealth"` // default: true

	// BlockedResourceTypes lists resource types to block.
	// Images and stylesheets are needed for screenshots and stay allowed by default.
	BlockedResourceTypes []string `yaml:"blocked_resources"` // default: ["Font", "Media"]

	// BlockAds drops requests to known ad/tracking domains.
	BlockAds bool `yaml:"block_ads"` // default: true
}

// OutputConfig controls input and output locations.
type OutputConfig struct {
	URLsFile      string   `yaml:"urls_file"`      // default: "urls.txt"
	Dir           string   `yaml:"dir"`            // default: "screenshots"
	ExportFormats []string `yaml:"export_formats"` // default: ["csv"]
	TimeZone      string   `yaml:"time_zone"`      // default: "America/New_York"
	ZoneSuffix    string   `yaml:"zone_suffix"`    // default: "ET"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "text"
}

// WebhookConfig controls the optional run-completed notification.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Capture: CaptureConfig{
			Mode:               ModeData,
			ViewportWidth:      1440,
			ViewportHeight:     900,
			ClipWidth:          1440,
			ClipHeight:         900,
			ScrollStep:         400,
			NavigationTimeout:  60 * time.Second,
			NetworkIdleTimeout: 10 * time.Second,
			SettleDelay:        2500 * time.Millisecond,
			ClickTimeout:       1500 * time.Millisecond,
			DismissPasses:      2,
			DismissDelay:       800 * time.Millisecond,
			ResolveTimeout:     3 * time.Second,
			RevealDelay:        1500 * time.Millisecond,
			CaptureTimeout:     15 * time.Second,
		},
		Browser: BrowserConfig{
			Engine:               EngineBrowser,
			Headless:             true,
			Stealth:              true,
			BlockedResourceTypes: []string{"Font", "Media"},
			BlockAds:             true,
		},
		Output: OutputConfig{
			URLsFile:      "urls.txt",
			Dir:           "screenshots",
			ExportFormats: []string{"csv"},
			TimeZone:      "America/New_York",
			ZoneSuffix:    "ET",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then an optional YAML file
// named by RTCAPTURE_CONFIG_FILE, then environment variables. A .env file
// in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML document at path onto cfg.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	cp := &c.Capture
	cp.Mode = envOr("MODE", cp.Mode)
	cp.TakeScreenshots = envBoolOr("TAKE_SCREENSHOTS", cp.TakeScreenshots)
	cp.Reveal = envBoolOr("REVEAL", cp.Reveal)
	cp.ViewportWidth = envIntOr("VIEWPORT_WIDTH", cp.ViewportWidth)
	cp.ViewportHeight = envIntOr("VIEWPORT_HEIGHT", cp.ViewportHeight)
	cp.ClipX = envFloatOr("CLIP_X", cp.ClipX)
	cp.ClipY = envFloatOr("CLIP_Y", cp.ClipY)
	cp.ClipWidth = envFloatOr("CLIP_WIDTH", cp.ClipWidth)
	cp.ClipHeight = envFloatOr("CLIP_HEIGHT", cp.ClipHeight)
	cp.ScrollStep = envFloatOr("SCROLL_STEP", cp.ScrollStep)
	cp.NavigationTimeout = envDurationOr("NAV_TIMEOUT", cp.NavigationTimeout)
	cp.NetworkIdleTimeout = envDurationOr("NETWORK_IDLE_TIMEOUT", cp.NetworkIdleTimeout)
	cp.SettleDelay = envDurationOr("SETTLE_DELAY", cp.SettleDelay)
	cp.ClickTimeout = envDurationOr("CLICK_TIMEOUT", cp.ClickTimeout)
	cp.DismissPasses = envIntOr("DISMISS_PASSES", cp.DismissPasses)
	cp.DismissDelay = envDurationOr("DISMISS_DELAY", cp.DismissDelay)
	cp.ResolveTimeout = envDurationOr("RESOLVE_TIMEOUT", cp.ResolveTimeout)
	cp.RevealDelay = envDurationOr("REVEAL_DELAY", cp.RevealDelay)
	cp.CaptureTimeout = envDurationOr("CAPTURE_TIMEOUT", cp.CaptureTimeout)
	cp.RequireOK = envBoolOr("REQUIRE_OK", cp.RequireOK)
	cp.URLInterval = envDurationOr("URL_INTERVAL", cp.URLInterval)

	b := &c.Browser
	b.Engine = envOr("ENGINE", b.Engine)
	b.Headless = envBoolOr("HEADLESS", b.Headless)
	b.NoSandbox = envBoolOr("NO_SANDBOX", b.NoSandbox)
	b.BrowserBin = envOr("BROWSER_BIN", b.BrowserBin)
	b.Proxy = envOr("PROXY", b.Proxy)
	b.Stealth = envBoolOr("STEALTH", b.Stealth)
	b.BlockedResourceTypes = envSliceOr("BLOCKED_RESOURCES", b.BlockedResourceTypes)
	b.BlockAds = envBoolOr("BLOCK_ADS", b.BlockAds)

	o := &c.Output
	o.URLsFile = envOr("URLS_FILE", o.URLsFile)
	o.Dir = envOr("OUT_DIR", o.Dir)
	o.ExportFormats = envSliceOr("EXPORT_FORMATS", o.ExportFormats)
	o.TimeZone = envOr("TIME_ZONE", o.TimeZone)
	o.ZoneSuffix = envOr("ZONE_SUFFIX", o.ZoneSuffix)

	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("LOG_FORMAT", c.Log.Format)

	c.Webhook.URL = envOr("WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.Secret = envOr("WEBHOOK_SECRET", c.Webhook.Secret)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Capture.Mode {
	case ModeData, ModeVisual:
	default:
		return fmt.Errorf("capture mode %q: want %q or %q", c.Capture.Mode, ModeData, ModeVisual)
	}
	switch c.Browser.Engine {
	case EngineBrowser, EngineHTTP:
	default:
		return fmt.Errorf("engine %q: want %q or %q", c.Browser.Engine, EngineBrowser, EngineHTTP)
	}
	if c.Browser.Engine == EngineHTTP && c.Capture.Mode == ModeVisual {
		return fmt.Errorf("visual mode needs the %q engine", EngineBrowser)
	}
	if c.Capture.Mode == ModeVisual && !c.Capture.TakeScreenshots {
		return fmt.Errorf("visual mode captures only images; enable screenshots")
	}
	if c.Capture.DismissPasses < MinDismissPasses {
		return fmt.Errorf("dismiss passes %d: want at least %d", c.Capture.DismissPasses, MinDismissPasses)
	}
	if c.Capture.ViewportWidth <= 0 || c.Capture.ViewportHeight <= 0 {
		return fmt.Errorf("viewport %dx%d must be positive", c.Capture.ViewportWidth, c.Capture.ViewportHeight)
	}
	if c.Capture.ClipWidth <= 0 || c.Capture.ClipHeight <= 0 {
		return fmt.Errorf("clip %gx%g must be positive", c.Capture.ClipWidth, c.Capture.ClipHeight)
	}
	for _, f := range c.Output.ExportFormats {
		if f != "csv" && f != "xlsx" {
			return fmt.Errorf("export format %q: want csv or xlsx", f)
		}
	}
	if c.Output.URLsFile == "" || c.Output.Dir == "" {
		return fmt.Errorf("urls file and output dir must be set")
	}
	return nil
}

// Location resolves the run time zone, falling back to UTC.
func (o OutputConfig) Location() (*time.Location, string) {
	loc, err := time.LoadLocation(o.TimeZone)
	if err != nil {
		return time.UTC, "UTC"
	}
	return loc, o.ZoneSuffix
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(envPrefix + key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
