package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/rtcapture/config"
	"github.com/use-agent/rtcapture/engine"
	"github.com/use-agent/rtcapture/export"
	"github.com/use-agent/rtcapture/models"
	"github.com/ysmood/gson"
)

const moviePage = `<!doctype html>
<html><head>
  <title>Sample Movie</title>
  <meta property="og:type" content="video.movie">
  <meta property="og:image" content="https://img.test/poster.jpg">
</head>
<body>
  <div data-qa="score-panel">old panel</div>
  <score-board id="board">
    <rt-button slot="criticsScore"><span>87%</span></rt-button>
    <span>Tomatometer</span>
    <p>Certified Fresh</p>
  </score-board>
  <script id="media-scorecard-json" type="application/json">
    {"criticsScore":{"scorePercent":87,"reviewCount":120},"audienceScore":{"scorePercent":91},"description":"A sample."}
  </script>
</body></html>`

const barePage = `<!doctype html><html><body><main><p>Nothing to see.</p></main></body></html>`

func testConfig() config.CaptureConfig {
	cfg := config.Defaults().Capture
	cfg.SettleDelay = 0
	cfg.DismissDelay = 0
	cfg.RevealDelay = 0
	cfg.NetworkIdleTimeout = 100 * time.Millisecond
	return cfg
}

func staticPage(t *testing.T, html string) *engine.StaticPage {
	t.Helper()
	p := engine.NewStaticPage(engine.StaticHTML(html))
	if err := p.Navigate(context.Background(), "https://example.test/m/sample_movie"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	return p
}

func newRun(t *testing.T, at time.Time) *models.RunContext {
	t.Helper()
	return models.NewRunContext(t.TempDir(), at, time.UTC, "UTC")
}

func TestResolver_PrimaryWins(t *testing.T) {
	page := staticPage(t, moviePage)
	got := NewResolver(time.Second).Resolve(context.Background(), page)
	if !got.Found() {
		t.Fatal("expected a target")
	}
	if got.Strategy != "primary" || got.Element.Describe() != "score-board#board" {
		t.Errorf("resolved %s, want primary:score-board#board", got)
	}
}

func TestResolver_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		strategy string
		desc     string
	}{
		{"attribute", `<html><body><div data-qa="tomatometer-container">x</div></body></html>`, "fallback-attr", `div[data-qa="tomatometer-container"]`},
		{"text anchor", `<html><body><section id="s"><h2>Tomatometer</h2></section></body></html>`, "text-anchor", "section#s"},
		{"text anchor skips script payload", `<html><head><title>Tomatometer</title></head><body>
			<div id="data-wrap"><script type="application/json">{"criticsScore":{"title":"Tomatometer"}}</script></div>
			<section id="scores"><h2>Tomatometer</h2></section></body></html>`, "text-anchor", "section#scores"},
		{"none", barePage, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewResolver(time.Second).Resolve(context.Background(), staticPage(t, tt.html))
			if tt.strategy == "" {
				if got.Found() {
					t.Errorf("resolved %s, want none", got)
				}
				return
			}
			if got.Strategy != tt.strategy || got.Element.Describe() != tt.desc {
				t.Errorf("resolved %s, want %s:%s", got, tt.strategy, tt.desc)
			}
		})
	}
}

type funcStrategy struct {
	name string
	fn   func() (engine.Element, error)
}

func (s funcStrategy) Name() string { return s.name }
func (s funcStrategy) Find(context.Context, engine.Page) (engine.Element, error) {
	return s.fn()
}

func TestResolver_FailingStrategiesAreSkipped(t *testing.T) {
	page := staticPage(t, moviePage)
	r := NewResolver(time.Second,
		funcStrategy{"broken", func() (engine.Element, error) { return nil, errors.New("boom") }},
		funcStrategy{"panics", func() (engine.Element, error) { panic("bad selector engine") }},
		QueryStrategy{Label: "css", Query: engine.Query{CSS: "score-board"}},
	)
	got := r.Resolve(context.Background(), page)
	if got.Strategy != "css" {
		t.Errorf("resolved %s, want css", got)
	}
}

func TestDismiss_NoControls(t *testing.T) {
	for _, tt := range []struct{ passes, want int }{{0, 2}, {1, 2}, {2, 2}, {3, 3}} {
		d := &Dismisser{ClickTimeout: 100 * time.Millisecond, Passes: tt.passes}
		rep := d.DismissAll(context.Background(), staticPage(t, barePage))
		if rep.Passes != tt.want {
			t.Errorf("Passes=%d: ran %d passes, want %d", tt.passes, rep.Passes, tt.want)
		}
		if len(rep.Clicked) != 0 {
			t.Errorf("clicked %v on a page without controls", rep.Clicked)
		}
	}
}

func TestDismiss_ClicksConsentAndClose(t *testing.T) {
	page := staticPage(t, `<html><body>
		<div id="banner"><a href="#">Got it</a><button aria-label="Close">x</button></div>
	</body></html>`)
	var clicks []string
	page.OnClick = func(s *goquery.Selection) error {
		clicks = append(clicks, engine.AccessibleName(s))
		s.Remove()
		return nil
	}

	d := &Dismisser{ClickTimeout: time.Second, Passes: 2}
	rep := d.DismissAll(context.Background(), page)

	want := []string{"Got it", "Close"}
	if !reflect.DeepEqual(clicks, want) {
		t.Errorf("clicks = %v, want %v", clicks, want)
	}
	if len(rep.Clicked) != 2 {
		t.Errorf("report = %+v", rep)
	}
}

func TestDismiss_ClickErrorsAreAbsorbed(t *testing.T) {
	page := staticPage(t, `<html><body><button>Accept</button><button>OK</button></body></html>`)
	page.OnClick = func(*goquery.Selection) error { return errors.New("element detached") }

	rep := (&Dismisser{ClickTimeout: time.Second, Passes: 1}).Dismiss(context.Background(), page)
	if len(rep.Clicked) != 0 {
		t.Errorf("failed clicks reported as clicked: %v", rep.Clicked)
	}
}

func TestActivate_SelectorTier(t *testing.T) {
	page := staticPage(t, moviePage)
	var clicked string
	page.OnClick = func(s *goquery.Selection) error {
		clicked = engine.DescribeSelection(s)
		return nil
	}
	target := NewResolver(time.Second).Resolve(context.Background(), page)

	rep := (&Activator{ClickTimeout: time.Second}).Activate(context.Background(), page, target)
	if !rep.Clicked || rep.Tier != "selector" || clicked != "rt-button" {
		t.Errorf("report %+v, clicked %q", rep, clicked)
	}
	if !reflect.DeepEqual(rep.Confirmed, []string{"Fresh"}) {
		t.Errorf("confirmed = %v, want [Fresh]", rep.Confirmed)
	}
}

func TestActivate_ConfirmsOnlyVisibleWords(t *testing.T) {
	page := staticPage(t, `<html><body>
		<score-board id="board"><rt-button slot="criticsScore">87%</rt-button></score-board>
		<script id="media-scorecard-json">{"criticsScore":{"sentiment":"Fresh"}}</script>
	</body></html>`)
	page.OnClick = func(s *goquery.Selection) error {
		s.Closest("score-board").AppendHtml(`<p>Rotten reviews: 12</p>`)
		return nil
	}
	target := NewResolver(time.Second).Resolve(context.Background(), page)

	rep := (&Activator{ClickTimeout: time.Second}).Activate(context.Background(), page, target)
	if !rep.Clicked {
		t.Fatalf("report %+v, want a click", rep)
	}
	if !reflect.DeepEqual(rep.Confirmed, []string{"Rotten"}) {
		t.Errorf("confirmed = %v, want [Rotten] (payload text must not count)", rep.Confirmed)
	}
}

func TestActivate_NothingToClick(t *testing.T) {
	page := staticPage(t, barePage)
	rep := (&Activator{ClickTimeout: time.Second}).Activate(context.Background(), page, ResolvedTarget{})
	if rep.Clicked {
		t.Errorf("unexpected click: %+v", rep)
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		code   string
		source string
	}{
		{"current id", moviePage, "", "script#media-scorecard-json"},
		{"legacy id", `<script id="scoreDetails">{"criticsScore":{}}</script>`, "", "#scoreDetails"},
		{"missing", barePage, models.ErrCodeDataUnavailable, ""},
		{"empty", `<script id="media-scorecard-json">  </script>`, models.ErrCodeDataUnavailable, ""},
		{"invalid json", `<script id="media-scorecard-json">{"criticsScore":</script>`, models.ErrCodeDataParse, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload(tt.html)
			if tt.code != "" {
				if got := models.CodeOf(err); got != tt.code {
					t.Errorf("code = %s, want %s (err %v)", got, tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePayload: %v", err)
			}
			if p.Source != tt.source {
				t.Errorf("source = %s, want %s", p.Source, tt.source)
			}
		})
	}
}

func TestParsePayload_Metadata(t *testing.T) {
	p, err := ParsePayload(moviePage)
	if err != nil {
		t.Fatal(err)
	}
	want := models.PageMetadata{MediaType: "video.movie", ImageURL: "https://img.test/poster.jpg"}
	if p.Meta != want {
		t.Errorf("meta = %+v, want %+v", p.Meta, want)
	}
}

func TestClipAt(t *testing.T) {
	got := ClipAt(engine.Rect{X: 10, Y: 20, Width: 300, Height: 200}, engine.Point{X: 0, Y: 400})
	want := &engine.Rect{X: 10, Y: 420, Width: 300, Height: 200}
	if *got != *want {
		t.Errorf("ClipAt = %+v, want %+v", got, want)
	}
}

func TestVisual_Tiers(t *testing.T) {
	png := []byte("\x89PNG fake")
	clip := engine.Rect{X: 10, Y: 20, Width: 300, Height: 200}

	tests := []struct {
		name     string
		html     string
		render   func(*engine.Rect) ([]byte, error)
		suffix   string
		wantClip *engine.Rect
		code     string
	}{
		{
			name:   "region",
			html:   moviePage,
			render: func(*engine.Rect) ([]byte, error) { return png, nil },
			suffix: "__sample_movie.png",
		},
		{
			name:     "clip offset by scroll",
			html:     barePage,
			render:   func(*engine.Rect) ([]byte, error) { return png, nil },
			suffix:   "__sample_movie.png",
			wantClip: &engine.Rect{X: 10, Y: 420, Width: 300, Height: 200},
		},
		{
			name: "viewport fallback",
			html: barePage,
			render: func(r *engine.Rect) ([]byte, error) {
				if r != nil {
					return nil, errors.New("clip outside page")
				}
				return png, nil
			},
			suffix: "__sample_movie__TOP.png",
		},
		{
			name: "empty images",
			html: moviePage,
			render: func(*engine.Rect) ([]byte, error) { return nil, nil },
			code: models.ErrCodeCaptureFailed,
		},
		{
			name: "all fail",
			html: barePage,
			code: models.ErrCodeCaptureFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := staticPage(t, tt.html)
			var lastClip *engine.Rect
			if tt.render != nil {
				page.Render = func(r *engine.Rect) ([]byte, error) {
					if r != nil {
						c := *r
						lastClip = &c
					}
					return tt.render(r)
				}
			}
			rc := newRun(t, time.Now())
			target := NewResolver(time.Second).Resolve(context.Background(), page)
			x := &Extractor{Clip: clip, ScrollStep: 400, CaptureTimeout: time.Second}

			path, err := x.Visual(context.Background(), page, target, rc, "sample_movie")
			if tt.code != "" {
				if got := models.CodeOf(err); got != tt.code {
					t.Fatalf("code = %s, want %s (err %v)", got, tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Visual: %v", err)
			}
			if !strings.HasSuffix(path, tt.suffix) {
				t.Errorf("path = %s, want suffix %s", path, tt.suffix)
			}
			if data, _ := os.ReadFile(path); string(data) != string(png) {
				t.Errorf("artifact content = %q", data)
			}
			if tt.wantClip != nil && (lastClip == nil || *lastClip != *tt.wantClip) {
				t.Errorf("clip = %+v, want %+v", lastClip, tt.wantClip)
			}
		})
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	target := models.NewCaptureTarget("https://example.test/m/sample_movie")
	p := NewPipeline(testConfig())

	var recs []models.CaptureRecord
	for _, at := range []time.Time{
		time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 7, 5, 12, 0, 0, 0, time.UTC),
	} {
		rc := newRun(t, at)
		out := p.ProcessURL(context.Background(), staticPage(t, moviePage), rc, target)
		if out.Status != models.StatusOK {
			t.Fatalf("outcome = %+v", out)
		}
		if len(rc.Records()) != 1 {
			t.Fatalf("records = %d, want 1", len(rc.Records()))
		}
		recs = append(recs, rc.Records()[0])
	}

	if recs[0].Timestamp == recs[1].Timestamp {
		t.Fatal("timestamps should differ")
	}
	recs[1].Timestamp = recs[0].Timestamp
	if !reflect.DeepEqual(recs[0], recs[1]) {
		t.Errorf("records differ beyond timestamp:\n%+v\n%+v", recs[0], recs[1])
	}
	if got := recs[0].CriticsScore.ScorePercent; got == nil || *got != 87 {
		t.Errorf("critics score = %v, want 87", got)
	}
	if got := recs[0].MediaType; got == nil || *got != "video.movie" {
		t.Errorf("media type fallback = %v", got)
	}
}

func TestPipeline_Run(t *testing.T) {
	pages := map[string]engine.FetchResult{
		"https://example.test/m/good":    {HTML: moviePage, StatusCode: 200},
		"https://example.test/m/no_data": {HTML: barePage, StatusCode: 200},
		"https://example.test/m/gone":    {HTML: barePage, StatusCode: 404},
	}
	fetch := engine.FetcherFunc(func(_ context.Context, url string) (*engine.FetchResult, error) {
		res, ok := pages[url]
		if !ok {
			return nil, errors.New("dial tcp: no such host")
		}
		return &res, nil
	})

	cfg := testConfig()
	cfg.RequireOK = true
	rc := newRun(t, time.Now())
	targets := []models.CaptureTarget{
		models.NewCaptureTarget("https://example.test/m/good"),
		models.NewCaptureTarget("https://example.test/m/no_data"),
		models.NewCaptureTarget("https://example.test/m/gone"),
		models.NewCaptureTarget("https://unreachable.test/m/x"),
	}

	NewPipeline(cfg).Run(context.Background(), engine.NewStaticPage(fetch), rc, targets)

	wantCodes := []string{"", models.ErrCodeDataUnavailable, models.ErrCodeNavigation, models.ErrCodeNavigation}
	outcomes := rc.Outcomes()
	if len(outcomes) != len(targets) {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), len(targets))
	}
	for i, o := range outcomes {
		if o.URL != targets[i].URL {
			t.Errorf("outcome %d is for %s, want %s", i, o.URL, targets[i].URL)
		}
		if o.ErrorCode != wantCodes[i] {
			t.Errorf("outcome %d code = %q, want %q", i, o.ErrorCode, wantCodes[i])
		}
	}
	if s, f := rc.Counts(); s != 1 || f != 3 {
		t.Errorf("counts = %d/%d, want 1/3", s, f)
	}
	if len(rc.Records()) != 1 {
		t.Errorf("records = %d, want 1", len(rc.Records()))
	}
	dump := filepath.Join(rc.OutDir, rc.ArtifactName("good", ".json"))
	data, err := os.ReadFile(dump)
	if err != nil {
		t.Fatalf("payload dump missing: %v", err)
	}
	if got := gson.New(data).Get("criticsScore.reviewCount").Num(); got != 120 {
		t.Errorf("dumped reviewCount = %v, want 120", got)
	}
}

func TestPipeline_ZeroSuccessNoExport(t *testing.T) {
	rc := newRun(t, time.Now())
	page := engine.NewStaticPage(engine.StaticHTML(barePage))
	NewPipeline(testConfig()).Run(context.Background(), page, rc, []models.CaptureTarget{
		models.NewCaptureTarget("https://example.test/m/a"),
		models.NewCaptureTarget("https://example.test/m/b"),
	})

	paths, err := export.NewExporter(nil).Export(rc)
	if err != nil || len(paths) != 0 {
		t.Errorf("Export = %v, %v; want no files and no error", paths, err)
	}
}

// stalledPage never reaches network idle.
type stalledPage struct{ *engine.StaticPage }

func (stalledPage) WaitNetworkIdle(context.Context, time.Duration) error {
	return context.DeadlineExceeded
}

func TestStabilize_NetworkIdleTimeoutIsIgnored(t *testing.T) {
	page := stalledPage{engine.NewStaticPage(engine.StaticHTML(moviePage))}
	s := &Stabilizer{NavigationTimeout: time.Second, NetworkIdleTimeout: time.Millisecond}
	if err := s.Stabilize(context.Background(), page, "https://example.test/m/sample_movie"); err != nil {
		t.Fatalf("Stabilize: %v", err)
	}

	rc := newRun(t, time.Now())
	out := NewPipeline(testConfig()).ProcessURL(context.Background(), page, rc,
		models.NewCaptureTarget("https://example.test/m/sample_movie"))
	if out.Status != models.StatusOK || len(rc.Records()) != 1 {
		t.Errorf("outcome = %+v, records = %d", out, len(rc.Records()))
	}
}

type panickyPage struct{ *engine.StaticPage }

func (panickyPage) HTML(context.Context) (string, error) { panic("renderer crashed") }

func TestPipeline_PanicIsContained(t *testing.T) {
	rc := newRun(t, time.Now())
	page := panickyPage{engine.NewStaticPage(engine.StaticHTML(moviePage))}
	out := NewPipeline(testConfig()).ProcessURL(context.Background(), page, rc,
		models.NewCaptureTarget("https://example.test/m/sample_movie"))

	if out.Status != models.StatusFailed || out.ErrorCode != models.ErrCodeInternal {
		t.Errorf("outcome = %+v, want failed INTERNAL_ERROR", out)
	}
}

func TestPipeline_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := newRun(t, time.Now())
	page := engine.NewStaticPage(engine.StaticHTML(moviePage))
	NewPipeline(testConfig()).Run(ctx, page, rc, []models.CaptureTarget{
		models.NewCaptureTarget("https://example.test/m/a"),
		models.NewCaptureTarget("https://example.test/m/b"),
	})

	for _, o := range rc.Outcomes() {
		if o.ErrorCode != models.ErrCodeTimeout {
			t.Errorf("outcome %s code = %s, want %s", o.Slug, o.ErrorCode, models.ErrCodeTimeout)
		}
	}
	if len(rc.Outcomes()) != 2 {
		t.Errorf("outcomes = %d, want 2", len(rc.Outcomes()))
	}
}

func TestPipeline_SupplementaryScreenshotFailureKeepsRecord(t *testing.T) {
	cfg := testConfig()
	cfg.TakeScreenshots = true
	rc := newRun(t, time.Now())

	out := NewPipeline(cfg).ProcessURL(context.Background(), staticPage(t, moviePage), rc,
		models.NewCaptureTarget("https://example.test/m/sample_movie"))

	if out.Status != models.StatusOK || len(rc.Records()) != 1 {
		t.Errorf("outcome = %+v, records = %d", out, len(rc.Records()))
	}
	if len(out.Artifacts) != 1 {
		t.Errorf("artifacts = %v, want only the JSON dump", out.Artifacts)
	}
}
