package scraper

import (
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps BLOCKED_RESOURCES names to CDP resource types.
// Image and Stylesheet are accepted but blocking them breaks visual mode.
var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// trackerDomains are third parties that slow review pages down without
// contributing to the score panel. Consent managers stay reachable so
// the banner they render can still be dismissed.
var trackerDomains = []string{
	// ad exchanges
	"doubleclick.net", "googlesyndication.com", "googleadservices.com",
	"googletagservices.com", "adnxs.com", "adsrvr.org", "amazon-adsystem.com",
	"criteo.com", "criteo.net", "pubmatic.com", "rubiconproject.com",
	"openx.net", "casalemedia.com", "bidswitch.net", "contextweb.com",
	"media.net", "serving-sys.com", "mathtag.com", "zedo.com",
	// recommendation widgets
	"outbrain.com", "taboola.com", "sharethis.com", "addthis.com",
	// measurement
	"google-analytics.com", "googletagmanager.com", "scorecardresearch.com",
	"quantserve.com", "imrworldwide.com", "chartbeat.com", "chartbeat.net",
	"hotjar.com", "mixpanel.com", "segment.io", "segment.com",
	"optimizely.com", "moatads.com", "adsafeprotected.com", "doubleverify.com",
	// audience data
	"demdex.net", "krxd.net", "bluekai.com", "exelator.com", "eyeota.net",
	"agkn.com", "rlcdn.com", "permutive.com", "permutive.app",
	// social pixels
	"connect.facebook.net", "analytics.twitter.com", "ads-twitter.com",
}

// requestFilter decides which requests a capture tab lets through.
type requestFilter struct {
	types    map[proto.NetworkResourceType]struct{}
	trackers map[string]struct{}
	blocked  atomic.Int64
}

// newRequestFilter returns nil when nothing would ever be blocked, so
// callers can skip mounting the router.
func newRequestFilter(blockedTypes []string, blockTrackers bool) *requestFilter {
	f := &requestFilter{types: make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))}
	for _, name := range blockedTypes {
		if rt, ok := resourceTypes[name]; ok {
			f.types[rt] = struct{}{}
		} else {
			slog.Warn("unknown blocked resource type ignored", "type", name)
		}
	}
	if blockTrackers {
		f.trackers = make(map[string]struct{}, len(trackerDomains))
		for _, d := range trackerDomains {
			f.trackers[d] = struct{}{}
		}
	}
	if len(f.types) == 0 && len(f.trackers) == 0 {
		return nil
	}
	return f
}

// isTracker reports whether host or one of its parent domains is listed.
func (f *requestFilter) isTracker(host string) bool {
	if len(f.trackers) == 0 {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for host != "" {
		if _, ok := f.trackers[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
	return false
}

// shouldBlock is the per-request verdict. The document itself is never
// blocked, whatever its host.
func (f *requestFilter) shouldBlock(rt proto.NetworkResourceType, rawURL string) bool {
	if rt == proto.NetworkResourceTypeDocument {
		return false
	}
	if _, ok := f.types[rt]; ok {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return f.isTracker(u.Hostname())
}

// Blocked is the number of requests failed so far.
func (f *requestFilter) Blocked() int64 {
	if f == nil {
		return 0
	}
	return f.blocked.Load()
}

// mount installs the filter on page and starts the router.
// router.Run blocks until router.Stop, hence the goroutine.
func (f *requestFilter) mount(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if f.shouldBlock(h.Request.Type(), h.Request.URL().String()) {
			f.blocked.Add(1)
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
