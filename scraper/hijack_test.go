package scraper

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestRequestFilter_ShouldBlock(t *testing.T) {
	f := newRequestFilter([]string{"Font", "Media", "Bogus"}, true)
	if f == nil {
		t.Fatal("expected a filter")
	}

	tests := []struct {
		name string
		rt   proto.NetworkResourceType
		url  string
		want bool
	}{
		{"font", proto.NetworkResourceTypeFont, "https://www.rottentomatoes.com/a.woff2", true},
		{"media", proto.NetworkResourceTypeMedia, "https://www.rottentomatoes.com/a.mp4", true},
		{"score image", proto.NetworkResourceTypeImage, "https://resizing.flixster.com/p.jpg", false},
		{"tracker subdomain", proto.NetworkResourceTypeScript, "https://pagead2.googlesyndication.com/tag.js", true},
		{"tracker case", proto.NetworkResourceTypeXHR, "https://SECURE.IMRWORLDWIDE.COM/cgi", true},
		{"tracker trailing dot", proto.NetworkResourceTypeImage, "https://doubleclick.net./px", true},
		{"first party script", proto.NetworkResourceTypeScript, "https://www.rottentomatoes.com/app.js", false},
		{"document on tracker host", proto.NetworkResourceTypeDocument, "https://doubleclick.net/", false},
		{"bad url", proto.NetworkResourceTypeScript, "://", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.shouldBlock(tt.rt, tt.url); got != tt.want {
				t.Errorf("shouldBlock(%s, %q) = %v, want %v", tt.rt, tt.url, got, tt.want)
			}
		})
	}
}

func TestNewRequestFilter_Nothing(t *testing.T) {
	if f := newRequestFilter(nil, false); f != nil {
		t.Errorf("expected nil filter, got %+v", f)
	}
	if f := newRequestFilter([]string{"Unknown"}, false); f != nil {
		t.Error("unknown types alone should not mount a filter")
	}
	var f *requestFilter
	if f.Blocked() != 0 {
		t.Error("nil filter should report zero blocked")
	}
}

func TestRequestFilter_TrackersOff(t *testing.T) {
	f := newRequestFilter([]string{"Font"}, false)
	if f.shouldBlock(proto.NetworkResourceTypeScript, "https://doubleclick.net/x.js") {
		t.Error("trackers should pass when tracker blocking is off")
	}
}
