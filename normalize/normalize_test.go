package normalize

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/use-agent/rtcapture/models"
	"github.com/ysmood/gson"
)

var target = models.CaptureTarget{URL: "https://example.test/m/sample_movie", Slug: "sample_movie"}

func parse(t *testing.T, doc string) gson.JSON {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return gson.New(v)
}

func TestRecord_Scenario(t *testing.T) {
	payload := parse(t, `{"criticsScore":{"scorePercent":87,"reviewCount":120},"audienceScore":{"scorePercent":91}}`)
	rec := Record(target, "2024-07-04_12-30-05_ET", payload, models.PageMetadata{})

	if rec.CriticsScore.ScorePercent == nil || *rec.CriticsScore.ScorePercent != 87 {
		t.Errorf("criticsScore.scorePercent = %v, want 87", rec.CriticsScore.ScorePercent)
	}
	if rec.CriticsScore.ReviewCount == nil || *rec.CriticsScore.ReviewCount != 120 {
		t.Errorf("criticsScore.reviewCount = %v, want 120", rec.CriticsScore.ReviewCount)
	}
	if rec.CriticsScore.LikedCount != nil {
		t.Errorf("criticsScore.likedCount = %v, want nil", *rec.CriticsScore.LikedCount)
	}
	if rec.AudienceScore.ScorePercent == nil || *rec.AudienceScore.ScorePercent != 91 {
		t.Errorf("audienceScore.scorePercent = %v, want 91", rec.AudienceScore.ScorePercent)
	}
	if rec.Overlay == nil || len(rec.Overlay) != 0 {
		t.Errorf("overlay = %v, want empty map", rec.Overlay)
	}
}

func TestRecord_Total(t *testing.T) {
	inputs := []string{`{}`, `null`, `[]`, `42`, `"text"`, `{"criticsScore":"oops","overlay":[1,2]}`}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			rec := Record(target, "stamp", parse(t, in), models.PageMetadata{})
			if rec.URL == "" || rec.Slug == "" || rec.Timestamp == "" {
				t.Fatalf("identity fields missing: %+v", rec)
			}
			if rec.Overlay == nil {
				t.Error("overlay should be an empty map, not nil")
			}
			if rec.CriticsScore != (models.ScoreBucket{}) || rec.AudienceScore != (models.ScoreBucket{}) {
				t.Errorf("expected all-null buckets, got %+v / %+v", rec.CriticsScore, rec.AudienceScore)
			}
		})
	}
}

func TestRecord_ZeroPayload(t *testing.T) {
	rec := Record(target, "stamp", gson.JSON{}, models.PageMetadata{})
	if rec.Slug != "sample_movie" || rec.Overlay == nil {
		t.Errorf("zero payload record = %+v", rec)
	}
}

func TestRecord_NullsSerialized(t *testing.T) {
	rec := Record(target, "stamp", parse(t, `{}`), models.PageMetadata{})
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	critics, ok := back["criticsScore"].(map[string]any)
	if !ok {
		t.Fatalf("criticsScore missing from %s", data)
	}
	for _, key := range []string{"scorePercent", "likedCount", "sentiment", "certified", "scoreLinkUrl"} {
		v, present := critics[key]
		if !present || v != nil {
			t.Errorf("criticsScore.%s = %v (present %v), want explicit null", key, v, present)
		}
	}
}

func TestBucket_Coercions(t *testing.T) {
	b := Bucket(parse(t, `{
		"scorePercent": "87%",
		"reviewCount": "1,234",
		"bandedRatingCount": "250,000+ Ratings",
		"likedCount": 100,
		"notLikedCount": "n/a",
		"averageRating": "3.5/5",
		"sentiment": "POSITIVE",
		"certified": "true",
		"title": "  Tomatometer ",
		"scoreLinkUrl": ""
	}`))

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"scorePercent", deref(b.ScorePercent), 87.0},
		{"reviewCount", deref(b.ReviewCount), int64(1234)},
		{"ratingCount from banded", deref(b.RatingCount), int64(250000)},
		{"likedCount", deref(b.LikedCount), int64(100)},
		{"notLikedCount", deref(b.NotLikedCount), nil},
		{"averageRating", deref(b.AverageRating), 3.5},
		{"sentiment", deref(b.Sentiment), "POSITIVE"},
		{"certified", deref(b.Certified), true},
		{"title", deref(b.Title), "Tomatometer"},
		{"scoreLinkUrl", deref(b.ScoreLinkURL), nil},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestBucket_Bounds(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"max int64 as float", math.Pow(2, 63), nil},
		{"below max", float64(1 << 62), int64(1 << 62)},
		{"min int64", float64(math.MinInt64), int64(math.MinInt64)},
		{"rounds", 119.6, int64(120)},
		{"array", []any{1.0}, nil},
	}
	for _, tt := range tests {
		b := Bucket(gson.New(map[string]any{"reviewCount": tt.in}))
		if got := deref(b.ReviewCount); got != tt.want {
			t.Errorf("%s: reviewCount = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRecord_FromRawPayload(t *testing.T) {
	payload := gson.NewFrom(`{"criticsScore":{"scorePercent":87,"reviewCount":120},"overlay":{"criticsTop":{"likedCount":"12"}}}`)
	rec := Record(target, "stamp", payload, models.PageMetadata{})
	if got := deref(rec.CriticsScore.ReviewCount); got != int64(120) {
		t.Errorf("reviewCount = %v, want 120", got)
	}
	if got := deref(rec.Overlay["criticsTop"].LikedCount); got != int64(12) {
		t.Errorf("overlay criticsTop likedCount = %v, want 12", got)
	}
}

func TestRecord_Overlay(t *testing.T) {
	payload := parse(t, `{"overlay":{"criticsTop":{"scorePercent":80},"audienceVerified":{"scorePercent":95},"unknown":{"scorePercent":1},"criticsAll":null}}`)
	rec := Record(target, "stamp", payload, models.PageMetadata{})
	if len(rec.Overlay) != 2 {
		t.Fatalf("overlay keys = %v, want criticsTop and audienceVerified", rec.Overlay)
	}
	if got := rec.Overlay["criticsTop"].ScorePercent; got == nil || *got != 80 {
		t.Errorf("criticsTop.scorePercent = %v, want 80", got)
	}
}

func TestRecord_MetadataFallback(t *testing.T) {
	meta := models.PageMetadata{MediaType: "video.movie", Description: "From the page", ImageURL: "https://img.test/p.jpg"}

	rec := Record(target, "stamp", parse(t, `{"description":"From the payload"}`), meta)
	if got := deref(rec.Description); got != "From the payload" {
		t.Errorf("description = %v, payload should win", got)
	}
	if got := deref(rec.MediaType); got != "video.movie" {
		t.Errorf("mediaType = %v, want page fallback", got)
	}
	if got := deref(rec.ImageURL); got != "https://img.test/p.jpg" {
		t.Errorf("imageUrl = %v, want page fallback", got)
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
