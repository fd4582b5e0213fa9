// Package normalize maps the loosely-shaped scorecard payload onto
// models.CaptureRecord. It is the only consumer of the untyped tree.
package normalize

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/use-agent/rtcapture/models"
	"github.com/ysmood/gson"
)

// Record builds a fully-shaped CaptureRecord from payload. It never fails:
// anything missing or of the wrong type becomes null. meta fills the
// descriptive fields the payload does not carry.
func Record(target models.CaptureTarget, timestamp string, payload gson.JSON, meta models.PageMetadata) (rec models.CaptureRecord) {
	rec = models.CaptureRecord{
		URL:       target.URL,
		Slug:      target.Slug,
		Timestamp: timestamp,
		Overlay:   map[string]models.ScoreBucket{},
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("normalize: malformed payload, keeping partial record",
				"url", target.URL, "panic", r)
			if rec.Overlay == nil {
				rec.Overlay = map[string]models.ScoreBucket{}
			}
		}
	}()

	if !isObject(payload) {
		payload = gson.New(nil)
	}
	rec.CriticsScore = Bucket(field(payload, models.SectionCritics))
	rec.AudienceScore = Bucket(field(payload, models.SectionAudience))

	if overlay := field(payload, models.SectionOverlay); isObject(overlay) {
		for _, key := range models.OverlayKeys {
			if v, ok := overlay.Gets(key); ok && !v.Nil() {
				rec.Overlay[key] = Bucket(v)
			}
		}
	}

	rec.MediaType = firstString(payload, "mediaType", "type")
	rec.Description = firstString(payload, "description")
	rec.ImageURL = firstString(payload, "primaryImageUrl", "imageUrl", "posterUrl")

	if rec.MediaType == nil {
		rec.MediaType = nonEmpty(meta.MediaType)
	}
	if rec.Description == nil {
		rec.Description = nonEmpty(meta.Description)
	}
	if rec.ImageURL == nil {
		rec.ImageURL = nonEmpty(meta.ImageURL)
	}
	return rec
}

// Bucket projects the fixed ScoreBucket fields out of j. Non-object
// input yields an all-null bucket.
func Bucket(j gson.JSON) models.ScoreBucket {
	if !isObject(j) {
		return models.ScoreBucket{}
	}
	b := models.ScoreBucket{
		ScorePercent:  toFloat(field(j, "scorePercent")),
		ReviewCount:   toInt(field(j, "reviewCount")),
		RatingCount:   toInt(field(j, "ratingCount")),
		LikedCount:    toInt(field(j, "likedCount")),
		NotLikedCount: toInt(field(j, "notLikedCount")),
		AverageRating: toFloat(field(j, "averageRating")),
		Sentiment:     toString(field(j, "sentiment")),
		Certified:     toBool(field(j, "certified")),
		Title:         toString(field(j, "title")),
		ScoreLinkURL:  toString(field(j, "scoreLinkUrl")),
	}
	if b.RatingCount == nil {
		b.RatingCount = toInt(field(j, "bandedRatingCount"))
	}
	return b
}

// field looks key up as a single object member. Gets is used instead of
// Get so keys are never split on dots or read as array indexes.
func field(j gson.JSON, key string) gson.JSON {
	v, _ := j.Gets(key)
	return v
}

func isObject(j gson.JSON) bool {
	_, ok := j.Val().(map[string]any)
	return ok
}

var numberRe = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

// parseNumber accepts "87", "87%", "1,234", "250,000+ Ratings" and "3.5/5".
func parseNumber(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toFloat(j gson.JSON) *float64 {
	var f float64
	switch j.Val().(type) {
	case float64, int, int64:
		f = j.Num()
	case string:
		n, ok := parseNumber(j.Str())
		if !ok {
			return nil
		}
		f = n
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// toInt rounds to the nearest integer. float64(math.MaxInt64) is 2^63,
// which is already out of range, hence >=.
func toInt(j gson.JSON) *int64 {
	f := toFloat(j)
	if f == nil || *f >= math.MaxInt64 || *f < math.MinInt64 {
		return nil
	}
	n := int64(math.Round(*f))
	return &n
}

func toString(j gson.JSON) *string {
	switch j.Val().(type) {
	case string:
		return nonEmpty(strings.TrimSpace(j.Str()))
	case float64:
		s := strconv.FormatFloat(j.Num(), 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(j.Bool())
		return &s
	}
	return nil
}

func toBool(j gson.JSON) *bool {
	switch j.Val().(type) {
	case bool:
		b := j.Bool()
		return &b
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(j.Str()))
		if err != nil {
			return nil
		}
		return &b
	case float64:
		b := j.Num() != 0
		return &b
	}
	return nil
}

func firstString(j gson.JSON, keys ...string) *string {
	for _, k := range keys {
		if s := toString(field(j, k)); s != nil {
			return s
		}
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
