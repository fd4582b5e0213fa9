package models

import (
	"strconv"
)

// ExportRow is a flattened CaptureRecord, one cell per ExportColumns entry.
// Missing values are empty strings, never dropped cells.
type ExportRow []string

// bucketFields lists the ScoreBucket columns in export order.
var bucketFields = []struct {
	name string
	get  func(ScoreBucket) string
}{
	{"score_percent", func(b ScoreBucket) string { return formatFloat(b.ScorePercent) }},
	{"review_count", func(b ScoreBucket) string { return formatInt(b.ReviewCount) }},
	{"rating_count", func(b ScoreBucket) string { return formatInt(b.RatingCount) }},
	{"liked_count", func(b ScoreBucket) string { return formatInt(b.LikedCount) }},
	{"not_liked_count", func(b ScoreBucket) string { return formatInt(b.NotLikedCount) }},
	{"average_rating", func(b ScoreBucket) string { return formatFloat(b.AverageRating) }},
	{"sentiment", func(b ScoreBucket) string { return formatString(b.Sentiment) }},
	{"certified", func(b ScoreBucket) string { return formatBool(b.Certified) }},
	{"title", func(b ScoreBucket) string { return formatString(b.Title) }},
	{"score_link_url", func(b ScoreBucket) string { return formatString(b.ScoreLinkURL) }},
}

// ExportColumns is the fixed header of every tabular export.
var ExportColumns = buildColumns()

func buildColumns() []string {
	cols := []string{"url", "slug", "timestamp", "media_type", "description", "image_url"}
	prefixes := append([]string{"critics", "audience"}, OverlayKeys...)
	for _, p := range prefixes {
		for _, f := range bucketFields {
			cols = append(cols, p+"_"+f.name)
		}
	}
	return cols
}

// Flatten projects r onto ExportColumns. Absent overlay entries yield
// empty cells for that breakdown.
func (r CaptureRecord) Flatten() ExportRow {
	row := make(ExportRow, 0, len(ExportColumns))
	row = append(row,
		r.URL,
		r.Slug,
		r.Timestamp,
		formatString(r.MediaType),
		formatString(r.Description),
		formatString(r.ImageURL),
	)
	buckets := []ScoreBucket{r.CriticsScore, r.AudienceScore}
	for _, key := range OverlayKeys {
		buckets = append(buckets, r.Overlay[key])
	}
	for _, b := range buckets {
		for _, f := range bucketFields {
			row = append(row, f.get(b))
		}
	}
	return row
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
