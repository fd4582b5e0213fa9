package models

// Score sections of a CaptureRecord.
const (
	SectionCritics  = "criticsScore"
	SectionAudience = "audienceScore"
	SectionOverlay  = "overlay"
)

// OverlayKeys lists the named sub-breakdowns in export order.
var OverlayKeys = []string{"criticsAll", "criticsTop", "audienceAll", "audienceVerified"}

// ScoreBucket is one normalized group of rating metrics. Every field is
// nullable and always serialized, so a missing metric shows up as null.
type ScoreBucket struct {
	ScorePercent  *float64 `json:"scorePercent"`
	ReviewCount   *int64   `json:"reviewCount"`
	RatingCount   *int64   `json:"ratingCount"`
	LikedCount    *int64   `json:"likedCount"`
	NotLikedCount *int64   `json:"notLikedCount"`
	AverageRating *float64 `json:"averageRating"`
	Sentiment     *string  `json:"sentiment"`
	Certified     *bool    `json:"certified"`
	Title         *string  `json:"title"`
	ScoreLinkURL  *string  `json:"scoreLinkUrl"`
}

// CaptureRecord is the normalized per-URL result. URL, Slug and Timestamp
// are always set, even when every score is null.
type CaptureRecord struct {
	URL           string                 `json:"url"`
	Slug          string                 `json:"slug"`
	Timestamp     string                 `json:"timestamp"`
	CriticsScore  ScoreBucket            `json:"criticsScore"`
	AudienceScore ScoreBucket            `json:"audienceScore"`
	Overlay       map[string]ScoreBucket `json:"overlay"`
	MediaType     *string                `json:"mediaType"`
	Description   *string                `json:"description"`
	ImageURL      *string                `json:"imageUrl"`
}

// PageMetadata is optional descriptive data read from the page itself,
// used when the structured payload does not carry it.
type PageMetadata struct {
	MediaType   string
	Description string
	ImageURL    string
}
