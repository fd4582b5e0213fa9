package models

import (
	"time"

	"github.com/google/uuid"
)

// StampLayout formats the run timestamp shared by every artifact of a run.
const StampLayout = "2006-01-02_15-04-05"

// URL outcomes recorded in the run summary.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// URLOutcome is the per-URL line of the run summary.
type URLOutcome struct {
	URL       string   `json:"url"`
	Slug      string   `json:"slug"`
	Status    string   `json:"status"`
	ErrorCode string   `json:"error_code,omitempty"`
	Error     string   `json:"error,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

// RunContext is the state of one batch execution. It is created at run
// start, passed explicitly to each stage and owned by a single goroutine.
type RunContext struct {
	RunID     string
	Timestamp string
	StartedAt time.Time
	OutDir    string

	records  []CaptureRecord
	outcomes []URLOutcome
}

// NewRunContext stamps a new run at now, formatted in loc with the given
// zone suffix (e.g. "ET").
func NewRunContext(outDir string, now time.Time, loc *time.Location, zoneSuffix string) *RunContext {
	if loc == nil {
		loc = time.UTC
	}
	stamp := now.In(loc).Format(StampLayout)
	if zoneSuffix != "" {
		stamp += "_" + zoneSuffix
	}
	return &RunContext{
		RunID:     uuid.NewString(),
		Timestamp: stamp,
		StartedAt: now,
		OutDir:    outDir,
	}
}

// Append adds a normalized record to the run buffer.
func (rc *RunContext) Append(rec CaptureRecord) {
	rc.records = append(rc.records, rec)
}

// Records returns the accumulated records in processing order.
func (rc *RunContext) Records() []CaptureRecord {
	return rc.records
}

// Record stores the outcome of one URL.
func (rc *RunContext) Record(o URLOutcome) {
	rc.outcomes = append(rc.outcomes, o)
}

// Outcomes returns every per-URL outcome in processing order.
func (rc *RunContext) Outcomes() []URLOutcome {
	return rc.outcomes
}

// Counts returns the number of succeeded and failed URLs so far.
func (rc *RunContext) Counts() (succeeded, failed int) {
	for _, o := range rc.outcomes {
		if o.Status == StatusOK {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// ArtifactName builds "{stamp}__{slug}{suffix}" for a per-URL artifact.
func (rc *RunContext) ArtifactName(slug, suffix string) string {
	return rc.Timestamp + "__" + slug + suffix
}

// RunArtifactName builds "{stamp}__{name}" for a per-run artifact.
func (rc *RunContext) RunArtifactName(name string) string {
	return rc.Timestamp + "__" + name
}
