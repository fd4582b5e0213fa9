package models

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// defaultSlug is used when a URL has no usable final path segment.
const defaultSlug = "movie"

var nonSlugChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// CaptureTarget is one input URL plus its filesystem-safe identifier.
// It is created once when the URL list is read and never modified.
type CaptureTarget struct {
	URL  string `json:"url"`
	Slug string `json:"slug"`
}

// NewCaptureTarget builds a target for rawURL, deriving its slug.
func NewCaptureTarget(rawURL string) CaptureTarget {
	return CaptureTarget{URL: rawURL, Slug: Slugify(rawURL)}
}

// Slugify derives a slug from the final path segment of rawURL.
// Runs of characters outside [A-Za-z0-9_-] collapse to a single underscore.
func Slugify(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	segment := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		segment = path[idx+1:]
	}
	slug := nonSlugChars.ReplaceAllString(segment, "_")
	if slug == "" {
		return defaultSlug
	}
	return slug
}

// ReadTargets reads a line-oriented URL list. Blank lines and lines
// starting with '#' are ignored. A missing file is reported as an
// INPUT_MISSING ScrapeError.
func ReadTargets(path string) ([]CaptureTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewScrapeError(ErrCodeInputMissing, fmt.Sprintf("url list %q not found", path), err)
		}
		return nil, NewScrapeError(ErrCodeInputMissing, fmt.Sprintf("open url list %q", path), err)
	}
	defer f.Close()
	return ParseTargets(f)
}

// ParseTargets is ReadTargets over an already opened reader.
func ParseTargets(r io.Reader) ([]CaptureTarget, error) {
	var targets []CaptureTarget
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, NewCaptureTarget(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return targets, nil
}
