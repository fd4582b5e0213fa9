package models

import (
	"errors"
	"fmt"
)

// Error codes attached to per-URL and startup failures.
const (
	ErrCodeInputMissing    = "INPUT_MISSING"
	ErrCodeConfigInvalid   = "CONFIG_INVALID"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
	ErrCodeNavigation      = "NAVIGATION_FAILED"
	ErrCodeTimeout         = "SCRAPE_TIMEOUT"
	ErrCodeDataUnavailable = "DATA_UNAVAILABLE"
	ErrCodeDataParse       = "DATA_PARSE_FAILED"
	ErrCodeCaptureFailed   = "CAPTURE_FAILED"
	ErrCodeWriteFailed     = "WRITE_FAILED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first ScrapeError in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
