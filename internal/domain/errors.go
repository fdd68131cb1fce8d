package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigation means a page failed to load within its timeout.
	ErrNavigation = errors.New("navigation failed")
	// ErrFeedNotFound means the result feed never appeared after all reload attempts.
	ErrFeedNotFound = errors.New("feed container not found")
	// ErrBlocked matches every block verdict, captcha included.
	ErrBlocked = errors.New("temporarily blocked, retry later")
	// ErrCaptcha matches captcha verdicts only.
	ErrCaptcha = errors.New("captcha challenge")
	ErrInvalidQuery = errors.New("invalid search query")
	ErrRunTimeout   = errors.New("run deadline exceeded")
	ErrAdmission    = errors.New("too many concurrent runs")
)

// NavigationError wraps the cause of a failed navigation.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() []error {
	return []error{ErrNavigation, e.Err}
}

// BlockKind classifies an anti-automation response.
type BlockKind string

const (
	BlockRateLimited BlockKind = "rate_limited"
	BlockBlocked     BlockKind = "blocked"
	BlockCaptcha     BlockKind = "captcha"
)

// BlockedError is fatal to a run and must not be retried right away.
type BlockedError struct {
	Kind   BlockKind
	Reason string
	URL    string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrBlocked.Error(), e.Kind, e.Reason)
}

func (e *BlockedError) Is(target error) bool {
	switch target {
	case ErrBlocked:
		return true
	case ErrCaptcha:
		return e.Kind == BlockCaptcha
	}
	return false
}
