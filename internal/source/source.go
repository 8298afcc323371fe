// Package source resolves queries against a prioritized chain of upstream
// sources, honoring quota and falling back to cached data.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/fetcher"
	"github.com/sells-group/sportsfeed/internal/model"
)

var (
	// ErrSourceUnavailable covers network, timeout and parse failures of a
	// single source. It never reaches consumers; the next source is tried.
	ErrSourceUnavailable = eris.New("source: unavailable")
	// ErrSourcesExhausted means no source succeeded and nothing was cached.
	ErrSourcesExhausted = eris.New("source: all sources exhausted")
	// ErrNotConfigured means a source lacks credentials or settings.
	ErrNotConfigured = eris.New("source: not configured")
	// ErrBadQuery means the query cannot be served by the source as asked,
	// e.g. a props query without an event.
	ErrBadQuery = eris.New("source: bad query")
)

// Source is an upstream provider of records.
type Source interface {
	Name() string
	Domains() []model.Domain
	Fetch(ctx context.Context, q model.Query) (*model.Payload, error)
}

// Descriptor places a Source in a domain's chain.
type Descriptor struct {
	Source        Source
	Priority      int
	RequiresQuota bool
	TTL           time.Duration
	Timeout       time.Duration
}

// Name returns the source name.
func (d Descriptor) Name() string { return d.Source.Name() }

// Charge says whether a failed call counted against the provider's quota.
type Charge int

const (
	// ChargeUnknown is treated as charged.
	ChargeUnknown Charge = iota
	Charged
	NotCharged
)

func (c Charge) String() string {
	switch c {
	case Charged:
		return "charged"
	case NotCharged:
		return "not_charged"
	default:
		return "unknown"
	}
}

// FetchError is a source failure with its quota classification.
type FetchError struct {
	Source string
	Charge Charge
	Usage  *model.Usage
	Err    error
}

// Fail builds a FetchError.
func Fail(source string, charge Charge, usage *model.Usage, err error) *FetchError {
	return &FetchError{Source: source, Charge: charge, Usage: usage, Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source: %s: %v", e.Source, e.Err)
}

// Unwrap exposes both ErrSourceUnavailable and the underlying cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// ChargeOf returns the charge classification of err. Errors that are not
// FetchErrors are ChargeUnknown.
func ChargeOf(err error) Charge {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Charge
	}
	return ChargeUnknown
}

// SourceFault reports whether err says something about the source's health.
// Misses, missing settings, unusable queries and calls that never left the
// process do not, and must not trip the source's breaker.
func SourceFault(err error) bool {
	if err == nil {
		return false
	}
	for _, miss := range []error{ErrNoSnapshot, ErrNotConfigured, ErrBadQuery, fetcher.ErrNotSent} {
		if errors.Is(err, miss) {
			return false
		}
	}
	return true
}

// UsageOf returns provider usage attached to err, if any.
func UsageOf(err error) *model.Usage {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Usage
	}
	return nil
}

// Outcome is what happened to one source during a resolve.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeFailed         Outcome = "failed"
	OutcomeSkippedQuota   Outcome = "skipped_quota"
	OutcomeSkippedBreaker Outcome = "skipped_breaker"
)

// Attempt records one step through the chain.
type Attempt struct {
	Source   string        `json:"source"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExhaustedError is returned when no source succeeded and no cache entry
// exists. It matches ErrSourcesExhausted, and the caller's context error
// when iteration was cut short.
type ExhaustedError struct {
	Query    model.Query
	Attempts []Attempt
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("source: all sources exhausted for %s (%d attempts)", e.Query.Key(), len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrSourcesExhausted, e.Cause}
	}
	return []error{ErrSourcesExhausted}
}
