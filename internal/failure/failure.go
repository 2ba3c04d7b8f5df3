// Package failure defines the tagged error model shared by the inference pipeline.
//
// Every domain error carries a Kind. Callers branch on the kind through
// DispositionOf instead of matching concrete error types.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	InvalidPostcode
	ScraperBlocked
	ScraperTimeout
	ScraperParsingFailure
	ScraperFallbackExhausted
	FeatureEngineering
	ModelNotFound
	TrainingData
	Cache
	Internal
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	InvalidPostcode:          "invalid_postcode",
	ScraperBlocked:           "scraper_blocked",
	ScraperTimeout:           "scraper_timeout",
	ScraperParsingFailure:    "scraper_parsing_failure",
	ScraperFallbackExhausted: "scraper_fallback_exhausted",
	FeatureEngineering:       "feature_engineering",
	ModelNotFound:            "model_not_found",
	TrainingData:             "training_data",
	Cache:                    "cache",
	Internal:                 "internal",
}

// String returns the snake_case name used in logs and metrics.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Disposition describes how a failure propagates.
type Disposition int

// Dispositions.
const (
	// SurfaceInternal is reported as a generic server failure.
	SurfaceInternal Disposition = iota
	// RecoverLocally is handled inside the component that raised it.
	RecoverLocally
	// FallBack triggers the next agent in a source chain.
	FallBack
	// SurfaceClient is reported as bad input.
	SurfaceClient
	// SurfaceNotFound is reported as "location could not be analyzed".
	SurfaceNotFound
	// FatalToServing means the process cannot serve predictions at all.
	FatalToServing
)

var propagation = map[Kind]Disposition{
	InvalidPostcode:          SurfaceClient,
	ScraperBlocked:           FallBack,
	ScraperTimeout:           FallBack,
	ScraperParsingFailure:    FallBack,
	ScraperFallbackExhausted: SurfaceNotFound,
	FeatureEngineering:       SurfaceInternal,
	ModelNotFound:            FatalToServing,
	TrainingData:             FatalToServing,
	Cache:                    RecoverLocally,
	Internal:                 SurfaceInternal,
}

// DispositionOf returns the propagation rule for kind.
func DispositionOf(kind Kind) Disposition {
	if d, ok := propagation[kind]; ok {
		return d
	}
	return SurfaceInternal
}

// IsScraperKind reports whether kind is one of the per-agent scraper failures.
func IsScraperKind(kind Kind) bool {
	return kind == ScraperBlocked || kind == ScraperTimeout || kind == ScraperParsingFailure
}

// Error is the tagged domain error.
type Error struct {
	Kind     Kind
	Op       string
	Source   string
	Postcode string
	Details  map[string]any
	Err      error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Source != "" {
		fmt.Fprintf(&b, " source=%s", e.Source)
	}
	if e.Postcode != "" {
		fmt.Fprintf(&b, " postcode=%q", e.Postcode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of kind with a message cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Newf builds an Error of kind with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithSource returns a copy of e carrying source.
func (e *Error) WithSource(source string) *Error {
	cp := *e
	cp.Source = source
	return &cp
}

// WithPostcode returns a copy of e carrying postcode.
func (e *Error) WithPostcode(postcode string) *Error {
	cp := *e
	cp.Postcode = postcode
	return &cp
}

// WithDetail returns a copy of e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
