package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

// ErrMalformedIdentifier signals unusable user input. Never retried.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// ErrStorageConflict signals a concurrent write collision on a unique key
// that survived the internal merge retries.
var ErrStorageConflict = errors.New("storage conflict")

// ResolutionExhaustedError is returned when every provider in the chain
// failed or reported not-found. It carries the last error per provider.
type ResolutionExhaustedError struct {
	Identifier models.Identifier
	Causes     map[string]error
}

func (e *ResolutionExhaustedError) Error() string {
	names := make([]string, 0, len(e.Causes))
	for name := range e.Causes {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Causes[name]))
	}
	return fmt.Sprintf("resolution exhausted for %s [%s]", e.Identifier.Canonical(), strings.Join(parts, "; "))
}

// SearchFailedError is returned when a search produced nothing because every
// selected provider failed or was on cooldown. A genuinely empty result set
// from working providers is not an error.
type SearchFailedError struct {
	Query  string
	Causes map[string]error
}

func (e *SearchFailedError) Error() string {
	names := make([]string, 0, len(e.Causes))
	for name := range e.Causes {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Causes[name]))
	}
	return fmt.Sprintf("search failed for %q [%s]", e.Query, strings.Join(parts, "; "))
}

// FetchFailedError reports a failed PDF acquisition. It is non-fatal: the
// document is still persisted metadata-only.
type FetchFailedError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pdf fetch failed (%s): %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("pdf fetch failed (%s): %s", e.URL, e.Reason)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError reports a screening label that violates the state
// machine. The candidate is left untouched.
type InvalidTransitionError struct {
	From models.CandidateStatus
	To   models.CandidateStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid screening transition %s -> %s", e.From, e.To)
}

// VerificationUnavailableError reports a per-document failure inside a
// verification batch. It never aborts the rest of the batch.
type VerificationUnavailableError struct {
	DOI string
	Err error
}

func (e *VerificationUnavailableError) Error() string {
	return fmt.Sprintf("verification unavailable for %s: %v", e.DOI, e.Err)
}

func (e *VerificationUnavailableError) Unwrap() error {
	return e.Err
}
