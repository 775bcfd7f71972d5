package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

// Provider is the interface every metadata source (e.g. Crossref, OpenAlex,
// PubMed) has to implement. The resolver chain holds providers as a
// priority-ordered list of this capability.
type Provider interface {
	// Name returns the unique name of the provider (e.g. "crossref").
	Name() string

	// Resolves reports whether the provider can look up the given identifier kind.
	Resolves(kind models.IdentifierKind) bool

	// Resolve looks up canonical metadata for a single identifier. A miss is
	// reported as ErrNotFound, not as an empty record.
	Resolve(ctx context.Context, id models.Identifier) (*models.MetadataRecord, error)

	// Search runs the provider in search mode and returns candidate records.
	Search(ctx context.Context, query string, limit int) ([]*models.MetadataRecord, error)
}

// ErrNotFound signals that the provider has no record for the identifier.
// The chain moves on to the next provider without retrying.
var ErrNotFound = errors.New("provider: not found")

// StatusError reports an unexpected HTTP status from a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
}

// RateLimitedError signals a rate-limit response. The chain retries it like a
// transient error and additionally puts the provider on cooldown.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// IsNotFound reports whether the error means "no record", which must not be retried.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 404
}

// IsRateLimited reports whether the error is a rate-limit signal.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsTransient reports whether the error is worth retrying with backoff:
// network timeouts, 5xx responses and rate-limit signals.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
