package services

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

var (
	// DOI pattern per Crossref recommendation: 10.NNNN/suffix.
	doiPattern  = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^\[\]` + "`" + `]+`)
	pmidPattern = regexp.MustCompile(`^\d{1,9}$`)
)

// NormalizeIdentifier canonicalizes a user-supplied DOI, PMID or URL into a
// typed identifier. Pure function, no I/O.
func NormalizeIdentifier(raw string) (models.Identifier, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return models.Identifier{}, fmt.Errorf("%w: empty input", ErrMalformedIdentifier)
	}

	// Numeric PMIDs, with or without the pmid: prefix.
	if pmid := strings.TrimSpace(trimPrefixFold(s, "pmid:")); pmidPattern.MatchString(pmid) {
		return models.Identifier{Kind: models.IdentifierPMID, Value: pmid}, nil
	}

	// DOIs: bare, doi:-prefixed, or buried in a doi.org / publisher URL.
	if doi := doiPattern.FindString(strings.ToLower(s)); doi != "" {
		doi = strings.TrimRight(doi, ".,;")
		return models.Identifier{Kind: models.IdentifierDOI, Value: doi}, nil
	}

	// Anything else has to be a proper absolute URL.
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if _, err := url.ParseRequestURI(s); err == nil {
			return models.Identifier{Kind: models.IdentifierURL, Value: s}, nil
		}
	}

	return models.Identifier{}, fmt.Errorf("%w: %q", ErrMalformedIdentifier, raw)
}

// ParseCanonical splits a stored canonical form ("kind:value") back into a
// typed identifier. Inverse of Identifier.Canonical; no re-validation of the
// value, canonical forms are trusted as written.
func ParseCanonical(s string) (models.Identifier, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return models.Identifier{}, fmt.Errorf("%w: %q", ErrMalformedIdentifier, s)
	}
	switch k := models.IdentifierKind(kind); k {
	case models.IdentifierDOI, models.IdentifierPMID, models.IdentifierURL:
		return models.Identifier{Kind: k, Value: value}, nil
	}
	return models.Identifier{}, fmt.Errorf("%w: %q", ErrMalformedIdentifier, s)
}

// trimPrefixFold trims a prefix case-insensitively.
func trimPrefixFold(s, prefix string) string {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):]
	}
	return s
}
