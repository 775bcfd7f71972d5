package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		kind  models.IdentifierKind
		value string
	}{
		{"bare doi", "10.1038/s41586-020-2649-2", models.IdentifierDOI, "10.1038/s41586-020-2649-2"},
		{"doi prefix", "doi:10.1038/s41586-020-2649-2", models.IdentifierDOI, "10.1038/s41586-020-2649-2"},
		{"doi url", "https://doi.org/10.1038/s41586-020-2649-2", models.IdentifierDOI, "10.1038/s41586-020-2649-2"},
		{"uppercase doi", "10.1002/ANIE.202015", models.IdentifierDOI, "10.1002/anie.202015"},
		{"doi with trailing period", "10.1000/xyz123.", models.IdentifierDOI, "10.1000/xyz123"},
		{"doi with surrounding whitespace", "  10.1000/xyz123  ", models.IdentifierDOI, "10.1000/xyz123"},
		{"bare pmid", "32015508", models.IdentifierPMID, "32015508"},
		{"pmid prefix", "pmid:32015508", models.IdentifierPMID, "32015508"},
		{"pmid prefix uppercase", "PMID:32015508", models.IdentifierPMID, "32015508"},
		{"plain url", "https://example.org/paper.pdf", models.IdentifierURL, "https://example.org/paper.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NormalizeIdentifier(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, id.Kind)
			assert.Equal(t, tt.value, id.Value)
		})
	}
}

func TestNormalizeIdentifierRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-an-identifier", "10.abc/broken", "ftp://example.org/x"} {
		t.Run(raw, func(t *testing.T) {
			_, err := NormalizeIdentifier(raw)
			require.ErrorIs(t, err, ErrMalformedIdentifier)
		})
	}
}

func TestIdentifierCanonicalForm(t *testing.T) {
	id, err := NormalizeIdentifier("doi:10.1000/xyz")
	require.NoError(t, err)
	assert.Equal(t, "doi:10.1000/xyz", id.Canonical())

	id, err = NormalizeIdentifier("pmid:12345")
	require.NoError(t, err)
	assert.Equal(t, "pmid:12345", id.Canonical())
}

func TestParseCanonicalRoundTrip(t *testing.T) {
	for _, canonical := range []string{
		"doi:10.1000/xyz",
		"pmid:12345",
		"url:https://openalex.org/W123",
	} {
		t.Run(canonical, func(t *testing.T) {
			id, err := ParseCanonical(canonical)
			require.NoError(t, err)
			assert.Equal(t, canonical, id.Canonical())
		})
	}
}

func TestParseCanonicalRejectsUnknownForms(t *testing.T) {
	for _, raw := range []string{"", "doi:", "isbn:978-3", "just-a-value"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseCanonical(raw)
			require.ErrorIs(t, err, ErrMalformedIdentifier)
		})
	}
}
