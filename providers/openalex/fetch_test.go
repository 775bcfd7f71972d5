package openalex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

func TestInvertAbstract(t *testing.T) {
	index := map[string][]int{
		"studies": {2},
		"Prior":   {0},
		"showed":  {3},
		"this":    {1, 4},
	}
	assert.Equal(t, "Prior this studies showed this", invertAbstract(index))
	assert.Equal(t, "", invertAbstract(nil))
}

func TestNormalizeDOI(t *testing.T) {
	assert.Equal(t, "10.1000/alpha", normalizeDOI("https://doi.org/10.1000/Alpha"))
	assert.Equal(t, "10.1000/alpha", normalizeDOI("10.1000/alpha"))
	assert.Equal(t, "", normalizeDOI(""))
}

func TestNormalizePMID(t *testing.T) {
	assert.Equal(t, "12345", normalizePMID("https://pubmed.ncbi.nlm.nih.gov/12345/"))
	assert.Equal(t, "12345", normalizePMID("12345"))
}

func TestSplitName(t *testing.T) {
	assert.Equal(t, models.Author{Given: "Ada", Family: "Lovelace"}, splitName("Ada Lovelace"))
	assert.Equal(t, models.Author{Given: "Jean van der", Family: "Meer"}, splitName("Jean van der Meer"))
	assert.Equal(t, models.Author{Family: "Aristotle"}, splitName("Aristotle"))
}

func TestResolveByDOIAndPMID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{
			"id": "https://openalex.org/W1",
			"doi": "https://doi.org/10.1000/alpha",
			"display_name": "Alpha Study",
			"publication_year": 2020,
			"ids": {"pmid": "https://pubmed.ncbi.nlm.nih.gov/12345"},
			"authorships": [{"author": {"display_name": "Ada Lovelace"}}],
			"primary_location": {"pdf_url": "", "source": {"display_name": "Journal of Testing"}},
			"best_oa_location": {"pdf_url": "https://example.org/alpha.pdf"},
			"abstract_inverted_index": {"Short": [0], "abstract.": [1]}
		}`))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{OpenAlexBaseURL: srv.URL, ContactEmail: "dev@example.org"}
	fetcher := NewFetcher(cfg, zap.NewNop())

	rec, err := fetcher.Resolve(context.Background(),
		models.Identifier{Kind: models.IdentifierDOI, Value: "10.1000/alpha"})
	require.NoError(t, err)
	assert.Contains(t, gotPath, "doi:10.1000/alpha")
	assert.Equal(t, "10.1000/alpha", rec.DOI)
	assert.Equal(t, "12345", rec.PMID)
	assert.Equal(t, "Journal of Testing", rec.Venue)
	assert.Equal(t, "https://example.org/alpha.pdf", rec.PdfURL)
	assert.Equal(t, "Short abstract.", rec.Abstract)

	_, err = fetcher.Resolve(context.Background(),
		models.Identifier{Kind: models.IdentifierPMID, Value: "12345"})
	require.NoError(t, err)
	assert.Contains(t, gotPath, "pmid:12345")
}
