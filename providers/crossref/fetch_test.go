package crossref

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
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
)

func newStubFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{CrossrefBaseURL: srv.URL, ContactEmail: "dev@example.org"}
	return NewFetcher(cfg, zap.NewNop())
}

const workJSON = `{
	"message": {
		"DOI": "10.1000/alpha",
		"title": ["Alpha Study"],
		"container-title": ["Journal of Testing"],
		"abstract": "<jats:p>Plain <jats:italic>abstract</jats:italic> text.</jats:p>",
		"URL": "https://doi.org/10.1000/alpha",
		"author": [
			{"given": "Ada", "family": "Lovelace"},
			{"given": "Alan", "family": "Turing"}
		],
		"issued": {"date-parts": [[2020, 4, 1]]},
		"link": [
			{"URL": "https://example.org/alpha.xml", "content-type": "text/xml"},
			{"URL": "https://example.org/alpha.pdf", "content-type": "application/pdf"}
		],
		"relation": {
			"is-retracted-by": [{"id": "10.1000/notice", "id-type": "doi"}]
		}
	}
}`

func TestResolveMapsWork(t *testing.T) {
	fetcher := newStubFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "mailto=")
		w.Write([]byte(workJSON))
	})

	rec, err := fetcher.Resolve(context.Background(),
		models.Identifier{Kind: models.IdentifierDOI, Value: "10.1000/alpha"})
	require.NoError(t, err)

	assert.Equal(t, "10.1000/alpha", rec.DOI)
	assert.Equal(t, "Alpha Study", rec.Title)
	assert.Equal(t, "Journal of Testing", rec.Venue)
	assert.Equal(t, 2020, rec.Year)
	assert.Equal(t, "Plain abstract text.", rec.Abstract)
	assert.Equal(t, "https://example.org/alpha.pdf", rec.PdfURL)
	require.Len(t, rec.Authors, 2)
	assert.Equal(t, "Lovelace", rec.Authors[0].Family)
}

func TestResolveNotFound(t *testing.T) {
	fetcher := newStubFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such doi", http.StatusNotFound)
	})

	_, err := fetcher.Resolve(context.Background(),
		models.Identifier{Kind: models.IdentifierDOI, Value: "10.1000/missing"})
	require.ErrorIs(t, err, providers.ErrNotFound)
}

func TestResolveRateLimited(t *testing.T) {
	fetcher := newStubFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := fetcher.Resolve(context.Background(),
		models.Identifier{Kind: models.IdentifierDOI, Value: "10.1000/alpha"})
	var rl *providers.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, float64(30), rl.RetryAfter.Seconds())
	assert.True(t, providers.IsRateLimited(err))
	assert.True(t, providers.IsTransient(err))
}

func TestResolveServerError(t *testing.T) {
	fetcher := newStubFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := fetcher.Resolve(context.Background(),
		models.Identifier{Kind: models.IdentifierDOI, Value: "10.1000/alpha"})
	var se *providers.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.True(t, providers.IsTransient(err))
	assert.False(t, providers.IsNotFound(err))
}

func TestRelations(t *testing.T) {
	fetcher := newStubFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(workJSON))
	})

	relations, err := fetcher.Relations(context.Background(), "10.1000/alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1000/notice"}, relations["is-retracted-by"])
}

func TestResolvesOnlyDOIs(t *testing.T) {
	fetcher := NewFetcher(&config.Config{}, zap.NewNop())
	assert.True(t, fetcher.Resolves(models.IdentifierDOI))
	assert.False(t, fetcher.Resolves(models.IdentifierPMID))
	assert.False(t, fetcher.Resolves(models.IdentifierURL))
}
