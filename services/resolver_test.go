package services

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
)

// fakeProvider returns scripted responses and counts calls.
type fakeProvider struct {
	name  string
	kinds []models.IdentifierKind

	mu         sync.Mutex
	calls      int
	responses  []fakeResponse
	searchRecs []*models.MetadataRecord
	searchErr  error
}

type fakeResponse struct {
	rec *models.MetadataRecord
	err error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Resolves(kind models.IdentifierKind) bool {
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *fakeProvider) Resolve(ctx context.Context, id models.Identifier) (*models.MetadataRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	resp := f.responses[len(f.responses)-1]
	if f.calls <= len(f.responses) {
		resp = f.responses[f.calls-1]
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return resp.rec, nil
}

func (f *fakeProvider) Search(ctx context.Context, query string, limit int) ([]*models.MetadataRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.searchRecs, f.searchErr
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestChain(t *testing.T, provs ...providers.Provider) *ResolverChain {
	t.Helper()
	chain := NewResolverChain(newTestConfig(t), zap.NewNop(), provs)
	chain.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return chain
}

func doiID(value string) models.Identifier {
	return models.Identifier{Kind: models.IdentifierDOI, Value: value}
}

func okRecord(doi, title string) *models.MetadataRecord {
	return &models.MetadataRecord{DOI: doi, Title: title}
}

func TestResolveFallsBackOnNotFound(t *testing.T) {
	first := &fakeProvider{
		name:      "crossref",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{err: providers.ErrNotFound}},
	}
	second := &fakeProvider{
		name:      "openalex",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: okRecord("10.1000/x", "Found It")}},
	}

	chain := newTestChain(t, first, second)
	rec, err := chain.Resolve(context.Background(), doiID("10.1000/x"))
	require.NoError(t, err)
	assert.Equal(t, "Found It", rec.Title)
	assert.Equal(t, "openalex", rec.Provider)
	assert.Equal(t, 1, rec.Rank)

	// Not-found must not be retried.
	assert.Equal(t, 1, first.callCount())
}

func TestResolveRetriesTransientErrors(t *testing.T) {
	flaky := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{
			{err: &providers.StatusError{Provider: "crossref", StatusCode: http.StatusBadGateway}},
			{err: &providers.StatusError{Provider: "crossref", StatusCode: http.StatusServiceUnavailable}},
			{rec: okRecord("10.1000/x", "Third Time Lucky")},
		},
	}

	chain := newTestChain(t, flaky)
	rec, err := chain.Resolve(context.Background(), doiID("10.1000/x"))
	require.NoError(t, err)
	assert.Equal(t, "Third Time Lucky", rec.Title)
	assert.Equal(t, 3, flaky.callCount())
}

func TestResolveGivesUpAfterRetryBudget(t *testing.T) {
	down := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{
			{err: &providers.StatusError{Provider: "crossref", StatusCode: http.StatusInternalServerError}},
		},
	}

	chain := newTestChain(t, down)
	_, err := chain.Resolve(context.Background(), doiID("10.1000/x"))

	var exhausted *ResolutionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Contains(t, exhausted.Causes, "crossref")
	assert.Equal(t, chain.Config.RetryAttempts, down.callCount())
}

func TestResolveSkipsProvidersForWrongKind(t *testing.T) {
	pmidOnly := &fakeProvider{
		name:      "pubmed",
		kinds:     []models.IdentifierKind{models.IdentifierPMID},
		responses: []fakeResponse{{rec: okRecord("", "Should Not Happen")}},
	}

	chain := newTestChain(t, pmidOnly)
	_, err := chain.Resolve(context.Background(), doiID("10.1000/x"))

	var exhausted *ResolutionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Zero(t, pmidOnly.callCount())
}

func TestResolveExhaustedCollectsAllCauses(t *testing.T) {
	a := &fakeProvider{
		name:      "crossref",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{err: providers.ErrNotFound}},
	}
	b := &fakeProvider{
		name:      "openalex",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{err: providers.ErrNotFound}},
	}

	chain := newTestChain(t, a, b)
	_, err := chain.Resolve(context.Background(), doiID("10.1000/x"))

	var exhausted *ResolutionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Causes, 2)
	assert.Contains(t, err.Error(), "crossref")
	assert.Contains(t, err.Error(), "openalex")
}

func TestResolveMergePrefersEarlierProvider(t *testing.T) {
	first := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: &models.MetadataRecord{
			DOI: "10.1000/x", Title: "Primary Title",
		}}},
	}
	second := &fakeProvider{
		name:  "openalex",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: &models.MetadataRecord{
			DOI: "10.1000/x", Title: "Secondary Title", Abstract: "Only here", Year: 2021,
		}}},
	}

	chain := newTestChain(t, first, second)
	chain.Config.ResolverMerge = true

	rec, err := chain.Resolve(context.Background(), doiID("10.1000/x"))
	require.NoError(t, err)
	// Earlier provider wins conflicts, later providers only fill gaps.
	assert.Equal(t, "Primary Title", rec.Title)
	assert.Equal(t, "Only here", rec.Abstract)
	assert.Equal(t, 2021, rec.Year)
}

func TestResolveRateLimitStartsCooldown(t *testing.T) {
	limited := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{
			{err: &providers.RateLimitedError{Provider: "crossref", RetryAfter: time.Minute}},
		},
	}
	backup := &fakeProvider{
		name:      "openalex",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: okRecord("10.1000/x", "Backup")}},
	}

	chain := newTestChain(t, limited, backup)

	rec, err := chain.Resolve(context.Background(), doiID("10.1000/x"))
	require.NoError(t, err)
	assert.Equal(t, "Backup", rec.Title)
	limitedCalls := limited.callCount()

	// The next identifier in the batch must skip the cooled-down provider
	// without calling it again.
	rec, err = chain.Resolve(context.Background(), doiID("10.1000/y"))
	require.NoError(t, err)
	assert.Equal(t, "Backup", rec.Title)
	assert.Equal(t, limitedCalls, limited.callCount())
}

func TestSearchKeepsPriorityOrderAndTagsProvenance(t *testing.T) {
	first := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		searchRecs: []*models.MetadataRecord{
			{DOI: "10.1000/a", Title: "A"},
			{DOI: "10.1000/b", Title: "B"},
		},
	}
	second := &fakeProvider{
		name:  "openalex",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		searchRecs: []*models.MetadataRecord{
			{DOI: "10.1000/c", Title: "C"},
		},
	}

	chain := newTestChain(t, first, second)
	records, err := chain.Search(context.Background(), "anything", nil, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "crossref", records[0].Provider)
	assert.Equal(t, "crossref", records[1].Provider)
	assert.Equal(t, "openalex", records[2].Provider)
	assert.Equal(t, 0, records[0].Rank)
	assert.Equal(t, 1, records[2].Rank)
}

func TestSearchSourceFilter(t *testing.T) {
	first := &fakeProvider{name: "crossref", kinds: []models.IdentifierKind{models.IdentifierDOI}}
	second := &fakeProvider{
		name:       "openalex",
		kinds:      []models.IdentifierKind{models.IdentifierDOI},
		searchRecs: []*models.MetadataRecord{{DOI: "10.1000/c", Title: "C"}},
	}

	chain := newTestChain(t, first, second)
	records, err := chain.Search(context.Background(), "anything", []string{"openalex"}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Zero(t, first.callCount())

	_, err = chain.Search(context.Background(), "anything", []string{"nonexistent"}, 10)
	assert.Error(t, err)
}

func TestSearchSurvivesOneFailingProvider(t *testing.T) {
	broken := &fakeProvider{
		name:      "crossref",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		searchErr: &providers.StatusError{Provider: "crossref", StatusCode: http.StatusInternalServerError},
	}
	working := &fakeProvider{
		name:       "openalex",
		kinds:      []models.IdentifierKind{models.IdentifierDOI},
		searchRecs: []*models.MetadataRecord{{DOI: "10.1000/c", Title: "C"}},
	}

	chain := newTestChain(t, broken, working)
	records, err := chain.Search(context.Background(), "anything", nil, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "openalex", records[0].Provider)
}

func TestSearchFailsWhenEveryProviderFails(t *testing.T) {
	first := &fakeProvider{
		name:      "crossref",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		searchErr: &providers.StatusError{Provider: "crossref", StatusCode: http.StatusBadGateway},
	}
	second := &fakeProvider{
		name:      "openalex",
		kinds:     []models.IdentifierKind{models.IdentifierDOI},
		searchErr: &providers.StatusError{Provider: "openalex", StatusCode: http.StatusServiceUnavailable},
	}

	chain := newTestChain(t, first, second)
	_, err := chain.Search(context.Background(), "anything", nil, 10)
	var sf *SearchFailedError
	require.ErrorAs(t, err, &sf)
	assert.Contains(t, sf.Causes, "crossref")
	assert.Contains(t, sf.Causes, "openalex")
}

func TestSearchEmptyResultIsNotAnError(t *testing.T) {
	provider := &fakeProvider{name: "crossref", kinds: []models.IdentifierKind{models.IdentifierDOI}}

	chain := newTestChain(t, provider)
	records, err := chain.Search(context.Background(), "nothing matches", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
