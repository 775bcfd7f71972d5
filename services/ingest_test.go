package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
)

func newTestIngest(t *testing.T, provs ...providers.Provider) *IngestService {
	t.Helper()
	cfg := newTestConfig(t)
	logger := zap.NewNop()
	db := openTestDB(t)

	store, err := NewContentStore(cfg, logger, db)
	require.NoError(t, err)
	chain := NewResolverChain(cfg, logger, provs)
	chain.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	return &IngestService{
		Config:  cfg,
		Logger:  logger,
		Chain:   chain,
		Library: NewLibrary(db, logger),
		Store:   store,
	}
}

func TestIngestResolvesAndPersists(t *testing.T) {
	provider := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: &models.MetadataRecord{
			DOI: "10.1000/alpha", Title: "Alpha Study",
		}}},
	}
	svc := newTestIngest(t, provider)

	res := svc.Ingest(context.Background(), "doi:10.1000/alpha", "")
	require.NoError(t, res.Err)
	assert.True(t, res.Created)
	assert.Equal(t, "doi:10.1000/alpha", res.Identifier)
	assert.False(t, res.PdfStored)
	// No PDF location anywhere is a warning, not a failure.
	assert.Equal(t, "no pdf location found", res.Warning)

	doc, err := svc.Library.DocumentByID(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Study", doc.Title)
}

func TestIngestReportsMalformedInput(t *testing.T) {
	svc := newTestIngest(t)
	res := svc.Ingest(context.Background(), "definitely not an identifier", "")
	require.ErrorIs(t, res.Err, ErrMalformedIdentifier)
}

func TestIngestDownloadsPDFWhenResolverKnowsOne(t *testing.T) {
	srv := servePayload(t, pdfBytes("fetched via resolver link"))
	provider := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: &models.MetadataRecord{
			DOI: "10.1000/alpha", Title: "Alpha Study", PdfURL: srv.URL,
		}}},
	}
	svc := newTestIngest(t, provider)

	res := svc.Ingest(context.Background(), "10.1000/alpha", "")
	require.NoError(t, res.Err)
	assert.True(t, res.PdfStored)
	assert.Empty(t, res.Warning)

	doc, err := svc.Library.DocumentByID(context.Background(), res.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc.PdfArtifact)
	assert.Equal(t, models.SourceOpenAccessFetch, doc.PdfArtifact.Source)
}

func TestIngestReportsDedupForSharedPDFBytes(t *testing.T) {
	srv := servePayload(t, pdfBytes("shared across two works"))
	provider := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{
			{rec: &models.MetadataRecord{DOI: "10.1000/alpha", Title: "Alpha Study", PdfURL: srv.URL}},
			{rec: &models.MetadataRecord{DOI: "10.1000/beta", Title: "Beta Study", PdfURL: srv.URL}},
		},
	}
	svc := newTestIngest(t, provider)

	first := svc.Ingest(context.Background(), "10.1000/alpha", "")
	require.NoError(t, first.Err)
	assert.True(t, first.PdfStored)
	assert.False(t, first.PdfDeduped)

	// Identical bytes under a second identifier hit the existing artifact.
	second := svc.Ingest(context.Background(), "10.1000/beta", "")
	require.NoError(t, second.Err)
	assert.True(t, second.PdfStored)
	assert.True(t, second.PdfDeduped)
	assert.NotEqual(t, first.DocumentID, second.DocumentID)
}

func TestIngestDegradesToWarningOnBadPDF(t *testing.T) {
	srv := servePayload(t, []byte("an html error page"))
	provider := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: &models.MetadataRecord{
			DOI: "10.1000/alpha", Title: "Alpha Study", PdfURL: srv.URL,
		}}},
	}
	svc := newTestIngest(t, provider)

	res := svc.Ingest(context.Background(), "10.1000/alpha", "")
	require.NoError(t, res.Err)
	assert.False(t, res.PdfStored)
	assert.Contains(t, res.Warning, "pdf download failed")
	assert.NotZero(t, res.DocumentID)
}

func TestIngestBatchKeepsInputOrder(t *testing.T) {
	provider := &fakeProvider{
		name:  "crossref",
		kinds: []models.IdentifierKind{models.IdentifierDOI},
		responses: []fakeResponse{{rec: &models.MetadataRecord{
			DOI: "10.1000/alpha", Title: "Alpha Study",
		}}},
	}
	svc := newTestIngest(t, provider)

	raws := []string{"10.1000/alpha", "garbage input", "10.1000/alpha"}
	results := svc.IngestBatch(context.Background(), raws)
	require.Len(t, results, 3)

	assert.Equal(t, "10.1000/alpha", results[0].Raw)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	// Both good entries land on the same document.
	assert.Equal(t, results[0].DocumentID, results[2].DocumentID)
}
