package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
)

// OpenAlex asks for max 10 requests per second without an API key.
const requestsPerSecond = 10

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implements the Provider interface for OpenAlex.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	limiter *rate.Limiter
}

// NewFetcher creates a new OpenAlex fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Name returns the name of the provider.
func (f *Fetcher) Name() string {
	return "openalex"
}

// Resolves reports the identifier kinds OpenAlex can look up directly.
func (f *Fetcher) Resolves(kind models.IdentifierKind) bool {
	return kind == models.IdentifierDOI || kind == models.IdentifierPMID
}

// Resolve looks up a single work by DOI or PMID.
func (f *Fetcher) Resolve(ctx context.Context, id models.Identifier) (*models.MetadataRecord, error) {
	var path string
	switch id.Kind {
	case models.IdentifierDOI:
		path = "doi:" + id.Value
	case models.IdentifierPMID:
		path = "pmid:" + id.Value
	default:
		return nil, providers.ErrNotFound
	}
	lookupURL := fmt.Sprintf("%s/%s?mailto=%s",
		f.Config.OpenAlexBaseURL, url.PathEscape(path), url.QueryEscape(f.Config.ContactEmail))
	f.Logger.Debug("Calling OpenAlex works API", zap.String("url", lookupURL))

	var w workResult
	if err := f.getJSON(ctx, lookupURL, &w); err != nil {
		return nil, err
	}
	rec := mapWorkToRecord(&w)
	if !rec.Usable() {
		return nil, providers.ErrNotFound
	}
	return rec, nil
}

// Search runs a full-text works search.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) ([]*models.MetadataRecord, error) {
	log := f.Logger.With(zap.String("query", query))
	log.Info("Starting OpenAlex search.")

	searchURL := fmt.Sprintf("%s?search=%s&per-page=%d&mailto=%s",
		f.Config.OpenAlexBaseURL, url.QueryEscape(query), limit, url.QueryEscape(f.Config.ContactEmail))

	var sr searchResponse
	if err := f.getJSON(ctx, searchURL, &sr); err != nil {
		return nil, err
	}

	records := make([]*models.MetadataRecord, 0, len(sr.Results))
	for i := range sr.Results {
		if len(records) >= limit {
			break
		}
		rec := mapWorkToRecord(&sr.Results[i])
		if rec.Usable() {
			records = append(records, rec)
		}
	}
	log.Info("OpenAlex search finished", zap.Int("found", len(records)))
	return records, nil
}

// getJSON performs a rate-limited GET and decodes the JSON body into out.
func (f *Fetcher) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return providers.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &providers.RateLimitedError{Provider: f.Name()}
	case resp.StatusCode != http.StatusOK:
		return &providers.StatusError{Provider: f.Name(), StatusCode: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// mapWorkToRecord converts an OpenAlex work into the internal metadata record.
func mapWorkToRecord(w *workResult) *models.MetadataRecord {
	rec := &models.MetadataRecord{
		DOI:      normalizeDOI(w.DOI),
		PMID:     normalizePMID(w.IDs.PMID),
		Title:    w.DisplayName,
		Year:     w.PublicationYear,
		Venue:    w.PrimaryLocation.Source.DisplayName,
		URL:      w.ID,
		Abstract: invertAbstract(w.AbstractInvertedIndex),
	}
	for _, a := range w.Authorships {
		rec.Authors = append(rec.Authors, splitName(a.Author.DisplayName))
	}
	if w.BestOALocation.PdfURL != "" {
		rec.PdfURL = w.BestOALocation.PdfURL
	} else if w.PrimaryLocation.PdfURL != "" {
		rec.PdfURL = w.PrimaryLocation.PdfURL
	}
	return rec
}

// normalizeDOI strips the resolver prefix OpenAlex puts in front of DOIs.
func normalizeDOI(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://doi.org/")
	s = strings.TrimPrefix(s, "http://doi.org/")
	return s
}

// normalizePMID strips the PubMed URL prefix from the ids.pmid field.
func normalizePMID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://pubmed.ncbi.nlm.nih.gov/")
	return strings.TrimSuffix(s, "/")
}

// splitName maps a display name onto given/family parts, family being the
// last token. OpenAlex only ships the combined form.
func splitName(display string) models.Author {
	display = strings.TrimSpace(display)
	idx := strings.LastIndex(display, " ")
	if idx < 0 {
		return models.Author{Family: display}
	}
	return models.Author{Given: display[:idx], Family: display[idx+1:]}
}
