package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
)

// The polite pool allows far more, but there is no reason to hammer the API.
const requestsPerSecond = 10

var (
	httpClient = &http.Client{Timeout: 60 * time.Second}
	jatsTags   = regexp.MustCompile(`<[^>]+>`)
)

// Fetcher implements the Provider interface for the Crossref Works API.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	limiter *rate.Limiter
}

// NewFetcher creates a new Crossref fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Name returns the name of the provider.
func (f *Fetcher) Name() string {
	return "crossref"
}

// Resolves reports the identifier kinds Crossref can look up.
func (f *Fetcher) Resolves(kind models.IdentifierKind) bool {
	return kind == models.IdentifierDOI
}

// Resolve looks up the work registered for a DOI.
func (f *Fetcher) Resolve(ctx context.Context, id models.Identifier) (*models.MetadataRecord, error) {
	lookupURL := fmt.Sprintf("%s/%s?mailto=%s",
		f.Config.CrossrefBaseURL, url.PathEscape(id.Value), url.QueryEscape(f.Config.ContactEmail))
	f.Logger.Debug("Calling Crossref works API", zap.String("url", lookupURL))

	var wr workResponse
	if err := f.getJSON(ctx, lookupURL, &wr); err != nil {
		return nil, err
	}
	rec := mapWorkToRecord(&wr.Message)
	if !rec.Usable() {
		return nil, providers.ErrNotFound
	}
	return rec, nil
}

// Search runs a bibliographic query and returns candidate records.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) ([]*models.MetadataRecord, error) {
	log := f.Logger.With(zap.String("query", query))
	log.Info("Starting Crossref search.")

	searchURL := fmt.Sprintf("%s?query=%s&rows=%d&mailto=%s",
		f.Config.CrossrefBaseURL, url.QueryEscape(query), limit, url.QueryEscape(f.Config.ContactEmail))

	var sr searchResponse
	if err := f.getJSON(ctx, searchURL, &sr); err != nil {
		return nil, err
	}

	records := make([]*models.MetadataRecord, 0, len(sr.Message.Items))
	for i := range sr.Message.Items {
		rec := mapWorkToRecord(&sr.Message.Items[i])
		if rec.Usable() {
			records = append(records, rec)
		}
	}
	log.Info("Crossref search finished", zap.Int("found", len(records)))
	return records, nil
}

// Relations returns the relation map of a work (e.g. "is-retracted-by",
// "has-version") keyed by relation type, values are the related DOIs.
func (f *Fetcher) Relations(ctx context.Context, doi string) (map[string][]string, error) {
	lookupURL := fmt.Sprintf("%s/%s?mailto=%s",
		f.Config.CrossrefBaseURL, url.PathEscape(doi), url.QueryEscape(f.Config.ContactEmail))

	var wr workResponse
	if err := f.getJSON(ctx, lookupURL, &wr); err != nil {
		return nil, err
	}

	relations := make(map[string][]string, len(wr.Message.Relation))
	for relType, entries := range wr.Message.Relation {
		for _, entry := range entries {
			if entry.ID != "" {
				relations[relType] = append(relations[relType], entry.ID)
			}
		}
	}
	return relations, nil
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
		return &providers.RateLimitedError{Provider: f.Name(), RetryAfter: retryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		return &providers.StatusError{Provider: f.Name(), StatusCode: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// mapWorkToRecord converts a Crossref work into the internal metadata record.
func mapWorkToRecord(w *work) *models.MetadataRecord {
	rec := &models.MetadataRecord{
		DOI:      strings.ToLower(w.DOI),
		URL:      w.URL,
		Abstract: stripJATS(w.Abstract),
	}
	if len(w.Title) > 0 {
		rec.Title = w.Title[0]
	}
	if len(w.ContainerTitle) > 0 {
		rec.Venue = w.ContainerTitle[0]
	}
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
		rec.Year = w.Issued.DateParts[0][0]
	}
	for _, a := range w.Author {
		rec.Authors = append(rec.Authors, models.Author{Given: a.Given, Family: a.Family})
	}
	for _, l := range w.Link {
		if strings.Contains(strings.ToLower(l.ContentType), "pdf") && l.URL != "" {
			rec.PdfURL = l.URL
			break
		}
	}
	return rec
}

// stripJATS removes the JATS markup Crossref embeds in abstracts.
func stripJATS(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(jatsTags.ReplaceAllString(s, ""))
}
