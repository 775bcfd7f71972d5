package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
)

// NCBI allows 3 requests per second without an API key, 10 with one.
const (
	requestsPerSecond      = 3
	requestsPerSecondKeyed = 10
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implements the Provider interface for PubMed via the E-utilities.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	limiter *rate.Limiter
}

// NewFetcher creates a new PubMed fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	rps := rate.Limit(requestsPerSecond)
	if cfg.PubMedAPIKey != "" {
		rps = rate.Limit(requestsPerSecondKeyed)
	}
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		limiter: rate.NewLimiter(rps, 1),
	}
}

// Name returns the name of the provider.
func (f *Fetcher) Name() string {
	return "pubmed"
}

// Resolves reports the identifier kinds PubMed can look up.
func (f *Fetcher) Resolves(kind models.IdentifierKind) bool {
	return kind == models.IdentifierPMID
}

// Resolve fetches the full metadata for a single PMID via efetch.
func (f *Fetcher) Resolve(ctx context.Context, id models.Identifier) (*models.MetadataRecord, error) {
	log := f.Logger.With(zap.String("pmid", id.Value))
	log.Debug("Fetching article details via EFetch.")

	efetchURL := fmt.Sprintf("%s/efetch.fcgi?db=pubmed&id=%s&retmode=xml",
		f.Config.PubMedBaseURL, url.QueryEscape(id.Value))
	if f.Config.PubMedAPIKey != "" {
		efetchURL += "&api_key=" + f.Config.PubMedAPIKey
	}

	body, err := f.get(ctx, efetchURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var articleSet pubmedArticleSet
	if err := xml.NewDecoder(body).Decode(&articleSet); err != nil {
		return nil, err
	}
	if len(articleSet.PubmedArticle) == 0 {
		return nil, providers.ErrNotFound
	}

	rec := mapArticleToRecord(&articleSet.PubmedArticle[0])
	if !rec.Usable() {
		return nil, providers.ErrNotFound
	}
	return rec, nil
}

// Search runs esearch for PMIDs and esummary for their metadata.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) ([]*models.MetadataRecord, error) {
	log := f.Logger.With(zap.String("query", query))
	log.Info("Starting PubMed ESearch.")

	ids, err := f.searchIDs(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	summaryURL := fmt.Sprintf("%s/esummary.fcgi?db=pubmed&id=%s&retmode=json",
		f.Config.PubMedBaseURL, strings.Join(ids, ","))
	if f.Config.PubMedAPIKey != "" {
		summaryURL += "&api_key=" + f.Config.PubMedAPIKey
	}

	body, err := f.get(ctx, summaryURL)
	if err != nil {
		return nil, fmt.Errorf("pubmed esummary: %w", err)
	}
	defer body.Close()

	var sr esummaryResponse
	if err := json.NewDecoder(body).Decode(&sr); err != nil {
		return nil, err
	}

	var records []*models.MetadataRecord
	for _, pmid := range ids {
		summary, ok := sr.Result.Summaries[pmid]
		if !ok {
			continue
		}
		rec := mapSummaryToRecord(pmid, &summary)
		if rec.Usable() {
			records = append(records, rec)
		}
	}
	log.Info("PubMed search finished", zap.Int("found", len(records)))
	return records, nil
}

// searchIDs runs an esearch query and returns up to limit PMIDs.
func (f *Fetcher) searchIDs(ctx context.Context, query string, limit int) ([]string, error) {
	searchURL := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&term=%s&retmode=json&retmax=%d",
		f.Config.PubMedBaseURL, url.QueryEscape(query), limit)
	if f.Config.PubMedAPIKey != "" {
		searchURL += "&api_key=" + f.Config.PubMedAPIKey
	}

	body, err := f.get(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var er esearchResponse
	if err := json.NewDecoder(body).Decode(&er); err != nil {
		return nil, err
	}
	return er.ESearchResult.IdList, nil
}

// get performs a rate-limited GET and returns the body on status 200.
func (f *Fetcher) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, providers.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &providers.RateLimitedError{Provider: f.Name()}
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, &providers.StatusError{Provider: f.Name(), StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// mapArticleToRecord converts an efetch XML article into the internal record.
func mapArticleToRecord(article *pubmedArticle) *models.MetadataRecord {
	citation := &article.MedlineCitation
	rec := &models.MetadataRecord{
		PMID:     citation.PMID,
		Title:    citation.Article.Title,
		Abstract: strings.Join(citation.Article.Abstract.Text, "\n"),
		Venue:    citation.Article.Journal.Title,
		URL:      fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", citation.PMID),
	}
	for _, author := range citation.Article.Authors {
		rec.Authors = append(rec.Authors, models.Author{Given: author.ForeName, Family: author.LastName})
	}
	for _, id := range citation.Article.ELocationID {
		if id.IDType == "doi" && id.ValidYN == "Y" {
			rec.DOI = strings.ToLower(strings.TrimSpace(id.Value))
			break
		}
	}
	if year := citation.Article.Journal.PubDate.Year; year != "" {
		if y, err := strconv.Atoi(year); err == nil {
			rec.Year = y
		}
	}
	return rec
}

// mapSummaryToRecord converts an esummary entry into the internal record.
func mapSummaryToRecord(pmid string, summary *articleSummary) *models.MetadataRecord {
	rec := &models.MetadataRecord{
		PMID:  pmid,
		Title: summary.Title,
		Venue: summary.FullJournal,
		URL:   fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", pmid),
	}
	for _, author := range summary.Authors {
		if author.Name != "" {
			// esummary names come as "Family Initials".
			parts := strings.SplitN(author.Name, " ", 2)
			a := models.Author{Family: parts[0]}
			if len(parts) > 1 {
				a.Given = parts[1]
			}
			rec.Authors = append(rec.Authors, a)
		}
	}
	for _, id := range summary.ArticleIDs {
		if id.IDType == "doi" {
			rec.DOI = strings.ToLower(strings.TrimSpace(id.Value))
			break
		}
	}
	if fields := strings.Fields(summary.PubDate); len(fields) > 0 {
		if y, err := strconv.Atoi(fields[0]); err == nil {
			rec.Year = y
		}
	}
	return rec
}
