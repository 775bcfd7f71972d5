// Package unpaywall locates open-access PDF copies for resolved DOIs.
package unpaywall

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Response is the JSON answer of the Unpaywall API.
type Response struct {
	BestOALocation struct {
		URLForPDF string `json:"url_for_pdf"`
		License   string `json:"license"`
		HostType  string `json:"host_type"`
	} `json:"best_oa_location"`
}

// Location describes one open-access copy of a work.
type Location struct {
	PdfURL   string
	License  string
	HostType string
}

// Fetcher wraps the Unpaywall lookup.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher creates a new Unpaywall fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Locate returns the best open-access location for a DOI. A miss returns
// (nil, nil): no OA copy is a normal outcome, not an error.
func (f *Fetcher) Locate(ctx context.Context, doi string) (*Location, error) {
	if f.Config.ContactEmail == "" {
		return nil, fmt.Errorf("unpaywall contact email is not configured")
	}

	lookupURL := fmt.Sprintf("%s/%s?email=%s",
		f.Config.UnpaywallBaseURL, url.PathEscape(doi), url.QueryEscape(f.Config.ContactEmail))
	log := f.Logger.With(zap.String("doi", doi))
	log.Debug("Calling Unpaywall API.")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Debug("DOI unknown to Unpaywall.")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unpaywall request failed with status: %d", resp.StatusCode)
	}

	var ur Response
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, err
	}

	if ur.BestOALocation.URLForPDF == "" {
		log.Debug("No PDF link in Unpaywall answer.")
		return nil, nil
	}

	log.Info("Found open-access PDF via Unpaywall.")
	return &Location{
		PdfURL:   ur.BestOALocation.URLForPDF,
		License:  ur.BestOALocation.License,
		HostType: ur.BestOALocation.HostType,
	}, nil
}
