package services

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
)

// DOIs printed in a PDF usually sit on the first page, trailed by layout
// punctuation the pattern must not swallow.
var pdfDOIPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)

const scanPages = 3

// BatchScanner walks a directory of PDF files, pulls a DOI out of each one
// and feeds it through the ingestion pipeline with the file attached.
type BatchScanner struct {
	Config *config.Config
	Logger *zap.Logger
	Ingest *IngestService
}

// Scan processes up to limit PDFs under dir. Files without a recognizable
// DOI show up as failed results; the rest of the batch keeps going.
func (s *BatchScanner) Scan(ctx context.Context, dir string, limit int) ([]IngestResult, error) {
	paths, err := listPDFs(dir, limit)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Scanning pdf directory", zap.String("dir", dir), zap.Int("files", len(paths)))

	results := make([]IngestResult, len(paths))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.Config.IngestConcurrency)
	for i, path := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(slot int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[slot] = s.scanOne(ctx, path)
		}(i, path)
	}
	wg.Wait()
	return results, nil
}

func (s *BatchScanner) scanOne(ctx context.Context, path string) IngestResult {
	doi, err := ExtractDOI(path)
	if err != nil {
		return IngestResult{Raw: path, Error: "reading pdf: " + err.Error(), Err: err}
	}
	if doi == "" {
		return IngestResult{Raw: path, Error: "no doi found in document"}
	}
	res := s.Ingest.Ingest(ctx, doi, path)
	res.Raw = path
	return res
}

func listPDFs(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
		if limit > 0 && len(paths) >= limit {
			break
		}
	}
	return paths, nil
}

// ExtractDOI searches the first pages of a PDF for a DOI. A PDF without one
// returns empty, not an error.
func ExtractDOI(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	maxPages := scanPages
	if r.NumPage() < maxPages {
		maxPages = r.NumPage()
	}
	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, match := range pdfDOIPattern.FindAllString(text, -1) {
			match = strings.TrimRight(match, ".,;:)")
			if strings.Contains(match, "/") && len(match) >= 10 {
				return strings.ToLower(match), nil
			}
		}
	}
	return "", nil
}
