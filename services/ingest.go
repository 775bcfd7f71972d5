package services

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers/unpaywall"
)

// IngestResult describes what happened to a single identifier. A missing PDF
// is a warning, not a failure: the document record still lands in the library.
type IngestResult struct {
	Raw        string `json:"raw"`
	Identifier string `json:"identifier,omitempty"`
	DocumentID uint   `json:"document_id,omitempty"`
	Created    bool   `json:"created"`
	PdfStored  bool   `json:"pdf_stored"`
	PdfDeduped bool   `json:"pdf_deduped,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`

	Err error `json:"-"`
}

// IngestService drives the whole pipeline for one identifier: normalize,
// resolve, upsert, then try to land a PDF next to the record.
type IngestService struct {
	Config    *config.Config
	Logger    *zap.Logger
	Chain     *ResolverChain
	Library   *Library
	Store     *ContentStore
	Unpaywall *unpaywall.Fetcher
}

// Ingest processes one raw identifier. localPDF may name a file handed in
// alongside the identifier; it takes precedence over any fetched location.
func (s *IngestService) Ingest(ctx context.Context, raw, localPDF string) IngestResult {
	res := IngestResult{Raw: raw}

	id, err := NormalizeIdentifier(raw)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.Identifier = id.Canonical()

	rec, err := s.Chain.Resolve(ctx, id)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}

	doc, created, err := s.Library.UpsertDocument(ctx, rec)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.DocumentID = doc.ID
	res.Created = created

	artifact, deduped, warn := s.acquirePDF(ctx, doc, rec, localPDF)
	if warn != "" {
		res.Warning = warn
	}
	if artifact != nil {
		if err := s.Library.LinkArtifact(ctx, doc.ID, artifact.ID); err != nil {
			res.Err = err
			res.Error = err.Error()
			return res
		}
		res.PdfStored = true
		res.PdfDeduped = deduped
	}
	return res
}

// acquirePDF tries, in order, a local attachment, the resolver's PDF link and
// an open-access lookup. Every failure degrades to a warning. The bool
// reports a content store dedup hit.
func (s *IngestService) acquirePDF(ctx context.Context, doc *models.Document, rec *models.MetadataRecord, localPDF string) (*models.PdfArtifact, bool, string) {
	if doc.PdfArtifactID != nil {
		return nil, false, ""
	}

	if localPDF != "" {
		artifact, deduped, err := s.Store.PutFile(ctx, localPDF, models.SourceLocalAttachment)
		if err != nil {
			s.Logger.Warn("Storing local attachment failed",
				zap.String("path", localPDF), zap.Error(err))
			return nil, false, "local attachment rejected: " + err.Error()
		}
		return artifact, deduped, ""
	}

	pdfURL := rec.PdfURL
	if pdfURL == "" && rec.DOI != "" && s.Unpaywall != nil {
		loc, err := s.Unpaywall.Locate(ctx, rec.DOI)
		if err != nil {
			s.Logger.Warn("Open-access lookup failed", zap.String("doi", rec.DOI), zap.Error(err))
		} else if loc != nil {
			pdfURL = loc.PdfURL
		}
	}
	if pdfURL == "" {
		return nil, false, "no pdf location found"
	}

	artifact, deduped, err := s.Store.Download(ctx, pdfURL, models.SourceOpenAccessFetch)
	if err != nil {
		var ff *FetchFailedError
		if errors.As(err, &ff) {
			s.Logger.Warn("PDF download failed",
				zap.String("url", pdfURL), zap.String("reason", ff.Reason))
			return nil, false, "pdf download failed: " + ff.Reason
		}
		s.Logger.Error("Storing pdf failed", zap.String("url", pdfURL), zap.Error(err))
		return nil, false, "pdf storage failed: " + err.Error()
	}
	return artifact, deduped, ""
}

// IngestBatch runs a slice of identifiers with bounded parallelism. Results
// come back in input order; one bad identifier never stops the batch.
func (s *IngestService) IngestBatch(ctx context.Context, raws []string) []IngestResult {
	results := make([]IngestResult, len(raws))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.Config.IngestConcurrency)
	for i, raw := range raws {
		wg.Add(1)
		sem <- struct{}{}
		go func(slot int, raw string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[slot] = s.Ingest(ctx, raw, "")
		}(i, raw)
	}
	wg.Wait()
	return results
}
