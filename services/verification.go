package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers/crossref"
)

// VerificationResult is the outcome of one registry check.
type VerificationResult struct {
	DOI    string                    `json:"doi"`
	Status models.VerificationStatus `json:"status,omitempty"`
	Notes  string                    `json:"notes,omitempty"`
	Error  string                    `json:"error,omitempty"`

	Err error `json:"-"`
}

// VerificationService checks stored documents against the registry's relation
// data for retraction and versioning notices. A failed check never changes a
// document's recorded status: in particular a retraction stays until a fresh
// successful check comes back clean.
type VerificationService struct {
	Config   *config.Config
	Logger   *zap.Logger
	Library  *Library
	Registry *crossref.Fetcher
}

// Verify runs a single registry check and, on success, records the outcome.
func (s *VerificationService) Verify(ctx context.Context, doi string) VerificationResult {
	res := VerificationResult{DOI: doi}

	relations, err := s.Registry.Relations(ctx, doi)
	if err != nil {
		verr := &VerificationUnavailableError{DOI: doi, Err: err}
		res.Err = verr
		res.Error = verr.Error()
		s.Logger.Warn("Registry check failed, keeping recorded status",
			zap.String("doi", doi), zap.Error(err))
		return res
	}

	res.Status, res.Notes = classifyRelations(relations)

	doc, err := s.Library.DocumentByDOI(ctx, doi)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	if err := s.Library.SetVerification(ctx, doc.ID, res.Status); err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	if res.Status != doc.VerificationStatus {
		s.Logger.Info("Verification status changed",
			zap.String("doi", doi),
			zap.String("from", string(doc.VerificationStatus)),
			zap.String("to", string(res.Status)))
	}
	return res
}

// classifyRelations maps registry relations to a status. Retraction notices
// dominate versioning notices.
func classifyRelations(relations map[string][]string) (models.VerificationStatus, string) {
	if targets, ok := relations["is-retracted-by"]; ok && len(targets) > 0 {
		return models.VerificationRetracted, "retracted by " + targets[0]
	}
	for _, rel := range []string{"is-updated-by", "has-version"} {
		if targets, ok := relations[rel]; ok && len(targets) > 0 {
			return models.VerificationUpdated, rel + " " + targets[0]
		}
	}
	return models.VerificationVerified, ""
}

// VerifyBatch checks a set of DOIs with bounded parallelism. Results come
// back in input order.
func (s *VerificationService) VerifyBatch(ctx context.Context, dois []string) []VerificationResult {
	results := make([]VerificationResult, len(dois))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.Config.VerifyConcurrency)
	for i, doi := range dois {
		wg.Add(1)
		sem <- struct{}{}
		go func(slot int, doi string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[slot] = s.Verify(ctx, doi)
		}(i, doi)
	}
	wg.Wait()
	return results
}

// VerifyAll sweeps every document that carries a DOI. Used by the scheduled
// background check.
func (s *VerificationService) VerifyAll(ctx context.Context) ([]VerificationResult, error) {
	docs, err := s.Library.DocumentsWithDOI(ctx)
	if err != nil {
		return nil, err
	}
	dois := make([]string, 0, len(docs))
	for _, doc := range docs {
		dois = append(dois, doc.DOI)
	}
	s.Logger.Info("Starting verification sweep", zap.Int("documents", len(dois)))
	return s.VerifyBatch(ctx, dois), nil
}
