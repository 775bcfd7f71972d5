package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

// legalTransitions holds the label state machine. Terminal states carry no
// outgoing edges; leaving them takes an explicit override.
var legalTransitions = map[models.CandidateStatus][]models.CandidateStatus{
	models.StatusPending: {models.StatusIncluded, models.StatusExcluded, models.StatusMaybe},
	models.StatusMaybe:   {models.StatusIncluded, models.StatusExcluded},
}

// ScreeningService manages review projects: collecting candidates from the
// providers, walking them through the label state machine and reporting the
// flow counts.
type ScreeningService struct {
	Config *config.Config
	Logger *zap.Logger
	Chain  *ResolverChain
	Ingest *IngestService
	DB     *gorm.DB
}

// Start creates a project and fills it with deduplicated search results. A
// record surfacing in several providers becomes one candidate whose sources
// list every provider that returned it.
func (s *ScreeningService) Start(ctx context.Context, name, query string, sources []string, limit int) (*models.ScreeningProject, error) {
	if name == "" || query == "" {
		return nil, fmt.Errorf("%w: project needs a name and a query", ErrMalformedIdentifier)
	}
	if limit <= 0 {
		limit = 100
	}

	records, err := s.Chain.Search(ctx, query, sources, limit)
	if err != nil {
		return nil, err
	}

	candidates := dedupeCandidates(records, limit)
	project := &models.ScreeningProject{
		Name:       name,
		Query:      query,
		Sources:    strings.Join(sources, ","),
		Candidates: candidates,
	}
	if err := s.DB.WithContext(ctx).Create(project).Error; err != nil {
		return nil, err
	}
	s.Logger.Info("Screening project started",
		zap.String("name", name), zap.Int("candidates", len(candidates)))
	return project, nil
}

// dedupeCandidates merges provider results on their canonical identifier,
// keeping provider priority order and recording provenance.
func dedupeCandidates(records []*models.MetadataRecord, limit int) []models.Candidate {
	seen := map[string]int{}
	out := make([]models.Candidate, 0, limit)
	for _, rec := range records {
		key := rec.Canonical()
		if key == "" {
			continue
		}
		if idx, ok := seen[key]; ok {
			existing := &out[idx]
			if !strings.Contains(existing.Sources, rec.Provider) {
				existing.Sources += "," + rec.Provider
			}
			continue
		}
		if len(out) >= limit {
			continue
		}
		seen[key] = len(out)
		out = append(out, models.Candidate{
			Identifier: key,
			Title:      rec.Title,
			Authors:    joinAuthors(rec.Authors),
			Venue:      rec.Venue,
			Year:       rec.Year,
			URL:        rec.URL,
			Sources:    rec.Provider,
			Status:     models.StatusPending,
		})
	}
	return out
}

// splitAuthors reverses joinAuthors for the snapshot promotion path.
func splitAuthors(s string) []models.Author {
	if s == "" {
		return nil
	}
	var authors []models.Author
	for _, name := range strings.Split(s, ";") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if i := strings.LastIndex(name, " "); i > 0 {
			authors = append(authors, models.Author{Given: name[:i], Family: name[i+1:]})
		} else {
			authors = append(authors, models.Author{Family: name})
		}
	}
	return authors
}

func joinAuthors(authors []models.Author) string {
	parts := make([]string, 0, len(authors))
	for _, a := range authors {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name != "" {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "; ")
}

// Label moves a candidate through the state machine and appends the move to
// its history. Leaving a terminal state requires override; exclusions require
// a reason so the flow report can break them down.
func (s *ScreeningService) Label(ctx context.Context, candidateID uint, to models.CandidateStatus, reason string, override bool) (*models.Candidate, error) {
	if to == models.StatusExcluded && reason == "" {
		return nil, fmt.Errorf("excluding a candidate requires a reason")
	}

	var candidate models.Candidate
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.First(&candidate, candidateID).Error; err != nil {
			return err
		}

		if !transitionAllowed(candidate.Status, to) && !override {
			return &InvalidTransitionError{From: candidate.Status, To: to}
		}
		if candidate.Status == to {
			return &InvalidTransitionError{From: candidate.Status, To: to}
		}

		now := time.Now()
		event := models.LabelEvent{
			CandidateID: candidate.ID,
			FromStatus:  candidate.Status,
			ToStatus:    to,
			Reason:      reason,
			Override:    override,
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		candidate.Status = to
		candidate.Reason = reason
		candidate.LabeledAt = &now
		return tx.Save(&candidate).Error
	})
	if err != nil {
		return nil, err
	}
	return &candidate, nil
}

func transitionAllowed(from, to models.CandidateStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Promote runs an included candidate through the ingestion pipeline and links
// the resulting document back to it.
func (s *ScreeningService) Promote(ctx context.Context, candidateID uint) (*IngestResult, error) {
	var candidate models.Candidate
	if err := s.DB.WithContext(ctx).First(&candidate, candidateID).Error; err != nil {
		return nil, err
	}
	if candidate.Status != models.StatusIncluded {
		return nil, fmt.Errorf("candidate %d is %s, only included candidates can be promoted",
			candidateID, candidate.Status)
	}

	id, err := ParseCanonical(candidate.Identifier)
	if err != nil {
		return nil, err
	}

	var res IngestResult
	if id.Kind == models.IdentifierURL {
		// No provider resolves plain URLs, so a url-only candidate is
		// promoted from its discovery-time snapshot.
		res = s.promoteSnapshot(ctx, &candidate, id)
	} else {
		res = s.Ingest.Ingest(ctx, id.Canonical(), "")
	}
	if res.Err != nil {
		return &res, res.Err
	}
	err = s.DB.WithContext(ctx).
		Model(&candidate).
		Update("document_id", res.DocumentID).Error
	if err != nil {
		return &res, err
	}
	return &res, nil
}

// promoteSnapshot persists a url-only candidate from the metadata captured at
// discovery time.
func (s *ScreeningService) promoteSnapshot(ctx context.Context, candidate *models.Candidate, id models.Identifier) IngestResult {
	res := IngestResult{Raw: candidate.Identifier, Identifier: id.Canonical()}

	rec := &models.MetadataRecord{
		Title:   candidate.Title,
		Authors: splitAuthors(candidate.Authors),
		Venue:   candidate.Venue,
		Year:    candidate.Year,
		URL:     id.Value,
	}
	doc, created, err := s.Ingest.Library.UpsertDocument(ctx, rec)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.DocumentID = doc.ID
	res.Created = created

	artifact, deduped, warn := s.Ingest.acquirePDF(ctx, doc, rec, "")
	if warn != "" {
		res.Warning = warn
	}
	if artifact != nil {
		if err := s.Ingest.Library.LinkArtifact(ctx, doc.ID, artifact.ID); err != nil {
			res.Err = err
			res.Error = err.Error()
			return res
		}
		res.PdfStored = true
		res.PdfDeduped = deduped
	}
	return res
}

// Prisma derives the flow counters for a project from its candidates. Counts
// are never stored, so they cannot drift from the labels.
func (s *ScreeningService) Prisma(ctx context.Context, projectID uint) (*models.PrismaCounters, error) {
	var candidates []models.Candidate
	err := s.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	counters := &models.PrismaCounters{
		ProjectID:        projectID,
		Identified:       len(candidates),
		ExcludedByReason: map[string]int{},
	}
	for _, c := range candidates {
		switch c.Status {
		case models.StatusPending:
			counters.Pending++
		case models.StatusMaybe:
			counters.Maybe++
		case models.StatusIncluded:
			counters.Included++
		case models.StatusExcluded:
			counters.Excluded++
			counters.ExcludedByReason[c.Reason]++
		}
	}
	counters.Screened = counters.Maybe + counters.Included + counters.Excluded
	return counters, nil
}

// Projects lists every screening project with its candidate count.
func (s *ScreeningService) Projects(ctx context.Context) ([]models.ScreeningProject, error) {
	var projects []models.ScreeningProject
	err := s.DB.WithContext(ctx).Order("created_at desc").Find(&projects).Error
	return projects, err
}

// Candidates lists a project's candidates, optionally filtered by status.
func (s *ScreeningService) Candidates(ctx context.Context, projectID uint, status models.CandidateStatus) ([]models.Candidate, error) {
	query := s.DB.WithContext(ctx).Where("project_id = ?", projectID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var candidates []models.Candidate
	err := query.Order("id").Find(&candidates).Error
	return candidates, err
}

// History returns a candidate's label events, oldest first.
func (s *ScreeningService) History(ctx context.Context, candidateID uint) ([]models.LabelEvent, error) {
	var events []models.LabelEvent
	err := s.DB.WithContext(ctx).
		Where("candidate_id = ?", candidateID).
		Order("id").Find(&events).Error
	return events, err
}
