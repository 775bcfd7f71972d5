package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

// upsertRetries bounds how often a unique-key collision is re-run as a merge
// before giving up with ErrStorageConflict.
const upsertRetries = 3

// Library is the access layer over the relational metadata store. It owns
// documents, identifiers and tags; PDF bytes live in the ContentStore.
type Library struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewLibrary creates a new library over an open database handle.
func NewLibrary(db *gorm.DB, logger *zap.Logger) *Library {
	return &Library{DB: db, Logger: logger}
}

// UpsertDocument inserts or merges a resolved record under its canonical
// identifier as one atomic unit. Concurrent collisions on the unique key are
// retried as merges, never resolved by overwriting.
func (l *Library) UpsertDocument(ctx context.Context, rec *models.MetadataRecord) (*models.Document, bool, error) {
	canonical := rec.Canonical()
	if canonical == "" {
		return nil, false, fmt.Errorf("%w: record carries no identifier", ErrMalformedIdentifier)
	}

	for attempt := 0; attempt < upsertRetries; attempt++ {
		doc, created, err := l.upsertOnce(ctx, rec, canonical)
		if err == nil {
			return doc, created, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		l.Logger.Debug("Unique-key collision on upsert, retrying as merge",
			zap.String("canonical_id", canonical), zap.Int("attempt", attempt+1))
	}
	return nil, false, fmt.Errorf("%w: canonical identifier %s", ErrStorageConflict, canonical)
}

func (l *Library) upsertOnce(ctx context.Context, rec *models.MetadataRecord, canonical string) (*models.Document, bool, error) {
	var doc *models.Document
	created := false

	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Document
		query := tx.Where("canonical_id = ?", canonical)
		if rec.DOI != "" {
			query = query.Or("doi = ?", rec.DOI)
		}
		if rec.PMID != "" {
			query = query.Or("pmid = ?", rec.PMID)
		}

		err := query.First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			fresh := newDocument(rec, canonical)
			if err := tx.Create(fresh).Error; err != nil {
				return err
			}
			doc = fresh
			created = true
		case err != nil:
			return err
		default:
			mergeDocument(&existing, rec)
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			doc = &existing
		}
		return syncIdentifiers(tx, doc, rec)
	})
	if err != nil {
		return nil, false, err
	}
	return doc, created, nil
}

// newDocument builds a document row from a resolved record.
func newDocument(rec *models.MetadataRecord, canonical string) *models.Document {
	return &models.Document{
		CanonicalID:        canonical,
		DOI:                rec.DOI,
		PMID:               rec.PMID,
		Title:              rec.Title,
		Authors:            rec.Authors,
		Venue:              rec.Venue,
		Year:               rec.Year,
		Abstract:           rec.Abstract,
		URL:                rec.URL,
		SourceRank:         rec.Rank,
		VerificationStatus: models.VerificationUnknown,
	}
}

// mergeDocument applies the merge policy: a record from an equal or higher
// priority provider (lower rank) may replace fields, a lower-priority one
// only fills gaps. Identifier fields are only ever filled, never cleared.
func mergeDocument(doc *models.Document, rec *models.MetadataRecord) {
	replace := rec.Rank <= doc.SourceRank

	if doc.DOI == "" {
		doc.DOI = rec.DOI
	}
	if doc.PMID == "" {
		doc.PMID = rec.PMID
	}
	if rec.Title != "" && (replace || doc.Title == "") {
		doc.Title = rec.Title
	}
	if len(rec.Authors) > 0 && (replace || len(doc.Authors) == 0) {
		doc.Authors = rec.Authors
	}
	if rec.Venue != "" && (replace || doc.Venue == "") {
		doc.Venue = rec.Venue
	}
	if rec.Year != 0 && (replace || doc.Year == 0) {
		doc.Year = rec.Year
	}
	if rec.Abstract != "" && (replace || doc.Abstract == "") {
		doc.Abstract = rec.Abstract
	}
	if rec.URL != "" && (replace || doc.URL == "") {
		doc.URL = rec.URL
	}
	if replace {
		doc.SourceRank = rec.Rank
	}
}

// syncIdentifiers makes sure every identifier form of the record points at
// the document. Existing rows are left alone.
func syncIdentifiers(tx *gorm.DB, doc *models.Document, rec *models.MetadataRecord) error {
	rows := make([]models.DocumentIdentifier, 0, 3)
	if rec.DOI != "" {
		rows = append(rows, models.DocumentIdentifier{DocumentID: doc.ID, Kind: models.IdentifierDOI, Value: rec.DOI})
	}
	if rec.PMID != "" {
		rows = append(rows, models.DocumentIdentifier{DocumentID: doc.ID, Kind: models.IdentifierPMID, Value: rec.PMID})
	}
	if rec.URL != "" {
		rows = append(rows, models.DocumentIdentifier{DocumentID: doc.ID, Kind: models.IdentifierURL, Value: rec.URL})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// DocumentByID loads a document with its artifact and tags.
func (l *Library) DocumentByID(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	err := l.DB.WithContext(ctx).
		Preload("PdfArtifact").Preload("Tags").Preload("Identifiers").
		First(&doc, id).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DocumentByDOI loads a document by its (normalized) DOI.
func (l *Library) DocumentByDOI(ctx context.Context, doi string) (*models.Document, error) {
	var doc models.Document
	err := l.DB.WithContext(ctx).
		Preload("PdfArtifact").Preload("Tags").
		Where("doi = ?", doi).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Documents lists documents, newest first.
func (l *Library) Documents(ctx context.Context, limit int) ([]models.Document, error) {
	var docs []models.Document
	query := l.DB.WithContext(ctx).Preload("PdfArtifact").Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&docs).Error
	return docs, err
}

// Search runs a full-text query over title and abstract. On PostgreSQL this
// uses the built-in text search machinery; other dialects fall back to LIKE.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 25
	}
	db := l.DB.WithContext(ctx).Limit(limit)
	var docs []models.Document
	var err error
	if l.DB.Dialector.Name() == "postgres" {
		err = db.Where(
			"to_tsvector('english', coalesce(title,'') || ' ' || coalesce(abstract,'')) @@ plainto_tsquery('english', ?)",
			query,
		).Find(&docs).Error
	} else {
		pattern := "%" + query + "%"
		err = db.Where("title LIKE ? OR abstract LIKE ?", pattern, pattern).Find(&docs).Error
	}
	return docs, err
}

// AddTags attaches tags to a document, ignoring duplicates.
func (l *Library) AddTags(ctx context.Context, documentID uint, names []string) error {
	rows := make([]models.Tag, 0, len(names))
	for _, name := range names {
		if name != "" {
			rows = append(rows, models.Tag{DocumentID: documentID, Name: name})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return l.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// LinkArtifact attaches a stored artifact to a document. A document that
// already carries an artifact keeps it.
func (l *Library) LinkArtifact(ctx context.Context, documentID, artifactID uint) error {
	return l.DB.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ? AND pdf_artifact_id IS NULL", documentID).
		Update("pdf_artifact_id", artifactID).Error
}

// SetVerification records the outcome of a fresh registry check. Callers must
// only invoke this for successful checks; failed checks leave the status as is.
func (l *Library) SetVerification(ctx context.Context, documentID uint, status models.VerificationStatus) error {
	now := time.Now()
	return l.DB.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]any{
			"verification_status": status,
			"verified_at":         &now,
		}).Error
}

// DocumentsWithDOI returns every document that carries a DOI, for the
// verification sweep.
func (l *Library) DocumentsWithDOI(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	err := l.DB.WithContext(ctx).Where("doi <> ''").Find(&docs).Error
	return docs, err
}
