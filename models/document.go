package models

import (
	"time"
)

// VerificationStatus tracks the result of the last registry re-check.
type VerificationStatus string

const (
	VerificationUnknown   VerificationStatus = "unknown"
	VerificationVerified  VerificationStatus = "verified"
	VerificationRetracted VerificationStatus = "retracted"
	VerificationUpdated   VerificationStatus = "updated"
)

// Author is a single contributor. Order inside Document.Authors matters.
type Author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

// Document is the canonical bibliographic record of an ingested work.
type Document struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// CanonicalID is the normalized identifier form, e.g. "doi:10.1000/xyz".
	CanonicalID string `json:"canonical_id" gorm:"uniqueIndex;size:512;not null"`

	DOI  string `json:"doi,omitempty" gorm:"index;size:512"`
	PMID string `json:"pmid,omitempty" gorm:"column:pmid;index;size:128"`

	Title    string   `json:"title"`
	Authors  []Author `json:"authors,omitempty" gorm:"serializer:json"`
	Venue    string   `json:"venue,omitempty"`
	Year     int      `json:"year,omitempty"`
	Abstract string   `json:"abstract,omitempty" gorm:"type:text"`
	URL      string   `json:"url,omitempty"`

	// SourceRank is the priority rank of the provider whose fields this record
	// carries; lower rank wins on re-ingestion merges.
	SourceRank int `json:"source_rank"`

	VerificationStatus VerificationStatus `json:"verification_status" gorm:"default:unknown;index"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`

	PdfArtifactID *uint        `json:"pdf_artifact_id,omitempty" gorm:"index"`
	PdfArtifact   *PdfArtifact `json:"pdf_artifact,omitempty"`

	Tags        []Tag                `json:"tags,omitempty"`
	Identifiers []DocumentIdentifier `json:"identifiers,omitempty"`
}

// Tag is a unique label on a document.
type Tag struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	DocumentID uint   `json:"document_id" gorm:"index:idx_tags_doc_name,unique;not null"`
	Name       string `json:"name" gorm:"index:idx_tags_doc_name,unique;size:128;not null"`
}

// TableName sets the explicit table name for GORM.
func (Tag) TableName() string {
	return "tags"
}
