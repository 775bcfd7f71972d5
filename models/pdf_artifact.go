package models

import (
	"time"
)

// ArtifactSource records how the PDF bytes entered the library.
type ArtifactSource string

const (
	SourceOpenAccessFetch ArtifactSource = "open-access-fetch"
	SourceLocalAttachment ArtifactSource = "local-attachment"
)

// PdfArtifact is a content-addressed PDF file. Two artifacts with the same
// hash are the same artifact regardless of which identifier produced them.
type PdfArtifact struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Hash   string         `json:"hash" gorm:"uniqueIndex;size:64;not null"`
	Size   int64          `json:"size"`
	Path   string         `json:"path"`
	Source ArtifactSource `json:"source" gorm:"size:32"`
}

// TableName sets the explicit table name for GORM.
func (PdfArtifact) TableName() string {
	return "pdf_artifacts"
}
