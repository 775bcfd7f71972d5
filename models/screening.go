package models

import (
	"time"
)

// CandidateStatus is the screening label of a candidate.
type CandidateStatus string

const (
	StatusPending  CandidateStatus = "pending"
	StatusIncluded CandidateStatus = "included"
	StatusExcluded CandidateStatus = "excluded"
	StatusMaybe    CandidateStatus = "maybe"
)

// ScreeningProject owns the candidate set of one PRISMA-style review.
type ScreeningProject struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Name    string `json:"name" gorm:"not null"`
	Query   string `json:"query" gorm:"type:text;not null"`
	Sources string `json:"sources"` // comma-separated provider names

	Candidates []Candidate `json:"candidates,omitempty" gorm:"foreignKey:ProjectID"`
}

// TableName sets the explicit table name for GORM.
func (ScreeningProject) TableName() string {
	return "screening_projects"
}

// Candidate is one search hit under review. The metadata snapshot is taken at
// discovery time and stays frozen even if the work is later ingested.
type Candidate struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ProjectID uint `json:"project_id" gorm:"index:idx_candidates_project_identifier,unique;not null"`

	// Identifier is the normalized canonical form used for cross-source dedup.
	Identifier string `json:"identifier" gorm:"index:idx_candidates_project_identifier,unique;size:512;not null"`

	Title   string `json:"title"`
	Authors string `json:"authors,omitempty"`
	Venue   string `json:"venue,omitempty"`
	Year    int    `json:"year,omitempty"`
	URL     string `json:"url,omitempty"`

	// Sources is the comma-separated set of providers that returned this hit.
	Sources string `json:"sources"`

	Status    CandidateStatus `json:"status" gorm:"default:pending;index"`
	Reason    string          `json:"reason,omitempty"`
	LabeledAt *time.Time      `json:"labeled_at,omitempty"`

	// DocumentID is set when an included candidate is promoted into the library.
	DocumentID *uint `json:"document_id,omitempty"`
}

// TableName sets the explicit table name for GORM.
func (Candidate) TableName() string {
	return "candidates"
}

// LabelEvent is one entry of the append-only label history of a candidate.
// The current status of a candidate is always the ToStatus of its last event.
type LabelEvent struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time       `json:"created_at"`
	CandidateID uint            `json:"candidate_id" gorm:"index;not null"`
	FromStatus  CandidateStatus `json:"from_status" gorm:"size:16"`
	ToStatus    CandidateStatus `json:"to_status" gorm:"size:16"`
	Reason      string          `json:"reason,omitempty"`
	Override    bool            `json:"override"`
}

// TableName sets the explicit table name for GORM.
func (LabelEvent) TableName() string {
	return "label_events"
}

// PrismaCounters is the derived PRISMA funnel of a project. It is computed on
// demand from the candidate set and never stored.
type PrismaCounters struct {
	ProjectID        uint           `json:"project_id"`
	Identified       int            `json:"identified"`
	Screened         int            `json:"screened"`
	Pending          int            `json:"pending"`
	Maybe            int            `json:"maybe"`
	Included         int            `json:"included"`
	Excluded         int            `json:"excluded"`
	ExcludedByReason map[string]int `json:"excluded_by_reason"`
}
