package models

// IdentifierKind classifies how a work was identified.
type IdentifierKind string

const (
	IdentifierDOI  IdentifierKind = "doi"
	IdentifierPMID IdentifierKind = "pmid"
	IdentifierURL  IdentifierKind = "url"
)

// Identifier is the normalized, typed form of a user-supplied identifier.
// Immutable once assigned.
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

// Canonical returns the unambiguous string form used as dedup key,
// e.g. "doi:10.1000/xyz" or "pmid:12345678".
func (i Identifier) Canonical() string {
	return string(i.Kind) + ":" + i.Value
}

// DocumentIdentifier links one identifier form to a stored document. Several
// identifiers of different kinds may point at the same document.
type DocumentIdentifier struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	DocumentID uint           `json:"document_id" gorm:"index;not null"`
	Kind       IdentifierKind `json:"kind" gorm:"index:idx_identifier_kind_value,unique;size:16;not null"`
	Value      string         `json:"value" gorm:"index:idx_identifier_kind_value,unique;size:512;not null"`
}

// TableName sets the explicit table name for GORM.
func (DocumentIdentifier) TableName() string {
	return "document_identifiers"
}
