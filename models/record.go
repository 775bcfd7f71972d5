package models

// MetadataRecord is the provider-neutral metadata a resolver returns. It is
// assembled in memory by the resolver chain and only persisted once complete.
type MetadataRecord struct {
	DOI      string   `json:"doi,omitempty"`
	PMID     string   `json:"pmid,omitempty"`
	Title    string   `json:"title,omitempty"`
	Authors  []Author `json:"authors,omitempty"`
	Venue    string   `json:"venue,omitempty"`
	Year     int      `json:"year,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	URL      string   `json:"url,omitempty"`

	// PdfURL is a direct download link if the provider already knows one.
	PdfURL string `json:"pdf_url,omitempty"`

	// Provider and Rank record which chain member produced the record and at
	// which priority; merges never let a higher rank overwrite a lower one.
	Provider string `json:"provider,omitempty"`
	Rank     int    `json:"rank"`
}

// Usable reports whether the record carries enough substance to persist.
func (r *MetadataRecord) Usable() bool {
	return r != nil && r.Title != "" && (r.DOI != "" || r.PMID != "" || r.URL != "")
}

// Canonical returns the canonical identifier form for the record, preferring
// DOI over PMID over URL.
func (r *MetadataRecord) Canonical() string {
	switch {
	case r.DOI != "":
		return Identifier{Kind: IdentifierDOI, Value: r.DOI}.Canonical()
	case r.PMID != "":
		return Identifier{Kind: IdentifierPMID, Value: r.PMID}.Canonical()
	case r.URL != "":
		return Identifier{Kind: IdentifierURL, Value: r.URL}.Canonical()
	}
	return ""
}
