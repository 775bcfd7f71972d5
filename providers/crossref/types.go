// Package crossref talks to the Crossref Works API, the canonical DOI registry.
package crossref

// workResponse is the envelope of a single-work lookup.
type workResponse struct {
	Message work `json:"message"`
}

// searchResponse is the envelope of a bibliographic query.
type searchResponse struct {
	Message struct {
		Items []work `json:"items"`
	} `json:"message"`
}

// work is one Crossref work record.
type work struct {
	DOI            string                `json:"DOI"`
	Title          []string              `json:"title"`
	ContainerTitle []string              `json:"container-title"`
	Abstract       string                `json:"abstract"`
	URL            string                `json:"URL"`
	Author         []author              `json:"author"`
	Issued         dateParts             `json:"issued"`
	Link           []link                `json:"link"`
	Relation       map[string][]relation `json:"relation"`
}

type author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type dateParts struct {
	DateParts [][]int `json:"date-parts"`
}

type link struct {
	URL         string `json:"URL"`
	ContentType string `json:"content-type"`
}

type relation struct {
	ID     string `json:"id"`
	IDType string `json:"id-type"`
}
