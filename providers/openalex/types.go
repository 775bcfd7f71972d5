// Package openalex talks to the OpenAlex works API, the secondary
// bibliographic index of the resolver chain.
package openalex

import (
	"sort"
	"strings"
)

// searchResponse is the envelope of a works query.
type searchResponse struct {
	Results []workResult `json:"results"`
}

// workResult is one OpenAlex work.
type workResult struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	DisplayName     string       `json:"display_name"`
	PublicationYear int          `json:"publication_year"`
	IDs             workIDs      `json:"ids"`
	Authorships     []authorship `json:"authorships"`
	PrimaryLocation location     `json:"primary_location"`
	BestOALocation  location     `json:"best_oa_location"`

	// OpenAlex ships abstracts as an inverted index, not as text.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

type workIDs struct {
	PMID string `json:"pmid"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	PdfURL string `json:"pdf_url"`
	Source struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

// invertAbstract rebuilds the plain abstract text from the inverted index.
func invertAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type posWord struct {
		pos  int
		word string
	}
	var words []posWord
	for word, positions := range index {
		for _, pos := range positions {
			words = append(words, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}
