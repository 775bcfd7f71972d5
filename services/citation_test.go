package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

func TestFormatReference(t *testing.T) {
	doc := &models.Document{
		Title: "Alpha Study",
		Authors: []models.Author{
			{Given: "Ada", Family: "Lovelace"},
			{Given: "Alan", Family: "Turing"},
		},
		Venue: "Journal of Testing",
		Year:  2020,
		DOI:   "10.1000/alpha",
	}
	assert.Equal(t,
		"Ada Lovelace, Alan Turing (2020). Alpha Study. Journal of Testing. doi:10.1000/alpha",
		FormatReference(doc))
}

func TestFormatReferenceCollapsesLongAuthorLists(t *testing.T) {
	doc := &models.Document{Title: "Big Collaboration", Year: 2019}
	for i := 0; i < 10; i++ {
		doc.Authors = append(doc.Authors, models.Author{Given: "A", Family: "B"})
	}
	ref := FormatReference(doc)
	assert.Contains(t, ref, "et al.")
	assert.Equal(t, 6, strings.Count(ref, "A B"))
}

func TestFormatReferenceFallbacks(t *testing.T) {
	ref := FormatReference(&models.Document{PMID: "12345"})
	assert.Equal(t, "Unknown Authors (n.d.). Untitled. pmid:12345", ref)
}
