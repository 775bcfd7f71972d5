package services

import (
	"fmt"
	"strings"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

// maxListedAuthors bounds the author list before collapsing to et al.
const maxListedAuthors = 6

// FormatReference renders a document into a compact literature reference
// line, e.g. for export or for pasting into a manuscript.
func FormatReference(doc *models.Document) string {
	authors := formatAuthors(doc.Authors)

	year := "n.d."
	if doc.Year > 0 {
		year = fmt.Sprintf("%d", doc.Year)
	}

	title := doc.Title
	if title == "" {
		title = "Untitled"
	}

	parts := []string{fmt.Sprintf("%s (%s). %s.", authors, year, title)}
	if doc.Venue != "" {
		parts = append(parts, doc.Venue+".")
	}
	if doc.DOI != "" {
		parts = append(parts, "doi:"+doc.DOI)
	} else if doc.PMID != "" {
		parts = append(parts, "pmid:"+doc.PMID)
	}
	return strings.Join(parts, " ")
}

func formatAuthors(authors []models.Author) string {
	if len(authors) == 0 {
		return "Unknown Authors"
	}
	names := make([]string, 0, maxListedAuthors)
	for i, a := range authors {
		if i == maxListedAuthors {
			names = append(names, "et al.")
			break
		}
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}
