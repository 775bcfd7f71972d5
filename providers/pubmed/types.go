// Package pubmed talks to the NCBI E-utilities, the biomedical index of the
// resolver chain. It is only consulted for PMID-typed identifiers.
package pubmed

import (
	"encoding/json"
	"encoding/xml"
)

// esearchResponse is the JSON answer of esearch for the ID search.
type esearchResponse struct {
	ESearchResult struct {
		IdList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// esummaryResponse is the JSON answer of esummary. The "result" object maps
// PMIDs to summaries plus an extra "uids" key, hence the custom unmarshal.
type esummaryResponse struct {
	Result summaryMap `json:"result"`
}

type summaryMap struct {
	UIDs      []string
	Summaries map[string]articleSummary
}

func (m *summaryMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Summaries = make(map[string]articleSummary)
	for key, value := range raw {
		if key == "uids" {
			if err := json.Unmarshal(value, &m.UIDs); err != nil {
				return err
			}
			continue
		}
		var summary articleSummary
		if err := json.Unmarshal(value, &summary); err != nil {
			continue
		}
		m.Summaries[key] = summary
	}
	return nil
}

type articleSummary struct {
	UID         string `json:"uid"`
	Title       string `json:"title"`
	FullJournal string `json:"fulljournalname"`
	PubDate     string `json:"pubdate"`
	ELocationID string `json:"elocationid"`
	Authors     []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

// pubmedArticleSet is the XML document returned by efetch.
type pubmedArticleSet struct {
	XMLName       xml.Name        `xml:"PubmedArticleSet"`
	PubmedArticle []pubmedArticle `xml:"PubmedArticle"`
}

// pubmedArticle is a single article in the efetch XML answer.
type pubmedArticle struct {
	MedlineCitation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Title    string `xml:"ArticleTitle"`
			Abstract struct {
				Text []string `xml:"AbstractText"`
			} `xml:"Abstract"`
			Authors []struct {
				LastName string `xml:"LastName"`
				ForeName string `xml:"ForeName"`
			} `xml:"AuthorList>Author"`
			Journal struct {
				Title   string `xml:"Title"`
				PubDate struct {
					Year string `xml:"Year"`
				} `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
			ELocationID []struct {
				IDType  string `xml:"EIdType,attr"`
				ValidYN string `xml:"ValidYN,attr"`
				Value   string `xml:",chardata"`
			} `xml:"ELocationID"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
}
