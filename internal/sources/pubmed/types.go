package pubmed

import "encoding/json"

// esearchResponse is the E-utilities esearch envelope. NCBI serializes the
// numeric fields as strings.
type esearchResponse struct {
	Result esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count    string   `json:"count"`
	RetStart string   `json:"retstart"`
	RetMax   string   `json:"retmax"`
	IDList   []string `json:"idlist"`
}

// esummaryResponse is the E-utilities esummary envelope: a "result" object
// keyed by UID, plus a "uids" list that is not a summary and is skipped at
// decode time.
type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

// docSummary is one PubMed document summary.
type docSummary struct {
	UID             string      `json:"uid"`
	Title           string      `json:"title"`
	PubDate         string      `json:"pubdate"` // "2021 Mar 15"
	EPubDate        string      `json:"epubdate"`
	FullJournalName string      `json:"fulljournalname"`
	Volume          string      `json:"volume"`
	Issue           string      `json:"issue"`
	Pages           string      `json:"pages"`
	Authors         []docAuthor `json:"authors"`
	ArticleIDs      []articleID `json:"articleids"`
	PubTypes        []string    `json:"pubtype"`
}

type docAuthor struct {
	Name string `json:"name"`
}

type articleID struct {
	IDType string `json:"idtype"`
	Value  string `json:"value"`
}
