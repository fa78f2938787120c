package semanticscholar

// response is the Semantic Scholar paper search response.
type response struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Next   int     `json:"next"` // offset of the next page; absent on the last page
	Data   []paper `json:"data"`
}

// paper is one Semantic Scholar search result.
type paper struct {
	PaperID         string   `json:"paperId"`
	Title           string   `json:"title"`
	Abstract        string   `json:"abstract"`
	PublicationDate string   `json:"publicationDate"` // "2021-03-15"
	Year            int      `json:"year"`
	Venue           string   `json:"venue"`
	URL             string   `json:"url"`
	Authors         []author `json:"authors"`
	ExternalIDs     struct {
		DOI string `json:"DOI"`
	} `json:"externalIds"`
	OpenAccessPDF *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
	PublicationTypes []string `json:"publicationTypes"`
	Journal          *struct {
		Name   string `json:"name"`
		Volume string `json:"volume"`
		Pages  string `json:"pages"`
	} `json:"journal"`
}

type author struct {
	Name string `json:"name"`
}
