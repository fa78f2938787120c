package openalex

// response is the OpenAlex works listing response.
type response struct {
	Meta    meta   `json:"meta"`
	Results []work `json:"results"`
}

type meta struct {
	Count      int    `json:"count"`
	NextCursor string `json:"next_cursor"`
	PerPage    int    `json:"per_page"`
}

// work is one OpenAlex work. Abstracts arrive as an inverted index rather
// than text.
type work struct {
	DOI                   string           `json:"doi"` // "https://doi.org/10.x/y"
	Title                 string           `json:"title"`
	PublicationDate       string           `json:"publication_date"`
	Authorships           []authorship     `json:"authorships"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	Type                  string           `json:"type"`
	PrimaryLocation       *location        `json:"primary_location"`
	BestOALocation        *location        `json:"best_oa_location"`
	Biblio                biblio           `json:"biblio"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	LandingPageURL string `json:"landing_page_url"`
	PDFURL         string `json:"pdf_url"`
	License        string `json:"license"`
	Source         *struct {
		DisplayName          string `json:"display_name"`
		HostOrganizationName string `json:"host_organization_name"`
	} `json:"source"`
}

type biblio struct {
	Volume    string `json:"volume"`
	Issue     string `json:"issue"`
	FirstPage string `json:"first_page"`
	LastPage  string `json:"last_page"`
}
