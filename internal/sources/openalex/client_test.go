package openalex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scilex/scilex/internal/collector"
	"github.com/scilex/scilex/internal/domain"
)

const worksPage = `{
  "meta": {"count": 450, "next_cursor": "IlsxNjA5...", "per_page": 2},
  "results": [
    {
      "doi": "https://doi.org/10.1234/oa.1",
      "title": "Graph Methods in Education",
      "publication_date": "2021-06-01",
      "type": "article",
      "authorships": [
        {"author": {"display_name": "Grace Hopper"}},
        {"author": {"display_name": "Edsger Dijkstra"}}
      ],
      "abstract_inverted_index": {"We": [0], "study": [1], "graphs": [2], "in": [3], "class": [4]},
      "primary_location": {
        "landing_page_url": "https://doi.org/10.1234/oa.1",
        "license": "cc-by",
        "source": {"display_name": "J. Ed. Tech.", "host_organization_name": "Springer"}
      },
      "best_oa_location": {"pdf_url": "https://example.org/oa1.pdf"},
      "biblio": {"volume": "12", "issue": "3", "first_page": "100", "last_page": "115"}
    },
    {
      "doi": null,
      "title": "Sparse Work",
      "publication_date": "",
      "authorships": [],
      "abstract_inverted_index": null
    }
  ]
}`

func TestBuildPageRequest(t *testing.T) {
	c := New(Config{BaseURL: "http://example.test", PageSize: 25, Mailto: "lab@example.org"})
	query := domain.Query{Source: SourceName, QueryID: 1, Keywords: []string{"serious game", "learning"}, Year: 2020}

	t.Run("first page opens the cursor", func(t *testing.T) {
		req, err := c.BuildPageRequest(context.Background(), query, collector.Cursor{Page: 1})
		require.NoError(t, err)

		assert.Equal(t, "/works", req.URL.Path)
		q := req.URL.Query()
		assert.Equal(t, "title_and_abstract.search:serious game AND learning,publication_year:2020", q.Get("filter"))
		assert.Equal(t, "*", q.Get("cursor"))
		assert.Equal(t, "25", q.Get("per-page"))
		assert.Equal(t, "lab@example.org", q.Get("mailto"))
	})

	t.Run("later pages replay the token", func(t *testing.T) {
		req, err := c.BuildPageRequest(context.Background(), query, collector.Cursor{Page: 2, Token: "tok-2"})
		require.NoError(t, err)
		assert.Equal(t, "tok-2", req.URL.Query().Get("cursor"))
	})
}

func TestParsePage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(worksPage))
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)

	page, err := New(Config{}).ParsePage(resp)
	require.NoError(t, err)

	assert.Equal(t, 450, page.Total)
	require.NotNil(t, page.Next)
	assert.Equal(t, "IlsxNjA5...", page.Next.Token)
	require.Len(t, page.Records, 2)

	rec := page.Records[0]
	assert.Equal(t, "10.1234/oa.1", rec.DOI, "DOI URL prefix stripped")
	assert.Equal(t, "Graph Methods in Education", rec.Title)
	assert.Equal(t, "We study graphs in class", rec.Abstract, "inverted index reconstructed")
	assert.Equal(t, "Grace Hopper;Edsger Dijkstra", rec.Authors)
	assert.Equal(t, "2021-06-01", rec.Date)
	assert.Equal(t, "article", rec.ItemType)
	assert.Equal(t, "cc-by", rec.Rights)
	assert.Equal(t, "Springer", rec.Publisher)
	assert.Equal(t, "12", rec.Volume)
	assert.Equal(t, "100-115", rec.Pages)
	assert.Equal(t, "https://example.org/oa1.pdf", rec.PDFURL)
	assert.Equal(t, SourceName, rec.Archive)

	sparse := page.Records[1]
	assert.Equal(t, domain.NA, sparse.DOI)
	assert.Equal(t, domain.NA, sparse.Abstract)
	assert.Equal(t, domain.NA, sparse.Authors)
	assert.Equal(t, domain.NA, sparse.Date)
}

func TestParsePageExhaustedCursor(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta": {"count": 1, "next_cursor": ""}, "results": []}`))
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)

	page, err := New(Config{}).ParsePage(resp)
	require.NoError(t, err)
	assert.Nil(t, page.Next)
	assert.Empty(t, page.Records)
}

func TestReconstructAbstract(t *testing.T) {
	assert.Equal(t, "", reconstructAbstract(nil))
	assert.Equal(t, "to be or not to be",
		reconstructAbstract(map[string][]int{"to": {0, 4}, "be": {1, 5}, "or": {2}, "not": {3}}))
}

func TestDescriptor(t *testing.T) {
	desc := New(Config{}).Descriptor()
	assert.Equal(t, SourceName, desc.Name)
	assert.Equal(t, collector.PaginationCursor, desc.Pagination)
	assert.EqualValues(t, "exponential", desc.Backoff)
	assert.Equal(t, 200, desc.PageSize)
}
