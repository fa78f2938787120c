package domain

// PageArtifact is the durable unit of persistence: one parsed page of
// results for one query. Once written it is immutable; re-collection skips
// pages whose artifact already exists.
//
// The schema is additive-only. Aggregators from any version must be able to
// read artifacts written by any other.
type PageArtifact struct {
	// DateSearch is the ISO date the page was fetched.
	DateSearch string `json:"date_search"`
	// IDCollect identifies the collection run that produced the page.
	IDCollect int `json:"id_collect"`
	// Page is the 1-based page number within the query.
	Page int `json:"page"`
	// Total is the source-reported total result count for the query.
	Total int `json:"total"`
	// Results holds the parsed records in source order.
	Results []Record `json:"results"`
}
