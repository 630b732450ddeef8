// Package search finds versions of an app by name.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	AppID   string `json:"appId"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. AppID is required.
type Query struct {
	AppID  string
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a version name search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// VersionRecord is the data we index for a version.
type VersionRecord struct {
	ID            string `json:"id"`
	AppID         string `json:"appId"`
	Name          string `json:"name"`
	EnvironmentID string `json:"environmentId"`
	CreatedAt     int64  `json:"createdAt"`
}
