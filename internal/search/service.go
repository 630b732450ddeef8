package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the store.
type Service struct {
	meili    *Meili
	fallback *StoreSearcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *StoreSearcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: store error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Backend names the engine answering searches. healthy is false while a
// configured Meilisearch is unreachable and the store answers instead.
func (s *Service) Backend() (name string, healthy bool) {
	if s.meili == nil {
		return "database", true
	}
	return "meilisearch", s.meili.Healthy()
}

// IndexVersion indexes a version (fire-and-forget to Meilisearch).
func (s *Service) IndexVersion(record VersionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexVersion(record); err != nil {
			log.Printf("search: index version %s: %v", record.ID, err)
		}
	}()
}

// ReindexAll reads every version from the store and pushes it to Meilisearch.
// Called during Bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexVersions(records); err != nil {
		log.Printf("search: reindex versions: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
