package search

import (
	"context"
	"fmt"
	"strings"

	"forge/api/internal/store"
)

// VersionFinder is the slice of the store used for search and reindexing.
type VersionFinder interface {
	SearchVersions(ctx context.Context, appID, query string, limit int) ([]store.Version, error)
	CountVersions(ctx context.Context, appID, query string) (int, error)
	ListAllVersions(ctx context.Context) ([]store.Version, error)
}

// StoreSearcher answers searches with a substring match in the database. It is
// used when Meilisearch is absent or unhealthy.
type StoreSearcher struct {
	finder VersionFinder
}

func NewStoreSearcher(finder VersionFinder) *StoreSearcher {
	return &StoreSearcher{finder: finder}
}

// Healthy always returns true; without the database nothing else works either.
func (s *StoreSearcher) Healthy() bool {
	return true
}

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	versions, err := s.finder.SearchVersions(ctx, q.AppID, q.Text, limit+offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store search: %w", err)
	}
	total, err := s.finder.CountVersions(ctx, q.AppID, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("store count: %w", err)
	}
	if offset >= len(versions) {
		return nil, total, nil
	}

	results := make([]Result, 0, len(versions)-offset)
	for _, version := range versions[offset:] {
		results = append(results, Result{
			ID:      version.ID,
			AppID:   version.AppID,
			Name:    version.Name,
			Snippet: version.Name,
		})
	}
	return results, total, nil
}

// LoadAllRecords returns every version for full reindexing.
func (s *StoreSearcher) LoadAllRecords(ctx context.Context) ([]VersionRecord, error) {
	versions, err := s.finder.ListAllVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	records := make([]VersionRecord, 0, len(versions))
	for _, version := range versions {
		records = append(records, RecordFromVersion(version))
	}
	return records, nil
}

// RecordFromVersion maps a stored version to its index document.
func RecordFromVersion(version store.Version) VersionRecord {
	return VersionRecord{
		ID:            version.ID,
		AppID:         version.AppID,
		Name:          version.Name,
		EnvironmentID: version.EnvironmentID,
		CreatedAt:     version.CreatedAt.Unix(),
	}
}
