// Package defcache keeps recently loaded version definitions out of git.
package defcache

import (
	"context"

	"forge/api/internal/versioning"
)

// Cache stores definitions keyed by app and version. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, appID, versionID string) (versioning.Definition, bool, error)
	Set(ctx context.Context, definition versioning.Definition) error
	Delete(ctx context.Context, appID, versionID string) error
	// Ping reports whether the backing store answers.
	Ping(ctx context.Context) error
	// Backend names the implementation, for readiness reports.
	Backend() string
}

func key(appID, versionID string) string {
	return appID + ":" + versionID
}
