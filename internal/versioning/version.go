// Package versioning implements the workflow that derives a new named version of
// an application from an existing one: name validation, choice of the forked-from
// version, the create request and the hand-off of the new version's definition to
// the editor.
package versioning

import (
	"context"
	"encoding/json"
	"time"
)

// Version is a named snapshot of an application definition.
type Version struct {
	ID              string    `json:"id" yaml:"id"`
	AppID           string    `json:"appId,omitempty" yaml:"appId,omitempty"`
	Name            string    `json:"name" yaml:"name"`
	SourceVersionID *string   `json:"sourceVersionId" yaml:"sourceVersionId"`
	EnvironmentID   string    `json:"environmentId,omitempty" yaml:"environmentId,omitempty"`
	CreatedBy       string    `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// Definition is the editor-ready payload of one version.
type Definition struct {
	AppID       string          `json:"appId"`
	VersionID   string          `json:"versionId"`
	VersionName string          `json:"versionName"`
	CommitHash  string          `json:"commitHash,omitempty"`
	Definition  json.RawMessage `json:"definition"`
}

// Registry creates versions. Uniqueness of names within an app is its concern.
type Registry interface {
	CreateVersion(ctx context.Context, appID, name, sourceVersionID string) (Version, error)
}

// DefinitionLoader fetches the definition of a version.
type DefinitionLoader interface {
	GetVersionDefinition(ctx context.Context, appID, versionID string) (Definition, error)
}
