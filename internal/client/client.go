// Package client talks to the version registry API over HTTP. It provides the
// registry and definition loader used by the creation workflow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"forge/api/internal/versioning"
)

// APIError is a non-2xx answer from the API. Error returns the server's
// message unchanged so callers can show it as is.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// Environment is a promotion stage as reported by the API.
type Environment struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Priority int    `json:"priority" yaml:"priority"`
}

type Client struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
}

var (
	_ versioning.Registry         = (*Client)(nil)
	_ versioning.DefinitionLoader = (*Client)(nil)
)

// New builds a client for the API at baseURL. httpClient may be nil.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// WithActor returns a copy of c that attributes writes to actor.
func (c *Client) WithActor(actor string) *Client {
	copied := *c
	copied.actor = strings.TrimSpace(actor)
	return &copied
}

// CreateVersion asks the registry to fork sourceVersionID into a version called name.
func (c *Client) CreateVersion(ctx context.Context, appID, name, sourceVersionID string) (versioning.Version, error) {
	body := map[string]string{
		"versionName":   name,
		"versionFromId": sourceVersionID,
	}
	var version versioning.Version
	if err := c.do(ctx, http.MethodPost, c.appPath(appID, "versions"), body, &version); err != nil {
		return versioning.Version{}, err
	}
	return version, nil
}

// GetVersionDefinition fetches the definition at the head of a version.
func (c *Client) GetVersionDefinition(ctx context.Context, appID, versionID string) (versioning.Definition, error) {
	var definition versioning.Definition
	if err := c.do(ctx, http.MethodGet, c.appPath(appID, "versions", versionID), nil, &definition); err != nil {
		return versioning.Definition{}, err
	}
	return definition, nil
}

// ListPromotedVersions returns the versions that reached environmentID. An
// empty environmentID selects the app's first environment.
func (c *Client) ListPromotedVersions(ctx context.Context, appID, environmentID string) ([]versioning.Version, error) {
	path := c.appPath(appID, "versions")
	if environmentID != "" {
		path += "?environmentId=" + url.QueryEscape(environmentID)
	}
	var out struct {
		Versions []versioning.Version `json:"versions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// ListEnvironments returns the app's environments in promotion order.
func (c *Client) ListEnvironments(ctx context.Context, appID string) ([]Environment, error) {
	var out struct {
		Environments []Environment `json:"environments"`
	}
	if err := c.do(ctx, http.MethodGet, c.appPath(appID, "environments"), nil, &out); err != nil {
		return nil, err
	}
	return out.Environments, nil
}

// ResolveEnvironment maps an environment name or id to its id. An empty ref
// resolves to "".
func (c *Client) ResolveEnvironment(ctx context.Context, appID, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	environments, err := c.ListEnvironments(ctx, appID)
	if err != nil {
		return "", err
	}
	for _, env := range environments {
		if env.ID == ref || strings.EqualFold(env.Name, ref) {
			return env.ID, nil
		}
	}
	return "", fmt.Errorf("environment %q not found", ref)
}

// SaveDefinition replaces the definition of a version.
func (c *Client) SaveDefinition(ctx context.Context, appID, versionID string, definition json.RawMessage) (versioning.Definition, error) {
	body := map[string]json.RawMessage{"definition": definition}
	var out versioning.Definition
	if err := c.do(ctx, http.MethodPut, c.appPath(appID, "versions", versionID, "definition"), body, &out); err != nil {
		return versioning.Definition{}, err
	}
	return out, nil
}

func (c *Client) appPath(appID string, parts ...string) string {
	segments := []string{"/api/apps", url.PathEscape(appID)}
	for _, part := range parts {
		segments = append(segments, url.PathEscape(part))
	}
	return strings.Join(segments, "/")
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set("X-Forge-Actor", c.actor)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newJSONRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code    string         `json:"code"`
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
