package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeAPI struct {
	mu      sync.Mutex
	created []map[string]string
	status  int
	body    string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/apps/app-1/environments":
			_, _ = w.Write([]byte(`{"environments":[{"id":"env-dev","name":"development","priority":0},{"id":"env-prod","name":"production","priority":2}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/apps/app-1/versions":
			if r.URL.Query().Get("environmentId") == "env-prod" {
				_, _ = w.Write([]byte(`{"versions":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"versions":[{"id":"ver-1","name":"v1","sourceVersionId":null,"createdBy":"Avery"},{"id":"ver-2","name":"v2","sourceVersionId":"ver-1"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/apps/app-1/versions":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.mu.Lock()
			f.created = append(f.created, body)
			status, payload := f.status, f.body
			f.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(payload))
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"ver-3","name":"` + body["versionName"] + `","sourceVersionId":"` + body["versionFromId"] + `"}`))
		case r.Method == http.MethodGet && (r.URL.Path == "/api/apps/app-1/versions/ver-3" || r.URL.Path == "/api/apps/app-1/versions/ver-1"):
			_, _ = w.Write([]byte(`{"appId":"app-1","versionId":"ver-3","versionName":"Release 3","commitHash":"abc1234","definition":{"pages":[{"id":"home"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"NOT_FOUND","error":"Route not found"}`))
		}
	})
}

func runCLI(t *testing.T, serverURL string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--api-url", serverURL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionsCreateFromEditingVersion(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	stdout, stderr, err := runCLI(t, server.URL, "-o", "yaml", "versions", "create", "--app", "app-1", "--name", "  Release 3 ", "--editing", "ver-2")
	require.NoError(t, err, stderr)

	require.Len(t, api.created, 1)
	require.Equal(t, map[string]string{"versionName": "Release 3", "versionFromId": "ver-2"}, api.created[0])

	var out map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &out))
	require.Equal(t, "ver-3", out["versionId"])
	require.Equal(t, "abc1234", out["commitHash"])
	require.Contains(t, stderr, "created version Release 3")
}

func TestVersionsCreateExplicitSource(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	_, stderr, err := runCLI(t, server.URL, "versions", "create", "--app", "app-1", "--name", "Hotfix", "--from", "ver-1", "--editing", "ver-2")
	require.NoError(t, err, stderr)
	require.Equal(t, "ver-1", api.created[0]["versionFromId"])
}

func TestVersionsCreateValidation(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	_, _, err := runCLI(t, server.URL, "versions", "create", "--app", "app-1", "--name", "   ", "--editing", "ver-1")
	require.EqualError(t, err, "version name should not be empty")

	_, _, err = runCLI(t, server.URL, "versions", "create", "--app", "app-1", "--name", "v9")
	require.EqualError(t, err, "select a version to create from")

	_, _, err = runCLI(t, server.URL, "versions", "create", "--app", "app-1", "--name", "v9", "--from", "ver-404")
	require.ErrorContains(t, err, "ver-404")

	require.Empty(t, api.created)
}

func TestVersionsCreateSurfacesServerMessage(t *testing.T) {
	api := &fakeAPI{
		status: http.StatusConflict,
		body:   `{"code":"VERSION_NAME_EXISTS","error":"Version name already exists."}`,
	}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	_, _, err := runCLI(t, server.URL, "versions", "create", "--app", "app-1", "--name", "v1", "--editing", "ver-1")
	require.EqualError(t, err, "Version name already exists.")
}

func TestVersionsList(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	stdout, _, err := runCLI(t, server.URL, "versions", "list", "--app", "app-1")
	require.NoError(t, err)
	require.Contains(t, stdout, "ver-1")
	require.Contains(t, stdout, "ver-2")
	require.Contains(t, stdout, "Avery")

	stdout, _, err = runCLI(t, server.URL, "versions", "list", "--app", "app-1", "--env", "production")
	require.NoError(t, err)
	require.Contains(t, stdout, "no versions promoted")

	_, _, err = runCLI(t, server.URL, "versions", "list", "--app", "app-1", "--env", "qa")
	require.ErrorContains(t, err, `environment "qa" not found`)
}

func TestDefinitionGet(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	stdout, _, err := runCLI(t, server.URL, "definition", "get", "--app", "app-1", "--version", "ver-1")
	require.NoError(t, err)
	require.Contains(t, stdout, "abc1234")
	require.Contains(t, stdout, `"home"`)

	_, _, err = runCLI(t, server.URL, "definition", "get", "--app", "app-1", "--version", "ver-9")
	require.EqualError(t, err, "Route not found")
}

func TestRejectsUnknownOutputFormat(t *testing.T) {
	_, _, err := runCLI(t, "http://127.0.0.1:1", "-o", "xml", "versions", "list", "--app", "app-1")
	require.ErrorContains(t, err, "unknown output format")
}
