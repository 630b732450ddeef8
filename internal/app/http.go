package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const actorHeader = "X-Forge-Actor"

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		readiness := s.service.Readiness(ctx)
		statusCode := http.StatusOK
		if !readiness.Ready() {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     readiness.Ready(),
			"status": readiness.Status,
			"checks": readiness.Checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" || parts[1] != "apps" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateApp(r.Context(), body.Name, actorFrom(r))
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	appID := parts[2]
	switch {
	case len(parts) == 4 && parts[3] == "environments":
		s.handleEnvironments(w, r, appID)
	case len(parts) >= 4 && parts[3] == "versions":
		s.handleVersions(w, r, appID, parts[4:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleEnvironments(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	payload, err := s.service.ListEnvironments(r.Context(), appID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": payload})
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, appID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			versions, err := s.service.ListVersions(r.Context(), appID, strings.TrimSpace(r.URL.Query().Get("environmentId")))
			if err != nil {
				writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
		case http.MethodPost:
			var body struct {
				VersionName   string `json:"versionName"`
				VersionFromID string `json:"versionFromId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			version, err := s.service.CreateVersion(r.Context(), appID, body.VersionName, body.VersionFromID, actorFrom(r))
			if err != nil {
				writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, version)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet {
		limit, ok := intQuery(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := intQuery(w, r, "offset", 0)
		if !ok {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, s.service.SearchVersions(r.Context(), appID, q, limit, offset))
		return
	}

	versionID := rest[0]
	switch {
	case len(rest) == 1 && r.Method == http.MethodGet,
		len(rest) == 2 && rest[1] == "definition" && r.Method == http.MethodGet:
		definition, err := s.service.GetDefinition(r.Context(), appID, versionID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, definition)
	case len(rest) == 2 && rest[1] == "definition" && r.Method == http.MethodPut:
		var body struct {
			Definition json.RawMessage `json:"definition"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		definition, err := s.service.SaveDefinition(r.Context(), appID, versionID, body.Definition, actorFrom(r))
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, definition)
	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		limit, ok := intQuery(w, r, "limit", 50)
		if !ok {
			return
		}
		items, err := s.service.History(r.Context(), appID, versionID, limit)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versionId": versionID, "commits": items})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	want := s.service.APIToken()
	if want == "" {
		return true
	}
	got := bearerToken(r)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
		return actor
	}
	return "api"
}

func intQuery(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "-"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+actorHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request %s failed: %v", requestIDFrom(r.Context()), err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
