package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"forge/api/internal/config"
	"forge/api/internal/defcache"
	"forge/api/internal/gitrepo"
	"forge/api/internal/search"
	"forge/api/internal/snapshot"
	"forge/api/internal/store"
	"forge/api/internal/util"
	"forge/api/internal/versioning"
)

// InitialVersionName is the name of the version every new app starts with.
const InitialVersionName = "v1"

type dataStore interface {
	CreateApp(context.Context, store.App, []store.Environment, store.Version) error
	GetApp(context.Context, string) (store.App, error)
	ListEnvironments(context.Context, string) ([]store.Environment, error)
	GetEnvironment(context.Context, string, string) (store.Environment, error)
	DefaultEnvironment(context.Context, string) (store.Environment, error)
	InsertVersion(context.Context, store.Version) error
	GetVersion(context.Context, string, string) (store.Version, error)
	ListVersionsPromotedTo(context.Context, string, string) ([]store.Version, error)
	Ping(ctx context.Context) error
}

type gitService interface {
	EnsureAppRepo(string, string, json.RawMessage, string) error
	ForkBranch(string, string, string) (store.CommitInfo, error)
	CommitDefinition(string, string, json.RawMessage, string, string) (store.CommitInfo, error)
	HeadDefinition(string, string) (json.RawMessage, store.CommitInfo, error)
	History(string, string, int) ([]store.CommitInfo, error)
	CheckWritable() error
}

type versionIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexVersion(search.VersionRecord)
	ReindexAll(context.Context)
	Backend() (string, bool)
}

type snapshotter interface {
	PutAsync(snapshot.Object)
}

// Dependencies are the optional collaborators of a Service. Nil fields are
// replaced with process-local or no-op implementations.
type Dependencies struct {
	Cache     defcache.Cache
	Search    *search.Service
	Snapshots *snapshot.Uploader
	Tracer    trace.Tracer
}

type Service struct {
	cfg       config.Config
	store     dataStore
	git       gitService
	cache     defcache.Cache
	search    versionIndex
	snapshots snapshotter
	tracer    trace.Tracer
}

func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, deps Dependencies) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		git:    gitService,
		cache:  deps.Cache,
		tracer: deps.Tracer,
	}
	if deps.Search != nil {
		s.search = deps.Search
	} else {
		s.search = search.NewService(nil, search.NewStoreSearcher(dataStore))
	}
	if deps.Snapshots != nil {
		s.snapshots = deps.Snapshots
	}
	s.setDefaults()
	return s
}

func (s *Service) setDefaults() {
	if s.cache == nil {
		s.cache = defcache.NewMemoryCache(s.cfg.DefinitionCacheTTL)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("forge/api/internal/app")
	}
}

// Bootstrap brings the search index in line with the database.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAll(ctx)
	}
	return nil
}

// AppSummary is the result of creating an app.
type AppSummary struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	CreatedBy      string               `json:"createdBy"`
	Environments   []EnvironmentPayload `json:"environments"`
	InitialVersion versioning.Version   `json:"initialVersion"`
}

type EnvironmentPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// CreateApp creates an app with the default environments and an initial
// version holding an empty definition in the first environment.
func (s *Service) CreateApp(ctx context.Context, name, actor string) (AppSummary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AppSummary{}, domainError(http.StatusUnprocessableEntity, CodeValidation, "App name should not be empty", nil)
	}

	app := store.App{ID: util.NewID("app"), Name: name, CreatedBy: actor}
	environments := make([]store.Environment, 0, len(store.DefaultEnvironments))
	for priority, envName := range store.DefaultEnvironments {
		environments = append(environments, store.Environment{
			ID:       util.NewID("env"),
			AppID:    app.ID,
			Name:     envName,
			Priority: priority,
		})
	}
	versionID := util.NewID("ver")
	initial := store.Version{
		ID:            versionID,
		AppID:         app.ID,
		Name:          InitialVersionName,
		EnvironmentID: environments[0].ID,
		BranchName:    gitrepo.BranchName(versionID),
		CreatedBy:     actor,
	}

	if err := s.git.EnsureAppRepo(app.ID, initial.BranchName, gitrepo.EmptyDefinition, actor); err != nil {
		return AppSummary{}, fmt.Errorf("create app repo: %w", err)
	}
	if err := s.store.CreateApp(ctx, app, environments, initial); err != nil {
		return AppSummary{}, err
	}
	s.search.IndexVersion(search.RecordFromVersion(initial))

	payload := AppSummary{
		ID:             app.ID,
		Name:           app.Name,
		CreatedBy:      actor,
		Environments:   make([]EnvironmentPayload, 0, len(environments)),
		InitialVersion: toVersion(initial),
	}
	for _, env := range environments {
		payload.Environments = append(payload.Environments, toEnvironment(env))
	}
	return payload, nil
}

// ListEnvironments returns the app's environments in promotion order.
func (s *Service) ListEnvironments(ctx context.Context, appID string) ([]EnvironmentPayload, error) {
	if _, err := s.store.GetApp(ctx, appID); err != nil {
		return nil, notFound(err, CodeAppNotFound, "App not found")
	}
	environments, err := s.store.ListEnvironments(ctx, appID)
	if err != nil {
		return nil, err
	}
	payload := make([]EnvironmentPayload, 0, len(environments))
	for _, env := range environments {
		payload = append(payload, toEnvironment(env))
	}
	return payload, nil
}

// ListVersions returns the versions promoted to environmentID, or to the
// app's first environment when it is empty, in creation order.
func (s *Service) ListVersions(ctx context.Context, appID, environmentID string) ([]versioning.Version, error) {
	var env store.Environment
	var err error
	if strings.TrimSpace(environmentID) == "" {
		env, err = s.store.DefaultEnvironment(ctx, appID)
	} else {
		env, err = s.store.GetEnvironment(ctx, appID, environmentID)
	}
	if err != nil {
		return nil, notFound(err, CodeEnvNotFound, "Environment not found")
	}

	versions, err := s.store.ListVersionsPromotedTo(ctx, appID, env.ID)
	if err != nil {
		return nil, err
	}
	payload := make([]versioning.Version, 0, len(versions))
	for _, version := range versions {
		payload = append(payload, toVersion(version))
	}
	return payload, nil
}

// CreateVersion forks the source version into a new named version placed in
// the app's first environment.
func (s *Service) CreateVersion(ctx context.Context, appID, rawName, sourceVersionID, actor string) (versioning.Version, error) {
	ctx, span := s.tracer.Start(ctx, "app.create_version", trace.WithAttributes(
		attribute.String("app.id", appID),
		attribute.String("version.source_id", sourceVersionID),
	))
	defer span.End()

	name, err := versioning.ValidateName(rawName)
	if err != nil {
		return versioning.Version{}, validationError(err)
	}
	if strings.TrimSpace(sourceVersionID) == "" {
		return versioning.Version{}, validationError(versioning.ErrMissingSource)
	}

	if _, err := s.store.GetApp(ctx, appID); err != nil {
		return versioning.Version{}, notFound(err, CodeAppNotFound, "App not found")
	}
	source, err := s.store.GetVersion(ctx, appID, sourceVersionID)
	if err != nil {
		return versioning.Version{}, notFound(err, CodeSourceNotFound, "Version to create from was not found")
	}
	env, err := s.store.DefaultEnvironment(ctx, appID)
	if err != nil {
		return versioning.Version{}, fmt.Errorf("resolve default environment: %w", err)
	}

	versionID := util.NewID("ver")
	created := store.Version{
		ID:              versionID,
		AppID:           appID,
		Name:            name,
		SourceVersionID: &source.ID,
		EnvironmentID:   env.ID,
		BranchName:      gitrepo.BranchName(versionID),
		CreatedBy:       actor,
	}

	commit, err := s.git.ForkBranch(appID, created.BranchName, source.BranchName)
	if err != nil {
		return versioning.Version{}, fmt.Errorf("fork version branch: %w", err)
	}
	if err := s.store.InsertVersion(ctx, created); err != nil {
		if errors.Is(err, store.ErrVersionNameTaken) {
			return versioning.Version{}, domainError(http.StatusConflict, CodeVersionNameExists, "Version name already exists.", map[string]any{"name": name})
		}
		return versioning.Version{}, err
	}
	// created_at is assigned by the database.
	if stored, err := s.store.GetVersion(ctx, appID, versionID); err == nil {
		created = stored
	}
	span.SetAttributes(attribute.String("version.id", versionID))

	s.search.IndexVersion(search.RecordFromVersion(created))
	s.snapshot(created, commit)

	log.Printf("version created app=%s version=%s source=%s by=%s", appID, versionID, source.ID, actor)
	return toVersion(created), nil
}

func (s *Service) snapshot(version store.Version, commit store.CommitInfo) {
	if s.snapshots == nil {
		return
	}
	definition, _, err := s.git.HeadDefinition(version.AppID, version.BranchName)
	if err != nil {
		log.Printf("snapshot: read definition of %s: %v", version.ID, err)
		return
	}
	s.snapshots.PutAsync(snapshot.Object{
		AppID:      version.AppID,
		VersionID:  version.ID,
		Name:       version.Name,
		CommitHash: commit.Hash,
		CreatedAt:  version.CreatedAt,
		Definition: definition,
	})
}

// GetDefinition returns the definition at the head of the version's branch.
func (s *Service) GetDefinition(ctx context.Context, appID, versionID string) (versioning.Definition, error) {
	ctx, span := s.tracer.Start(ctx, "app.get_definition", trace.WithAttributes(
		attribute.String("app.id", appID),
		attribute.String("version.id", versionID),
	))
	defer span.End()

	if cached, ok, err := s.cache.Get(ctx, appID, versionID); err != nil {
		log.Printf("definition cache: get %s: %v", versionID, err)
	} else if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	version, err := s.store.GetVersion(ctx, appID, versionID)
	if err != nil {
		return versioning.Definition{}, notFound(err, CodeVersionNotFound, "Version not found")
	}
	raw, commit, err := s.git.HeadDefinition(appID, version.BranchName)
	if err != nil {
		return versioning.Definition{}, err
	}

	definition := versioning.Definition{
		AppID:       appID,
		VersionID:   version.ID,
		VersionName: version.Name,
		CommitHash:  commit.Hash,
		Definition:  raw,
	}
	if err := s.cache.Set(ctx, definition); err != nil {
		log.Printf("definition cache: set %s: %v", versionID, err)
	}
	return definition, nil
}

// SaveDefinition commits a new definition to the version's branch.
func (s *Service) SaveDefinition(ctx context.Context, appID, versionID string, definition json.RawMessage, actor string) (versioning.Definition, error) {
	if !isJSONObject(definition) {
		return versioning.Definition{}, domainError(http.StatusUnprocessableEntity, CodeInvalidDefinition, "definition must be a JSON object", nil)
	}
	version, err := s.store.GetVersion(ctx, appID, versionID)
	if err != nil {
		return versioning.Definition{}, notFound(err, CodeVersionNotFound, "Version not found")
	}

	commit, err := s.git.CommitDefinition(appID, version.BranchName, definition, actor, "Update definition of "+version.Name)
	if err != nil {
		return versioning.Definition{}, err
	}
	if err := s.cache.Delete(ctx, appID, versionID); err != nil {
		log.Printf("definition cache: evict %s: %v", versionID, err)
	}
	return versioning.Definition{
		AppID:       appID,
		VersionID:   version.ID,
		VersionName: version.Name,
		CommitHash:  commit.Hash,
		Definition:  definition,
	}, nil
}

// History lists the commits of a version's branch, newest first.
func (s *Service) History(ctx context.Context, appID, versionID string, limit int) ([]map[string]any, error) {
	version, err := s.store.GetVersion(ctx, appID, versionID)
	if err != nil {
		return nil, notFound(err, CodeVersionNotFound, "Version not found")
	}
	commits, err := s.git.History(appID, version.BranchName, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   strings.TrimSpace(commit.Message),
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return items, nil
}

// SearchVersions finds versions of the app by name.
func (s *Service) SearchVersions(ctx context.Context, appID, query string, limit, offset int) search.Response {
	return s.search.Search(ctx, search.Query{AppID: appID, Text: query, Limit: limit, Offset: offset})
}

// APIToken is the bearer token guarding the app routes; empty disables the check.
func (s *Service) APIToken() string {
	return s.cfg.APIToken
}

func toVersion(version store.Version) versioning.Version {
	return versioning.Version{
		ID:              version.ID,
		AppID:           version.AppID,
		Name:            version.Name,
		SourceVersionID: version.SourceVersionID,
		EnvironmentID:   version.EnvironmentID,
		CreatedBy:       version.CreatedBy,
		CreatedAt:       version.CreatedAt,
	}
}

func toEnvironment(env store.Environment) EnvironmentPayload {
	return EnvironmentPayload{ID: env.ID, Name: env.Name, Priority: env.Priority}
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed))
}
