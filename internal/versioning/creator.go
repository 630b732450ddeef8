package versioning

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forge/api/internal/versioning"

// Creator runs one creation attempt at a time: the create request, then the
// definition load for the version it produced. Results are reported through
// the emit function, never returned.
type Creator struct {
	registry Registry
	loader   DefinitionLoader
	emit     func(Event)
	tracer   trace.Tracer

	mu       sync.Mutex
	inFlight bool
}

// CreatorOption customises a Creator.
type CreatorOption func(*Creator)

// WithTracer sets the tracer used for attempt spans. The global provider is
// used otherwise.
func WithTracer(tracer trace.Tracer) CreatorOption {
	return func(c *Creator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewCreator builds a Creator. emit is called from the attempt's goroutine.
func NewCreator(registry Registry, loader DefinitionLoader, emit func(Event), opts ...CreatorOption) *Creator {
	if emit == nil {
		emit = func(Event) {}
	}
	c := &Creator{
		registry: registry,
		loader:   loader,
		emit:     emit,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create starts an attempt and returns without waiting for it. It fails with
// ErrAlreadyInProgress while a previous attempt has not reached its terminal event.
//
// Cancelling ctx after Create returns does not stop the attempt.
func (c *Creator) Create(ctx context.Context, appID, name, sourceVersionID string) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrAlreadyInProgress
	}
	c.inFlight = true
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), appID, name, sourceVersionID)
	return nil
}

// InFlight reports whether an attempt is running.
func (c *Creator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Creator) run(ctx context.Context, appID, name, sourceVersionID string) {
	ctx, span := c.tracer.Start(ctx, "versioning.create", trace.WithAttributes(
		attribute.String("app.id", appID),
		attribute.String("version.name", name),
		attribute.String("version.source_id", sourceVersionID),
	))
	defer span.End()

	version, err := c.createVersion(ctx, appID, name, sourceVersionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create version")
		c.finish(Event{Type: EventCreationFailed, AppID: appID, Name: name, Err: &CreationError{Err: err}})
		return
	}
	span.SetAttributes(attribute.String("version.id", version.ID))
	c.emit(Event{Type: EventCreated, AppID: appID, Name: name, Version: &version})

	definition, err := c.loadDefinition(ctx, appID, version.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load definition")
		c.finish(Event{
			Type:    EventDefinitionLoadFailed,
			AppID:   appID,
			Name:    name,
			Version: &version,
			Err:     &DefinitionLoadError{VersionID: version.ID, Err: err},
		})
		return
	}
	c.finish(Event{Type: EventDefinitionReady, AppID: appID, Name: name, Version: &version, Definition: &definition})
}

func (c *Creator) createVersion(ctx context.Context, appID, name, sourceVersionID string) (Version, error) {
	ctx, span := c.tracer.Start(ctx, "versioning.registry.create_version")
	defer span.End()

	version, err := c.registry.CreateVersion(ctx, appID, name, sourceVersionID)
	if err != nil {
		span.RecordError(err)
		return Version{}, err
	}
	if version.ID == "" {
		return Version{}, ErrInvalidResponse
	}
	return version, nil
}

func (c *Creator) loadDefinition(ctx context.Context, appID, versionID string) (Definition, error) {
	ctx, span := c.tracer.Start(ctx, "versioning.loader.get_definition", trace.WithAttributes(
		attribute.String("version.id", versionID),
	))
	defer span.End()

	definition, err := c.loader.GetVersionDefinition(ctx, appID, versionID)
	if err != nil {
		span.RecordError(err)
		return Definition{}, err
	}
	return definition, nil
}

// finish frees the slot before the terminal event goes out.
func (c *Creator) finish(event Event) {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
	c.emit(event)
}
