package versioning

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"forge/api/internal/pubsub"
)

// State is the position of a creation attempt in the workflow.
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateCreating          State = "creating"
	StateLoadingDefinition State = "loading_definition"
	StateFailed            State = "failed"
)

// Progress is the coarse view a creation surface renders.
type Progress string

const (
	ProgressIdle      Progress = "idle"
	ProgressCreating  Progress = "creating"
	ProgressCancelled Progress = "cancelled"
)

// ControllerConfig wires a Controller to its collaborators.
type ControllerConfig struct {
	AppID string
	// EditingVersionID is the version open in the editor; it preselects the source.
	EditingVersionID string
	// Options are the versions promoted to the active environment, in registry order.
	Options  []Option
	Registry Registry
	Loader   DefinitionLoader

	// OnDefinitionReady receives the new version's definition. The editor owns
	// what happens next.
	OnDefinitionReady func(Definition)
	// OnStateChange observes every transition. It runs with the controller
	// locked and must not call back into it.
	OnStateChange func(from, to State)
	Events        pubsub.Publisher[Event]
	Tracer        trace.Tracer
}

// Controller is the state machine behind one open creation surface.
type Controller struct {
	appID         string
	options       []Option
	onReady       func(Definition)
	onStateChange func(from, to State)
	events        pubsub.Publisher[Event]
	creator       *Creator

	mu        sync.Mutex
	state     State
	name      string
	selection *Option
	open      bool
	cancelled bool
	lastErr   error
	done      chan struct{}
}

// NewController builds an open, idle controller with the editing version preselected.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		appID:         cfg.AppID,
		options:       append([]Option(nil), cfg.Options...),
		onReady:       cfg.OnDefinitionReady,
		onStateChange: cfg.OnStateChange,
		events:        cfg.Events,
		state:         StateIdle,
		open:          true,
	}
	if option, ok := DefaultSelection(c.options, cfg.EditingVersionID); ok {
		c.selection = &option
	}
	c.creator = NewCreator(cfg.Registry, cfg.Loader, c.handle, WithTracer(cfg.Tracer))
	return c
}

// SetName records the name typed so far. The field is locked while an attempt runs.
func (c *Controller) SetName(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrAlreadyInProgress
	}
	c.name = name
	return nil
}

// Name returns the name typed so far.
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Select confirms versionID as the source of the next attempt.
func (c *Controller) Select(versionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrAlreadyInProgress
	}
	option, ok := findOption(c.options, versionID)
	if !ok {
		return ErrUnknownSource
	}
	c.selection = &option
	return nil
}

// ClearSelection drops the current source choice.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		c.selection = nil
	}
}

// Selection returns the current source choice, if any.
func (c *Controller) Selection() (Option, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection == nil {
		return Option{}, false
	}
	return *c.selection, true
}

// Options returns the source choices in registry order.
func (c *Controller) Options() []Option {
	return append([]Option(nil), c.options...)
}

// CreateVersion validates the typed name and the selection and, when both
// pass, starts the create request. Validation failures are returned and the
// controller is idle again. Request outcomes arrive as events.
func (c *Controller) CreateVersion(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyInProgress
	}
	c.transition(StateValidating)

	name, err := ValidateName(c.name)
	if err == nil && c.selection == nil {
		err = ErrMissingSource
	}
	if err != nil {
		c.lastErr = err
		c.transition(StateFailed)
		c.transition(StateIdle)
		c.mu.Unlock()
		c.publish(Event{Type: EventValidationFailed, AppID: c.appID, Name: c.name, Err: err})
		return err
	}

	sourceID := c.selection.Value.ID
	c.lastErr = nil
	c.cancelled = false
	done := make(chan struct{})
	c.done = done
	c.transition(StateCreating)
	c.mu.Unlock()

	if err := c.creator.Create(ctx, c.appID, name, sourceID); err != nil {
		c.mu.Lock()
		c.transition(StateIdle)
		c.done = nil
		c.mu.Unlock()
		close(done)
		return err
	}
	return nil
}

// Cancel clears the typed name and closes the surface. Once the create request
// has been sent the attempt runs to completion and Cancel fails.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle && c.state != StateValidating {
		return ErrNotCancellable
	}
	c.name = ""
	c.open = false
	c.cancelled = true
	return nil
}

// Open reopens the surface for a new attempt.
func (c *Controller) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.cancelled = false
}

// IsOpen reports whether the creation surface is shown.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// State returns the current workflow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress maps the workflow state onto idle, creating or cancelled. Creation
// counts as finished once the version exists, before its definition loads.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateValidating, StateCreating:
		return ProgressCreating
	}
	if c.cancelled {
		return ProgressCancelled
	}
	return ProgressIdle
}

// LastError returns the reason the most recent attempt failed, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Wait blocks until the running attempt reaches a terminal event or ctx ends.
// It returns immediately when nothing is running.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) handle(event Event) {
	var done chan struct{}

	c.mu.Lock()
	switch event.Type {
	case EventCreated:
		c.transition(StateLoadingDefinition)
		c.name = ""
		c.open = false
	case EventDefinitionReady:
		c.transition(StateIdle)
	case EventDefinitionLoadFailed:
		c.lastErr = event.Err
		c.transition(StateIdle)
	case EventCreationFailed:
		c.lastErr = event.Err
		c.transition(StateFailed)
		c.transition(StateIdle)
	}
	if event.Terminal() {
		done = c.done
		c.done = nil
	}
	c.mu.Unlock()

	c.publish(event)
	if event.Type == EventDefinitionReady && event.Definition != nil && c.onReady != nil {
		c.onReady(*event.Definition)
	}
	if done != nil {
		close(done)
	}
}

// transition must be called with c.mu held.
func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	if c.onStateChange != nil {
		c.onStateChange(from, to)
	}
}

func (c *Controller) publish(event Event) {
	if c.events == nil {
		return
	}
	c.events.Publish(event.Type, event)
}
