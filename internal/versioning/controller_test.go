package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forge/api/internal/pubsub"
)

type createCall struct {
	appID    string
	name     string
	sourceID string
}

type fakeRegistry struct {
	mu      sync.Mutex
	calls   []createCall
	created []Version
	gate    chan struct{}
	version Version
	err     error
}

func (f *fakeRegistry) CreateVersion(_ context.Context, appID, name, sourceVersionID string) (Version, error) {
	f.mu.Lock()
	f.calls = append(f.calls, createCall{appID: appID, name: name, sourceID: sourceVersionID})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return Version{}, f.err
	}
	version := f.version
	version.Name = name
	version.SourceVersionID = &sourceVersionID
	f.mu.Lock()
	f.created = append(f.created, version)
	f.mu.Unlock()
	return version, nil
}

func (f *fakeRegistry) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLoader struct {
	mu    sync.Mutex
	calls []string
	gate  chan struct{}
	err   error
}

func (f *fakeLoader) GetVersionDefinition(_ context.Context, appID, versionID string) (Definition, error) {
	f.mu.Lock()
	f.calls = append(f.calls, versionID)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return Definition{}, f.err
	}
	return Definition{
		AppID:      appID,
		VersionID:  versionID,
		Definition: json.RawMessage(`{"pages":{}}`),
	}, nil
}

func (f *fakeLoader) loadedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(eventType pubsub.EventType, payload Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload)
}

func (r *eventRecorder) types() []pubsub.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pubsub.EventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

func (r *eventRecorder) find(eventType pubsub.EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.Type == eventType {
			return event, true
		}
	}
	return Event{}, false
}

type harness struct {
	registry    *fakeRegistry
	loader      *fakeLoader
	events      *eventRecorder
	controller  *Controller
	mu          sync.Mutex
	ready       []Definition
	transitions []State
}

func newHarness(t *testing.T, editingVersionID string) *harness {
	t.Helper()
	h := &harness{
		registry: &fakeRegistry{version: Version{ID: "v2", AppID: "app-1"}},
		loader:   &fakeLoader{},
		events:   &eventRecorder{},
	}
	h.controller = NewController(ControllerConfig{
		AppID:            "app-1",
		EditingVersionID: editingVersionID,
		Options: OptionsFrom([]Version{
			{ID: "v1", Name: "v1"},
			{ID: "v3", Name: "Staging cut"},
		}),
		Registry: h.registry,
		Loader:   h.loader,
		OnDefinitionReady: func(definition Definition) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.ready = append(h.ready, definition)
		},
		OnStateChange: func(_, to State) {
			h.transitions = append(h.transitions, to)
		},
		Events: h.events,
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.controller.Wait(ctx))
}

func (h *harness) readyDefinitions() []Definition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Definition(nil), h.ready...)
}

func TestCreateVersion_FromEditingVersion(t *testing.T) {
	h := newHarness(t, "v1")
	require.NoError(t, h.controller.SetName("Release 1"))

	require.NoError(t, h.controller.CreateVersion(context.Background()))
	h.wait(t)

	require.Equal(t, []createCall{{appID: "app-1", name: "Release 1", sourceID: "v1"}}, h.registry.calls)
	require.Equal(t, []string{"v2"}, h.loader.loadedIDs())
	require.Equal(t, []pubsub.EventType{EventCreated, EventDefinitionReady}, h.events.types())

	ready := h.readyDefinitions()
	require.Len(t, ready, 1)
	require.Equal(t, "v2", ready[0].VersionID)

	require.Equal(t, StateIdle, h.controller.State())
	require.Equal(t, ProgressIdle, h.controller.Progress())
	require.Empty(t, h.controller.Name(), "name is cleared once the version exists")
	require.False(t, h.controller.IsOpen(), "surface closes on creation")
	require.NoError(t, h.controller.LastError())
	require.Equal(t, []State{StateValidating, StateCreating, StateLoadingDefinition, StateIdle}, h.transitions)
}

func TestCreateVersion_SendsTrimmedName(t *testing.T) {
	h := newHarness(t, "v1")
	require.NoError(t, h.controller.SetName("  Release 1  "))

	require.NoError(t, h.controller.CreateVersion(context.Background()))
	h.wait(t)

	require.Equal(t, "Release 1", h.registry.calls[0].name)
}

func TestCreateVersion_ValidationFailuresMakeNoRequests(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "blank", input: "   ", wantErr: ErrEmptyName},
		{name: "empty", input: "", wantErr: ErrEmptyName},
		{name: "26 characters", input: strings.Repeat("x", 26), wantErr: ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "v1")
			require.NoError(t, h.controller.SetName(tt.input))

			err := h.controller.CreateVersion(context.Background())

			require.ErrorIs(t, err, tt.wantErr)
			require.True(t, IsValidationError(err))
			require.Zero(t, h.registry.callCount())
			require.Empty(t, h.loader.loadedIDs())
			require.Equal(t, StateIdle, h.controller.State())
			require.ErrorIs(t, h.controller.LastError(), tt.wantErr)
			require.Equal(t, []State{StateValidating, StateFailed, StateIdle}, h.transitions)
			require.Equal(t, tt.input, h.controller.Name(), "typed name survives a local failure")
			require.True(t, h.controller.IsOpen())

			event, ok := h.events.find(EventValidationFailed)
			require.True(t, ok)
			require.ErrorIs(t, event.Err, tt.wantErr)
		})
	}
}

func TestCreateVersion_MissingSource(t *testing.T) {
	h := newHarness(t, "v-not-promoted")
	_, ok := h.controller.Selection()
	require.False(t, ok, "no default when the editing version is not an option")
	require.NoError(t, h.controller.SetName("Release 1"))

	err := h.controller.CreateVersion(context.Background())

	require.ErrorIs(t, err, ErrMissingSource)
	require.Zero(t, h.registry.callCount())
	require.Equal(t, StateIdle, h.controller.State())

	require.NoError(t, h.controller.Select("v3"))
	require.NoError(t, h.controller.CreateVersion(context.Background()))
	h.wait(t)
	require.Equal(t, "v3", h.registry.calls[0].sourceID)
}

func TestCreateVersion_UsesLatestSelection(t *testing.T) {
	h := newHarness(t, "v1")
	require.NoError(t, h.controller.SetName("Release 1"))
	require.NoError(t, h.controller.Select("v3"))
	require.ErrorIs(t, h.controller.Select("v42"), ErrUnknownSource)

	require.NoError(t, h.controller.CreateVersion(context.Background()))
	h.wait(t)

	require.Equal(t, "v3", h.registry.calls[0].sourceID)
	require.Equal(t, []string{"v2"}, h.loader.loadedIDs(), "definition is loaded for the new version, not the source")
}

func TestCreateVersion_ClearedSelectionFailsFast(t *testing.T) {
	h := newHarness(t, "v1")
	require.NoError(t, h.controller.SetName("Release 1"))
	h.controller.ClearSelection()

	require.ErrorIs(t, h.controller.CreateVersion(context.Background()), ErrMissingSource)
	require.Zero(t, h.registry.callCount())
}

func TestCreateVersion_RejectsSecondSubmitWhileCreating(t *testing.T) {
	h := newHarness(t, "v1")
	h.registry.gate = make(chan struct{})
	require.NoError(t, h.controller.SetName("Release 1"))

	require.NoError(t, h.controller.CreateVersion(context.Background()))
	require.Eventually(t, func() bool { return h.registry.callCount() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, StateCreating, h.controller.State())
	require.Equal(t, ProgressCreating, h.controller.Progress())

	require.ErrorIs(t, h.controller.CreateVersion(context.Background()), ErrAlreadyInProgress)
	require.ErrorIs(t, h.controller.SetName("other"), ErrAlreadyInProgress)
	require.ErrorIs(t, h.controller.Cancel(), ErrNotCancellable)

	close(h.registry.gate)
	h.wait(t)
	require.Equal(t, 1, h.registry.callCount())
}

func TestCreateVersion_RejectsSubmitWhileLoadingDefinition(t *testing.T) {
	h := newHarness(t, "v1")
	h.loader.gate = make(chan struct{})
	require.NoError(t, h.controller.SetName("Release 1"))

	require.NoError(t, h.controller.CreateVersion(context.Background()))
	require.Eventually(t, func() bool { return h.controller.State() == StateLoadingDefinition }, time.Second, time.Millisecond)
	require.Equal(t, ProgressIdle, h.controller.Progress())
	require.False(t, h.controller.IsOpen())

	require.ErrorIs(t, h.controller.CreateVersion(context.Background()), ErrAlreadyInProgress)
	require.ErrorIs(t, h.controller.Cancel(), ErrNotCancellable)

	close(h.loader.gate)
	h.wait(t)
	require.Equal(t, 1, h.registry.callCount())
	require.Len(t, h.loader.loadedIDs(), 1)
}

func TestCreateVersion_DefinitionLoadFailureKeepsVersion(t *testing.T) {
	h := newHarness(t, "v1")
	h.loader.err = errors.New("definition service unavailable")
	require.NoError(t, h.controller.SetName("Release 1"))

	require.NoError(t, h.controller.CreateVersion(context.Background()))
	h.wait(t)

	require.Equal(t, []pubsub.EventType{EventCreated, EventDefinitionLoadFailed}, h.events.types())
	created, ok := h.events.find(EventCreated)
	require.True(t, ok)
	require.Equal(t, "v2", created.Version.ID)

	var loadErr *DefinitionLoadError
	require.ErrorAs(t, h.controller.LastError(), &loadErr)
	require.Equal(t, "v2", loadErr.VersionID)

	require.Len(t, h.registry.created, 1, "created version is not rolled back")
	require.Empty(t, h.readyDefinitions())
	require.Equal(t, StateIdle, h.controller.State())
	require.NotContains(t, h.transitions, StateFailed)
}

func TestCreateVersion_CreationFailureIsRecoverable(t *testing.T) {
	h := newHarness(t, "v1")
	serverErr := errors.New("Version name already exists.")
	h.registry.err = serverErr
	require.NoError(t, h.controller.SetName("Release 1"))

	require.NoError(t, h.controller.CreateVersion(context.Background()))
	h.wait(t)

	require.Equal(t, []pubsub.EventType{EventCreationFailed}, h.events.types())
	require.Empty(t, h.loader.loadedIDs())

	var creationErr *CreationError
	require.ErrorAs(t, h.controller.LastError(), &creationErr)
	require.ErrorIs(t, h.controller.LastError(), serverErr)
	require.Equal(t, "Version name already exists.", h.controller.LastError().Error())

	require.Equal(t, StateIdle, h.controller.State())
	require.True(t, h.controller.IsOpen())
	require.Equal(t, "Release 1", h.controller.Name())
	require.Equal(t, []State{StateValidating, StateCreating, StateFailed, StateIdle}, h.transitions)

	h.registry.err = nil
	require.NoError(t, h.controller.CreateVersion(context.Background()))
	h.wait(t)
	require.Equal(t, 2, h.registry.callCount())
	require.Len(t, h.readyDefinitions(), 1)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, "v1")
	require.NoError(t, h.controller.SetName("draft"))

	require.NoError(t, h.controller.Cancel())

	require.Empty(t, h.controller.Name())
	require.False(t, h.controller.IsOpen())
	require.Equal(t, ProgressCancelled, h.controller.Progress())
	require.Zero(t, h.registry.callCount())

	h.controller.Open()
	require.True(t, h.controller.IsOpen())
	require.Equal(t, ProgressIdle, h.controller.Progress())
}

func TestCreateVersion_PublishesThroughBroker(t *testing.T) {
	broker := pubsub.NewBroker[Event]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	controller := NewController(ControllerConfig{
		AppID:            "app-1",
		EditingVersionID: "v1",
		Options:          OptionsFrom([]Version{{ID: "v1", Name: "v1"}}),
		Registry:         &fakeRegistry{version: Version{ID: "v2"}},
		Loader:           &fakeLoader{},
		Events:           broker,
	})
	require.NoError(t, controller.SetName("Release 1"))
	require.NoError(t, controller.CreateVersion(context.Background()))

	var got []pubsub.EventType
	for len(got) < 2 {
		select {
		case event := <-sub:
			got = append(got, event.Type)
		case <-time.After(2 * time.Second):
			require.Fail(t, "timeout waiting for events", "got %v", got)
		}
	}
	require.Equal(t, []pubsub.EventType{EventCreated, EventDefinitionReady}, got)
}

func TestWaitWithoutAttemptReturnsImmediately(t *testing.T) {
	h := newHarness(t, "v1")
	require.NoError(t, h.controller.Wait(context.Background()))
}
