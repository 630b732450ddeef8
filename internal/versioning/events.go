package versioning

import "forge/api/internal/pubsub"

const (
	EventCreated              pubsub.EventType = "version.created"
	EventDefinitionReady      pubsub.EventType = "version.definition_ready"
	EventDefinitionLoadFailed pubsub.EventType = "version.definition_load_failed"
	EventCreationFailed       pubsub.EventType = "version.creation_failed"
	EventValidationFailed     pubsub.EventType = "version.validation_failed"
)

// Event is the payload published for every step of a creation attempt that a
// caller may want to render.
type Event struct {
	Type       pubsub.EventType
	AppID      string
	Name       string
	Version    *Version
	Definition *Definition
	Err        error
}

// Terminal reports whether the event ends a creation attempt.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDefinitionReady, EventDefinitionLoadFailed, EventCreationFailed:
		return true
	default:
		return false
	}
}
