package versioning

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName         = errors.New("version name should not be empty")
	ErrNameTooLong       = fmt.Errorf("version name should not be longer than %d characters", MaxNameLength)
	ErrMissingSource     = errors.New("select a version to create from")
	ErrUnknownSource     = errors.New("version is not available to create from")
	ErrAlreadyInProgress = errors.New("version creation already in progress")
	ErrNotCancellable    = errors.New("version creation can no longer be cancelled")
	ErrInvalidResponse   = errors.New("registry returned a version without an id")
)

// CreationError reports that the registry refused or failed to create the
// version. No version exists afterwards.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	if e == nil || e.Err == nil {
		return "version creation failed"
	}
	return e.Err.Error()
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// DefinitionLoadError reports that the version was created but its definition
// could not be fetched. The version stays.
type DefinitionLoadError struct {
	VersionID string
	Err       error
}

func (e *DefinitionLoadError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("load definition of version %s: %v", e.VersionID, e.Err)
}

func (e *DefinitionLoadError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err was raised locally before any request.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrNameTooLong) ||
		errors.Is(err, ErrMissingSource) ||
		errors.Is(err, ErrUnknownSource)
}
