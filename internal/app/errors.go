package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"forge/api/internal/gitrepo"
	"forge/api/internal/versioning"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidDefinition = "INVALID_DEFINITION"
	CodeAppNotFound       = "APP_NOT_FOUND"
	CodeEnvNotFound       = "ENVIRONMENT_NOT_FOUND"
	CodeVersionNotFound   = "VERSION_NOT_FOUND"
	CodeSourceNotFound    = "SOURCE_VERSION_NOT_FOUND"
	CodeVersionNameExists = "VERSION_NAME_EXISTS"
	CodeBranchNotFound    = "VERSION_BRANCH_NOT_FOUND"
	CodeServerError       = "SERVER_ERROR"
)

// DomainError is an error with the HTTP status and body it is reported as.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// validationError reports a rejected version name or source. details.reason
// names the rule that failed.
func validationError(err error) *DomainError {
	reason := "INVALID"
	switch {
	case errors.Is(err, versioning.ErrEmptyName):
		reason = "EMPTY_NAME"
	case errors.Is(err, versioning.ErrNameTooLong):
		reason = "NAME_TOO_LONG"
	case errors.Is(err, versioning.ErrMissingSource):
		reason = "MISSING_SOURCE"
	}
	return domainError(http.StatusUnprocessableEntity, CodeValidation, capitalize(err.Error()), map[string]any{"reason": reason})
}

// notFound turns a missing row into a 404 with code; other errors pass through.
func notFound(err error, code, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, code, message, nil)
	}
	return err
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, gitrepo.ErrBranchNotFound) {
		return http.StatusNotFound, CodeBranchNotFound, "Version content not found", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
