package app

import (
	"fmt"
	"net/http"

	"sidequest/api/internal/payload"
)

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

func errNotFound(what, id string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s %q not found", what, id), nil)
}

func errAlreadyExists(what, id string) *DomainError {
	return domainError(http.StatusConflict, "ALREADY_EXISTS", fmt.Sprintf("%s %q already exists", what, id), nil)
}

func errInvalidState(message string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_STATE", message, nil)
}

func errConcurrentModification() *DomainError {
	return domainError(http.StatusConflict, "CONCURRENT_MODIFICATION", "The document was modified concurrently, retry the operation", nil)
}

func errDependencyUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", message, nil)
}

func errValidationField(field, reason string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("%s %s", field, reason), map[string]string{"field": field})
}

func errValidation(err error) *DomainError {
	if v, ok := err.(*payload.ValidationError); ok {
		return errValidationField(v.Field, v.Reason)
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
}
