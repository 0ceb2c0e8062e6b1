package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
)

// Kind classifies an import failure
type Kind string

const (
	// KindConfiguration: bad URL, unsupported auth, schema not found. The
	// configuration is skipped for this run.
	KindConfiguration Kind = "configuration"
	// KindFetch: network, timeout, non-2xx or invalid JSON from the external API.
	KindFetch Kind = "fetch"
	// KindSync: the index rejected the bulk payload.
	KindSync Kind = "sync"
	// KindUnexpected: anything else caught at the per-configuration boundary.
	KindUnexpected Kind = "unexpected"
)

type ImportError struct {
	Kind            Kind
	Message         string
	ConfigurationID uuid.UUID
	// StatusCode is the upstream HTTP status when one was received.
	StatusCode int
	cause      error
}

func newImportError(kind Kind, format string, args ...any) *ImportError {
	var cause error
	for _, arg := range args {
		if err, ok := arg.(error); ok && strings.Contains(format, "%w") {
			cause = err
			break
		}
	}
	return &ImportError{
		Kind:    kind,
		Message: fmt.Errorf(format, args...).Error(),
		cause:   cause,
	}
}

func NewConfigurationError(format string, args ...any) *ImportError {
	return newImportError(KindConfiguration, format, args...)
}

func NewFetchError(format string, args ...any) *ImportError {
	return newImportError(KindFetch, format, args...)
}

func NewSyncError(format string, args ...any) *ImportError {
	return newImportError(KindSync, format, args...)
}

func NewUnexpectedError(format string, args ...any) *ImportError {
	return newImportError(KindUnexpected, format, args...)
}

// WrapUnexpected classifies err as unexpected unless it already is an ImportError.
func WrapUnexpected(err error) *ImportError {
	if err == nil {
		return nil
	}
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie
	}
	return &ImportError{Kind: KindUnexpected, Message: err.Error(), cause: err}
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *ImportError) Unwrap() error {
	return e.cause
}

func (e *ImportError) AddConfigurationID(id uuid.UUID) *ImportError {
	e.ConfigurationID = id
	return e
}

func (e *ImportError) AddStatusCode(code int) *ImportError {
	e.StatusCode = code
	return e
}

func (e *ImportError) ToHTTPError() *httperror.HTTPError {
	code := http.StatusInternalServerError
	switch e.Kind {
	case KindConfiguration:
		code = http.StatusUnprocessableEntity
	case KindFetch, KindSync:
		code = http.StatusBadGateway
	}

	herr := httperror.NewHTTPError(code, e.Error()).AddMetaValue("kind", string(e.Kind))
	if e.ConfigurationID != uuid.Nil {
		herr = herr.AddMetaValue("configuration_id", e.ConfigurationID.String())
	}
	if e.StatusCode != 0 {
		herr = herr.AddMetaValue("upstream_status", strconv.Itoa(e.StatusCode))
	}
	return herr
}

// KindOf returns the kind of err, or "" if err is not an ImportError.
func KindOf(err error) Kind {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

func IsConfigurationError(err error) bool {
	return KindOf(err) == KindConfiguration
}

func IsFetchError(err error) bool {
	return KindOf(err) == KindFetch
}

func IsSyncError(err error) bool {
	return KindOf(err) == KindSync
}

// MappingWarning is a non-fatal problem with one element or one field. It is
// recorded on the result and never fails the import.
type MappingWarning struct {
	ElementIndex int
	Field        string
	Message      string
}

func NewMappingWarning(elementIndex int, field, format string, args ...any) MappingWarning {
	return MappingWarning{
		ElementIndex: elementIndex,
		Field:        field,
		Message:      fmt.Sprintf(format, args...),
	}
}

func (w MappingWarning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("item %d: %s", w.ElementIndex, w.Message)
	}
	return fmt.Sprintf("item %d field '%s': %s", w.ElementIndex, w.Field, w.Message)
}
