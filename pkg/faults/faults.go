// Package faults holds the error taxonomy shared by the indexing and request
// pipelines. Every type wraps its cause so errors.Is and errors.As see
// through fmt.Errorf chains.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ConfigurationError reports a missing or invalid setting. It is always
// returned before any side effect takes place.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ExtractionError reports that a single document could not be parsed.
type ExtractionError struct {
	Document string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Document, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ServiceError reports a failed call to an external collaborator (OCR,
// embedding, language model or vector store).
type ServiceError struct {
	Service   string
	Op        string
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("%s %s failed (retryable): %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ValidationError reports malformed input at a boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Service wraps err as a ServiceError, classifying timeouts as retryable.
// A nil err yields nil.
func Service(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{
		Service:   service,
		Op:        op,
		Retryable: isTransient(err),
		Err:       err,
	}
}

// IsRetryable reports whether err is a ServiceError worth retrying.
func IsRetryable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Retryable
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
