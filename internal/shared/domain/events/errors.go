package events

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

// RetryableError marca un fallo transitorio de infraestructura (BD o broker caídos).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marca un fallo que no se arregla reintentando (payload corrupto, petición inválida).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// Classify devuelve una etiqueta estable para logs y cabeceras de DLQ.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsFatal(err):
		return "fatal"
	case IsRetryable(err):
		return "retryable"
	default:
		return "unexpected"
	}
}
