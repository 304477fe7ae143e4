package upload

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why an upload was not admitted.
type Kind int

const (
	// KindBadRequest means the name was empty or unusable after sanitizing.
	KindBadRequest Kind = iota + 1
	// KindConflict means the document store already holds the name.
	KindConflict
	// KindPayloadTooLarge means the declared or streamed size passed the ceiling.
	KindPayloadTooLarge
	// KindInternal covers storage and transfer failures.
	KindInternal
)

// String returns the label used in logs and span attributes.
func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// AdmissionError is the error returned by Controller.Admit.
type AdmissionError struct {
	Kind Kind
	Err  error
}

// Error implements error.
func (e *AdmissionError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// Status maps the error kind onto an HTTP status code.
func (e *AdmissionError) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the admission kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func badRequest(err error) error      { return &AdmissionError{Kind: KindBadRequest, Err: err} }
func conflict(err error) error        { return &AdmissionError{Kind: KindConflict, Err: err} }
func tooLarge(err error) error        { return &AdmissionError{Kind: KindPayloadTooLarge, Err: err} }
func internalFailure(err error) error { return &AdmissionError{Kind: KindInternal, Err: err} }
