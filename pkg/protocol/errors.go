package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a gateway failure. Every error that reaches the HTTP
// surface carries exactly one kind, which determines the response status.
type ErrorKind string

const (
	KindBadRequest           ErrorKind = "bad_request"
	KindModelNotFound        ErrorKind = "model_not_found"
	KindBackendUnavailable   ErrorKind = "backend_unavailable"
	KindBackendTimeout       ErrorKind = "backend_timeout"
	KindUpstreamFailure      ErrorKind = "upstream_failure"
	KindTransportFailure     ErrorKind = "transport_failure"
	KindMissingParam         ErrorKind = "missing_param"
	KindNotFound             ErrorKind = "not_found"
	KindWriteFailure         ErrorKind = "write_failure"
	KindInvalidPlan          ErrorKind = "invalid_plan"
	KindWorkflowNotFound     ErrorKind = "workflow_not_found"
	KindInvalidWorkflowState ErrorKind = "invalid_workflow_state"
	KindInternal             ErrorKind = "internal"
)

// Error is the gateway's structured error. It wraps an underlying cause
// where one exists so errors.Is/As keep working through the pipeline.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a gateway error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf creates a gateway error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, defaulting to Internal for plain errors.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code the client sees.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindBadRequest, KindMissingParam, KindInvalidPlan:
		return http.StatusBadRequest
	case KindModelNotFound, KindNotFound, KindWorkflowNotFound:
		return http.StatusNotFound
	case KindInvalidWorkflowState:
		return http.StatusConflict
	case KindBackendUnavailable, KindUpstreamFailure:
		return http.StatusBadGateway
	case KindBackendTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
