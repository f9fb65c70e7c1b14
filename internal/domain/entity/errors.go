package entity

import (
	"errors"
	"fmt"
)

// ErrorCode identifies one failure class of the analysis pipeline. The set
// is closed: every error surfaced to a caller carries exactly one of these.
type ErrorCode string

const (
	// CodeInvalidInput means the request carried no usable symptom text.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	// CodeServerMisconfigured means required operator configuration
	// (API credential or model identifier) is absent.
	CodeServerMisconfigured ErrorCode = "SERVER_MISCONFIGURED"
	// CodeBadLLMOutput means the model's response failed structural
	// validation even after local repair.
	CodeBadLLMOutput ErrorCode = "BAD_LLM_OUTPUT"
	// CodeAuthError means the upstream rejected our credential (401) or
	// denied access to the model (403). Never retried.
	CodeAuthError ErrorCode = "AUTH_ERROR"
	// CodeBadRequest means the upstream rejected the request itself
	// (malformed, unknown model, unprocessable). Never retried.
	CodeBadRequest ErrorCode = "BAD_REQUEST"
	// CodeRateLimit means the upstream rate limit persisted past the
	// retry budget.
	CodeRateLimit ErrorCode = "RATE_LIMIT"
	// CodeModelLoading means the model was still cold-starting when the
	// wait budget ran out.
	CodeModelLoading ErrorCode = "MODEL_LOADING"
	// CodeTimeout means every attempt exceeded its per-call deadline.
	CodeTimeout ErrorCode = "TIMEOUT"
	// CodeUpstreamError is the transient-by-default bucket for anything
	// else the upstream did wrong.
	CodeUpstreamError ErrorCode = "UPSTREAM_ERROR"
)

// Error is the single failure type that crosses the pipeline's boundaries.
// Status, when non-zero, overrides the default HTTP mapping for the code
// (used to preserve the upstream's own 401 vs 403).
type Error struct {
	Code    ErrorCode
	Message string
	Status  int
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error for the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithStatus pins the HTTP status returned for this error.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithDetail attaches an opaque detail field passed through to the caller.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the error to its wire status code.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case CodeInvalidInput:
		return 400
	case CodeServerMisconfigured:
		return 500
	case CodeBadLLMOutput, CodeBadRequest:
		return 502
	case CodeAuthError:
		return 401
	case CodeRateLimit:
		return 429
	case CodeModelLoading, CodeUpstreamError:
		return 503
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

// IsCode reports whether err is a pipeline Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
