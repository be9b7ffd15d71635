package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Settlement taxonomy.
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeAlreadyResolved        Code = "ALREADY_RESOLVED"
	CodeNoActiveDispute        Code = "NO_ACTIVE_DISPUTE"
	CodeInsufficientBalance    Code = "INSUFFICIENT_BALANCE"
	CodeRecipientUnconfigured  Code = "RECIPIENT_UNCONFIGURED"
	CodeRailRejected           Code = "RAIL_REJECTED"
	CodeTransient              Code = "TRANSIENT"
	CodeBelowMinimumThreshold  Code = "BELOW_MINIMUM_THRESHOLD"
	CodeAlreadyCompleted       Code = "ALREADY_COMPLETED"
	CodeAttemptsExhausted      Code = "PAYOUT_ATTEMPTS_EXHAUSTED"
	CodeDuplicateIdempotentKey Code = "DUPLICATE_IDEMPOTENCY_KEY"
)

// Metadata is how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type metaFlag uint8

const (
	retryable metaFlag = 1 << iota
	withDetails
)

func meta(status int, flags metaFlag, public string) Metadata {
	return Metadata{
		HTTPStatus:     status,
		Retryable:      flags&retryable != 0,
		PublicMessage:  public,
		DetailsAllowed: flags&withDetails != 0,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:             meta(http.StatusBadRequest, withDetails, "validation failed"),
	CodeUnauthorized:           meta(http.StatusUnauthorized, 0, "authentication required"),
	CodeForbidden:              meta(http.StatusForbidden, 0, "access denied"),
	CodeNotFound:               meta(http.StatusNotFound, 0, "resource not found"),
	CodeConflict:               meta(http.StatusConflict, 0, "conflict detected"),
	CodeStateConflict:          meta(http.StatusUnprocessableEntity, withDetails, "state transition disallowed"),
	CodeIdempotency:            meta(http.StatusConflict, withDetails, "idempotency key reused"),
	CodeRateLimit:              meta(http.StatusTooManyRequests, 0, "rate limit exceeded"),
	CodeInternal:               meta(http.StatusInternalServerError, retryable, "internal server error"),
	CodeDependency:             meta(http.StatusServiceUnavailable, retryable | withDetails, "dependency unavailable"),
	CodeInvalidAmount:          meta(http.StatusBadRequest, withDetails, "invalid amount"),
	CodeInvalidTransition:      meta(http.StatusConflict, withDetails, "transition not allowed from current state"),
	CodeAlreadyResolved:        meta(http.StatusConflict, withDetails, "dispute already resolved"),
	CodeNoActiveDispute:        meta(http.StatusConflict, withDetails, "no active dispute"),
	CodeInsufficientBalance:    meta(http.StatusUnprocessableEntity, withDetails, "insufficient balance"),
	CodeRecipientUnconfigured:  meta(http.StatusUnprocessableEntity, withDetails, "recipient has no payout method"),
	CodeRailRejected:           meta(http.StatusBadGateway, withDetails, "payout rejected by processor"),
	CodeTransient:              meta(http.StatusServiceUnavailable, retryable | withDetails, "temporary failure, retry scheduled"),
	CodeBelowMinimumThreshold:  meta(http.StatusAccepted, withDetails, "amount below payout minimum, queued"),
	CodeAlreadyCompleted:       meta(http.StatusConflict, withDetails, "payout already completed"),
	CodeAttemptsExhausted:      meta(http.StatusConflict, withDetails, "payout attempts exhausted"),
	CodeDuplicateIdempotentKey: meta(http.StatusOK, 0, "duplicate request replayed"),
}

func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for typed := As(err); typed != nil; typed = As(typed.cause) {
		if typed.code == code {
			return true
		}
	}
	return false
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
