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
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// allocation
	CodeNotAvailable                Code = "NOT_AVAILABLE"
	CodeInsufficientEligibleDrivers Code = "INSUFFICIENT_ELIGIBLE_DRIVERS"
	CodePriceBelowFloor             Code = "PRICE_BELOW_FLOOR"
	CodeDuplicateActiveAssignment   Code = "DUPLICATE_ACTIVE_ASSIGNMENT"
	CodeConcurrentConflict          Code = "CONCURRENT_CONFLICT"
	CodePendingObligation           Code = "PENDING_OBLIGATION"

	// trips
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeContention        Code = "CONTENTION"
	CodeUnreachable       Code = "UNREACHABLE"
)

// Category groups codes by how callers are expected to react.
type Category string

const (
	CategoryInternal        Category = "internal"
	CategoryContention      Category = "contention"
	CategoryDomainRejection Category = "domain_rejection"
	CategoryStaleState      Category = "stale_state"
	CategoryUnreachable     Category = "unreachable"
	CategoryClient          Category = "client"
)

// Metadata is how a code is rendered to clients.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	Category       Category
}

func clientFault(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details, Category: CategoryClient}
}

func rejection(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: true, Category: CategoryDomainRejection}
}

func transient(status int, category Category, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: msg, DetailsAllowed: details, Category: category}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    clientFault(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:  clientFault(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:     clientFault(http.StatusForbidden, "access denied", false),
	CodeNotFound:      clientFault(http.StatusNotFound, "resource not found", false),
	CodeConflict:      clientFault(http.StatusConflict, "conflict detected", false),
	CodeIdempotency:   clientFault(http.StatusConflict, "idempotency key reused", true),
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true, Category: CategoryStaleState},

	CodeInternal:           transient(http.StatusInternalServerError, CategoryInternal, "internal server error", false),
	CodeDependency:         transient(http.StatusServiceUnavailable, CategoryUnreachable, "dependency unavailable", true),
	CodeUnreachable:        transient(http.StatusServiceUnavailable, CategoryUnreachable, "service unreachable", false),
	CodeContention:         transient(http.StatusServiceUnavailable, CategoryContention, "resource busy, please retry", false),
	CodeConcurrentConflict: transient(http.StatusConflict, CategoryContention, "capacity changed while processing, please retry", true),

	CodeNotAvailable:                rejection(http.StatusConflict, "no capacity available on this freight order"),
	CodeDuplicateActiveAssignment:   rejection(http.StatusConflict, "driver already holds an active assignment on this freight order"),
	CodeInsufficientEligibleDrivers: rejection(http.StatusUnprocessableEntity, "not enough eligible drivers for the requested slots"),
	CodePriceBelowFloor:             rejection(http.StatusUnprocessableEntity, "offered price is below the minimum for this service"),
	CodePendingObligation:           rejection(http.StatusUnprocessableEntity, "rate your previous trip on this freight order before accepting again"),
	CodeInvalidTransition:           rejection(http.StatusUnprocessableEntity, "this trip already moved past the requested status"),
}

// MetadataFor falls back to the internal error entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded failure. The code picks the client-facing rendering; the
// message and cause stay server side unless details are allowed.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap with a nil err is New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Code is CodeInternal for a nil *Error.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string { return e.message }

func (e *Error) Details() any { return e.details }

// WithDetails sets the payload rendered under "details" and returns e.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	msg := string(e.code) + ": " + e.message
	if e.cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// As finds the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// CategoryOf returns the category of the outermost typed error, or internal.
func CategoryOf(err error) Category {
	typed := As(err)
	if typed == nil {
		return CategoryInternal
	}
	return MetadataFor(typed.Code()).Category
}

// IsDomainRejection reports whether err is a business rule violation that must not be retried.
func IsDomainRejection(err error) bool {
	return CategoryOf(err) == CategoryDomainRejection
}
