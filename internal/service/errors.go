package service

import "errors"

// Kind classifies a service-level failure per the core's error taxonomy: the Control
// Surface maps each Kind to a fixed HTTP status and never needs to inspect error text.
type Kind string

const (
	KindValidation  Kind = "Validation"
	KindNotFound    Kind = "NotFound"
	KindArchived    Kind = "Archived"
	KindRateLimited Kind = "RateLimited"
	KindQueueFull   Kind = "QueueFull"
	KindConflict    Kind = "Conflict"
	KindIntegrity   Kind = "Integrity"
	KindInternal    Kind = "Internal"
)

// Error is a typed service failure carrying a user-safe message. Internal-kind errors
// wrap a cause for logging but Message alone is what may reach a client.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func ValidationError(message string) *Error  { return newErr(KindValidation, message, nil) }
func NotFoundError(message string) *Error    { return newErr(KindNotFound, message, nil) }
func ArchivedError(message string) *Error    { return newErr(KindArchived, message, nil) }
func RateLimitedError(message string) *Error { return newErr(KindRateLimited, message, nil) }
func QueueFullError(message string) *Error   { return newErr(KindQueueFull, message, nil) }
func ConflictError(message string) *Error    { return newErr(KindConflict, message, nil) }
func IntegrityError(message string) *Error   { return newErr(KindIntegrity, message, nil) }
func InternalError(message string, cause error) *Error {
	return newErr(KindInternal, message, cause)
}

// KindOf extracts the Kind of err, defaulting to Internal for anything that isn't a
// wrapped *Error (a lower layer that forgot to translate its error).
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}
