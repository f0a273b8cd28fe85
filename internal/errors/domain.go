// Package errors defines the typed failures returned across the service
// boundary. Business-rule violations carry a user-presentable message;
// gateway failures keep their cause for logging but present a generic one.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a DomainError.
type Kind string

const (
	KindUnauthenticated     Kind = "UNAUTHENTICATED"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindInvalidArgument     Kind = "INVALID_ARGUMENT"
	KindFailedPrecondition  Kind = "FAILED_PRECONDITION"
	KindCodeMismatch        Kind = "CODE_MISMATCH"
	KindConflict            Kind = "CONFLICT"
	KindGateway             Kind = "GATEWAY_ERROR"
	KindWebhookVerification Kind = "WEBHOOK_VERIFICATION_FAILED"
	KindNotFound            Kind = "NOT_FOUND"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindInternal            Kind = "INTERNAL"
)

// GatewayMessage is what callers see for any payment provider failure.
const GatewayMessage = "payment provider unavailable, please retry"

// DomainError is a classified failure.
type DomainError struct {
	Code    Kind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches any DomainError of the same kind, so the sentinels below work
// with errors.Is regardless of message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthenticated     = &DomainError{Code: KindUnauthenticated, Message: "authentication required"}
	ErrUnauthorized        = &DomainError{Code: KindUnauthorized, Message: "caller is not permitted to perform this operation"}
	ErrInvalidArgument     = &DomainError{Code: KindInvalidArgument, Message: "invalid argument"}
	ErrFailedPrecondition  = &DomainError{Code: KindFailedPrecondition, Message: "failed precondition"}
	ErrCodeMismatch        = &DomainError{Code: KindCodeMismatch, Message: "verification code does not match"}
	ErrConflict            = &DomainError{Code: KindConflict, Message: "conflicting transaction state"}
	ErrGateway             = &DomainError{Code: KindGateway, Message: GatewayMessage}
	ErrWebhookVerification = &DomainError{Code: KindWebhookVerification, Message: "webhook signature verification failed"}
	ErrNotFound            = &DomainError{Code: KindNotFound, Message: "not found"}
	ErrRateLimited         = &DomainError{Code: KindRateLimited, Message: "too many attempts, try again later"}
)

func newError(kind Kind, msg string) error {
	return &DomainError{Code: kind, Message: msg}
}

func Unauthorized(msg string) error       { return newError(KindUnauthorized, msg) }
func InvalidArgument(msg string) error    { return newError(KindInvalidArgument, msg) }
func FailedPrecondition(msg string) error { return newError(KindFailedPrecondition, msg) }
func Conflict(msg string) error           { return newError(KindConflict, msg) }
func NotFound(msg string) error           { return newError(KindNotFound, msg) }

// Gateway wraps a payment provider failure for operation op.
func Gateway(op string, err error) error {
	return &DomainError{Code: KindGateway, Message: GatewayMessage, Err: fmt.Errorf("%s: %w", op, err)}
}

// WebhookVerification wraps a signature check failure.
func WebhookVerification(err error) error {
	return &DomainError{Code: KindWebhookVerification, Message: ErrWebhookVerification.Message, Err: err}
}

// Internal wraps an unexpected failure; its cause is never shown to callers.
func Internal(err error) error {
	return &DomainError{Code: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the kind of the first DomainError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return KindInternal
}

// MessageOf returns the user-presentable message for err.
func MessageOf(err error) string {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
