package redeploy

import (
	"errors"
	"fmt"
)

// Kind classifies a redeployment failure. The API layer maps kinds to HTTP
// status codes; the orchestrator decides which kinds trigger compensation.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindInvalidState       Kind = "invalid_state"
	KindPreconditionFailed Kind = "precondition_failed"
	KindImageNotFound      Kind = "image_not_found"
	KindInvalidPortMapping Kind = "invalid_port_mapping"
	KindUpstreamError      Kind = "upstream_error"
	KindPersistenceError   Kind = "persistence_error"
	KindRedeployFailed     Kind = "redeployment_failed"
)

type Error struct {
	Kind           Kind
	Message        string
	Missing        []string // populated for missing-parameter rejections
	UpstreamStatus int
	UpstreamBody   string
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func failf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a redeploy *Error, falling back to the catch-all kind so
// the caller always has a classified failure.
func AsError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{Kind: KindRedeployFailed, Message: "Failed to redeploy instance. Please check the logs and try again.", Err: err}
}

// ErrVerificationFailed marks a tri-view write whose read-back came up short.
var ErrVerificationFailed = errors.New("instance update verification failed")
