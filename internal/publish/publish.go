// Package publish defines the external publisher capability consumed by the
// dispatch engine. The engine reacts only to the machine-readable error
// kind, never to message text.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a publish failure for retry decisions.
type ErrorKind string

const (
	// KindTransient: network/server hiccup; retryable.
	KindTransient ErrorKind = "transient"
	// KindAuth: authorization/permission problem; not retryable.
	KindAuth ErrorKind = "auth"
	// KindInvalidMedia: the media reference is rejected or unreadable; not retryable.
	KindInvalidMedia ErrorKind = "invalid_media"
	// KindRateLimited: the platform asked us to slow down; retryable.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnknown: unclassified; treated as transient.
	KindUnknown ErrorKind = "unknown"
)

// Retryable reports whether failures of this kind may succeed on a later
// attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindAuth, KindInvalidMedia:
		return false
	}
	return true
}

// Error is a publish failure with a classification kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the error kind; context deadline expiry counts as
// transient (a hung platform call bounded by the call-level timeout), and
// anything unclassified is KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Kind == "" {
			return KindUnknown
		}
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// Request is one unit of content to submit.
type Request struct {
	Text      string
	MediaRefs []string
	// MediaLabel is an optional display name for animated media.
	MediaLabel string

	// GroupRef/TokenRef are opaque destination identifiers.
	GroupRef string
	TokenRef string

	// PublishAt is the slot time the content was scheduled for; platforms
	// that support deferred posting may use it.
	PublishAt time.Time
}

// Receipt acknowledges a successful submission.
type Receipt struct {
	PostRef string
	At      time.Time
}

// Publisher submits one unit of content to the external platform.
//
// Implementations live outside this repo (the wire layer is out of scope);
// Func and the dry-run publisher below exist for composition and testing.
type Publisher interface {
	Publish(ctx context.Context, req Request) (Receipt, error)
}

// Func adapts a plain function to Publisher.
type Func func(ctx context.Context, req Request) (Receipt, error)

func (f Func) Publish(ctx context.Context, req Request) (Receipt, error) { return f(ctx, req) }
