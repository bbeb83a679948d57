// Package notify delivers best-effort push notifications. Delivery never
// reports failure back to the operation that triggered it.
package notify

import (
	"context"
	"errors"
)

var (
	// ErrNoRoute means the recipient has neither a push token nor an email.
	ErrNoRoute = errors.New("notify: recipient has no delivery route")
	// ErrStaleToken means the push gateway no longer recognises the device token.
	ErrStaleToken = errors.New("notify: push token is no longer registered")
)

// Message is a single notification for one recipient.
type Message struct {
	Type      string
	Recipient int64
	Token     string
	Email     string
	Title     string
	Body      string
	Data      map[string]string
}

// Notifier performs one delivery attempt.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher schedules delivery without blocking or failing the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
