package notify

import (
	"context"
	"errors"
)

// Router prefers push and falls back to email when the recipient has no usable token.
type Router struct {
	Push  Notifier
	Email Notifier
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	if msg.Token != "" && r.Push != nil {
		err := r.Push.Send(ctx, msg)
		if err == nil || !errors.Is(err, ErrStaleToken) || msg.Email == "" {
			return err
		}
	}
	if msg.Email != "" && r.Email != nil {
		return r.Email.Send(ctx, msg)
	}
	return ErrNoRoute
}
