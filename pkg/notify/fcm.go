package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// FCMNotifier sends through Firebase Cloud Messaging.
type FCMNotifier struct {
	client *messaging.Client
}

func NewFCMNotifier(ctx context.Context, app *firebase.App) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client: %w", err)
	}
	return &FCMNotifier{client: client}, nil
}

func (n *FCMNotifier) Send(ctx context.Context, msg Message) error {
	if msg.Token == "" {
		return ErrNoRoute
	}

	_, err := n.client.Send(ctx, &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("%w: %v", ErrStaleToken, err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
