package notify

import (
	"context"

	"github.com/diagnosis/afyaplus/pkg/logger"
)

// LogNotifier writes notifications to the log. Used when no gateway is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, msg Message) error {
	logger.InfoContext(ctx, "[DEV NOTIFY] notification",
		"type", msg.Type,
		"recipient", msg.Recipient,
		"has_token", msg.Token != "",
		"email", msg.Email,
		"title", msg.Title,
		"body", msg.Body,
		"data", msg.Data,
	)
	return nil
}
