package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/diagnosis/afyaplus/pkg/config"
	"github.com/diagnosis/afyaplus/pkg/logger"
)

// NewGateway assembles the delivery chain from configuration: FCM push when a
// Firebase app is given, MailerSend email when a key is set, each behind its
// own breaker. With neither it logs instead of sending.
func NewGateway(ctx context.Context, app *firebase.App, notifyCfg config.NotifyConfig, emailCfg config.EmailConfig) (Notifier, error) {
	router := &Router{}

	if app != nil {
		fcm, err := NewFCMNotifier(ctx, app)
		if err != nil {
			return nil, fmt.Errorf("fcm notifier: %w", err)
		}
		router.Push = NewBreakerNotifier("fcm", fcm, notifyCfg.BreakerFailures, notifyCfg.BreakerOpenDelay)
	}
	if emailCfg.MailerSendKey != "" {
		email := NewEmailNotifier(emailCfg.MailerSendKey, emailCfg.FromName, emailCfg.FromEmail)
		router.Email = NewBreakerNotifier("mailersend", email, notifyCfg.BreakerFailures, notifyCfg.BreakerOpenDelay)
	}

	if router.Push == nil && router.Email == nil {
		logger.Warn("No notification gateway configured, logging notifications instead")
		return LogNotifier{}, nil
	}
	return router, nil
}
