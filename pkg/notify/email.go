package notify

import (
	"context"
	"fmt"

	"github.com/mailersend/mailersend-go"
)

// EmailNotifier delivers the notification text by email through MailerSend.
type EmailNotifier struct {
	client *mailersend.Mailersend
	from   mailersend.From
}

func NewEmailNotifier(apiKey, fromName, fromEmail string) *EmailNotifier {
	return &EmailNotifier{
		client: mailersend.NewMailersend(apiKey),
		from:   mailersend.From{Name: fromName, Email: fromEmail},
	}
}

func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return ErrNoRoute
	}

	m := n.client.Email.NewMessage()
	m.SetFrom(n.from)
	m.SetRecipients([]mailersend.Recipient{{Email: msg.Email}})
	m.SetSubject(msg.Title)
	m.SetText(msg.Body)
	m.SetTags([]string{msg.Type})

	if _, err := n.client.Email.Send(ctx, m); err != nil {
		return fmt.Errorf("mailersend send: %w", err)
	}
	return nil
}
