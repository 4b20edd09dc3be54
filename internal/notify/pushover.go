package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gregdel/pushover"

	"moto-alarm/ingestion/internal/domain"
)

type PushoverSender struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

func NewPushoverSender(appToken, userKey string) *PushoverSender {
	return &PushoverSender{
		app:       pushover.New(appToken),
		recipient: pushover.NewRecipient(userKey),
	}
}

func (p *PushoverSender) Send(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &pushover.Message{
		Title:    n.Title,
		Message:  n.Body,
		Priority: n.Priority,
		Sound:    n.Sound,
	}
	// Emergency messages repeat until acknowledged.
	if n.Priority == pushover.PriorityEmergency {
		msg.Retry = time.Minute
		msg.Expire = time.Hour
	}

	if _, err := p.app.SendMessage(msg, p.recipient); err != nil {
		return fmt.Errorf("pushover send failed: %w", err)
	}
	return nil
}

// LogSender stands in when no push credentials are configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, n domain.Notification) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.Warn("push_not_configured", "title", n.Title, "body", n.Body)
	return nil
}
