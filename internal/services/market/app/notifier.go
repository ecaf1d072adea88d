package app

import (
	"context"
	"log"

	"golang.org/x/text/language"

	"github.com/Casazola49/blacklist-core/internal/services/notify/render"
)

// Notification is one message addressed to a marketplace actor.
type Notification struct {
	RecipientID string
	Topic       render.Topic
	Locale      language.Tag
	Args        []any
}

// Notifier delivers notifications. Delivery is best effort: lifecycle
// operations never fail because a notification could not be sent.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier renders notifications and writes them to the process log. It
// stands in for an external delivery channel.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, n Notification) error {
	body := render.Notification(n.Locale, n.Topic, n.Args...)
	log.Printf("notify %s: %s", n.RecipientID, body)
	return nil
}

// notify dispatches without letting a delivery failure reach the caller.
func notify(ctx context.Context, notifier Notifier, n Notification) {
	if notifier == nil || n.RecipientID == "" {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		log.Printf("notification %s to %s: %v", n.Topic, n.RecipientID, err)
	}
}
