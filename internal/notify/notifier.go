package notify

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/model"
)

// PrefsSource notification preferences of user
type PrefsSource interface {
	Get(userID string) model.UserSettings
}

// Notifier renders events and delivers them to every sender when user enabled that kind
type Notifier struct {
	Settings PrefsSource
	Senders  []Sender
	now      func() time.Time
}

// NewNotifier Constructor
func NewNotifier(settings PrefsSource, senders ...Sender) *Notifier {
	if len(senders) == 0 {
		senders = []Sender{LogSender{}}
	}
	return &Notifier{Settings: settings, Senders: senders, now: time.Now}
}

// Listen G deliver events until ctx done or channel closed. Delivery failures are only logged
func (n *Notifier) Listen(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := n.Notify(ctx, e); err != nil {
				log.WithError(err).WithFields(log.Fields{"user": e.UserID, "type": e.Type}).Warn("notify / Listen")
			}
		}
	}
}

// Notify deliver one event
func (n *Notifier) Notify(ctx context.Context, e events.Event) error {
	if e.UserID == "" {
		return nil
	}
	if !Enabled(n.Settings.Get(e.UserID).Notifications, e.Type) {
		log.WithFields(log.Fields{"user": e.UserID, "type": e.Type}).Debug("notify / disabled by user")
		return nil
	}
	return n.dispatch(ctx, e.UserID, Render(e))
}

// Send daily summary to user, used by daily reporter
func (n *Notifier) Send(ctx context.Context, userID, summary string) error {
	return n.dispatch(ctx, userID, RenderDailySummary(summary, n.now()))
}

func (n *Notifier) dispatch(ctx context.Context, userID, text string) error {
	var first error
	for _, s := range n.Senders {
		if err := s.Send(ctx, userID, text); err != nil {
			log.WithError(err).WithFields(log.Fields{"user": userID, "sender": s.Name()}).Error("notify / send")
			if first == nil {
				first = errors.Wrap(err, s.Name())
			}
		}
	}
	return first
}
