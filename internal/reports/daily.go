package reports

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/model"
)

// Sender delivers text to user
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// PositionSource snapshot of tracked positions
type PositionSource interface {
	All(ctx context.Context) (model.Snapshot, error)
}

// SettingsSource user settings
type SettingsSource interface {
	Get(userID string) model.UserSettings
	UserIDs() []string
}

// DailyReporter sends one day summary once a day at Hour local time to users with daily summary enabled
type DailyReporter struct {
	Journal   *Journal
	Positions PositionSource
	Settings  SettingsSource
	Sender    Sender
	Hour      int
	// Pause between two users
	Pause time.Duration

	now     func() time.Time
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDailyReporter Constructor
func NewDailyReporter(journal *Journal, positions PositionSource, settings SettingsSource, sender Sender, hour int) *DailyReporter {
	return &DailyReporter{
		Journal:   journal,
		Positions: positions,
		Settings:  settings,
		Sender:    sender,
		Hour:      hour,
		Pause:     time.Second,
		now:       time.Now,
	}
}

// NextRun first report time after now
func (d *DailyReporter) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), d.Hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start scheduler, second start is a no-op
func (d *DailyReporter) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true
	d.wg.Add(1)
	go d.run(ctx)
	log.WithField("hour", d.Hour).Info("reports / daily reporter started")
}

// Stop scheduler and wait for it
func (d *DailyReporter) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.running = false
	log.Info("reports / daily reporter stopped")
}

// G wait for report time, send, repeat
func (d *DailyReporter) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		now := d.now()
		next := d.NextRun(now)
		log.Infof("reports / next daily report in %.1f hours", next.Sub(now).Hours())
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		sent, err := d.SendReports(ctx)
		if err != nil {
			log.WithError(err).Error("reports / daily reports")
		}
		log.WithField("sent", sent).Info("reports / daily reports done")
	}
}

// SendReports send summary to every user with daily summary enabled. Returns count of sent reports
func (d *DailyReporter) SendReports(ctx context.Context) (int, error) {
	snap, err := d.Positions.All(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "reports / SendReports / positions")
	}
	users := make(map[string]struct{})
	for user := range snap {
		users[user] = struct{}{}
	}
	for _, user := range d.Settings.UserIDs() {
		users[user] = struct{}{}
	}
	ids := make([]string, 0, len(users))
	for user := range users {
		ids = append(ids, user)
	}
	sort.Strings(ids)

	sent := 0
	for _, user := range ids {
		if !d.Settings.Get(user).Notifications.DailySummary {
			continue
		}
		if sent > 0 && d.Pause > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(d.Pause):
			}
		}
		text, err := d.summary(ctx, user, len(snap[user]))
		if err != nil {
			log.WithError(err).WithField("user", user).Error("reports / SendReports / summary")
			continue
		}
		if err = d.Sender.Send(ctx, user, text); err != nil {
			log.WithError(err).WithField("user", user).Error("reports / SendReports / send")
			continue
		}
		sent++
		log.WithField("user", user).Info("reports / daily report sent")
	}
	return sent, nil
}

// SendTestReport send summary to user now regardless of settings
func (d *DailyReporter) SendTestReport(ctx context.Context, userID string) error {
	snap, err := d.Positions.All(ctx)
	if err != nil {
		return errors.Wrap(err, "reports / SendTestReport / positions")
	}
	text, err := d.summary(ctx, userID, len(snap[userID]))
	if err != nil {
		return err
	}
	return d.Sender.Send(ctx, userID, text+"\n\n🧪 Test report")
}

func (d *DailyReporter) summary(ctx context.Context, userID string, active int) (string, error) {
	stats, err := d.Journal.Statistics(ctx, userID, 1)
	if err != nil {
		return "", err
	}
	text := FormatSummary(stats, 1)
	if active > 0 {
		text += fmt.Sprintf("\n\n🔄 Active positions: %d", active)
	}
	return text, nil
}
