package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/voicetel/suitecrm-notifier/internal/config"
	"github.com/voicetel/suitecrm-notifier/internal/database"
	"github.com/voicetel/suitecrm-notifier/internal/logging"
	"github.com/voicetel/suitecrm-notifier/internal/models"
	"github.com/voicetel/suitecrm-notifier/internal/suitecrm"
	"github.com/voicetel/suitecrm-notifier/internal/webhook"
)

// openTicketStateID is the CRM's encoding for an open ticket.
const openTicketStateID = 1

// CRM is the slice of the API client the dispatcher needs.
type CRM interface {
	Me(ctx context.Context, userID string) (string, error)
	GetAlerts(ctx context.Context, userID string, since *time.Time, limit int) ([]models.Alert, error)
}

// Sink delivers notification events to the host platform.
type Sink interface {
	Notify(ev models.NotificationEvent) error
}

type Notifier struct {
	store    database.TokenStore
	crm      CRM
	sink     Sink
	recorder database.NotificationRecorder
	config   *config.Config
	logger   *logging.Logger
}

func New(store database.TokenStore, crm CRM, sink Sink, recorder database.NotificationRecorder, cfg *config.Config, logger *logging.Logger) *Notifier {
	return &Notifier{
		store:    store,
		crm:      crm,
		sink:     sink,
		recorder: recorder,
		config:   cfg,
		logger:   logger,
	}
}

// Run checks every linked user once. A failing user never aborts the pass
// for the others; only a failure to enumerate users is fatal.
func (n *Notifier) Run(ctx context.Context) (*models.RunStats, error) {
	start := time.Now()
	stats := &models.RunStats{}

	err := n.store.ForEachLinkedUser(func(userID string) error {
		n.checkUser(ctx, userID, stats)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to iterate linked users: %w", err)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// checkUser walks one user through the poll cycle: token check, app
// credential check, identity lookup, alert reconciliation, watermark
// advance, open-ticket count and at most one notification. Every missing
// prerequisite is a silent skip.
func (n *Notifier) checkUser(ctx context.Context, userID string, stats *models.RunStats) {
	accessToken, err := n.store.GetUserValue(userID, database.KeyToken)
	if err != nil {
		n.logger.LogError("failed to read access token", err, "user", userID)
		stats.Errors++
		return
	}
	if accessToken == "" {
		stats.UsersSkipped++
		return
	}

	creds, err := database.LoadCredentials(n.store)
	if err != nil {
		n.logger.LogError("failed to load app credentials", err, "user", userID)
		stats.Errors++
		return
	}
	if !creds.Complete() {
		stats.UsersSkipped++
		return
	}

	stats.UsersChecked++

	myUserID, err := n.crm.Me(ctx, userID)
	if err != nil {
		n.logger.Verbose("identity lookup failed", "user", userID, "error", err.Error())
		return
	}

	watermark, err := n.store.GetUserValue(userID, database.KeyLastOpenCheck)
	if err != nil {
		n.logger.LogError("failed to read watermark", err, "user", userID)
		stats.Errors++
		return
	}
	var since *time.Time
	if watermark != "" {
		if t, perr := suitecrm.ParseTime(watermark); perr == nil {
			since = &t
		}
	}

	alerts, err := n.crm.GetAlerts(ctx, userID, since, 0)
	if err != nil {
		n.logger.Verbose("alert fetch failed", "user", userID, "error", err.Error())
		stats.Errors++
		return
	}
	if len(alerts) == 0 {
		return
	}
	stats.AlertsSeen += len(alerts)

	// The watermark advances whenever the batch is non-empty, even if
	// nothing qualifies for a notification.
	n.advanceWatermark(userID, watermark, alerts[0].UpdatedAt)

	nbOpen := 0
	for _, alert := range alerts {
		if alert.OwnerID == myUserID && alert.StateID == openTicketStateID {
			nbOpen++
		}
	}
	n.logger.Verbose("open tickets counted", "user", userID, "nb_open", nbOpen)
	if nbOpen == 0 {
		return
	}

	ev := webhook.NewEvent(userID, models.SubjectNewOpenTickets, map[string]any{
		"nbOpen": nbOpen,
		"link":   creds.BaseURL,
	})

	if n.config.DryRun {
		n.logger.Info("dry-run: would notify", "user", userID, "nb_open", nbOpen)
		return
	}

	if err := n.sink.Notify(ev); err != nil {
		n.logger.LogError("failed to push notification", err, "user", userID)
		stats.Errors++
		return
	}
	stats.NotificationsSent++

	if n.recorder != nil {
		if err := n.recorder.RecordNotification(ev, nbOpen); err != nil {
			n.logger.LogError("failed to record notification", err, "user", userID)
		}
	}
}

// advanceWatermark persists the new cursor. The watermark never moves
// backward, which keeps overlapping cycles idempotent.
func (n *Notifier) advanceWatermark(userID, current, candidate string) {
	if candidate == "" {
		return
	}
	if current != "" {
		cur, err1 := suitecrm.ParseTime(current)
		cand, err2 := suitecrm.ParseTime(candidate)
		if err1 == nil && err2 == nil && !cand.After(cur) {
			return
		}
	}
	if err := n.store.SetUserValue(userID, database.KeyLastOpenCheck, candidate); err != nil {
		n.logger.LogError("failed to persist watermark", err, "user", userID)
	}
}
