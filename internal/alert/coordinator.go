package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/feed"
	"github.com/bloomline/backoffice/internal/metrics"
	"github.com/bloomline/backoffice/internal/platform"
	"github.com/bloomline/backoffice/internal/settings"
	"github.com/bloomline/backoffice/internal/sound"
)

// SessionState is the ringing state of the single in-process alert session.
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionRinging SessionState = "ringing"
	SessionSnoozed SessionState = "snoozed"
)

// Session is the UI-visible snapshot of the alert session.
type Session struct {
	State        SessionState `json:"state"`
	RecordID     *uuid.UUID   `json:"record_id,omitempty"`
	Category     db.Category  `json:"category,omitempty"`
	Priority     int          `json:"priority,omitempty"`
	RingCount    int          `json:"ring_count"`
	Muted        bool         `json:"muted"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	SnoozedUntil *time.Time   `json:"snoozed_until,omitempty"`
}

// Store is the slice of NotificationStore the coordinator needs.
type Store interface {
	Create(ctx context.Context, rec *db.NotificationRecord) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*db.NotificationRecord, error)
	Acknowledge(ctx context.Context, id uuid.UUID) (*db.NotificationRecord, error)
}

// Popup dispatches an out-of-band popup notification for a freshly raised
// alert. Implementations live in internal/notify.
type Popup interface {
	Notify(ctx context.Context, rec *db.NotificationRecord) error
}

// Exporter publishes alert lifecycle events for downstream integrations.
type Exporter interface {
	Publish(ctx context.Context, event string, rec *db.NotificationRecord) error
}

// Exported alert lifecycle event names.
const (
	EventAlertRaised       = "alert.raised"
	EventAlertAcknowledged = "alert.acknowledged"
)

const (
	persistAttempts = 3
	persistDelay    = 250 * time.Millisecond
	popupTimeout    = 10 * time.Second
)

// ErrNoActiveAlert is returned by Snooze when nothing is ringing.
var ErrNoActiveAlert = errors.New("no active alert session")

// alertWorthy lists insert statuses that raise an alert.
var alertWorthy = map[string]bool{
	db.OrderStatusPending: true,
}

// Coordinator is the orchestrator: it consumes feed events, deduplicates
// through the store, drives the timer, and exposes the acknowledge, snooze and
// mute operations. Exactly one instance lives per process; every dependency is
// injected.
type Coordinator struct {
	store    Store
	bank     *sound.Bank
	provider *settings.Provider
	popup    Popup    // nil disables popups
	exporter Exporter // nil disables event export
	logger   *zap.Logger

	timer      *Timer
	dispatcher *Dispatcher

	mu          sync.Mutex
	session     Session
	muted       bool
	snoozeTimer *time.Timer
}

// NewCoordinator wires a coordinator and its owned alert timer.
func NewCoordinator(
	store Store,
	bank *sound.Bank,
	player platform.TonePlayer,
	vibrator platform.Vibrator,
	provider *settings.Provider,
	popup Popup,
	exporter Exporter,
	logger *zap.Logger,
) *Coordinator {
	c := &Coordinator{
		store:      store,
		bank:       bank,
		provider:   provider,
		popup:      popup,
		exporter:   exporter,
		logger:     logger,
		dispatcher: NewDispatcher(),
		session:    Session{State: SessionIdle},
	}
	c.timer = NewTimer(bank, player, vibrator, provider, c.recordPulse, logger)
	return c
}

// Session returns the current session snapshot.
func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe streams session transitions to the UI layer.
func (c *Coordinator) Subscribe(ctx context.Context) (<-chan Session, func()) {
	return c.dispatcher.Subscribe(ctx)
}

// Muted reports the global suppression flag.
func (c *Coordinator) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// OnOrderEvent is the feed handler. The record is persisted before any
// in-memory session change; a replay of an already-alerted order creates
// nothing and changes nothing.
func (c *Coordinator) OnOrderEvent(ctx context.Context, evt feed.Event) {
	category, ok := categoryForEvent(evt)
	if !ok {
		return
	}

	cfg := c.provider.Current()
	cs := cfg.Category(category)
	if !cs.Enabled {
		c.logger.Debug("category disabled, skipping",
			zap.String("category", string(category)),
			zap.String("order_id", evt.Order.ID),
		)
		return
	}

	rec := &db.NotificationRecord{
		OrderID:  &evt.Order.ID,
		Category: category,
		Priority: cs.Priority,
		Metadata: map[string]string{
			"order_number":  evt.Order.OrderNumber,
			"customer_name": evt.Order.CustomerName,
			"amount":        strconv.FormatFloat(evt.Order.TotalAmount, 'f', 2, 64),
		},
	}

	created, err := c.createWithRetry(ctx, rec)
	if err != nil {
		c.logger.Error("failed to persist notification record, alert not raised",
			zap.String("order_id", evt.Order.ID),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return
	}
	if !created {
		c.logger.Debug("order already alerted, replay ignored",
			zap.String("order_id", evt.Order.ID),
			zap.String("category", string(category)),
		)
		return
	}

	metrics.RecordNotificationCreated(string(category))
	c.logger.Info("alert raised",
		zap.String("record_id", rec.ID.String()),
		zap.String("order_number", evt.Order.OrderNumber),
		zap.String("category", string(category)),
		zap.Int("priority", rec.Priority),
	)

	if cfg.PopupEnabled && c.popup != nil {
		go c.sendPopup(rec)
	}
	c.export(EventAlertRaised, rec)

	c.startOrPreempt(rec)
}

// Acknowledge marks a record acknowledged; persistence is retried a bounded
// number of times and must succeed before the visible session changes. If the
// record drives the current session the timer stops and the session goes
// idle. Acknowledging an already-acknowledged record is a no-op.
func (c *Coordinator) Acknowledge(ctx context.Context, id uuid.UUID) (*db.NotificationRecord, error) {
	var rec *db.NotificationRecord
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		rec, err = c.store.Acknowledge(ctx, id)
		if err == nil ||
			errors.Is(err, db.ErrAlreadyAcknowledged) ||
			errors.Is(err, db.ErrRecordNotFound) {
			break
		}
		c.logger.Warn("acknowledge write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(persistDelay):
		}
	}

	switch {
	case err == nil:
		metrics.RecordAcknowledged()
	case errors.Is(err, db.ErrAlreadyAcknowledged):
		// No-op, but still clear the session below if it points here.
	case errors.Is(err, db.ErrRecordNotFound):
		return nil, err
	default:
		// Exhausted retries: visible state stays ringing, caller gets a
		// retryable error.
		return nil, fmt.Errorf("acknowledgement not persisted: %w", err)
	}

	c.mu.Lock()
	if c.session.RecordID != nil && *c.session.RecordID == id {
		c.timer.Stop()
		c.cancelSnoozeLocked()
		c.session = Session{State: SessionIdle, Muted: c.muted}
		c.publishLocked()
	}
	c.mu.Unlock()

	if err == nil {
		c.export(EventAlertAcknowledged, rec)
	}
	return rec, nil
}

// Snooze silences the ringing session without acknowledging. After the
// duration the session re-arms if the driving record is still unacknowledged.
func (c *Coordinator) Snooze(duration time.Duration) error {
	if duration <= 0 {
		duration = 5 * time.Minute
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != SessionRinging || c.session.RecordID == nil {
		return ErrNoActiveAlert
	}

	recordID := *c.session.RecordID
	until := time.Now().Add(duration)

	c.timer.Stop()
	c.cancelSnoozeLocked()
	c.session.State = SessionSnoozed
	c.session.SnoozedUntil = &until
	c.snoozeTimer = time.AfterFunc(duration, func() { c.rearm(recordID) })
	c.publishLocked()

	c.logger.Info("alert snoozed",
		zap.String("record_id", recordID.String()),
		zap.Duration("duration", duration),
	)
	return nil
}

// Mute globally suppresses the audible timer. Records keep being created and
// the session keeps its visual state; only sound stops.
func (c *Coordinator) Mute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.muted {
		return
	}
	c.muted = true
	c.session.Muted = true
	c.timer.Stop()
	c.publishLocked()
	c.logger.Info("alerts muted")
}

// Unmute lifts the suppression. It does not retroactively ring for records
// created while muted.
func (c *Coordinator) Unmute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.muted {
		return
	}
	c.muted = false
	c.session.Muted = false
	c.publishLocked()
	c.logger.Info("alerts unmuted")
}

// startOrPreempt starts the session for a fresh record, or preempts a running
// one when the new record's priority is strictly greater. Equal or lower
// priority leaves the running session untouched.
func (c *Coordinator) startOrPreempt(rec *db.NotificationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	switch c.session.State {
	case SessionIdle:
		id := rec.ID
		c.session = Session{
			State:     SessionRinging,
			RecordID:  &id,
			Category:  rec.Category,
			Priority:  rec.Priority,
			Muted:     c.muted,
			StartedAt: &now,
		}
		if !c.muted {
			c.timer.Start(rec.Category, rec.Priority)
		}
		c.publishLocked()

	case SessionRinging, SessionSnoozed:
		if rec.Priority <= c.session.Priority {
			return
		}
		id := rec.ID
		c.cancelSnoozeLocked()
		c.session = Session{
			State:     SessionRinging,
			RecordID:  &id,
			Category:  rec.Category,
			Priority:  rec.Priority,
			Muted:     c.muted,
			StartedAt: &now,
		}
		if !c.muted {
			c.timer.Restart(rec.Category, rec.Priority)
		} else {
			c.timer.Stop()
		}
		c.publishLocked()
		c.logger.Info("alert session preempted",
			zap.String("record_id", rec.ID.String()),
			zap.Int("priority", rec.Priority),
		)
	}
}

// rearm fires when a snooze elapses: if the driving record is still
// unacknowledged the session rings again, otherwise it goes idle.
func (c *Coordinator) rearm(recordID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := c.store.Get(ctx, recordID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != SessionSnoozed || c.session.RecordID == nil || *c.session.RecordID != recordID {
		return
	}

	if err == nil && !rec.Acknowledged {
		c.session.State = SessionRinging
		c.session.SnoozedUntil = nil
		if !c.muted {
			c.timer.Start(c.session.Category, c.session.Priority)
		}
		c.publishLocked()
		c.logger.Info("snooze elapsed, alert re-armed",
			zap.String("record_id", recordID.String()),
		)
		return
	}

	if err != nil {
		// Cannot verify acknowledgement state; ring rather than risk a
		// silently dropped alert.
		c.logger.Warn("snooze re-arm check failed, ringing anyway", zap.Error(err))
		c.session.State = SessionRinging
		c.session.SnoozedUntil = nil
		if !c.muted {
			c.timer.Start(c.session.Category, c.session.Priority)
		}
		c.publishLocked()
		return
	}

	c.session = Session{State: SessionIdle, Muted: c.muted}
	c.publishLocked()
}

// recordPulse is the timer's pulse callback.
func (c *Coordinator) recordPulse(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != SessionRinging {
		return
	}
	c.session.RingCount = count
	c.publishLocked()
}

func (c *Coordinator) createWithRetry(ctx context.Context, rec *db.NotificationRecord) (bool, error) {
	var created bool
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		created, err = c.store.Create(ctx, rec)
		if err == nil {
			return created, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(persistDelay):
		}
	}
	return false, err
}

func (c *Coordinator) sendPopup(rec *db.NotificationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), popupTimeout)
	defer cancel()
	if err := c.popup.Notify(ctx, rec); err != nil {
		c.logger.Warn("popup notification failed",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) export(event string, rec *db.NotificationRecord) {
	if c.exporter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), popupTimeout)
		defer cancel()
		if err := c.exporter.Publish(ctx, event, rec); err != nil {
			c.logger.Warn("alert event export failed",
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}()
}

// cancelSnoozeLocked stops a pending snooze re-arm. Callers hold c.mu.
func (c *Coordinator) cancelSnoozeLocked() {
	if c.snoozeTimer != nil {
		c.snoozeTimer.Stop()
		c.snoozeTimer = nil
	}
	c.session.SnoozedUntil = nil
}

// publishLocked pushes the current session snapshot. Callers hold c.mu.
func (c *Coordinator) publishLocked() {
	c.dispatcher.Publish(c.session)
}

// categoryForEvent maps a feed event to a notification category. Inserts
// alert only for alert-worthy statuses; updates are classified by the status
// transition. An update with no observed prior insert still classifies.
func categoryForEvent(evt feed.Event) (db.Category, bool) {
	switch evt.Kind {
	case feed.KindInsert:
		if alertWorthy[evt.Order.Status] {
			return db.CategoryOrderCreated, true
		}
		return "", false

	case feed.KindUpdate:
		if evt.OldStatus == evt.Order.Status {
			return "", false
		}
		switch evt.Order.Status {
		case db.OrderStatusPaid:
			if evt.OldStatus == db.OrderStatusPaymentPending {
				return db.CategoryPaymentCompleted, true
			}
			return db.CategoryOrderPaid, true
		case db.OrderStatusCancelled:
			if evt.OldStatus == db.OrderStatusPaymentPending {
				return db.CategoryPaymentFailed, true
			}
			return db.CategoryOrderCancelled, true
		default:
			return db.CategoryOrderUpdated, true
		}
	}
	return "", false
}
