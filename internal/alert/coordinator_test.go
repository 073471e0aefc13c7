package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/feed"
	"github.com/bloomline/backoffice/internal/settings"
	"github.com/bloomline/backoffice/internal/sound"
)

var errStoreDown = errors.New("store unavailable")

// fakeStore is an in-memory notification store with injectable failures.
type fakeStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*db.NotificationRecord
	byKey     map[string]uuid.UUID
	createErr error
	ackErr    error
	getErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[uuid.UUID]*db.NotificationRecord),
		byKey:   make(map[string]uuid.UUID),
	}
}

func storeKey(orderID string, category db.Category) string {
	return orderID + "/" + string(category)
}

func (f *fakeStore) Create(ctx context.Context, rec *db.NotificationRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return false, f.createErr
	}

	key := storeKey(*rec.OrderID, rec.Category)
	if existingID, ok := f.byKey[key]; ok {
		*rec = *f.records[existingID]
		return false, nil
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	stored := *rec
	f.records[rec.ID] = &stored
	f.byKey[key] = rec.ID
	return true, nil
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*db.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeStore) Acknowledge(ctx context.Context, id uuid.UUID) (*db.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	if rec.Acknowledged {
		copied := *rec
		return &copied, db.ErrAlreadyAcknowledged
	}
	now := time.Now()
	rec.Acknowledged = true
	rec.AcknowledgedAt = &now
	copied := *rec
	return &copied, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeStore) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *fakeStore) setAckErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackErr = err
}

// fakePopup counts popups and signals each delivery.
type fakePopup struct {
	mu        sync.Mutex
	delivered []uuid.UUID
	signal    chan struct{}
}

func newFakePopup() *fakePopup {
	return &fakePopup{signal: make(chan struct{}, 16)}
}

func (f *fakePopup) Notify(ctx context.Context, rec *db.NotificationRecord) error {
	f.mu.Lock()
	f.delivered = append(f.delivered, rec.ID)
	f.mu.Unlock()
	f.signal <- struct{}{}
	return nil
}

func (f *fakePopup) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

// fakeExporter records published lifecycle events.
type fakeExporter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeExporter) Publish(ctx context.Context, event string, rec *db.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeExporter) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func testSettings() *settings.Settings {
	s := settings.Defaults()
	s.RingDurationMS = 5
	s.RingIntervalMS = 20
	return s
}

type coordinatorFixture struct {
	coordinator *Coordinator
	store       *fakeStore
	popup       *fakePopup
	exporter    *fakeExporter
	provider    *settings.Provider
}

func newFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	store := newFakeStore()
	popup := newFakePopup()
	exporter := &fakeExporter{}
	provider := settings.NewProvider(testSettings())
	player := newTestPlayer()
	bank := sound.NewBank(provider, player, zap.NewNop())

	c := NewCoordinator(store, bank, player, nil, provider, popup, exporter, zap.NewNop())
	t.Cleanup(c.timer.Stop)

	return &coordinatorFixture{
		coordinator: c,
		store:       store,
		popup:       popup,
		exporter:    exporter,
		provider:    provider,
	}
}

func insertEvent(orderID string) feed.Event {
	return feed.Event{
		Kind: feed.KindInsert,
		Order: db.Order{
			ID:           orderID,
			OrderNumber:  "BL-" + orderID,
			CustomerName: "Maja",
			TotalAmount:  34.50,
			Status:       db.OrderStatusPending,
			CreatedAt:    time.Now(),
		},
	}
}

func updateEvent(orderID, oldStatus, newStatus string) feed.Event {
	return feed.Event{
		Kind: feed.KindUpdate,
		Order: db.Order{
			ID:          orderID,
			OrderNumber: "BL-" + orderID,
			Status:      newStatus,
			CreatedAt:   time.Now(),
		},
		OldStatus: oldStatus,
	}
}

func waitForPopup(t *testing.T, popup *fakePopup) {
	t.Helper()
	select {
	case <-popup.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("popup was not delivered")
	}
}

func TestCoordinator_RaisesAlertOnNewOrder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))

	session := fx.coordinator.Session()
	if session.State != SessionRinging {
		t.Fatalf("expected ringing session, got %s", session.State)
	}
	if session.Category != db.CategoryOrderCreated {
		t.Errorf("expected order_created category, got %s", session.Category)
	}
	if session.Priority != 5 {
		t.Errorf("new orders alert at top priority, got %d", session.Priority)
	}
	if !fx.coordinator.timer.Running() {
		t.Error("alert timer should be running")
	}
	if fx.store.count() != 1 {
		t.Errorf("expected 1 persisted record, got %d", fx.store.count())
	}

	waitForPopup(t, fx.popup)

	// export publishes from its own goroutine; wait for it before asserting.
	deadline := time.Now().Add(2 * time.Second)
	for len(fx.exporter.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	events := fx.exporter.all()
	if len(events) == 0 || events[0] != EventAlertRaised {
		t.Errorf("expected %s export, got %v", EventAlertRaised, events)
	}
}

func TestCoordinator_ReplayedEventIsIgnored(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))
	first := fx.coordinator.Session()

	// The same order arrives again, e.g. replayed by reconciliation.
	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))

	if fx.store.count() != 1 {
		t.Errorf("replay must not create a second record, got %d", fx.store.count())
	}
	second := fx.coordinator.Session()
	if second.RecordID == nil || first.RecordID == nil || *second.RecordID != *first.RecordID {
		t.Error("replay must not change the driving record")
	}

	waitForPopup(t, fx.popup)
	if fx.popup.count() != 1 {
		t.Errorf("replay must not re-popup, got %d popups", fx.popup.count())
	}
}

func TestCoordinator_EqualPriorityDoesNotPreempt(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))
	first := fx.coordinator.Session()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o2"))

	session := fx.coordinator.Session()
	if *session.RecordID != *first.RecordID {
		t.Error("equal priority must not preempt the running session")
	}
	if fx.store.count() != 2 {
		t.Errorf("the second order still gets a record, got %d", fx.store.count())
	}
}

func TestCoordinator_HigherPriorityPreempts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// A paid order rings at priority 3.
	fx.coordinator.OnOrderEvent(ctx, updateEvent("o1", db.OrderStatusPending, db.OrderStatusPaid))
	low := fx.coordinator.Session()
	if low.Priority != 3 {
		t.Fatalf("expected priority 3 session, got %d", low.Priority)
	}

	// A new order at priority 5 takes over.
	fx.coordinator.OnOrderEvent(ctx, insertEvent("o2"))

	session := fx.coordinator.Session()
	if session.Priority != 5 {
		t.Errorf("expected preemption to priority 5, got %d", session.Priority)
	}
	if *session.RecordID == *low.RecordID {
		t.Error("driving record should have changed on preemption")
	}
	if session.State != SessionRinging {
		t.Errorf("expected ringing after preemption, got %s", session.State)
	}
}

func TestCoordinator_AcknowledgeStopsRinging(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))
	id := *fx.coordinator.Session().RecordID

	rec, err := fx.coordinator.Acknowledge(ctx, id)
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if !rec.Acknowledged {
		t.Error("record should be acknowledged")
	}

	session := fx.coordinator.Session()
	if session.State != SessionIdle {
		t.Errorf("expected idle after acknowledge, got %s", session.State)
	}
	if fx.coordinator.timer.Running() {
		t.Error("timer should stop on acknowledge")
	}

	// Double-acknowledge is a no-op.
	if _, err := fx.coordinator.Acknowledge(ctx, id); err != nil {
		t.Errorf("double acknowledge should be a no-op, got %v", err)
	}
}

func TestCoordinator_AcknowledgeUnknownRecord(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.coordinator.Acknowledge(context.Background(), uuid.New())
	if !errors.Is(err, db.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestCoordinator_AcknowledgePersistFailureKeepsRinging(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))
	id := *fx.coordinator.Session().RecordID

	fx.store.setAckErr(errStoreDown)

	_, err := fx.coordinator.Acknowledge(ctx, id)
	if err == nil {
		t.Fatal("expected error when acknowledgement cannot be persisted")
	}

	session := fx.coordinator.Session()
	if session.State != SessionRinging {
		t.Errorf("session must keep ringing until the write lands, got %s", session.State)
	}
	if !fx.coordinator.timer.Running() {
		t.Error("timer must keep running until the write lands")
	}

	// The write path recovers and the retry succeeds.
	fx.store.setAckErr(nil)
	if _, err := fx.coordinator.Acknowledge(ctx, id); err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
	if fx.coordinator.Session().State != SessionIdle {
		t.Error("expected idle after successful retry")
	}
}

func TestCoordinator_SnoozeAndRearm(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.coordinator.Snooze(time.Minute); !errors.Is(err, ErrNoActiveAlert) {
		t.Errorf("snooze with nothing ringing should fail, got %v", err)
	}

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))

	if err := fx.coordinator.Snooze(30 * time.Millisecond); err != nil {
		t.Fatalf("snooze failed: %v", err)
	}

	session := fx.coordinator.Session()
	if session.State != SessionSnoozed {
		t.Fatalf("expected snoozed session, got %s", session.State)
	}
	if session.SnoozedUntil == nil {
		t.Error("snoozed session should carry its deadline")
	}
	if fx.coordinator.timer.Running() {
		t.Error("timer should stop while snoozed")
	}

	// The record is still unacknowledged, so the session re-arms.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fx.coordinator.Session().State == SessionRinging {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if fx.coordinator.Session().State != SessionRinging {
		t.Fatal("snoozed session should re-arm when the record stays unacknowledged")
	}
	if !fx.coordinator.timer.Running() {
		t.Error("timer should resume on re-arm")
	}
}

func TestCoordinator_SnoozeAcknowledgedGoesIdle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))
	id := *fx.coordinator.Session().RecordID

	if err := fx.coordinator.Snooze(30 * time.Millisecond); err != nil {
		t.Fatalf("snooze failed: %v", err)
	}

	// Acknowledge out-of-band while snoozed; acknowledging the driving record
	// clears the session immediately.
	if _, err := fx.coordinator.Acknowledge(ctx, id); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	if fx.coordinator.Session().State != SessionIdle {
		t.Errorf("expected idle, got %s", fx.coordinator.Session().State)
	}

	// The elapsed snooze must not resurrect the session.
	time.Sleep(60 * time.Millisecond)
	if fx.coordinator.Session().State != SessionIdle {
		t.Error("elapsed snooze resurrected an acknowledged session")
	}
}

func TestCoordinator_MuteSuppressesSoundKeepsSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))
	fx.coordinator.Mute()

	session := fx.coordinator.Session()
	if session.State != SessionRinging {
		t.Errorf("mute keeps the visual session, got %s", session.State)
	}
	if !session.Muted {
		t.Error("session should report muted")
	}
	if fx.coordinator.timer.Running() {
		t.Error("timer should stop while muted")
	}

	// Records keep being created while muted, silently.
	fx.coordinator.OnOrderEvent(ctx, insertEvent("o2"))
	if fx.store.count() != 2 {
		t.Errorf("muted coordinator must still persist records, got %d", fx.store.count())
	}
	if fx.coordinator.timer.Running() {
		t.Error("timer must stay stopped while muted")
	}

	// Unmute does not retroactively ring.
	fx.coordinator.Unmute()
	if fx.coordinator.timer.Running() {
		t.Error("unmute must not retroactively start ringing")
	}
	if fx.coordinator.Session().Muted {
		t.Error("session should no longer report muted")
	}
}

func TestCoordinator_DisabledCategoryCreatesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	s := testSettings()
	cs := s.Categories[db.CategoryOrderUpdated]
	cs.Enabled = false
	s.Categories[db.CategoryOrderUpdated] = cs
	fx.provider.Replace(s)

	fx.coordinator.OnOrderEvent(ctx, updateEvent("o1", db.OrderStatusPending, db.OrderStatusPaymentPending))

	if fx.store.count() != 0 {
		t.Errorf("disabled category must not create records, got %d", fx.store.count())
	}
	if fx.coordinator.Session().State != SessionIdle {
		t.Error("disabled category must not raise a session")
	}
}

func TestCoordinator_CreateFailureDoesNotRing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.store.setCreateErr(errStoreDown)
	fx.coordinator.OnOrderEvent(ctx, insertEvent("o1"))

	if fx.coordinator.Session().State != SessionIdle {
		t.Error("an unpersisted alert must not ring")
	}
	if fx.popup.count() != 0 {
		t.Error("an unpersisted alert must not popup")
	}
}

func TestCategoryForEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    feed.Event
		category db.Category
		ok       bool
	}{
		{
			name:     "insert pending raises order_created",
			event:    insertEvent("o1"),
			category: db.CategoryOrderCreated,
			ok:       true,
		},
		{
			name: "insert terminal status is silent",
			event: feed.Event{
				Kind:  feed.KindInsert,
				Order: db.Order{ID: "o1", Status: db.OrderStatusCancelled},
			},
			ok: false,
		},
		{
			name:  "update without status change is silent",
			event: updateEvent("o1", db.OrderStatusPaid, db.OrderStatusPaid),
			ok:    false,
		},
		{
			name:     "payment_pending to paid is payment_completed",
			event:    updateEvent("o1", db.OrderStatusPaymentPending, db.OrderStatusPaid),
			category: db.CategoryPaymentCompleted,
			ok:       true,
		},
		{
			name:     "pending to paid is order_paid",
			event:    updateEvent("o1", db.OrderStatusPending, db.OrderStatusPaid),
			category: db.CategoryOrderPaid,
			ok:       true,
		},
		{
			name:     "payment_pending to cancelled is payment_failed",
			event:    updateEvent("o1", db.OrderStatusPaymentPending, db.OrderStatusCancelled),
			category: db.CategoryPaymentFailed,
			ok:       true,
		},
		{
			name:     "pending to cancelled is order_cancelled",
			event:    updateEvent("o1", db.OrderStatusPending, db.OrderStatusCancelled),
			category: db.CategoryOrderCancelled,
			ok:       true,
		},
		{
			name:     "other transition is order_updated",
			event:    updateEvent("o1", db.OrderStatusPending, db.OrderStatusPaymentPending),
			category: db.CategoryOrderUpdated,
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, ok := categoryForEvent(tt.event)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && category != tt.category {
				t.Errorf("expected %s, got %s", tt.category, category)
			}
		})
	}
}
