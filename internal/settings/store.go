package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/redis"
)

const (
	settingsKey = "notifications"

	// ChangedChannel is the pub/sub channel carrying settings-changed signals.
	ChangedChannel = "settings:changed"
)

// Store persists the settings document in Postgres and signals changes over
// Redis pub/sub so every process observes the same values without polling.
type Store struct {
	db     *db.DB
	rdb    *redis.Client // nil disables change signalling
	logger *zap.Logger
}

// NewStore creates a settings store. rdb may be nil when Redis is not
// configured; Save then skips the change signal.
func NewStore(database *db.DB, rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		db:     database,
		rdb:    rdb,
		logger: logger,
	}
}

// Load reads the settings document. A missing document is not an error: the
// documented defaults are returned so alerting works out of the box.
func (s *Store) Load(ctx context.Context) (*Settings, error) {
	var doc []byte
	err := s.db.Pool().QueryRow(ctx,
		`SELECT doc FROM settings WHERE key = $1`, settingsKey,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Info("no settings document, using defaults")
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings document: %w", err)
	}

	var loaded Settings
	if err := json.Unmarshal(doc, &loaded); err != nil {
		return nil, fmt.Errorf("decode settings document: %w", err)
	}
	loaded.Normalize()

	return &loaded, nil
}

// Save upserts the settings document and publishes a changed signal.
func (s *Store) Save(ctx context.Context, settings *Settings) error {
	settings.Normalize()

	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings document: %w", err)
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO settings (key, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, settingsKey, doc)
	if err != nil {
		return fmt.Errorf("upsert settings document: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, ChangedChannel, settingsKey); err != nil {
			// The write succeeded; a lost signal only delays pickup until
			// the next restart, so log instead of failing the save.
			s.logger.Warn("failed to publish settings change", zap.Error(err))
		}
	}

	s.logger.Info("settings document saved")
	return nil
}

// Provider hands out the current settings snapshot without locking.
type Provider struct {
	current atomic.Pointer[Settings]
}

// NewProvider seeds a provider with an initial snapshot.
func NewProvider(initial *Settings) *Provider {
	p := &Provider{}
	if initial == nil {
		initial = Defaults()
	}
	p.current.Store(initial)
	return p
}

// Current returns the latest settings snapshot.
func (p *Provider) Current() *Settings {
	return p.current.Load()
}

// Replace swaps in a new snapshot.
func (p *Provider) Replace(settings *Settings) {
	if settings != nil {
		p.current.Store(settings)
	}
}

// Watcher reloads settings whenever a changed signal arrives.
type Watcher struct {
	rdb    *redis.Client
	load   func(ctx context.Context) (*Settings, error)
	logger *zap.Logger
}

// NewWatcher creates a watcher over the given Redis client. load is usually
// Store.Load.
func NewWatcher(rdb *redis.Client, load func(ctx context.Context) (*Settings, error), logger *zap.Logger) *Watcher {
	return &Watcher{
		rdb:    rdb,
		load:   load,
		logger: logger,
	}
}

// Run subscribes to the changed channel and invokes apply with each freshly
// loaded document until ctx is cancelled. Reload failures are logged and the
// previous snapshot stays in effect.
func (w *Watcher) Run(ctx context.Context, apply func(*Settings)) {
	sub := w.rdb.Subscribe(ctx, ChangedChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("settings watcher stopping")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			loaded, err := w.load(ctx)
			if err != nil {
				w.logger.Error("failed to reload settings", zap.Error(err))
				continue
			}
			apply(loaded)
			w.logger.Info("settings reloaded",
				zap.String("trigger", msg.Payload),
			)
		}
	}
}
