// Package alert holds the core of the order-alert pipeline: the repeating
// alert timer, the in-memory alert session, and the coordinator that ties the
// change feed, the notification store, and the sound bank together.
package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/metrics"
	"github.com/bloomline/backoffice/internal/platform"
	"github.com/bloomline/backoffice/internal/settings"
	"github.com/bloomline/backoffice/internal/sound"
)

// vibrationPattern is the buzz-pause-buzz emitted with each pulse.
var vibrationPattern = []int{200, 100, 200}

// Timer emits the repeating alert cycle: one pulse immediately on start, then
// one per ring interval until stopped or the priority's pulse bound is hit.
// It knows nothing about orders or the network.
type Timer struct {
	bank     *sound.Bank
	player   platform.TonePlayer
	vibrator platform.Vibrator
	provider *settings.Provider
	logger   *zap.Logger

	// onPulse is invoked after each emitted pulse with the running count.
	onPulse func(count int)

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	category db.Category
	priority int
}

// NewTimer creates an alert timer. onPulse may be nil.
func NewTimer(bank *sound.Bank, player platform.TonePlayer, vibrator platform.Vibrator, provider *settings.Provider, onPulse func(count int), logger *zap.Logger) *Timer {
	return &Timer{
		bank:     bank,
		player:   player,
		vibrator: vibrator,
		provider: provider,
		onPulse:  onPulse,
		logger:   logger,
	}
}

// Start begins the pulse cycle for a category at a priority. Starting an
// already-running timer is a no-op; use Restart to reset cadence.
func (t *Timer) Start(category db.Category, priority int) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.category = category
	t.priority = priority
	stop := t.stopCh
	t.mu.Unlock()

	go t.run(category, priority, stop)
}

// Stop cancels the cycle. A pulse already sounding finishes naturally; no
// further pulses are scheduled. Stopping a stopped timer is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	close(t.stopCh)
	t.stopCh = nil
	t.running = false
}

// Restart resets the cycle at a new category/priority, used on preemption.
func (t *Timer) Restart(category db.Category, priority int) {
	t.Stop()
	t.Start(category, priority)
}

// Running reports whether a cycle is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) run(category db.Category, priority int, stop chan struct{}) {
	maxPulses := t.provider.Current().MaxRingsFor(priority)

	count := 0
	t.pulse(category, priority, &count)

	ticker := time.NewTicker(t.provider.Current().RingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			t.logger.Debug("alert timer stopped", zap.Int("pulses", count))
			return
		case <-ticker.C:
			if maxPulses > 0 && count >= maxPulses {
				t.logger.Info("alert timer reached pulse bound",
					zap.Int("pulses", count),
					zap.Int("priority", priority),
				)
				t.Stop()
				return
			}
			t.pulse(category, priority, &count)
		}
	}
}

// pulse emits one tone + vibration. A pulse that fails to play is logged and
// skipped; the cycle continues.
func (t *Timer) pulse(category db.Category, priority int, count *int) {
	cfg := t.provider.Current()
	tone := t.bank.Resolve(category, priority)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RingInterval()+cfg.RingDuration())
	defer cancel()

	if cfg.SoundEnabled && cfg.Category(category).SoundEnabled {
		if err := t.player.Play(ctx, tone); err != nil {
			metrics.RecordPulseFailure()
			t.logger.Warn("pulse failed to play, continuing",
				zap.String("tone", tone.Name),
				zap.Error(err),
			)
		}
	}

	if cfg.VibrationEnabled && t.vibrator != nil {
		if err := t.vibrator.Vibrate(ctx, vibrationPattern); err != nil {
			t.logger.Debug("vibration unavailable", zap.Error(err))
		}
	}

	*count++
	metrics.RecordPulse()
	if t.onPulse != nil {
		t.onPulse(*count)
	}
}
