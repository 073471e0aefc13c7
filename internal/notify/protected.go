package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/circuitbreaker"
	"github.com/bloomline/backoffice/internal/db"
)

// ProtectedNotifier wraps a Notifier with a circuit breaker so a dead popup
// surface fails fast instead of stalling every raised alert on its timeout.
type ProtectedNotifier struct {
	notifier Notifier
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedNotifier wraps a notifier with circuit breaker protection.
func NewProtectedNotifier(notifier Notifier, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedNotifier {
	return &ProtectedNotifier{
		notifier: notifier,
		breaker:  breaker,
		logger:   logger,
	}
}

// Notify delivers through the breaker. While the circuit is open the popup is
// dropped with an error; alert records and ringing are unaffected.
func (p *ProtectedNotifier) Notify(ctx context.Context, rec *db.NotificationRecord) error {
	if !p.breaker.Allow() {
		p.logger.Warn("popup surface circuit open, dropping popup",
			zap.String("channel", p.notifier.Channel()),
			zap.String("record_id", rec.ID.String()),
		)
		return fmt.Errorf("%s: %w", p.notifier.Channel(), circuitbreaker.ErrCircuitOpen)
	}

	if err := p.notifier.Notify(ctx, rec); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Channel identifies the wrapped notifier.
func (p *ProtectedNotifier) Channel() string { return p.notifier.Channel() }

// BreakerStats exposes the breaker state for the diagnostics panel.
func (p *ProtectedNotifier) BreakerStats() circuitbreaker.Stats {
	return p.breaker.Stats()
}
