package platform

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogPlayer is the default TonePlayer: it serializes playback, simulates tone
// duration, and writes what it would have played to the log. Useful in
// development and as the safe fallback when no real audio sink is wired.
type LogPlayer struct {
	logger *zap.Logger

	mu        sync.Mutex
	playing   bool
	stop      chan struct{}
	suspended bool
}

// NewLogPlayer creates a log-backed tone player.
func NewLogPlayer(logger *zap.Logger) *LogPlayer {
	return &LogPlayer{logger: logger}
}

// Play logs the tone and occupies the output for its duration. A second Play
// while a tone is sounding returns ErrResourceBusy.
func (p *LogPlayer) Play(ctx context.Context, tone Tone) error {
	p.mu.Lock()
	if p.suspended {
		p.mu.Unlock()
		return ErrResourceBusy
	}
	if p.playing {
		p.mu.Unlock()
		return ErrResourceBusy
	}
	p.playing = true
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	p.logger.Debug("playing tone",
		zap.String("tone", tone.Name),
		zap.Float64("frequency_hz", tone.FrequencyHz),
		zap.Int("duration_ms", tone.DurationMS),
	)

	select {
	case <-ctx.Done():
	case <-stop:
	case <-time.After(time.Duration(tone.DurationMS) * time.Millisecond):
	}

	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	return nil
}

// Stop cuts the current tone. Calling it with nothing playing is a no-op.
func (p *LogPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.stop != nil {
		close(p.stop)
		p.stop = nil
		p.playing = false
	}
}

// Suspended reports the simulated suspended flag.
func (p *LogPlayer) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// Resume clears the suspended flag.
func (p *LogPlayer) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = false
	return nil
}

// Suspend marks the output suspended. Exposed for the health monitor tests.
func (p *LogPlayer) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = true
}

// LogVibrator logs vibration patterns instead of driving hardware.
type LogVibrator struct {
	logger *zap.Logger
}

// NewLogVibrator creates a log-backed vibrator.
func NewLogVibrator(logger *zap.Logger) *LogVibrator {
	return &LogVibrator{logger: logger}
}

// Vibrate logs the pattern.
func (v *LogVibrator) Vibrate(ctx context.Context, patternMS []int) error {
	v.logger.Debug("vibration pattern", zap.Ints("pattern_ms", patternMS))
	return nil
}

// StaticPermissions always reports a fixed permission state.
type StaticPermissions struct {
	State PermissionState
}

// Query returns the fixed state.
func (s StaticPermissions) Query(ctx context.Context) PermissionState {
	return s.State
}

// Request returns the fixed state; there is no prompt to show.
func (s StaticPermissions) Request(ctx context.Context) (PermissionState, error) {
	return s.State, nil
}
