// Package platform defines the alerting capabilities of the host environment
// as small interfaces: tone playback, vibration, popup notification, and
// permission state. Concrete implementations are injected at startup, which
// keeps the alert pipeline testable with fakes.
package platform

import (
	"context"
	"errors"
)

// ErrResourceBusy is returned when the audio output cannot take another tone
// right now. A busy pulse is skipped, never fatal.
var ErrResourceBusy = errors.New("audio output busy")

// Tone is a playable descriptor. Synthesized tones are fully parameterized so
// the fallback tier needs no external assets.
type Tone struct {
	Name        string  `json:"name"`
	FrequencyHz float64 `json:"frequency_hz"`
	DurationMS  int     `json:"duration_ms"`
	AttackMS    int     `json:"attack_ms"`
	ReleaseMS   int     `json:"release_ms"`
	Volume      float64 `json:"volume"` // 0.0 - 1.0
}

// TonePlayer plays tones on the audio output. Implementations must tolerate
// Stop with nothing playing.
type TonePlayer interface {
	// Play emits one tone. It may return ErrResourceBusy when the output is
	// occupied; callers skip the pulse and carry on.
	Play(ctx context.Context, tone Tone) error
	// Stop cuts the currently playing tone, if any.
	Stop()
	// Suspended reports whether the output needs explicit resumption
	// (the audio-context-suspended condition on browser-like hosts).
	Suspended() bool
	// Resume warms the output back up after suspension.
	Resume(ctx context.Context) error
}

// Vibrator triggers a device vibration pattern.
type Vibrator interface {
	Vibrate(ctx context.Context, patternMS []int) error
}

// PermissionState mirrors an OS notification permission query.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionUnknown PermissionState = "unknown"
)

// Permissions exposes the popup-notification permission.
type Permissions interface {
	Query(ctx context.Context) PermissionState
	Request(ctx context.Context) (PermissionState, error)
}
