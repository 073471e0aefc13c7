// Package settings holds the notification settings document: global alerting
// switches plus per-category tuning. The document is stored as JSONB and
// validated on load; unknown or missing categories resolve to defaults rather
// than being dropped.
package settings

import (
	"time"

	"github.com/bloomline/backoffice/internal/db"
)

// CategorySettings tunes alerting for one notification category.
type CategorySettings struct {
	Enabled      bool   `json:"enabled"`
	SoundEnabled bool   `json:"sound_enabled"`
	Priority     int    `json:"priority"`
	Persistent   bool   `json:"persistent"`
	Sound        string `json:"sound,omitempty"` // named sound override, empty = tier default
}

// Settings is the full notification settings document.
type Settings struct {
	SoundEnabled     bool `json:"sound_enabled"`
	VibrationEnabled bool `json:"vibration_enabled"`
	PopupEnabled     bool `json:"popup_enabled"`

	RingDurationMS int `json:"ring_duration_ms"`
	RingIntervalMS int `json:"ring_interval_ms"`
	// MaxRings bounds the pulse count for priorities below the top tier.
	// Top-priority sessions ring until acknowledged.
	MaxRings int `json:"max_rings"`

	Categories map[db.Category]CategorySettings `json:"categories"`
}

// Defaults returns the settings used when no document has been saved yet.
func Defaults() *Settings {
	return &Settings{
		SoundEnabled:     true,
		VibrationEnabled: true,
		PopupEnabled:     true,
		RingDurationMS:   400,
		RingIntervalMS:   900,
		MaxRings:         30,
		Categories: map[db.Category]CategorySettings{
			db.CategoryOrderCreated:     {Enabled: true, SoundEnabled: true, Priority: 5, Persistent: true},
			db.CategoryPaymentFailed:    {Enabled: true, SoundEnabled: true, Priority: 4, Persistent: true},
			db.CategoryPaymentCompleted: {Enabled: true, SoundEnabled: true, Priority: 3},
			db.CategoryOrderPaid:        {Enabled: true, SoundEnabled: true, Priority: 3},
			db.CategoryOrderCancelled:   {Enabled: true, SoundEnabled: true, Priority: 2},
			db.CategoryOrderUpdated:     {Enabled: true, SoundEnabled: false, Priority: 1},
		},
	}
}

// Normalize clamps out-of-range values and fills in missing categories so the
// rest of the pipeline never sees a partial document. Entries for unknown
// categories are left in place but ignored by Category().
func (s *Settings) Normalize() {
	def := Defaults()

	if s.RingDurationMS <= 0 {
		s.RingDurationMS = def.RingDurationMS
	}
	if s.RingIntervalMS <= 0 {
		s.RingIntervalMS = def.RingIntervalMS
	}
	if s.MaxRings <= 0 {
		s.MaxRings = def.MaxRings
	}

	if s.Categories == nil {
		s.Categories = make(map[db.Category]CategorySettings, len(def.Categories))
	}
	for _, cat := range db.Categories() {
		cs, ok := s.Categories[cat]
		if !ok {
			s.Categories[cat] = def.Categories[cat]
			continue
		}
		if cs.Priority < db.PriorityMin {
			cs.Priority = def.Categories[cat].Priority
		}
		if cs.Priority > db.PriorityMax {
			cs.Priority = db.PriorityMax
		}
		s.Categories[cat] = cs
	}
}

// Category resolves the settings for one category. Unknown categories fall
// back to a generic enabled entry at the lowest priority.
func (s *Settings) Category(cat db.Category) CategorySettings {
	if cs, ok := s.Categories[cat]; ok && cat.Valid() {
		return cs
	}
	return CategorySettings{Enabled: true, SoundEnabled: true, Priority: db.PriorityMin}
}

// RingDuration is the length of one pulse tone.
func (s *Settings) RingDuration() time.Duration {
	return time.Duration(s.RingDurationMS) * time.Millisecond
}

// RingInterval is the gap between pulse starts.
func (s *Settings) RingInterval() time.Duration {
	return time.Duration(s.RingIntervalMS) * time.Millisecond
}

// MaxRingsFor returns the pulse bound for a priority; 0 means unbounded.
func (s *Settings) MaxRingsFor(priority int) int {
	if priority >= db.PriorityMax {
		return 0
	}
	return s.MaxRings
}
