// Package sound maps notification categories and priorities to playable
// tones. Resolution order: per-category override from settings, then the
// priority-tier default, then the global fallback tone. All tones are
// synthesized descriptors, so nothing here depends on bundled assets.
package sound

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/platform"
	"github.com/bloomline/backoffice/internal/settings"
)

// fallback is the self-contained tone used when nothing else resolves.
var fallback = platform.Tone{
	Name:        "fallback",
	FrequencyHz: 880,
	DurationMS:  350,
	AttackMS:    10,
	ReleaseMS:   60,
	Volume:      0.8,
}

// tierTones are the five priority-tier defaults, index 1..5. Higher tiers are
// higher pitched and louder so an operator can rank an alert by ear.
var tierTones = [db.PriorityMax + 1]platform.Tone{
	1: {Name: "tier-1", FrequencyHz: 440, DurationMS: 250, AttackMS: 20, ReleaseMS: 80, Volume: 0.4},
	2: {Name: "tier-2", FrequencyHz: 523, DurationMS: 300, AttackMS: 15, ReleaseMS: 70, Volume: 0.5},
	3: {Name: "tier-3", FrequencyHz: 659, DurationMS: 350, AttackMS: 10, ReleaseMS: 60, Volume: 0.65},
	4: {Name: "tier-4", FrequencyHz: 784, DurationMS: 400, AttackMS: 8, ReleaseMS: 50, Volume: 0.8},
	5: {Name: "tier-5", FrequencyHz: 988, DurationMS: 450, AttackMS: 5, ReleaseMS: 40, Volume: 1.0},
}

// named are the tones a per-category settings override can select.
var named = map[string]platform.Tone{
	"chime":   {Name: "chime", FrequencyHz: 1047, DurationMS: 300, AttackMS: 5, ReleaseMS: 120, Volume: 0.7},
	"bell":    {Name: "bell", FrequencyHz: 1319, DurationMS: 500, AttackMS: 3, ReleaseMS: 200, Volume: 0.9},
	"buzz":    {Name: "buzz", FrequencyHz: 220, DurationMS: 400, AttackMS: 30, ReleaseMS: 30, Volume: 0.8},
	"soft":    {Name: "soft", FrequencyHz: 392, DurationMS: 250, AttackMS: 40, ReleaseMS: 100, Volume: 0.35},
	"urgent":  {Name: "urgent", FrequencyHz: 1175, DurationMS: 450, AttackMS: 2, ReleaseMS: 20, Volume: 1.0},
	"classic": fallback,
}

// Bank resolves tones against the current settings snapshot and owns
// configuration-preview playback.
type Bank struct {
	provider *settings.Provider
	player   platform.TonePlayer
	logger   *zap.Logger
}

// NewBank creates a sound bank over the given player.
func NewBank(provider *settings.Provider, player platform.TonePlayer, logger *zap.Logger) *Bank {
	return &Bank{
		provider: provider,
		player:   player,
		logger:   logger,
	}
}

// Resolve picks the tone for a category at a priority.
func (b *Bank) Resolve(category db.Category, priority int) platform.Tone {
	cs := b.provider.Current().Category(category)
	if cs.Sound != "" {
		if tone, ok := named[cs.Sound]; ok {
			return tone
		}
		b.logger.Warn("unknown sound override, using tier default",
			zap.String("category", string(category)),
			zap.String("sound", cs.Sound),
		)
	}
	if priority >= db.PriorityMin && priority <= db.PriorityMax {
		return tierTones[priority]
	}
	return fallback
}

// Test plays the resolved tone for a category once, for configuration
// preview. Any in-flight alert pulse is cooperatively cut first so the
// preview never overlaps a ringing tone.
func (b *Bank) Test(ctx context.Context, category db.Category) error {
	if !category.Valid() {
		return fmt.Errorf("unknown category: %s", category)
	}

	cs := b.provider.Current().Category(category)
	tone := b.Resolve(category, cs.Priority)

	b.player.Stop()
	if err := b.player.Play(ctx, tone); err != nil {
		return fmt.Errorf("preview tone %q: %w", tone.Name, err)
	}

	b.logger.Info("sound preview played",
		zap.String("category", string(category)),
		zap.String("tone", tone.Name),
	)
	return nil
}

// Names lists the selectable named tones for the settings editor.
func Names() []string {
	out := make([]string, 0, len(named))
	for name := range named {
		out = append(out, name)
	}
	return out
}
