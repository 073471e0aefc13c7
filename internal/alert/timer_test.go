package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/platform"
	"github.com/bloomline/backoffice/internal/settings"
	"github.com/bloomline/backoffice/internal/sound"
)

// testPlayer counts plays without occupying real time.
type testPlayer struct {
	mu      sync.Mutex
	plays   int
	playErr error
	stopped int
}

func newTestPlayer() *testPlayer {
	return &testPlayer{}
}

func (p *testPlayer) Play(ctx context.Context, tone platform.Tone) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.plays++
	return nil
}

func (p *testPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *testPlayer) Suspended() bool { return false }

func (p *testPlayer) Resume(ctx context.Context) error { return nil }

func (p *testPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

func newTestTimer(s *settings.Settings, onPulse func(int)) (*Timer, *testPlayer, *settings.Provider) {
	provider := settings.NewProvider(s)
	player := newTestPlayer()
	bank := sound.NewBank(provider, player, zap.NewNop())
	timer := NewTimer(bank, player, nil, provider, onPulse, zap.NewNop())
	return timer, player, provider
}

func TestTimer_PulsesUntilStopped(t *testing.T) {
	var mu sync.Mutex
	counts := []int{}
	timer, player, _ := newTestTimer(testSettings(), func(count int) {
		mu.Lock()
		counts = append(counts, count)
		mu.Unlock()
	})

	timer.Start(db.CategoryOrderCreated, 5)
	defer timer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && player.count() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if player.count() < 3 {
		t.Fatalf("expected at least 3 pulses, got %d", player.count())
	}

	timer.Stop()
	if timer.Running() {
		t.Error("timer should report stopped")
	}

	settled := player.count()
	time.Sleep(60 * time.Millisecond)
	if player.count() != settled {
		t.Errorf("pulses continued after stop: %d -> %d", settled, player.count())
	}

	mu.Lock()
	defer mu.Unlock()
	for i, c := range counts {
		if c != i+1 {
			t.Fatalf("pulse counts should be sequential, got %v", counts)
		}
	}
}

func TestTimer_BoundedBelowTopPriority(t *testing.T) {
	s := testSettings()
	s.MaxRings = 2
	timer, player, _ := newTestTimer(s, nil)

	// Priority 3 honors the MaxRings bound.
	timer.Start(db.CategoryOrderPaid, 3)
	defer timer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && timer.Running() {
		time.Sleep(5 * time.Millisecond)
	}
	if timer.Running() {
		t.Fatal("bounded timer should stop itself at the pulse bound")
	}
	if player.count() != 2 {
		t.Errorf("expected exactly 2 pulses, got %d", player.count())
	}
}

func TestTimer_TopPriorityUnbounded(t *testing.T) {
	s := testSettings()
	s.MaxRings = 2
	timer, player, _ := newTestTimer(s, nil)

	timer.Start(db.CategoryOrderCreated, 5)
	defer timer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && player.count() <= s.MaxRings+1 {
		time.Sleep(5 * time.Millisecond)
	}
	if player.count() <= s.MaxRings {
		t.Errorf("top priority must ring past MaxRings, got %d pulses", player.count())
	}
	if !timer.Running() {
		t.Error("top priority timer must keep running until stopped")
	}
}

func TestTimer_StartIdempotent(t *testing.T) {
	timer, _, _ := newTestTimer(testSettings(), nil)
	timer.Start(db.CategoryOrderCreated, 5)
	defer timer.Stop()

	// A second Start on a running timer changes nothing.
	timer.Start(db.CategoryOrderPaid, 3)
	if !timer.Running() {
		t.Fatal("timer should be running")
	}

	timer.Stop()
	timer.Stop() // double stop is a no-op
	if timer.Running() {
		t.Error("timer should be stopped")
	}
}

func TestTimer_PlayFailureContinuesCycle(t *testing.T) {
	timer, player, _ := newTestTimer(testSettings(), nil)
	player.mu.Lock()
	player.playErr = platform.ErrResourceBusy
	player.mu.Unlock()

	var mu sync.Mutex
	pulses := 0
	timer.onPulse = func(int) {
		mu.Lock()
		pulses++
		mu.Unlock()
	}

	timer.Start(db.CategoryOrderCreated, 5)
	defer timer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := pulses
		mu.Unlock()
		if n >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cycle should continue past play failures")
}

func TestTimer_SoundDisabledStillPulses(t *testing.T) {
	s := testSettings()
	s.SoundEnabled = false
	timer, player, _ := newTestTimer(s, nil)

	var mu sync.Mutex
	pulses := 0
	timer.onPulse = func(int) {
		mu.Lock()
		pulses++
		mu.Unlock()
	}

	timer.Start(db.CategoryOrderCreated, 5)
	defer timer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := pulses
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if player.count() != 0 {
		t.Errorf("global sound off must not play tones, got %d plays", player.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if pulses < 2 {
		t.Error("pulse cycle should continue with sound off")
	}
}
