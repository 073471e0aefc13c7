package settings

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/redis"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("bad miniredis port: %v", err)
	}

	client, err := redis.New(context.Background(), redis.Config{
		Host: mr.Host(),
		Port: port,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func TestWatcher_ReloadsOnChangeSignal(t *testing.T) {
	client := setupTestRedis(t)

	reloaded := Defaults()
	reloaded.MaxRings = 99

	var loads int
	var mu sync.Mutex
	load := func(ctx context.Context) (*Settings, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		return reloaded, nil
	}

	watcher := NewWatcher(client, load, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan *Settings, 1)
	go watcher.Run(ctx, func(s *Settings) { applied <- s })

	// Give the subscription a moment to establish before publishing.
	time.Sleep(50 * time.Millisecond)
	if err := client.Publish(ctx, ChangedChannel, "notifications"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-applied:
		if got.MaxRings != 99 {
			t.Errorf("expected freshly loaded settings, got MaxRings=%d", got.MaxRings)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not apply the reloaded settings")
	}

	mu.Lock()
	defer mu.Unlock()
	if loads != 1 {
		t.Errorf("expected exactly one reload, got %d", loads)
	}
}

func TestWatcher_LoadFailureKeepsPrevious(t *testing.T) {
	client := setupTestRedis(t)

	load := func(ctx context.Context) (*Settings, error) {
		return nil, context.DeadlineExceeded
	}

	watcher := NewWatcher(client, load, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan *Settings, 1)
	go watcher.Run(ctx, func(s *Settings) { applied <- s })

	time.Sleep(50 * time.Millisecond)
	if err := client.Publish(ctx, ChangedChannel, "notifications"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-applied:
		t.Fatal("apply must not run when the reload fails")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestProvider_SwapsSnapshots(t *testing.T) {
	p := NewProvider(nil)
	if p.Current() == nil {
		t.Fatal("nil seed should fall back to defaults")
	}

	next := Defaults()
	next.MaxRings = 12
	p.Replace(next)
	if p.Current().MaxRings != 12 {
		t.Errorf("replace did not take: %d", p.Current().MaxRings)
	}

	// A nil replacement is ignored rather than clearing the snapshot.
	p.Replace(nil)
	if p.Current() == nil || p.Current().MaxRings != 12 {
		t.Error("nil replace should keep the previous snapshot")
	}
}
