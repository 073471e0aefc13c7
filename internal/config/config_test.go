package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DBHost != "localhost" || cfg.DBPort != 5432 {
		t.Errorf("unexpected db defaults: %s:%d", cfg.DBHost, cfg.DBPort)
	}
	if cfg.FeedChannel != "order_events" {
		t.Errorf("expected order_events feed channel, got %s", cfg.FeedChannel)
	}
	if cfg.SQSRegion != cfg.AWSRegion {
		t.Errorf("sqs region should default to the aws region, got %s", cfg.SQSRegion)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("FEED_CHANNEL", "order_feed")
	t.Setenv("POPUP_PHONE", "+4915112345678")
	t.Setenv("SQS_REGION", "eu-west-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != 9191 {
		t.Errorf("PORT override ignored: %d", cfg.Port)
	}
	if cfg.DBHost != "db.internal" {
		t.Errorf("DB_HOST override ignored: %s", cfg.DBHost)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("REDIS_DB override ignored: %d", cfg.RedisDB)
	}
	if cfg.FeedChannel != "order_feed" {
		t.Errorf("FEED_CHANNEL override ignored: %s", cfg.FeedChannel)
	}
	if cfg.PopupPhone != "+4915112345678" {
		t.Errorf("POPUP_PHONE override ignored: %s", cfg.PopupPhone)
	}
	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("SQS_REGION override ignored: %s", cfg.SQSRegion)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-port"},
		{"bad db port", "DB_PORT", "abc"},
		{"bad redis db", "REDIS_DB", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
