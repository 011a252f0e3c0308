package natsq

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestStreamConfigDefaults(t *testing.T) {
	cfg := streamConfig(StreamConfig{
		Name:     "IMAGE_EVENTS",
		Subjects: []string{"image.processed"},
	})

	if cfg.Name != "IMAGE_EVENTS" || len(cfg.Subjects) != 1 {
		t.Errorf("unexpected stream identity %+v", cfg)
	}
	if cfg.Storage != nats.FileStorage {
		t.Errorf("expected file storage, got %v", cfg.Storage)
	}
	if cfg.Replicas != 1 {
		t.Errorf("expected single replica, got %d", cfg.Replicas)
	}
	if cfg.MaxAge != defaultMaxAge {
		t.Errorf("expected default max age, got %v", cfg.MaxAge)
	}
}

func TestStreamConfigKeepsExplicitMaxAge(t *testing.T) {
	cfg := streamConfig(StreamConfig{
		Name:   "IMAGE_EVENTS",
		MaxAge: time.Hour,
	})

	if cfg.MaxAge != time.Hour {
		t.Errorf("expected 1h max age, got %v", cfg.MaxAge)
	}
}
