package natsq

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	defaultMaxReconnects = 5
	defaultMaxAge        = 24 * time.Hour
)

type Config struct {
	Name          string
	MaxReconnects int
}

// StreamConfig names a stream and its subjects. Retention details are
// filled in by the library so every stream this service creates looks
// the same.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

func NewConnect(url string, cfg Config) (*nats.Conn, error) {
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}

	nc, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return nc, nil
}

// NewJetStream ensures the stream exists. An already-existing stream is
// fine: creation races with other instances of the service.
func NewJetStream(nc *nats.Conn, cfg StreamConfig) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(streamConfig(cfg))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	return js, nil
}

func streamConfig(cfg StreamConfig) *nats.StreamConfig {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}

	return &nats.StreamConfig{
		Name:     cfg.Name,
		Subjects: cfg.Subjects,
		Storage:  nats.FileStorage,
		Replicas: 1,
		MaxAge:   cfg.MaxAge,
	}
}
