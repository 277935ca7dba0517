// Package reload keeps a running resolver in step with index rebuilds: the
// builder announces a published index on Kafka and every searcher drops the
// affected shards from its registry.
package reload

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

// Event announces a published index. An empty Buckets list means the whole
// index changed.
type Event struct {
	Buckets []string `json:"buckets"`
	Scheme  string   `json:"scheme"`
}

// EventFor describes a full publish of manifest.
func EventFor(m *index.Manifest) Event {
	return Event{Scheme: m.Scheme}
}

// Reloader is implemented by *registry.Registry.
type Reloader interface {
	Reload(bucketIDs ...string)
}

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

type Listener struct {
	reloader Reloader
	scheme   string
	logger   *slog.Logger
}

// NewListener returns a listener for a registry that buckets with scheme.
func NewListener(r Reloader, scheme string) *Listener {
	return &Listener{
		reloader: r,
		scheme:   scheme,
		logger:   slog.Default().With("component", "reload-listener"),
	}
}

// Handle applies one index-published message. A scheme change forces a full
// reload so the manifest is re-read and the mismatch is reported there.
func (l *Listener) Handle(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[Event](value)
	if err != nil {
		return err
	}
	if ev.Scheme != "" && ev.Scheme != l.scheme {
		l.logger.Warn("index published with a different bucketing scheme",
			"published", ev.Scheme,
			"expected", l.scheme,
		)
		l.reloader.Reload()
		return nil
	}
	if len(ev.Buckets) == 0 {
		l.logger.Info("full index published")
		l.reloader.Reload()
		return nil
	}
	l.logger.Info("buckets republished", "buckets", ev.Buckets)
	l.reloader.Reload(ev.Buckets...)
	return nil
}

// Run consumes the index-published topic until ctx is cancelled. Every
// searcher must see every event, so each listener joins its own consumer
// group.
func (l *Listener) Run(ctx context.Context, cfg config.KafkaConfig) error {
	cfg.ConsumerGroup = GroupID(cfg.ConsumerGroup)
	consumer := kafka.NewConsumer(cfg, cfg.Topics.IndexPublished, l.Handle)
	return consumer.Run(ctx)
}

// GroupID derives a per-process consumer group from base.
func GroupID(base string) string {
	return base + "-reload-" + uuid.NewString()
}

// Announce publishes ev for every listening searcher.
func Announce(ctx context.Context, p Publisher, ev Event) error {
	return p.Publish(ctx, kafka.Message{Key: ev.Scheme, Value: ev})
}
