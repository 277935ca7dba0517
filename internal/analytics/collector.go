// Package analytics records what users search for: searchers publish search
// events to Kafka in batches, and the analytics service aggregates them into
// query statistics.
package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Collector buffers search events and publishes them in batches, when a batch
// fills up or every flush interval. Track never blocks; events are dropped
// when the buffer is full.
type Collector struct {
	publisher     Publisher
	events        chan SearchEvent
	batchSize     int
	flushInterval time.Duration
	dropped       atomic.Int64
	logger        *slog.Logger
	done          chan struct{}
}

func NewCollector(p Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     p,
		events:        make(chan SearchEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start runs the publish loop until ctx is cancelled; buffered events are
// flushed before Close returns.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Message, 0, c.batchSize)
		for {
			select {
			case ev := <-c.events:
				batch = append(batch, message(ev))
				if len(batch) >= c.batchSize {
					batch = c.flush(ctx, batch)
				}
			case <-ticker.C:
				batch = c.flush(ctx, batch)
			case <-ctx.Done():
				c.drain(batch)
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.events),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

func (c *Collector) Track(ev SearchEvent) {
	select {
	case c.events <- ev:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			c.logger.Warn("analytics buffer full, dropping events", "dropped_total", c.dropped.Load())
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Close waits for the publish loop to exit. Cancel the Start context first.
func (c *Collector) Close() {
	<-c.done
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return batch
	}
	if err := c.publisher.Publish(ctx, batch...); err != nil {
		c.logger.Error("publishing search events failed", "events", len(batch), "error", err)
	}
	return batch[:0]
}

func (c *Collector) drain(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-c.events:
			batch = append(batch, message(ev))
			if len(batch) >= c.batchSize {
				batch = c.flush(ctx, batch)
			}
		default:
			c.flush(ctx, batch)
			return
		}
	}
}

func message(ev SearchEvent) kafka.Message {
	return kafka.Message{Key: ev.Normalized, Value: ev}
}
