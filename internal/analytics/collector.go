package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrhatman/booksearch/pkg/kafka"
)

// Sink receives batches of tracked events. *kafka.Producer is the production
// sink; LocalSink feeds an in-process Aggregator when Kafka is disabled.
type Sink interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// LocalSink records events straight into an Aggregator.
type LocalSink struct {
	Aggregator *Aggregator
}

func (s LocalSink) PublishBatch(_ context.Context, events []kafka.Event) error {
	for _, e := range events {
		if ev, ok := e.Value.(SearchEvent); ok {
			s.Aggregator.Record(ev)
		}
	}
	return nil
}

// Collector buffers events so that Track never blocks a search request.
// Events are flushed to the sink when batchSize accumulate or every
// flushInterval; a full buffer drops the event.
type Collector struct {
	sink          Sink
	eventCh       chan SearchEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(sink Sink, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Collector{
		sink:          sink,
		eventCh:       make(chan SearchEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start runs the flush loop until ctx is cancelled or Close is called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			if err := c.sink.PublishBatch(ctx, batch); err != nil {
				c.logger.Error("failed to publish analytics batch", "events", len(batch), "error", err)
			}
			batch = make([]kafka.Event, 0, c.batchSize)
		}

		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					flush(context.Background())
					return
				}
				batch = append(batch, toKafka(event))
				if len(batch) >= c.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
			drain:
				for {
					select {
					case event, ok := <-c.eventCh:
						if !ok {
							break drain
						}
						batch = append(batch, toKafka(event))
					default:
						break drain
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(shutdownCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track queues an event. Events tracked after Close are dropped.
func (c *Collector) Track(event SearchEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.logger.Debug("analytics event dropped (collector closed)")
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close flushes buffered events and waits for the loop to exit. Calling it
// more than once is safe.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

func toKafka(event SearchEvent) kafka.Event {
	return kafka.Event{Key: event.Query, Type: string(event.Type), Value: event}
}
