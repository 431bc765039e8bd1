// Package events announces published index snapshots over Kafka and reloads
// search services when an announcement arrives.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mrhatman/booksearch/internal/catalog"
	"github.com/mrhatman/booksearch/internal/store"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
	"github.com/mrhatman/booksearch/pkg/kafka"
)

const TypeIndexPublished = "index.published"

// IndexPublished is the payload of an index.published message.
type IndexPublished struct {
	Fingerprint string    `json:"fingerprint"`
	Version     string    `json:"version"`
	Documents   int       `json:"docs"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	producer EventPublisher
	logger   *slog.Logger
}

func NewPublisher(producer EventPublisher) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   slog.Default().With("component", "index-publisher"),
	}
}

// Published announces a snapshot that has been saved to the store.
func (p *Publisher) Published(ctx context.Context, info store.SnapshotInfo) error {
	ev := IndexPublished{
		Fingerprint: info.Fingerprint,
		Version:     info.Version,
		Documents:   info.Documents,
		Source:      info.Source,
		PublishedAt: time.Now().UTC(),
	}
	if err := p.producer.Publish(ctx, kafka.Event{Key: ev.Fingerprint, Type: TypeIndexPublished, Value: ev}); err != nil {
		return err
	}
	p.logger.Info("index published", "fingerprint", ev.Fingerprint, "documents", ev.Documents)
	return nil
}

// Reloader is satisfied by *catalog.Catalog.
type Reloader interface {
	Current() (*catalog.Entry, error)
	LoadSnapshot(ctx context.Context, fingerprint string) (*catalog.Entry, error)
}

// HandleIndexPublished returns a consumer handler that loads the announced
// snapshot. Undecodable messages and snapshots that are missing or invalid
// are logged and acknowledged, since redelivery cannot fix them; other
// errors leave the message uncommitted.
func HandleIndexPublished(r Reloader) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-subscriber")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[IndexPublished](value)
		if err != nil || ev.Fingerprint == "" {
			logger.Error("ignoring malformed index.published message", "key", string(key), "error", err)
			return nil
		}
		if cur, err := r.Current(); err == nil && cur.Fingerprint == ev.Fingerprint {
			logger.Debug("announced index already live", "fingerprint", ev.Fingerprint)
			return nil
		}
		_, err = r.LoadSnapshot(ctx, ev.Fingerprint)
		switch {
		case err == nil:
			logger.Info("reloaded announced index", "fingerprint", ev.Fingerprint, "documents", ev.Documents)
			return nil
		case errors.Is(err, apperrors.ErrSnapshotNotFound), errors.Is(err, apperrors.ErrInvalidIndex):
			logger.Error("cannot load announced index", "fingerprint", ev.Fingerprint, "error", err)
			return nil
		default:
			return err
		}
	}
}
