package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mrhatman/booksearch/internal/catalog"
	"github.com/mrhatman/booksearch/internal/store"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
	"github.com/mrhatman/booksearch/pkg/kafka"
)

type fakeProducer struct {
	events []kafka.Event
}

func (f *fakeProducer) Publish(_ context.Context, e kafka.Event) error {
	f.events = append(f.events, e)
	return nil
}

type fakeReloader struct {
	current *catalog.Entry
	loaded  []string
	err     error
}

func (f *fakeReloader) Current() (*catalog.Entry, error) {
	if f.current == nil {
		return nil, apperrors.ErrIndexNotLoaded
	}
	return f.current, nil
}

func (f *fakeReloader) LoadSnapshot(_ context.Context, fp string) (*catalog.Entry, error) {
	f.loaded = append(f.loaded, fp)
	if f.err != nil {
		return nil, f.err
	}
	f.current = &catalog.Entry{Fingerprint: fp}
	return f.current, nil
}

func TestPublished(t *testing.T) {
	prod := &fakeProducer{}
	err := NewPublisher(prod).Published(context.Background(), store.SnapshotInfo{
		Fingerprint: "abc", Version: "0.9.5", Documents: 2, Source: "book",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(prod.events) != 1 {
		t.Fatalf("events = %d", len(prod.events))
	}
	e := prod.events[0]
	ev, ok := e.Value.(IndexPublished)
	if e.Key != "abc" || e.Type != TypeIndexPublished || !ok || ev.Documents != 2 || ev.PublishedAt.IsZero() {
		t.Errorf("event = %+v", e)
	}
}

func TestHandleIndexPublished(t *testing.T) {
	msg := func(fp string) []byte {
		b, _ := json.Marshal(IndexPublished{Fingerprint: fp})
		return b
	}
	ctx := context.Background()

	r := &fakeReloader{}
	h := HandleIndexPublished(r)
	if err := h(ctx, nil, msg("one")); err != nil {
		t.Fatal(err)
	}
	if err := h(ctx, nil, msg("one")); err != nil {
		t.Fatal(err)
	}
	if len(r.loaded) != 1 {
		t.Errorf("live index reloaded again: %v", r.loaded)
	}
	if err := h(ctx, nil, []byte("nope")); err != nil {
		t.Errorf("malformed message: %v", err)
	}

	r = &fakeReloader{err: apperrors.New(apperrors.ErrSnapshotNotFound, 404, "gone")}
	if err := HandleIndexPublished(r)(ctx, nil, msg("two")); err != nil {
		t.Errorf("missing snapshot should be acknowledged: %v", err)
	}

	transient := errors.New("connection reset")
	r = &fakeReloader{err: transient}
	if err := HandleIndexPublished(r)(ctx, nil, msg("three")); !errors.Is(err, transient) {
		t.Errorf("transient error = %v", err)
	}
}
