package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestEventMessage(t *testing.T) {
	msg, err := Event{Key: "fp", Type: "index.published", Value: map[string]int{"documents": 2}}.message()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "fp" || string(msg.Value) != `{"documents":2}` {
		t.Errorf("msg = %s %s", msg.Key, msg.Value)
	}
	if got := HeaderValue(msg.Headers, TypeHeader); got != "index.published" {
		t.Errorf("type header = %q", got)
	}

	msg, err = Event{Key: "k", Value: "v"}.message()
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Headers) != 0 {
		t.Errorf("untyped event carries headers: %v", msg.Headers)
	}

	if _, err := (Event{Value: make(chan int)}).message(); err == nil {
		t.Error("expected marshal error")
	}
}

func TestHeaderValue(t *testing.T) {
	headers := []kafka.Header{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}}
	if HeaderValue(headers, "b") != "2" || HeaderValue(headers, "c") != "" {
		t.Error("HeaderValue")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Fingerprint string `json:"fingerprint"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"fingerprint":"abc"}`))
	if err != nil || got.Fingerprint != "abc" {
		t.Fatalf("got %+v, %v", got, err)
	}
	if _, err := DecodeJSON[payload]([]byte(`not json`)); err == nil {
		t.Error("expected error")
	}
}
