package unifiedllm

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestLoggingMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)

	ok := newMockAdapter("kimi", "hi")
	client := NewClient(WithProvider("kimi", ok), WithDefaultProvider("kimi"), WithMiddleware(LoggingMiddleware(log)))
	if _, err := client.Complete(context.Background(), Request{Model: "kimi-k2.5", Messages: []Message{UserMessage("x")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.DebugLevel || entry.Message != "model round" {
		t.Fatalf("unexpected log entry %+v", entry)
	}
	if entry.Data["provider"] != "kimi" || entry.Data["input_tokens"] != 10 || entry.Data["output_tokens"] != 20 {
		t.Errorf("unexpected fields %v", entry.Data)
	}

	hook.Reset()
	failing := &mockAdapter{name: "kimi", err: errors.New("boom")}
	client = NewClient(WithProvider("kimi", failing), WithDefaultProvider("kimi"), WithMiddleware(LoggingMiddleware(log)))
	if _, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("x")}}); err == nil {
		t.Fatal("expected error")
	}
	entry = hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel || entry.Message != "model round failed" {
		t.Fatalf("unexpected log entry %+v", entry)
	}
}
