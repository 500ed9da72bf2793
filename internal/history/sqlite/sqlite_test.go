package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/measures/internal/history"
)

func testEvent(t history.EventType, errText string) history.Event {
	return history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Path:     "/data/measures",
			Version:  "WSRT_Measures_20240301-160001.ztar",
			Previous: "WSRT_Measures_20240201-160001.ztar",
			Error:    errText,
			Host:     "test-host",
			PID:      12345,
		},
	}
}

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	for _, e := range []history.Event{
		testEvent(history.EventInstalled, ""),
		testEvent(history.EventSkipped, ""),
		testEvent(history.EventFailed, "remote unavailable"),
		testEvent(history.EventInstalled, ""),
	} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	n, err := sink.Count(ctx, "/data/measures", history.EventInstalled)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 installed events, got %d", n)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, testEvent(history.EventFailed, "boom")); err != nil {
		t.Fatalf("send: %v", err)
	}
	n, err := sink.Count(ctx, "/data/measures", history.EventFailed)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 failed event, got %d (%v)", n, err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_CanceledContext(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.Send(ctx, testEvent(history.EventChecked, ""))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
