package logbuffer

import (
	"testing"
	"time"
)

func TestBufferWrapsAtCapacity(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Add(LogEntry{Message: string(rune('a' + i)), Level: "info"})
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].Message != "c" || all[2].Message != "e" {
		t.Fatalf("expected oldest surviving entries c..e, got %q..%q", all[0].Message, all[2].Message)
	}
}

func TestQueryFiltersByKitchen(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Message: "placed roast", Component: "allocator", Level: "info",
		Fields: map[string]interface{}{"kitchen_id": "k1"}})
	b.Add(LogEntry{Message: "placed pie", Component: "allocator", Level: "info",
		Fields: map[string]interface{}{"kitchen_id": "k2"}})
	b.Add(LogEntry{Message: "shift rejected", Component: "resolver", Level: "warn",
		Fields: map[string]interface{}{"kitchen_id": "k1"}})

	got := b.Query(QueryParams{KitchenID: "k1"})
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}

	got = b.Query(QueryParams{KitchenID: "k1", Level: "warn"})
	if len(got) != 1 || got[0].Component != "resolver" {
		t.Fatalf("expected single resolver warn entry, got %+v", got)
	}
}

func TestQuerySearchIsCaseInsensitive(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Message: "Turkey placed on rack 1", Level: "info"})

	if got := b.Query(QueryParams{Search: "turkey"}); len(got) != 1 {
		t.Fatalf("expected case-insensitive match, got %d entries", len(got))
	}
}

func TestWriterParsesZerologJSON(t *testing.T) {
	b := New(10)
	w := NewWriter(b, nil)

	line := []byte(`{"level":"info","component":"backsolve","kitchen_id":"k1","time":"2026-08-25T10:00:00Z","message":"solved"}`)
	if _, err := w.Write(line); err != nil {
		t.Fatalf("Write: %v", err)
	}

	all := b.GetAll()
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}
	entry := all[0]
	if entry.Level != "info" || entry.Component != "backsolve" || entry.Message != "solved" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	want, _ := time.Parse(time.RFC3339, "2026-08-25T10:00:00Z")
	if !entry.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", entry.Timestamp, want)
	}
	if entry.Fields["kitchen_id"] != "k1" {
		t.Fatalf("expected kitchen_id field to survive, got %+v", entry.Fields)
	}
}
