package chat

import (
	"testing"
	"time"
)

func TestNewID_UUIDShape(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewID()
		if len(id) != 36 {
			t.Fatalf("id %q: len %d, want 36", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewMessageID_SortsByTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier, err := NewMessageID(base)
	if err != nil {
		t.Fatalf("earlier: %v", err)
	}
	later, err := NewMessageID(base.Add(time.Second))
	if err != nil {
		t.Fatalf("later: %v", err)
	}

	if len(earlier) != 26 || len(later) != 26 {
		t.Fatalf("ulid lengths %d, %d, want 26", len(earlier), len(later))
	}
	// Lexicographic order must follow creation time; message paging depends on it.
	if !(earlier < later) {
		t.Fatalf("ids out of order: %q then %q", earlier, later)
	}
}

func TestNewMessageID_ZeroTimeUsesNow(t *testing.T) {
	t.Parallel()

	id, err := NewMessageID(time.Time{})
	if err != nil {
		t.Fatalf("zero time: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("id %q: len %d, want 26", id, len(id))
	}
}
