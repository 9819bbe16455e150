package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewDefaultsPrefix(t *testing.T) {
	t.Parallel()

	q := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "  ")
	defer q.Close()

	if got := q.dueKey(); got != "budgetbell:due" {
		t.Fatalf("dueKey() = %q, want %q", got, "budgetbell:due")
	}
	if got := q.reminderKey("abc"); got != "budgetbell:reminder:abc" {
		t.Fatalf("reminderKey() = %q, want %q", got, "budgetbell:reminder:abc")
	}
}

func TestDecodeScheduled(t *testing.T) {
	t.Parallel()

	raw := `{"handle":"h-1","itemId":"pay","kind":"income","slot":"canonical","title":"Payday","body":"","channel":"payday-reminders","triggerAt":"2024-03-15T09:00:00Z","occurrenceDate":"2024-03-15T00:00:00Z"}`
	sc, err := decodeScheduled(raw)
	if err != nil {
		t.Fatalf("decodeScheduled() unexpected error: %v", err)
	}
	if sc.Handle != "h-1" || sc.ItemID != "pay" || sc.Channel != "payday-reminders" {
		t.Fatalf("decodeScheduled() = %+v, want h-1 for pay", sc)
	}
	if want := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC); !sc.TriggerAt.Equal(want) {
		t.Fatalf("TriggerAt = %s, want %s", sc.TriggerAt, want)
	}

	if _, err := decodeScheduled(`{"itemId":"pay"}`); err == nil {
		t.Fatal("decodeScheduled() without handle error = nil, want non-nil")
	}
	if _, err := decodeScheduled(`not json`); err == nil {
		t.Fatal("decodeScheduled() invalid json error = nil, want non-nil")
	}
}

func TestDialRequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := Dial(context.Background(), " ", ""); err == nil {
		t.Fatal("Dial() error = nil, want non-nil")
	}
}

func TestDecodePayloadsSkipsCorruptEntries(t *testing.T) {
	t.Parallel()

	good := `{"handle":"h-1","itemId":"pay","kind":"income","slot":"canonical","triggerAt":"2024-03-15T09:00:00Z","occurrenceDate":"2024-03-15T00:00:00Z"}`
	handles := []string{"h-1", "h-2", "h-3", "h-4"}
	values := []any{good, "not json", nil, `{"itemId":"rent"}`}

	out, corrupt := decodePayloads(handles, values)
	if len(out) != 1 || out[0].Handle != "h-1" {
		t.Fatalf("decodePayloads() = %+v, want only h-1", out)
	}
	if len(corrupt) != 2 || corrupt[0] != "h-2" || corrupt[1] != "h-4" {
		t.Fatalf("decodePayloads() corrupt = %v, want [h-2 h-4]", corrupt)
	}
}
