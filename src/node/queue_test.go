package node

import (
	"testing"
	"time"

	"github.com/fieldmesh/fieldmesh/src/clock"
	"github.com/fieldmesh/fieldmesh/src/mesh"
)

func queuedMsg(mtype mesh.Type, payload string) *mesh.Message {
	return mesh.NewMessage(1, 0, mtype, []byte(payload), 1, clock.VectorClock{1: 1}, 3)
}

func TestOfflineQueuePriority(t *testing.T) {
	q := NewOfflineQueue(time.Second, time.Minute, time.Hour)
	now := time.Now()

	q.Push(queuedMsg(mesh.Chat, "chat"), now)
	q.Push(queuedMsg(mesh.Status, "status"), now)
	q.Push(queuedMsg(mesh.Alert, "alert"), now)
	q.Push(queuedMsg(mesh.Command, "command"), now)

	due, expired := q.Due(now)
	if len(expired) != 0 {
		t.Fatalf("nothing should have expired, got %d", len(expired))
	}
	if len(due) != 4 {
		t.Fatalf("expected 4 due messages, got %d", len(due))
	}

	want := []mesh.Type{mesh.Alert, mesh.Command, mesh.Status, mesh.Chat}
	for i, p := range due {
		if p.Message.Type != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, p.Message.Type, want[i])
		}
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be drained, %d left", q.Len())
	}
}

func TestOfflineQueueBackoff(t *testing.T) {
	q := NewOfflineQueue(time.Second, 4*time.Second, time.Hour)
	now := time.Now()

	q.Push(queuedMsg(mesh.Chat, "retry me"), now)

	due, _ := q.Due(now)
	if len(due) != 1 {
		t.Fatalf("expected 1 due message, got %d", len(due))
	}
	p := due[0]

	// first failure: 1s delay
	q.Requeue(p, now)
	if due, _ := q.Due(now.Add(500 * time.Millisecond)); len(due) != 0 {
		t.Fatal("message should still be backing off")
	}
	if due, _ := q.Due(now.Add(1100 * time.Millisecond)); len(due) != 1 {
		t.Fatal("message should be due after the base delay")
	}

	// repeated failures double the delay up to the cap
	for i := 0; i < 10; i++ {
		q.Requeue(p, now)
		due, _ = q.Due(now.Add(5 * time.Second))
		if len(due) != 1 {
			t.Fatalf("attempt %d: delay exceeded the cap", i)
		}
	}
	if p.Attempts != 11 {
		t.Fatalf("expected 11 attempts, got %d", p.Attempts)
	}
}

func TestOfflineQueueExpiry(t *testing.T) {
	q := NewOfflineQueue(time.Second, time.Minute, time.Minute)
	now := time.Now()

	q.Push(queuedMsg(mesh.Chat, "stale"), now)
	q.Push(queuedMsg(mesh.Alert, "fresh"), now.Add(2*time.Minute))

	due, expired := q.Due(now.Add(2 * time.Minute))

	if len(expired) != 1 || string(expired[0].Payload) != "stale" {
		t.Fatalf("expected the stale message to expire, got %v", expired)
	}
	if len(due) != 1 || string(due[0].Message.Payload) != "fresh" {
		t.Fatalf("expected the fresh message to be due, got %v", due)
	}
}
