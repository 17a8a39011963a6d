package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"imcore/clock"
)

type fakeSender struct {
	mu    sync.Mutex
	sends []string
	fail  bool
}

func (s *fakeSender) Send(ctx context.Context, command uint16, sequence uint32, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, string(body))
	if s.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func newTestQueue(t *testing.T, sender Sender, onTerminal func(Entry)) (*Queue, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	q := New(Config{AckTimeout: 5 * time.Second, AckMaxAttempts: 3}, fake, sender, onTerminal)
	return q, fake
}

func TestEnqueueSendsImmediately(t *testing.T) {
	sender := &fakeSender{}
	q, _ := newTestQueue(t, sender, nil)

	if err := q.Enqueue(context.Background(), "m1", 1, 1, []byte("hi")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("sends = %d, want 1", sender.count())
	}
	if q.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", q.Depth())
	}
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	sender := &fakeSender{}
	q, _ := newTestQueue(t, sender, nil)

	q.Enqueue(context.Background(), "m1", 1, 1, []byte("hi"))
	err := q.Enqueue(context.Background(), "m1", 1, 1, []byte("hi again"))
	if err == nil {
		t.Fatal("expected duplicate enqueue to be rejected")
	}
}

func TestAckRemovesEntryAndFiresTerminal(t *testing.T) {
	sender := &fakeSender{}
	var terminal Entry
	var mu sync.Mutex
	q, _ := newTestQueue(t, sender, func(e Entry) {
		mu.Lock()
		terminal = e
		mu.Unlock()
	})

	q.Enqueue(context.Background(), "m1", 1, 1, []byte("hi"))
	q.Ack("m1")

	if q.Depth() != 0 {
		t.Fatalf("Depth() after Ack = %d, want 0", q.Depth())
	}
	mu.Lock()
	defer mu.Unlock()
	if terminal.ID != "m1" || terminal.State != StateSent {
		t.Fatalf("terminal = %+v, want ID=m1 State=Sent", terminal)
	}
}

func TestAckUnknownIDIsNoop(t *testing.T) {
	sender := &fakeSender{}
	q, _ := newTestQueue(t, sender, nil)
	q.Ack("does-not-exist") // must not panic
}

func TestAckTimeoutRetriesThenFails(t *testing.T) {
	sender := &fakeSender{}
	var terminal Entry
	done := make(chan struct{})
	q, fake := newTestQueue(t, sender, func(e Entry) {
		terminal = e
		close(done)
	})

	q.Enqueue(context.Background(), "m1", 1, 1, []byte("hi"))
	// AckMaxAttempts = 3: the initial send counts as attempt 1, so two
	// more timeouts are needed to reach the failure ceiling. Each
	// Advance's retry is processed on the queue's own timer-watcher
	// goroutine, so give it a moment to re-arm before advancing again.
	for i := 0; i < 3; i++ {
		fake.Advance(5 * time.Second)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("entry never reached a terminal state")
	}

	if sender.count() != 3 {
		t.Fatalf("sends = %d, want 3 (1 initial + 2 retries)", sender.count())
	}
	if terminal.State != StateFailed {
		t.Fatalf("terminal state = %v, want Failed", terminal.State)
	}
}

// TestFlushOnReconnectResendsInEnqueueOrder guards spec §5(b)/P6: a
// reconnect flush must replay pending entries in original enqueue
// order, not Go's randomized map iteration order.
func TestFlushOnReconnectResendsInEnqueueOrder(t *testing.T) {
	sender := &fakeSender{}
	q, _ := newTestQueue(t, sender, nil)

	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, id := range ids {
		if err := q.Enqueue(context.Background(), id, 1, 1, []byte(id)); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	q.FlushOnReconnect(context.Background())

	sender.mu.Lock()
	resent := append([]string(nil), sender.sends[len(ids):]...)
	sender.mu.Unlock()

	if len(resent) != len(ids) {
		t.Fatalf("resent = %v, want %d entries", resent, len(ids))
	}
	for i, id := range ids {
		if resent[i] != id {
			t.Fatalf("resend order = %v, want %v", resent, ids)
		}
	}
}

func TestFlushOnReconnectDoesNotIncrementAttempts(t *testing.T) {
	sender := &fakeSender{}
	q, _ := newTestQueue(t, sender, nil)

	q.Enqueue(context.Background(), "m1", 1, 1, []byte("hi"))
	before := q.Pending()[0].Attempts

	q.FlushOnReconnect(context.Background())

	after := q.Pending()[0].Attempts
	if after != before {
		t.Fatalf("Attempts changed across FlushOnReconnect: before=%d after=%d", before, after)
	}
	if sender.count() != 2 {
		t.Fatalf("sends = %d, want 2 (original + reconnect flush)", sender.count())
	}
}
