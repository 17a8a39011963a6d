package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"imcore/frame"
	"imcore/logging"
	"imcore/workerpool"
)

type fakeAcker struct {
	mu    sync.Mutex
	acked []uint32
	fail  bool
}

func (a *fakeAcker) Ack(sequence uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, sequence)
	if a.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func (a *fakeAcker) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked)
}

func newTestDispatcher(t *testing.T, acker Acker) *Dispatcher {
	t.Helper()
	pool := workerpool.New(2, 8)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	logger := logging.New(logging.Config{Level: logging.LevelError, Format: logging.FormatJSON})
	return New(pool, acker, logger)
}

func TestDispatchChatMessageAcksExactlyOnce(t *testing.T) {
	acker := &fakeAcker{}
	d := newTestDispatcher(t, acker)

	d.Dispatch(Inbound{Command: frame.CmdPushMsg, Sequence: 7})

	if acker.count() != 1 {
		t.Fatalf("ack count = %d, want 1", acker.count())
	}
}

func TestDispatchNonChatCommandDoesNotAck(t *testing.T) {
	acker := &fakeAcker{}
	d := newTestDispatcher(t, acker)

	d.Dispatch(Inbound{Command: frame.CmdHeartbeatRsp, Sequence: 1})

	if acker.count() != 0 {
		t.Fatalf("ack count = %d, want 0", acker.count())
	}
}

func TestDispatchFansOutToAllListeners(t *testing.T) {
	acker := &fakeAcker{}
	d := newTestDispatcher(t, acker)

	var mu sync.Mutex
	var got []uint32
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		d.On(frame.CmdPushMsg, func(in Inbound) {
			mu.Lock()
			got = append(got, in.Sequence)
			mu.Unlock()
			done <- struct{}{}
		})
	}

	d.Dispatch(Inbound{Command: frame.CmdPushMsg, Sequence: 99})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all listeners fired")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 99 || got[1] != 99 {
		t.Fatalf("got = %v, want two deliveries of sequence 99", got)
	}
}

// TestDispatchAcksOnlyAfterListenerReturns is the direct regression
// test for spec §9's ordering requirement: the ack must never be
// observable before the listener that persists the message has
// finished running.
func TestDispatchAcksOnlyAfterListenerReturns(t *testing.T) {
	acker := &fakeAcker{}
	d := newTestDispatcher(t, acker)

	release := make(chan struct{})
	entered := make(chan struct{})
	d.On(frame.CmdPushMsg, func(in Inbound) {
		close(entered)
		<-release
	})

	d.Dispatch(Inbound{Command: frame.CmdPushMsg, Sequence: 1})

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("listener never started")
	}
	if acker.count() != 0 {
		t.Fatalf("ack count = %d, want 0 while the listener is still running", acker.count())
	}

	close(release)

	deadline := time.After(time.Second)
	for acker.count() != 1 {
		select {
		case <-deadline:
			t.Fatalf("ack count = %d, want 1 after the listener returned", acker.count())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestOffRemovesListener(t *testing.T) {
	acker := &fakeAcker{}
	d := newTestDispatcher(t, acker)

	called := make(chan struct{}, 1)
	h := d.On(frame.CmdPushMsg, func(in Inbound) { called <- struct{}{} })
	d.Off(h)

	d.Dispatch(Inbound{Command: frame.CmdPushMsg, Sequence: 1})

	select {
	case <-called:
		t.Fatal("removed listener was still invoked")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestDispatchRecoversListenerPanic guards spec §9's ack-vs-panic bug
// note: a panicking listener must not prevent its sibling from running
// or the ack (still emitted once every listener has returned) from
// going out, and must not crash the worker pool.
func TestDispatchRecoversListenerPanic(t *testing.T) {
	acker := &fakeAcker{}
	d := newTestDispatcher(t, acker)

	recovered := make(chan struct{}, 1)
	d.On(frame.CmdPushMsg, func(in Inbound) { panic("boom") })
	d.On(frame.CmdPushMsg, func(in Inbound) { recovered <- struct{}{} })

	d.Dispatch(Inbound{Command: frame.CmdPushMsg, Sequence: 1})

	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("sibling listener never ran after panic in another listener")
	}

	deadline := time.After(time.Second)
	for acker.count() != 1 {
		select {
		case <-deadline:
			t.Fatalf("ack count = %d, want 1 even though a listener panicked", acker.count())
		case <-time.After(time.Millisecond):
		}
	}
}
