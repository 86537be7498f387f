package eventloop

import (
	"context"
	"testing"
	"time"
)

func TestLoopRunsPostedFunctionsInOrder(t *testing.T) {
	l := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	got := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		l.Post(func() { got <- i })
	}
	for want := 1; want <= 3; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("got %d, want %d", v, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for posted function")
		}
	}
}

func TestLoopSurvivesPanickingCallback(t *testing.T) {
	l := New(8)
	go l.Run(context.Background())
	defer l.Stop()

	done := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after a panic")
	}
}

func TestLoopTimerStop(t *testing.T) {
	l := New(8)
	go l.Run(context.Background())
	defer l.Stop()

	fired := make(chan struct{}, 1)
	tm := l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	if !tm.Stop() {
		t.Fatal("Stop on a pending timer should report true")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}

	l.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(1)
	l.Stop()
	if l.Post(func() {}) {
		t.Fatal("Post after Stop should report false")
	}
}

func TestManualFiresInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []string
	m.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	m.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "a")
		m.AfterFunc(5*time.Millisecond, func() { order = append(order, "b") })
	})
	stopped := m.AfterFunc(20*time.Millisecond, func() { order = append(order, "x") })
	stopped.Stop()

	m.Advance(25 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order after 25ms = %v", order)
	}
	if m.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", m.Pending())
	}
	m.Advance(10 * time.Millisecond)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("order after 35ms = %v", order)
	}
	if got := m.Now(); !got.Equal(time.Unix(0, 0).Add(35 * time.Millisecond)) {
		t.Fatalf("Now = %v", got)
	}
}
