package syncengine

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func TestStaticConnectivity_NotifiesOnTransitionsOnly(t *testing.T) {
	c := NewStaticConnectivity(false)
	var got []bool
	unsubscribe := c.Subscribe(func(online bool) { got = append(got, online) })

	c.Set(false)
	c.Set(true)
	c.Set(true)
	c.Set(false)
	unsubscribe()
	c.Set(true)

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("unexpected notifications %v", got)
	}
	if !c.Online() {
		t.Fatalf("state must still update after unsubscribe")
	}
}

func TestProbeMonitor_TracksReachability(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	m := NewProbeMonitor(ln.Addr().String(), 20*time.Millisecond)
	var mu sync.Mutex
	var transitions []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})
	m.Start(context.Background())
	defer m.Stop()

	if !m.Online() {
		t.Fatalf("expected online right after Start")
	}

	_ = ln.Close()
	eventually(t, "probe to notice the closed listener", func() bool { return !m.Online() })

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) < 2 || transitions[0] != true || transitions[len(transitions)-1] != false {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestTracker_CloseWaitsForInFlightWork(t *testing.T) {
	tr := newTracker()
	if !tr.enter() {
		t.Fatalf("open tracker must accept work")
	}

	closed := make(chan struct{})
	go func() {
		tr.closeAndWait()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatalf("closeAndWait returned with work in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if tr.enter() {
		t.Fatalf("closed tracker must refuse new work")
	}
	tr.leave()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("closeAndWait did not return after leave")
	}

	tr.reopen()
	if !tr.enter() {
		t.Fatalf("reopened tracker must accept work")
	}
	tr.leave()
}
