package hub

import (
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestRegisterUnregister(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := h.NewConnection(nil)
	h.Register(conn)
	waitFor(t, func() bool { return h.ConnectionCount() == 1 })

	if conn.Closed() {
		t.Error("registered connection must not be closed")
	}

	h.Unregister(conn)
	waitFor(t, func() bool { return h.ConnectionCount() == 0 })
	waitFor(t, func() bool { return conn.Closed() })
}

func TestOnCloseCallback(t *testing.T) {
	h := NewHub()
	closed := make(chan *Connection, 1)
	h.OnClose(func(c *Connection) { closed <- c })
	go h.Run()

	conn := h.NewConnection(nil)
	h.Register(conn)
	waitFor(t, func() bool { return h.ConnectionCount() == 1 })
	h.Unregister(conn)

	select {
	case c := <-closed:
		if c != conn {
			t.Error("callback received wrong connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose callback not invoked")
	}
}

func TestBindSessionAndBroadcast(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := h.NewConnection(nil)
	h.Register(conn)
	waitFor(t, func() bool { return h.ConnectionCount() == 1 })

	h.BindSession(conn, "user_9")
	if h.SessionCount() != 1 {
		t.Fatalf("expected one session, got %d", h.SessionCount())
	}

	if err := h.BroadcastJSON("user_9", map[string]string{"action": "message"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	select {
	case data := <-conn.Send:
		if len(data) == 0 {
			t.Error("expected broadcast payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

// A connection that stops draining its buffer gets closed instead of
// wedging the broadcast loop.
func TestBroadcastBufferFullClosesConnection(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := h.NewConnection(nil)
	h.Register(conn)
	waitFor(t, func() bool { return h.ConnectionCount() == 1 })
	h.BindSession(conn, "user_9")

	for i := 0; i < cap(conn.Send); i++ {
		if err := conn.SendJSON(map[string]int{"n": i}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	h.Broadcast("user_9", []byte(`{"action":"message"}`))
	waitFor(t, func() bool { return conn.Closed() })
	waitFor(t, func() bool { return h.ConnectionCount() == 0 })
}

func TestSendJSONAfterClose(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := h.NewConnection(nil)
	h.Register(conn)
	waitFor(t, func() bool { return h.ConnectionCount() == 1 })

	h.Unregister(conn)
	waitFor(t, func() bool { return conn.Closed() })

	if err := conn.SendJSON(map[string]string{"action": "message"}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

// A relay dispatch racing an unregister must get ErrConnectionClosed, not
// a send on the closed channel.
func TestSendJSONDuringUnregister(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := NewHub()
		go h.Run()

		conn := h.NewConnection(nil)
		h.Register(conn)
		waitFor(t, func() bool { return h.ConnectionCount() == 1 })

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.New("send panicked")
				}
			}()
			for {
				if err := conn.SendJSON(map[string]string{"action": "toolCall"}); err == ErrConnectionClosed {
					done <- nil
					return
				}
				// Drain so the buffer never fills while the race runs.
				select {
				case <-conn.Send:
				default:
				}
			}
		}()

		h.Unregister(conn)

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("iteration %d: sender panicked", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: sender never observed the close", i)
		}
	}
}

func TestSendJSONBufferFull(t *testing.T) {
	h := NewHub()
	conn := h.NewConnection(nil)

	for i := 0; i < cap(conn.Send); i++ {
		if err := conn.SendJSON(map[string]int{"n": i}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if err := conn.SendJSON(map[string]string{"overflow": "yes"}); err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}
