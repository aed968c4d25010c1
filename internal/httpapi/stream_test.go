package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sigmap/internal/engine"
)

func TestStreamBroadcastsViewUpdates(t *testing.T) {
	s := NewStream(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(s.Handle))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the client before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Rebuild(engine.ViewUpdate{Status: "Nearby: 1 device(s)"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got engine.ViewUpdate
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Status != "Nearby: 1 device(s)" {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestStreamDropsDisconnectedClient(t *testing.T) {
	s := NewStream(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(s.Handle))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("closed client never detached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Broadcasting to nobody must not panic or block.
	s.Rebuild(engine.ViewUpdate{Status: "Cleared"})
}
