package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sigmap/internal/engine"
)

const (
	streamWriteWait  = 10 * time.Second
	streamSendBuffer = 16
)

// Only local UI pages connect; the listener binds loopback.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream fans full view rebuilds out to every connected UI page. It is the
// push half of the view synchronizer; Rebuild makes it an engine view.
type Stream struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan engine.ViewUpdate
}

func NewStream(log zerolog.Logger) *Stream {
	return &Stream{
		log:     log,
		clients: make(map[*streamClient]struct{}),
	}
}

// Rebuild broadcasts the update to every client. A client whose send buffer
// is full is dropped rather than allowed to stall the synchronizer.
func (s *Stream) Rebuild(u engine.ViewUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- u:
		default:
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// Handle upgrades the connection and attaches it as a stream client. The
// read side only watches for close; clients never send.
func (s *Stream) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &streamClient{
		conn: conn,
		send: make(chan engine.ViewUpdate, streamSendBuffer),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go c.writePump()
	c.readPump(s)
}

func (s *Stream) detach(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

func (c *streamClient) readPump(s *Stream) {
	defer func() {
		s.detach(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writePump() {
	defer c.conn.Close()
	for u := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := c.conn.WriteJSON(u); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
