package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/nestfluid/cache"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// sendQueue is the number of snapshots buffered per client. A client
	// that falls further behind misses snapshots.
	sendQueue = 4
)

// Server streams snapshots to websocket clients and serves the latest one
// over plain HTTP.
//
// Routes:
//
//	/ws          websocket stream of JSON snapshots
//	/snapshot    latest snapshot as JSON
//	/slice.png   latest snapshot as a PNG slice (?level=&z=&size=)
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	slices *cache.ShardedCache[sliceKey, []byte]

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  *Snapshot
	encoded []byte
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewServer returns a server with no clients. A nil logger discards.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		slices:  newSliceCache(),
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/snapshot", s.serveSnapshot)
	mux.HandleFunc("/slice.png", s.serveSlice)
	return mux
}

// Publish makes snap the latest snapshot and queues it for every client.
func (s *Server) Publish(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("feed: encode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.latest, s.encoded = snap, data
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Debug("feed: client behind, snapshot dropped",
				"remote", c.conn.RemoteAddr().String(), "frame", snap.Frame)
		}
	}
	return nil
}

// Latest returns the last published snapshot or nil.
func (s *Server) Latest() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client. Later connections are refused.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
	s.slices.Clear()
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	if s.encoded != nil {
		c.send <- s.encoded
	}
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed: websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueue)}
	if !s.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.logger.Info("feed: client connected", "remote", conn.RemoteAddr().String())
	go s.writePump(c)
	s.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (s *Server) readPump(c *client) {
	defer s.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("feed: client read failed", "err", err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	data := s.encoded
	s.mu.RUnlock()
	if data == nil {
		http.Error(w, "no snapshot yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) serveSlice(w http.ResponseWriter, r *http.Request) {
	snap := s.Latest()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	level, err := intParam(q.Get("level"), 0)
	if err != nil || level < 0 || level >= len(snap.Levels) {
		http.Error(w, "bad level", http.StatusBadRequest)
		return
	}
	l := &snap.Levels[level]
	z, err := intParam(q.Get("z"), int(l.Resolution[2])/2)
	if err != nil {
		http.Error(w, "bad z", http.StatusBadRequest)
		return
	}
	size, err := intParam(q.Get("size"), 0)
	if err != nil {
		http.Error(w, "bad size", http.StatusBadRequest)
		return
	}
	key := sliceKey{field: snap.Field, frame: snap.Frame, level: level, z: z, size: min(size, 4096)}
	data, err := s.slices.GetOrLoad(key, func() ([]byte, error) {
		img, err := RenderSlice(l, z, SliceOptions{
			Size:    key.size,
			Caption: fmt.Sprintf("%s L%d z=%d frame %d", snap.Field, level, z, snap.Frame),
		})
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := WritePNG(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
