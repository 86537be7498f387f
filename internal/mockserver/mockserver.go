package mockserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/logging"
)

// Options script the behaviour of the mock game server.
type Options struct {
	// Token, when set, must match the ?token= query parameter or the upgrade is refused with 401.
	Token string
	// PingInterval of zero disables pings. MaxPings caps pings per connection, zero for no cap.
	PingInterval        time.Duration
	MaxPings            int
	MaxPongAwaitingTime time.Duration
	// SendConfig sends the heartbeat config frame first thing on every connection.
	SendConfig bool
	// ClockSkew is added to the server clock in time sync echoes.
	ClockSkew time.Duration
	// CloseCodes[i] closes the i-th connection with that code right after the handshake. 0 keeps it open.
	CloseCodes []int
	// OnConnect frames are written to every new connection after the config frame.
	OnConnect [][]byte
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Server is an in-process stand-in for the game server.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	log      *logrus.Entry

	attempts    atomic.Int64
	connections atomic.Int64
	pongs       atomic.Int64

	mu       sync.Mutex
	clients  map[*client]struct{}
	received []gamemodel.Envelope
}

func New(opts Options) *Server {
	return &Server{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:      logging.For("mockserver"),
		clients:  make(map[*client]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.wsHandler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Start starts the mock server on addr (e.g. ":8086").
// It returns the *http.Server so the caller can shut it down when desired.
func (s *Server) Start(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		s.log.WithField("addr", srv.Addr).Info("mockserver listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("mockserver ListenAndServe error")
		}
	}()
	return srv
}

// Attempts counts upgrade requests, including refused ones.
func (s *Server) Attempts() int    { return int(s.attempts.Load()) }
func (s *Server) Connections() int { return int(s.connections.Load()) }
func (s *Server) Pongs() int       { return int(s.pongs.Load()) }

func (s *Server) Received() []gamemodel.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gamemodel.Envelope, len(s.received))
	copy(out, s.received)
	return out
}

// Broadcast sends an envelope to every open connection.
func (s *Server) Broadcast(msgType string, payload any) error {
	msg, err := gamemodel.Encode(msgType, payload, time.Now().UnixMilli()+s.opts.ClockSkew.Milliseconds())
	if err != nil {
		return err
	}
	s.BroadcastRaw(msg)
	return nil
}

func (s *Server) BroadcastRaw(msg []byte) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		if err := c.write(msg); err != nil {
			s.log.WithError(err).Debug("broadcast write failed")
		}
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	index := int(s.attempts.Add(1)) - 1

	if s.opts.Token != "" && r.URL.Query().Get("token") != s.opts.Token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade error")
		return
	}
	defer conn.Close()
	s.connections.Add(1)

	c := &client{conn: conn}

	if s.opts.SendConfig {
		cfg, _ := json.Marshal(gamemodel.ControlMessage{Config: &gamemodel.HeartbeatConfig{
			MaxPongAwaitingTime: s.opts.MaxPongAwaitingTime.Milliseconds(),
			PingInterval:        s.opts.PingInterval.Milliseconds(),
		}})
		_ = c.write(cfg)
	}

	if index < len(s.opts.CloseCodes) && s.opts.CloseCodes[index] != 0 {
		msg := websocket.FormatCloseMessage(s.opts.CloseCodes[index], "scripted close")
		c.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		return
	}

	for _, m := range s.opts.OnConnect {
		_ = c.write(m)
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)
	if s.opts.PingInterval > 0 {
		go s.pingLoop(c, done)
	}

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			s.log.WithError(err).Debug("mockserver read ended")
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if string(msg) == gamemodel.Pong {
			s.pongs.Add(1)
			continue
		}

		env, err := gamemodel.DecodeEnvelope(msg)
		if err != nil {
			s.log.WithError(err).Warn("mockserver received invalid message")
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()

		if env.Type == gamemodel.TypeTimeSyncRequest {
			s.echoTime(c, env)
		}
	}
}

func (s *Server) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	sent := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if s.opts.MaxPings > 0 && sent >= s.opts.MaxPings {
				return
			}
			if err := c.write([]byte(gamemodel.Ping)); err != nil {
				return
			}
			sent++
		}
	}
}

func (s *Server) echoTime(c *client, env gamemodel.Envelope) {
	req, err := gamemodel.DecodeData[gamemodel.TimeSyncRequest](env)
	if err != nil {
		return
	}
	now := time.Now().Add(s.opts.ClockSkew).UnixMilli()
	msg, err := gamemodel.Encode(gamemodel.TypeTimeSyncResponse, gamemodel.TimeSyncResponse{
		ID:         req.ID,
		ClientTime: req.ClientTime,
		ServerTime: now,
	}, now)
	if err != nil {
		return
	}
	_ = c.write(msg)
}
