package gameconnect

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/curbz/skycargo/internal/eventloop"
	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/logging"
	"github.com/curbz/skycargo/internal/metrics"
	"github.com/curbz/skycargo/pkg/util"
)

// State is the lifecycle of the channel.
type State int

const (
	Connecting State = iota
	Open
	ClosedClean
	ClosedError
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedClean:
		return "closed_clean"
	case ClosedError:
		return "closed_error"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Close codes the channel reacts to.
const (
	CloseNormal        = websocket.CloseNormalClosure   // 1000, no reconnect
	CloseUnrecoverable = websocket.CloseAbnormalClosure // 1006, stop retrying
	CloseLivenessLost  = 4000                           // we stopped hearing pings
	closeTransport     = 4001                           // dial or read failure without a close frame
)

// Poster queues work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Clock stamps outbound envelopes.
type Clock interface {
	CurrentTime() int64
}

// Handler receives every envelope routed to its stream, in arrival order.
type Handler func(env gamemodel.Envelope)

type Config struct {
	URL              string        `yaml:"url"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	// heartbeat defaults until the server sends its own config
	PingInterval        time.Duration `yaml:"ping_interval"`
	MaxPongAwaitingTime time.Duration `yaml:"max_pong_awaiting_time"`
}

func DefaultConfig() Config {
	return Config{
		ReconnectDelay:      2 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		WriteTimeout:        5 * time.Second,
		PingInterval:        20 * time.Second,
		MaxPongAwaitingTime: 5 * time.Second,
	}
}

// Channel is a reconnecting websocket with heartbeat supervision and
// prefix-routed envelopes. All methods must be called on the event loop; the
// only other goroutines are the dialer and the reader, which post back to it.
type Channel struct {
	cfg     Config
	loop    Poster
	sched   eventloop.Scheduler
	clock   Clock
	dialer  *websocket.Dialer
	metrics *metrics.Registry
	log     *logrus.Entry
	warn    rate.Sometimes

	state      State
	wantOpen   bool
	credential string
	conn       *websocket.Conn
	gen        uint64

	reconnectTimer eventloop.Timer
	livenessTimer  eventloop.Timer
	pingInterval   time.Duration
	pongWait       time.Duration
	configSeen     bool
	unableFired    bool

	routes          map[string][]Handler
	stateObservers  []func(State)
	openObservers   []func()
	unableObservers []func()
}

func New(cfg Config, loop Poster, sched eventloop.Scheduler, clock Clock, reg *metrics.Registry) *Channel {
	return &Channel{
		cfg:     cfg,
		loop:    loop,
		sched:   sched,
		clock:   clock,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		metrics: reg,
		log:     logging.For("gameconnect"),
		warn:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
		state:   ClosedClean,
		routes:  make(map[string][]Handler),
	}
}

// Route registers h for every envelope whose type starts with prefix followed by a dot.
func (c *Channel) Route(prefix string, h Handler) {
	c.routes[prefix] = append(c.routes[prefix], h)
}

func (c *Channel) OnStateChange(fn func(State)) { c.stateObservers = append(c.stateObservers, fn) }
func (c *Channel) OnOpen(fn func())             { c.openObservers = append(c.openObservers, fn) }

// OnUnableToConnect fires once per unrecoverable close.
func (c *Channel) OnUnableToConnect(fn func()) { c.unableObservers = append(c.unableObservers, fn) }

func (c *Channel) State() State    { return c.state }
func (c *Channel) Connected() bool { return c.state == Open }

// Connect opens the channel. The credential is kept for every reconnect.
// Calling it while already connecting or open only refreshes the credential.
func (c *Channel) Connect(credential string) {
	if credential != "" {
		c.credential = credential
	}
	if c.wantOpen {
		return
	}
	c.wantOpen = true
	c.unableFired = false
	c.dial()
}

// Disconnect closes cleanly and suppresses any pending reconnect.
func (c *Channel) Disconnect() {
	c.wantOpen = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopLiveness()
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(CloseNormal, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++
	c.setState(ClosedClean)
}

// Send stamps and writes an envelope. When the channel is not open the message
// is dropped with a warning; connectivity is reported through State, not here.
func (c *Channel) Send(msgType string, data any) {
	if c.state != Open || c.conn == nil {
		c.metrics.SendsDropped.Inc()
		c.warn.Do(func() {
			c.log.WithFields(logrus.Fields{"type": msgType, "state": c.state}).Warn("channel not open, dropping message")
		})
		return
	}

	msg, err := gamemodel.Encode(msgType, data, c.clock.CurrentTime())
	if err != nil {
		c.log.WithError(err).WithField("type", msgType).Error("unable to encode outbound message")
		return
	}
	if err := util.SendText(c.conn, msg, c.cfg.WriteTimeout); err != nil {
		c.log.WithError(err).WithField("type", msgType).Warn("write failed")
		c.handleClosed(c.gen, closeTransport, err)
		return
	}
	c.metrics.MessagesOut.WithLabelValues(msgType).Inc()
}

func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.log.WithFields(logrus.Fields{"from": c.state, "to": s}).Debug("channel state change")
	c.state = s
	c.metrics.ChannelState.Set(float64(s))
	for _, fn := range c.stateObservers {
		fn(s)
	}
}

func (c *Channel) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("error parsing channel URL: %w", err)
	}
	if c.credential != "" {
		q := u.Query()
		q.Set("token", c.credential)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Channel) dial() {
	c.setState(Connecting)
	c.gen++
	gen := c.gen

	target, err := c.dialURL()
	if err != nil {
		c.log.WithError(err).Error("cannot dial")
		c.handleClosed(gen, CloseUnrecoverable, err)
		return
	}

	c.log.WithField("url", c.cfg.URL).Info("connecting to game server")
	go func() {
		conn, resp, err := c.dialer.Dial(target, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if !c.loop.Post(func() { c.handleDial(gen, conn, resp, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Channel) handleDial(gen uint64, conn *websocket.Conn, resp *http.Response, err error) {
	if gen != c.gen || !c.wantOpen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		code := dialCloseCode(err)
		fields := logrus.Fields{"code": code}
		if resp != nil {
			fields["status"] = resp.StatusCode
		}
		c.log.WithError(err).WithFields(fields).Warn("dial failed")
		c.handleClosed(gen, code, err)
		return
	}

	c.conn = conn
	c.configSeen = false
	c.pingInterval = c.cfg.PingInterval
	c.pongWait = c.cfg.MaxPongAwaitingTime
	c.metrics.ChannelConnects.Inc()
	c.log.Info("websocket connection established")
	c.setState(Open)

	go c.readLoop(gen, conn)

	for _, fn := range c.openObservers {
		fn()
	}
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			code := readCloseCode(err)
			c.loop.Post(func() { c.handleClosed(gen, code, err) })
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !c.loop.Post(func() { c.handleMessage(gen, msg) }) {
			conn.Close()
			return
		}
	}
}

// handleClosed runs the reconnect policy for the connection of generation gen.
func (c *Channel) handleClosed(gen uint64, code int, err error) {
	if gen != c.gen {
		return
	}
	c.gen++
	c.stopLiveness()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	if !c.wantOpen {
		c.setState(ClosedClean)
		return
	}

	switch {
	case code == CloseNormal:
		c.log.Info("connection closed")
		c.wantOpen = false
		c.setState(ClosedClean)
	case code == CloseUnrecoverable:
		c.log.WithError(err).Error("unable to connect to game server, giving up")
		c.wantOpen = false
		c.setState(ClosedError)
		c.signalUnableToConnect()
	default:
		c.log.WithError(err).WithField("code", code).Warn("connection lost, reconnecting")
		c.setState(ClosedError)
		c.scheduleReconnect()
	}
}

func (c *Channel) signalUnableToConnect() {
	if c.unableFired {
		return
	}
	c.unableFired = true
	c.metrics.ChannelUnableToConnect.Inc()
	for _, fn := range c.unableObservers {
		fn()
	}
}

func (c *Channel) scheduleReconnect() {
	c.setState(Reconnecting)
	c.metrics.ChannelReconnects.Inc()
	c.reconnectTimer = c.sched.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.reconnectTimer = nil
		if c.wantOpen {
			c.dial()
		}
	})
}

func (c *Channel) handleMessage(gen uint64, msg []byte) {
	if gen != c.gen {
		return
	}

	if string(msg) == gamemodel.Ping {
		c.handlePing()
		return
	}

	env, err := gamemodel.DecodeEnvelope(msg)
	if err != nil {
		if c.consumeControl(msg) {
			return
		}
		c.metrics.MessagesMalformed.Inc()
		c.log.WithError(err).WithField("raw", string(msg)).Warn("discarding malformed message")
		return
	}

	stream := gamemodel.StreamOf(env.Type)
	c.metrics.MessagesIn.WithLabelValues(stream).Inc()
	handlers, ok := c.routes[stream]
	if !ok {
		c.log.WithField("type", env.Type).Debug("no route for message")
		return
	}
	for _, h := range handlers {
		h(env)
	}
}

// consumeControl swallows the heartbeat config frame. Only the first one on a
// connection is applied.
func (c *Channel) consumeControl(msg []byte) bool {
	var ctrl gamemodel.ControlMessage
	if err := json.Unmarshal(msg, &ctrl); err != nil || ctrl.Config == nil {
		return false
	}
	if c.configSeen {
		return true
	}
	c.configSeen = true
	if ctrl.Config.PingInterval > 0 {
		c.pingInterval = time.Duration(ctrl.Config.PingInterval) * time.Millisecond
	}
	if ctrl.Config.MaxPongAwaitingTime > 0 {
		c.pongWait = time.Duration(ctrl.Config.MaxPongAwaitingTime) * time.Millisecond
	}
	c.log.WithFields(logrus.Fields{"ping_interval": c.pingInterval, "pong_wait": c.pongWait}).Debug("heartbeat configured")
	return true
}

func (c *Channel) handlePing() {
	if c.conn == nil {
		return
	}
	if err := util.SendText(c.conn, []byte(gamemodel.Pong), c.cfg.WriteTimeout); err != nil {
		c.log.WithError(err).Warn("unable to answer ping")
		c.handleClosed(c.gen, closeTransport, err)
		return
	}
	c.armLiveness()
}

func (c *Channel) armLiveness() {
	c.stopLiveness()
	c.livenessTimer = c.sched.AfterFunc(c.pingInterval+c.pongWait, func() {
		c.livenessTimer = nil
		c.metrics.LivenessTimeouts.Inc()
		c.forceClose(CloseLivenessLost, "liveness lost")
	})
}

func (c *Channel) stopLiveness() {
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
		c.livenessTimer = nil
	}
}

func (c *Channel) forceClose(code int, reason string) {
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.handleClosed(c.gen, code, errors.New(reason))
}

// dialCloseCode maps a failed handshake onto a close code. A server that
// answers but refuses the upgrade (bad credential, rejection) is unrecoverable.
func dialCloseCode(err error) int {
	if errors.Is(err, websocket.ErrBadHandshake) {
		return CloseUnrecoverable
	}
	return closeTransport
}

func readCloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return closeTransport
}
