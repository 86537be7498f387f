package clocksync

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/curbz/skycargo/internal/eventloop"
	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/logging"
	"github.com/curbz/skycargo/internal/metrics"
)

// Sender is the part of the channel the synchronizer needs.
type Sender interface {
	Send(msgType string, data any)
}

type Config struct {
	FastSamples  int           `yaml:"fast_samples"`
	FastInterval time.Duration `yaml:"fast_interval"`
	SlowInterval time.Duration `yaml:"slow_interval"`
}

func DefaultConfig() Config {
	return Config{FastSamples: 5, FastInterval: time.Second, SlowInterval: 30 * time.Second}
}

// Synchronizer estimates the offset between the local and the server clock and
// is the single source of synchronized time. It must be used from the event loop.
type Synchronizer struct {
	cfg     Config
	sched   eventloop.Scheduler
	wall    func() time.Time
	metrics *metrics.Registry
	log     *logrus.Entry

	offset    float64
	hasSample bool
	sent      int
	pending   map[string]int64
	sender    Sender
	timer     eventloop.Timer
}

type Option func(*Synchronizer)

// WithWallClock replaces time.Now as the local clock.
func WithWallClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.wall = now }
}

func New(cfg Config, sched eventloop.Scheduler, reg *metrics.Registry, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		cfg:     cfg,
		sched:   sched,
		wall:    time.Now,
		metrics: reg,
		log:     logging.For("clocksync"),
		pending: make(map[string]int64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Synchronizer) localTime() int64 {
	return s.wall().UnixMilli()
}

// CurrentTime is the synchronized time in milliseconds.
func (s *Synchronizer) CurrentTime() int64 {
	return s.localTime() + int64(s.offset)
}

func (s *Synchronizer) Offset() float64 {
	return s.offset
}

// Start begins sampling over sender with the fast cadence. Called on every
// channel open, so a reconnect starts the fast phase from scratch.
func (s *Synchronizer) Start(sender Sender) {
	s.Stop()
	s.sender = sender
	s.sent = 0
	s.sample()
}

// Stop cancels the sampling timer and forgets in-flight requests. The offset
// is kept frozen until sampling resumes.
func (s *Synchronizer) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.sender = nil
	clear(s.pending)
}

func (s *Synchronizer) sample() {
	s.timer = nil
	if s.sender == nil {
		return
	}

	now := s.localTime()
	s.prune(now)

	id := uuid.NewString()
	s.pending[id] = now
	s.sent++
	s.sender.Send(gamemodel.TypeTimeSyncRequest, gamemodel.TimeSyncRequest{ID: id, ClientTime: now})

	interval := s.cfg.SlowInterval
	if s.sent < s.cfg.FastSamples {
		interval = s.cfg.FastInterval
	}
	s.timer = s.sched.AfterFunc(interval, s.sample)
}

// pendingTTL is how long an unanswered request stays matchable. A server that
// stays silent must not grow the pending set.
func (s *Synchronizer) pendingTTL() int64 {
	return 3 * s.cfg.SlowInterval.Milliseconds()
}

func (s *Synchronizer) prune(now int64) {
	ttl := s.pendingTTL()
	for id, sentAt := range s.pending {
		if now-sentAt > ttl {
			delete(s.pending, id)
		}
	}
}

// HandleEnvelope consumes time_sync stream messages.
func (s *Synchronizer) HandleEnvelope(env gamemodel.Envelope) {
	if env.Type != gamemodel.TypeTimeSyncResponse {
		s.log.WithField("type", env.Type).Debug("ignoring time sync message")
		return
	}
	resp, err := gamemodel.DecodeData[gamemodel.TimeSyncResponse](env)
	if err != nil {
		s.log.WithError(err).Warn("discarding malformed time sync response")
		return
	}
	s.HandleResponse(resp)
}

// HandleResponse folds one echo into the offset. Echoes are matched to their
// request by id, so reordered or duplicated echoes cannot pair with the wrong send.
func (s *Synchronizer) HandleResponse(resp gamemodel.TimeSyncResponse) {
	sentAt, ok := s.pending[resp.ID]
	if !ok {
		s.metrics.ClockStaleEchoes.Inc()
		s.log.WithField("id", resp.ID).Debug("dropping time sync echo with no pending request")
		return
	}
	delete(s.pending, resp.ID)

	echoAt := s.localTime()
	delta := float64(resp.ServerTime) - float64(echoAt-sentAt)/2 - float64(sentAt)

	if !s.hasSample {
		s.offset = delta
		s.hasSample = true
	} else {
		s.offset = (s.offset + delta) / 2
	}

	s.metrics.ClockSamples.Inc()
	s.metrics.ClockOffsetMs.Set(s.offset)
	s.log.WithFields(logrus.Fields{"delta": delta, "offset": s.offset}).Debug("clock sample")
}
