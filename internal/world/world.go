package world

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mohae/deepcopy"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/curbz/skycargo/internal/eventloop"
	"github.com/curbz/skycargo/internal/fuel"
	"github.com/curbz/skycargo/internal/logging"
	"github.com/curbz/skycargo/internal/metrics"
	"github.com/curbz/skycargo/internal/model"
	"github.com/curbz/skycargo/internal/velocity"
	"github.com/curbz/skycargo/pkg/geometry"
)

var (
	ErrUnknownPlayer = errors.New("unknown player")
	ErrActionBlocked = errors.New("action blocked in current plane state")
	ErrNotLandable   = errors.New("no landable airport in range")
)

// Clock supplies synchronized time in ms.
type Clock interface {
	CurrentTime() int64
}

// Sender is the outbound side of the channel.
type Sender interface {
	Send(msgType string, data any)
}

type Config struct {
	AltitudeKm           float64         `yaml:"altitude_km"`
	RadiusKm             float64         `yaml:"radius_km"`
	SpeedScale           float64         `yaml:"speed_scale"`
	MaxLandingDistanceKm float64         `yaml:"max_landing_distance_km"`
	TankCapacity         float64         `yaml:"tank_capacity"`
	LowFuelPercent       float64         `yaml:"low_fuel_percent"`
	MonitorInterval      time.Duration   `yaml:"monitor_interval"`
	ProximityCount       int             `yaml:"proximity_count"`
	Velocity             velocity.Config `yaml:"velocity"`
}

// DefaultConfig flies in real time: velocity is km/h and timestamps are ms.
func DefaultConfig() Config {
	return Config{
		AltitudeKm:           10,
		RadiusKm:             geometry.EarthRadiusKm,
		SpeedScale:           1.0 / 1000,
		MaxLandingDistanceKm: 50,
		TankCapacity:         100,
		LowFuelPercent:       20,
		MonitorInterval:      time.Second,
		ProximityCount:       5,
		Velocity:             velocity.DefaultConfig(),
	}
}

// Reconciler owns every player and airport. Network envelopes and local
// actions are the only writers; everything else reads copies. It must be used
// from the event loop.
type Reconciler struct {
	cfg     Config
	clock   Clock
	sched   eventloop.Scheduler
	sender  Sender
	metrics *metrics.Registry
	log     *logrus.Entry

	localID  string
	linkDown bool
	players  map[string]*model.Player
	airports map[string]*model.Airport

	expiry    map[string]eventloop.Timer
	monitor   eventloop.Timer
	fuelLow   bool
	nearestID string

	observers []observer
	nextObsID int
}

func New(cfg Config, clock Clock, sched eventloop.Scheduler, sender Sender, reg *metrics.Registry) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		clock:    clock,
		sched:    sched,
		sender:   sender,
		metrics:  reg,
		log:      logging.For("world"),
		players:  make(map[string]*model.Player),
		airports: make(map[string]*model.Airport),
		expiry:   make(map[string]eventloop.Timer),
	}
}

func (r *Reconciler) SetLocalPlayer(id string) {
	r.localID = id
	r.fuelLow = false
	r.nearestID = ""
}

// SetLocalConnected records whether the channel to the server is open. The
// server never tells a client about its own disconnect, so local actions are
// gated on this as well as on the player's Connected flag.
func (r *Reconciler) SetLocalConnected(up bool) {
	r.linkDown = !up
}

func (r *Reconciler) LocalPlayerID() string {
	return r.localID
}

// Player returns a copy of the stored player.
func (r *Reconciler) Player(id string) (model.Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return model.Player{}, false
	}
	return *deepcopy.Copy(p).(*model.Player), true
}

// Players returns copies of every player ordered by id.
func (r *Reconciler) Players() []model.Player {
	out := make([]model.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, *deepcopy.Copy(p).(*model.Player))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Reconciler) Airport(id string) (model.Airport, bool) {
	a, ok := r.airports[id]
	if !ok {
		return model.Airport{}, false
	}
	return *deepcopy.Copy(a).(*model.Airport), true
}

// Airports returns copies of every airport ordered by id.
func (r *Reconciler) Airports() []model.Airport {
	out := make([]model.Airport, 0, len(r.airports))
	for _, a := range r.airports {
		out = append(out, *deepcopy.Copy(a).(*model.Airport))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CurrentPlane extrapolates the stored plane to the current synchronized time.
// Grounded and non-alive planes are returned as stored.
func (r *Reconciler) CurrentPlane(id string) (model.PlaneState, bool) {
	p, ok := r.players[id]
	if !ok || !p.HasPosition {
		return model.PlaneState{}, false
	}
	return r.extrapolate(p, r.clock.CurrentTime()), true
}

func (r *Reconciler) extrapolate(p *model.Player, now int64) model.PlaneState {
	plane := p.Plane
	if plane.Grounded() || p.Status != model.Alive {
		return plane
	}
	pos := geometry.Advance(plane.Position(), r.cfg.AltitudeKm, r.cfg.RadiusKm, r.cfg.SpeedScale, now)
	out := plane
	out.Coordinates = pos.Coordinates
	out.Bearing = pos.Bearing
	out.Timestamp = pos.Timestamp
	out.TankLevel = fuel.DecayTankLevel(now, plane.Timestamp, plane.TankLevel, plane.FuelConsumptionRate)
	return out
}

// Close cancels every timer the reconciler armed.
func (r *Reconciler) Close() {
	r.StopMonitor()
	for key, t := range r.expiry {
		t.Stop()
		delete(r.expiry, key)
	}
}

func normalizeNickname(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (r *Reconciler) updateGauges() {
	r.metrics.PlayersTracked.Set(float64(len(r.players)))
	r.metrics.AirportsTracked.Set(float64(len(r.airports)))
}
