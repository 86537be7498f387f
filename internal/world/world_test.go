package world

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/curbz/skycargo/internal/eventloop"
	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/metrics"
	"github.com/curbz/skycargo/internal/model"
	"github.com/curbz/skycargo/pkg/geometry"
)

type manualClock struct {
	m *eventloop.Manual
}

func (c manualClock) CurrentTime() int64 { return c.m.Now().UnixMilli() }

type sent struct {
	msgType string
	data    any
}

type fakeSender struct {
	sent []sent
}

func (f *fakeSender) Send(msgType string, data any) {
	f.sent = append(f.sent, sent{msgType: msgType, data: data})
}

type fixture struct {
	r      *Reconciler
	sched  *eventloop.Manual
	sender *fakeSender
	reg    *metrics.Registry
	events []Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AltitudeKm = 0
	f := &fixture{
		sched:  eventloop.NewManual(time.UnixMilli(0)),
		sender: &fakeSender{},
		reg:    metrics.New(),
	}
	f.r = New(cfg, manualClock{f.sched}, f.sched, f.sender, f.reg)
	f.r.Subscribe(func(ev Event) { f.events = append(f.events, ev) })
	t.Cleanup(f.r.Close)
	return f
}

func (f *fixture) now() int64 { return f.sched.Now().UnixMilli() }

func (f *fixture) kinds() []EventKind {
	out := make([]EventKind, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}

func envelope(t *testing.T, msgType string, payload any) gamemodel.Envelope {
	t.Helper()
	b, err := gamemodel.Encode(msgType, payload, 0)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	env, err := gamemodel.DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("decode %s: %v", msgType, err)
	}
	return env
}

func ptr[T any](v T) *T { return &v }

func airborne(ts int64) *gamemodel.PlanePosition {
	return &gamemodel.PlanePosition{
		Coordinates:         geometry.GeoPoint{Lat: 0, Lon: 0},
		Bearing:             90,
		Velocity:            3600,
		TankLevel:           80,
		FuelConsumptionRate: 10,
		Timestamp:           ts,
	}
}

func (f *fixture) register(t *testing.T, pp gamemodel.PlayerPayload) {
	t.Helper()
	f.r.HandlePlayer(envelope(t, gamemodel.TypePlayerRegistered, pp))
}

func (f *fixture) position(t *testing.T, id string, pos gamemodel.PlanePosition) {
	t.Helper()
	f.r.HandlePosition(envelope(t, gamemodel.TypePositionUpdated, gamemodel.PositionUpdate{ID: id, Position: pos}))
}

func (f *fixture) playerEvent(t *testing.T, msgType, id string) {
	t.Helper()
	f.r.HandlePlayer(envelope(t, msgType, gamemodel.PlayerRef{ID: id}))
}

func TestOrderingRuleDropsStaleUpdates(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1"})

	for _, ts := range []int64{100, 50} {
		f.position(t, "p1", *airborne(ts))
	}

	p, _ := f.r.Player("p1")
	if p.Plane.Timestamp != 100 {
		t.Fatalf("applied timestamp = %d, want 100", p.Plane.Timestamp)
	}
	if v := testutil.ToFloat64(f.reg.StaleUpdatesDropped.WithLabelValues("player")); v != 1 {
		t.Fatalf("stale updates dropped = %v, want 1", v)
	}

	f.position(t, "p1", *airborne(100))
	f.position(t, "p1", *airborne(150))
	p, _ = f.r.Player("p1")
	if p.Plane.Timestamp != 150 {
		t.Fatalf("applied timestamp = %d, want 150", p.Plane.Timestamp)
	}
}

func TestGroundedPlaneAcceptsOlderUpdate(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1"})

	ground := *airborne(100)
	ground.AirportID = "EGLL"
	ground.Velocity = 0
	f.position(t, "p1", ground)

	f.position(t, "p1", *airborne(50))

	p, _ := f.r.Player("p1")
	if p.Plane.Timestamp != 50 || p.Plane.Grounded() {
		t.Fatalf("grounded plane should take the authoritative update, got %+v", p.Plane)
	}
}

func TestRemovalOfAlivePlayerIsImmediate(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1"})
	f.playerEvent(t, gamemodel.TypePlayerRemoved, "p1")

	if _, ok := f.r.Player("p1"); ok {
		t.Fatal("player should be gone")
	}
	if got := f.kinds(); !reflect.DeepEqual(got, []EventKind{PlayerAdded, PlayerRemoved}) {
		t.Fatalf("events = %v", got)
	}
	if v := testutil.ToFloat64(f.reg.PlayersTracked); v != 0 {
		t.Fatalf("players tracked = %v", v)
	}
}

func TestRemovalWhileCrashingWaitsForCompletion(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1"})
	f.playerEvent(t, gamemodel.TypePlayerCrashed, "p1")
	f.playerEvent(t, gamemodel.TypePlayerRemoved, "p1")

	p, ok := f.r.Player("p1")
	if !ok {
		t.Fatal("crashing player removed before the crash completed")
	}
	if p.Status != model.PendingRemoval {
		t.Fatalf("status = %s, want pending_removal", p.Status)
	}

	f.r.CrashCompleted("p1")
	if _, ok := f.r.Player("p1"); ok {
		t.Fatal("player should be deleted once the crash completed")
	}
}

func TestCrashLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		steps  []func(t *testing.T, f *fixture)
		want   model.Status
		exists bool
	}{
		{
			name: "crash then complete",
			steps: []func(t *testing.T, f *fixture){
				func(t *testing.T, f *fixture) { f.playerEvent(t, gamemodel.TypePlayerCrashed, "p1") },
				func(t *testing.T, f *fixture) { f.r.CrashCompleted("p1") },
			},
			want:   model.Crashed,
			exists: true,
		},
		{
			name: "crashed player registers again",
			steps: []func(t *testing.T, f *fixture){
				func(t *testing.T, f *fixture) { f.playerEvent(t, gamemodel.TypePlayerCrashed, "p1") },
				func(t *testing.T, f *fixture) { f.r.CrashCompleted("p1") },
				func(t *testing.T, f *fixture) { f.register(t, gamemodel.PlayerPayload{ID: "p1"}) },
			},
			want:   model.Alive,
			exists: true,
		},
		{
			name: "crashed player removed",
			steps: []func(t *testing.T, f *fixture){
				func(t *testing.T, f *fixture) { f.playerEvent(t, gamemodel.TypePlayerCrashed, "p1") },
				func(t *testing.T, f *fixture) { f.r.CrashCompleted("p1") },
				func(t *testing.T, f *fixture) { f.playerEvent(t, gamemodel.TypePlayerRemoved, "p1") },
			},
			exists: false,
		},
		{
			name: "second crash is ignored",
			steps: []func(t *testing.T, f *fixture){
				func(t *testing.T, f *fixture) { f.playerEvent(t, gamemodel.TypePlayerCrashed, "p1") },
				func(t *testing.T, f *fixture) { f.playerEvent(t, gamemodel.TypePlayerCrashed, "p1") },
			},
			want:   model.Crashing,
			exists: true,
		},
		{
			name: "completion without crash is ignored",
			steps: []func(t *testing.T, f *fixture){
				func(t *testing.T, f *fixture) { f.r.CrashCompleted("p1") },
			},
			want:   model.Alive,
			exists: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.register(t, gamemodel.PlayerPayload{ID: "p1"})
			for _, step := range tc.steps {
				step(t, f)
			}
			p, ok := f.r.Player("p1")
			if ok != tc.exists {
				t.Fatalf("exists = %v, want %v", ok, tc.exists)
			}
			if ok && p.Status != tc.want {
				t.Fatalf("status = %s, want %s", p.Status, tc.want)
			}
		})
	}
}

func TestRosterMergeKeepsPredictedState(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1", Nickname: ptr("old"), Position: airborne(200)})

	f.r.HandlePlayer(envelope(t, gamemodel.TypePlayerRoster, []gamemodel.PlayerPayload{
		{ID: "p1", Nickname: ptr("new"), Position: airborne(100)},
		{ID: "p2", Nickname: ptr("second"), Position: airborne(100)},
	}))

	p1, _ := f.r.Player("p1")
	if p1.Nickname != "new" {
		t.Fatalf("nickname = %q, want new", p1.Nickname)
	}
	if p1.Plane.Timestamp != 200 {
		t.Fatalf("roster regressed the predicted plane to %d", p1.Plane.Timestamp)
	}
	p2, ok := f.r.Player("p2")
	if !ok || !p2.HasPosition || p2.Plane.Timestamp != 100 {
		t.Fatalf("new roster player not created: %+v", p2)
	}
	if len(f.r.Players()) != 2 {
		t.Fatalf("players = %d, want 2", len(f.r.Players()))
	}
}

func TestPartialUpdateTouchesOnlyPresentFields(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1", Nickname: ptr("ace"), Score: ptr(3)})

	f.r.HandlePlayer(envelope(t, gamemodel.TypePlayerUpdated, gamemodel.PlayerPayload{ID: "p1", Score: ptr(5)}))
	p, _ := f.r.Player("p1")
	if p.Nickname != "ace" || p.Score != 5 || p.Shipment != nil {
		t.Fatalf("after score update: %+v", p)
	}

	sh, _ := json.Marshal(gamemodel.Shipment{ID: "s1", Name: "mail", Award: 40})
	f.r.HandlePlayer(envelope(t, gamemodel.TypePlayerUpdated, gamemodel.PlayerPayload{ID: "p1", Shipment: sh}))
	p, _ = f.r.Player("p1")
	if p.Shipment == nil || p.Shipment.ID != "s1" || p.Score != 5 {
		t.Fatalf("after shipment update: %+v", p)
	}

	f.r.HandlePlayer(envelope(t, gamemodel.TypePlayerUpdated, gamemodel.PlayerPayload{ID: "p1", Shipment: json.RawMessage("null")}))
	p, _ = f.r.Player("p1")
	if p.Shipment != nil {
		t.Fatalf("null shipment should clear it, got %+v", p.Shipment)
	}
}

func TestConnectivityFlag(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1"})

	f.playerEvent(t, gamemodel.TypePlayerDisconnected, "p1")
	if p, _ := f.r.Player("p1"); p.Connected {
		t.Fatal("player should be disconnected")
	}
	f.playerEvent(t, gamemodel.TypePlayerConnected, "p1")
	if p, _ := f.r.Player("p1"); !p.Connected {
		t.Fatal("player should be connected")
	}
}

func TestNicknameIsNormalized(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1", Nickname: ptr("  Cafe\u0301 ")})
	p, _ := f.r.Player("p1")
	if p.Nickname != "Caf\u00e9" {
		t.Fatalf("nickname = %q, want NFC trimmed", p.Nickname)
	}
}

func TestViewsAreCopies(t *testing.T) {
	f := newFixture(t)
	sh, _ := json.Marshal(gamemodel.Shipment{ID: "s1"})
	f.register(t, gamemodel.PlayerPayload{ID: "p1", Shipment: sh})

	p, _ := f.r.Player("p1")
	p.Shipment.ID = "tampered"
	p.Score = 99

	again, _ := f.r.Player("p1")
	if again.Shipment.ID != "s1" || again.Score != 0 {
		t.Fatalf("view mutation leaked into the reconciler: %+v", again)
	}
}

func TestCurrentPlaneExtrapolatesWithoutStoring(t *testing.T) {
	f := newFixture(t)
	f.register(t, gamemodel.PlayerPayload{ID: "p1", Position: airborne(0)})

	f.sched.Advance(time.Second)
	cur, ok := f.r.CurrentPlane("p1")
	if !ok {
		t.Fatal("no current plane")
	}
	wantLon := 1 / (geometry.EarthRadiusKm * math.Pi / 180)
	if d := cur.Coordinates.Lon - wantLon; d > 1e-9 || d < -1e-9 {
		t.Fatalf("lon = %.12f, want %.12f", cur.Coordinates.Lon, wantLon)
	}
	if cur.Timestamp != 1000 || cur.TankLevel >= 80 {
		t.Fatalf("extrapolated plane %+v", cur)
	}

	stored, _ := f.r.Player("p1")
	if stored.Plane.Timestamp != 0 || stored.Plane.Coordinates.Lon != 0 {
		t.Fatalf("read mutated stored state: %+v", stored.Plane)
	}
}

func TestMalformedPayloadIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.r.HandlePlayer(envelope(t, gamemodel.TypePlayerRoster, "not a roster"))
	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportUpdated, 12))

	if v := testutil.ToFloat64(f.reg.MessagesMalformed); v != 2 {
		t.Fatalf("malformed = %v, want 2", v)
	}
	if len(f.events) != 0 {
		t.Fatalf("unexpected events %v", f.kinds())
	}
}

func TestObserversRunInRegistrationOrder(t *testing.T) {
	f := newFixture(t)
	var calls []string
	unsubA := f.r.Subscribe(func(Event) { calls = append(calls, "a") })
	f.r.Subscribe(func(Event) { calls = append(calls, "b") })

	f.register(t, gamemodel.PlayerPayload{ID: "p1"})
	if !reflect.DeepEqual(calls, []string{"a", "b"}) {
		t.Fatalf("calls = %v", calls)
	}

	unsubA()
	calls = nil
	f.playerEvent(t, gamemodel.TypePlayerRemoved, "p1")
	if !reflect.DeepEqual(calls, []string{"b"}) {
		t.Fatalf("calls after unsubscribe = %v", calls)
	}
}

func TestAirportOccupancyIsDistinctEvent(t *testing.T) {
	f := newFixture(t)
	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportRoster, []gamemodel.AirportPayload{
		{ID: "A", Name: ptr("Alpha"), Location: &geometry.GeoPoint{Lat: 1, Lon: 1}},
	}))
	f.events = nil

	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportUpdated, gamemodel.AirportPayload{ID: "A", OccupiedBy: ptr("p1")}))
	if got := f.kinds(); !reflect.DeepEqual(got, []EventKind{AirportOccupancyChanged}) {
		t.Fatalf("occupancy events = %v", got)
	}
	if f.events[0].PlayerID != "p1" || f.events[0].PreviousOccupant != "" {
		t.Fatalf("occupancy event = %+v", f.events[0])
	}

	f.events = nil
	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportUpdated, gamemodel.AirportPayload{ID: "A", Name: ptr("Alpha Intl")}))
	if got := f.kinds(); !reflect.DeepEqual(got, []EventKind{AirportUpdated}) {
		t.Fatalf("field update events = %v", got)
	}
	a, _ := f.r.Airport("A")
	if a.Name != "Alpha Intl" || a.OccupiedBy != "p1" || a.Location.Lat != 1 {
		t.Fatalf("airport = %+v", a)
	}
}

func TestShipmentExpiry(t *testing.T) {
	f := newFixture(t)
	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportRoster, []gamemodel.AirportPayload{{ID: "A"}}))

	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportShipmentAdded, gamemodel.ShipmentEvent{
		AirportID: "A",
		Shipment:  gamemodel.Shipment{ID: "s1", ExpiresAt: f.now() + 5000},
	}))
	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportShipmentAdded, gamemodel.ShipmentEvent{
		AirportID: "A",
		Shipment:  gamemodel.Shipment{ID: "s2", ExpiresAt: f.now() + 5000},
	}))
	if f.r.PendingExpiries() != 2 {
		t.Fatalf("pending expiries = %d, want 2", f.r.PendingExpiries())
	}

	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportShipmentRemoved, gamemodel.ShipmentEvent{AirportID: "A", ShipmentID: "s2"}))
	if f.r.PendingExpiries() != 1 || f.sched.Pending() != 1 {
		t.Fatalf("removing a shipment should cancel its timer")
	}

	f.sched.Advance(4999 * time.Millisecond)
	if a, _ := f.r.Airport("A"); len(a.Shipments) != 1 {
		t.Fatalf("shipment expired early: %+v", a.Shipments)
	}
	f.sched.Advance(time.Millisecond)
	if a, _ := f.r.Airport("A"); len(a.Shipments) != 0 {
		t.Fatalf("shipment not expired: %+v", a.Shipments)
	}
	if last := f.events[len(f.events)-1]; last.Kind != ShipmentExpired || last.ShipmentID != "s1" {
		t.Fatalf("last event = %+v", last)
	}
	if f.r.PendingExpiries() != 0 {
		t.Fatalf("pending expiries = %d", f.r.PendingExpiries())
	}
}

func TestShipmentTimerCancelledWithOwner(t *testing.T) {
	f := newFixture(t)
	sh, _ := json.Marshal(gamemodel.Shipment{ID: "s1", ExpiresAt: f.now() + 10_000})
	f.register(t, gamemodel.PlayerPayload{ID: "p1", Shipment: sh})
	if f.sched.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", f.sched.Pending())
	}

	f.playerEvent(t, gamemodel.TypePlayerRemoved, "p1")
	if f.sched.Pending() != 0 {
		t.Fatalf("expiry timer survived its owner")
	}
	f.events = nil
	f.sched.Advance(time.Minute)
	if len(f.events) != 0 {
		t.Fatalf("events after owner removal: %v", f.kinds())
	}
}

func TestCloseCancelsTimers(t *testing.T) {
	f := newFixture(t)
	f.r.HandleAirport(envelope(t, gamemodel.TypeAirportRoster, []gamemodel.AirportPayload{{
		ID:        "A",
		Shipments: &[]gamemodel.Shipment{{ID: "s1", ExpiresAt: 5000}},
	}}))
	f.r.StartMonitor()
	if f.sched.Pending() != 2 {
		t.Fatalf("pending timers = %d, want 2", f.sched.Pending())
	}
	f.r.Close()
	if f.sched.Pending() != 0 {
		t.Fatalf("pending timers after Close = %d", f.sched.Pending())
	}
}

func TestPlayerIDFromToken(t *testing.T) {
	signed := signToken(t, "player_7")
	id, err := PlayerIDFromToken(signed)
	if err != nil || id != "player_7" {
		t.Fatalf("PlayerIDFromToken = %q, %v", id, err)
	}

	if _, err := PlayerIDFromToken("not-a-jwt"); err == nil {
		t.Fatal("expected an error for garbage")
	}
	if _, err := PlayerIDFromToken(signToken(t, "")); err == nil {
		t.Fatal("expected an error for a token without subject")
	}

	f := newFixture(t)
	if err := f.r.SetLocalPlayerFromToken(signed); err != nil || f.r.LocalPlayerID() != "player_7" {
		t.Fatalf("local player = %q, %v", f.r.LocalPlayerID(), err)
	}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Unix(1_700_000_000, 0)),
	})
	signed, err := token.SignedString([]byte("test-secret-that-is-long-enough-32b"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
