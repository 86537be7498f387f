package model

import (
	"encoding/json"
	"fmt"

	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/pkg/geometry"
)

// Status is where a player sits in the crash and removal lifecycle.
type Status int

const (
	Alive Status = iota
	Crashing
	Crashed
	PendingRemoval
)

func (s Status) String() string {
	switch s {
	case Alive:
		return "alive"
	case Crashing:
		return "crashing"
	case Crashed:
		return "crashed"
	case PendingRemoval:
		return "pending_removal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for st := Alive; st <= PendingRemoval; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown player status %q", b)
}

// PlaneState is the last authoritative or locally applied plane state.
// Timestamp is synchronized time in ms; a non-empty AirportID means grounded.
type PlaneState struct {
	Coordinates         geometry.GeoPoint `json:"coordinates"`
	Bearing             float64           `json:"bearing"`
	Velocity            float64           `json:"velocity"`
	TankLevel           float64           `json:"tank_level"`
	FuelConsumptionRate float64           `json:"fuel_consumption_rate"`
	Timestamp           int64             `json:"timestamp"`
	AirportID           string            `json:"airport_id,omitempty"`
}

func (p PlaneState) Grounded() bool {
	return p.AirportID != ""
}

func (p PlaneState) Position() geometry.Position {
	return geometry.Position{
		Coordinates: p.Coordinates,
		Bearing:     p.Bearing,
		Velocity:    p.Velocity,
		Timestamp:   p.Timestamp,
	}
}

// Wire converts to the outbound payload.
func (p PlaneState) Wire() gamemodel.PlanePosition {
	return gamemodel.PlanePosition{
		Coordinates:         p.Coordinates,
		Bearing:             p.Bearing,
		Velocity:            p.Velocity,
		TankLevel:           p.TankLevel,
		FuelConsumptionRate: p.FuelConsumptionRate,
		Timestamp:           p.Timestamp,
		AirportID:           p.AirportID,
	}
}

// PlaneFromWire clamps what the server sent into a valid state.
func PlaneFromWire(w gamemodel.PlanePosition) PlaneState {
	return PlaneState{
		Coordinates:         w.Coordinates.Normalize(),
		Bearing:             geometry.NormalizeBearing(w.Bearing),
		Velocity:            max(0, w.Velocity),
		TankLevel:           max(0, w.TankLevel),
		FuelConsumptionRate: max(0, w.FuelConsumptionRate),
		Timestamp:           w.Timestamp,
		AirportID:           w.AirportID,
	}
}

type Shipment struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Award         int    `json:"award"`
	OriginID      string `json:"origin_id"`
	DestinationID string `json:"destination_id"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
}

func ShipmentFromWire(w gamemodel.Shipment) Shipment {
	return Shipment(w)
}

// ShipmentsFromWire never returns nil so views marshal as [].
func ShipmentsFromWire(ws []gamemodel.Shipment) []Shipment {
	out := make([]Shipment, 0, len(ws))
	for _, w := range ws {
		out = append(out, ShipmentFromWire(w))
	}
	return out
}

// DecodeShipment reads the optional shipment field of a player payload.
// present is false when the field was absent; a JSON null yields present with a nil shipment.
func DecodeShipment(raw json.RawMessage) (s *Shipment, present bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	if string(raw) == "null" {
		return nil, true, nil
	}
	var w gamemodel.Shipment
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, true, fmt.Errorf("error decoding shipment: %w", err)
	}
	sh := ShipmentFromWire(w)
	return &sh, true, nil
}

// Player
type Player struct {
	ID          string     `json:"id"`
	Nickname    string     `json:"nickname"`
	Connected   bool       `json:"connected"`
	Score       int        `json:"score"`
	Shipment    *Shipment  `json:"shipment,omitempty"`
	Status      Status     `json:"status"`
	Plane       PlaneState `json:"plane"`
	HasPosition bool       `json:"has_position"`
}

// Airport. The distance and nearest flags are derived by the last proximity query.
type Airport struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Location             geometry.GeoPoint `json:"location"`
	Elevation            float64           `json:"elevation"`
	OccupiedBy           string            `json:"occupied_by,omitempty"`
	Shipments            []Shipment        `json:"shipments"`
	DistanceToQueryPoint float64           `json:"distance_to_query_point"`
	IsNearest            bool              `json:"is_nearest"`
	IsNearestAndLandable bool              `json:"is_nearest_and_landable"`
}

func (a *Airport) Occupied() bool {
	return a.OccupiedBy != ""
}
