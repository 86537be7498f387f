package gamemodel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/curbz/skycargo/pkg/geometry"
)

// Heartbeat probes travel as bare text frames outside the envelope schema.
const (
	Ping = "ping"
	Pong = "pong"
)

// Streams are the type prefixes inbound envelopes are routed on.
const (
	StreamPlayer         = "player"
	StreamPlayerPosition = "player_position"
	StreamAirport        = "airport"
	StreamTimeSync       = "time_sync"
)

const (
	TypePlayerRoster       = "player.roster"
	TypePlayerRegistered   = "player.registered"
	TypePlayerConnected    = "player.connected"
	TypePlayerDisconnected = "player.disconnected"
	TypePlayerUpdated      = "player.updated"
	TypePlayerCrashed      = "player.crashed"
	TypePlayerRemoved      = "player.removed"

	TypePositionUpdated       = "player_position.updated"
	TypePositionRoster        = "player_position.roster"
	TypePositionUpdateRequest = "player_position.update_request"

	TypeAirportRoster          = "airport.roster"
	TypeAirportUpdated         = "airport.updated"
	TypeAirportShipmentAdded   = "airport.shipment_added"
	TypeAirportShipmentRemoved = "airport.shipment_removed"

	TypeTimeSyncRequest  = "time_sync.request"
	TypeTimeSyncResponse = "time_sync.response"
)

// Envelope is the typed message frame. Created is synchronized time in ms.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Created int64           `json:"created"`
}

// ControlMessage is the untyped first frame a server may send to tune the heartbeat.
type ControlMessage struct {
	Config *HeartbeatConfig `json:"config"`
}

// HeartbeatConfig values are milliseconds.
type HeartbeatConfig struct {
	MaxPongAwaitingTime int64 `json:"max_pong_awaiting_time"`
	PingInterval        int64 `json:"ping_interval"`
}

// StreamOf returns the routing prefix of an envelope type.
func StreamOf(msgType string) string {
	if i := strings.IndexByte(msgType, '.'); i >= 0 {
		return msgType[:i]
	}
	return msgType
}

func Encode(msgType string, payload any, created int64) ([]byte, error) {
	if msgType == "" {
		return nil, fmt.Errorf("trying to encode envelope with empty type")
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshaling %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Data: pb, Created: created})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("error decoding envelope with byte size 0")
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("error unmarshaling envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("envelope has no type")
	}
	return e, nil
}

func DecodeData[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 {
		return out, fmt.Errorf("empty data for type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("error decoding %s data: %w", env.Type, err)
	}
	return out, nil
}

// --- payloads ---

// PlanePosition is the full plane state as it travels on the wire.
// A non-empty AirportID means the plane is on the ground there.
type PlanePosition struct {
	Coordinates         geometry.GeoPoint `json:"coordinates"`
	Bearing             float64           `json:"bearing"`
	Velocity            float64           `json:"velocity"`
	TankLevel           float64           `json:"tank_level"`
	FuelConsumptionRate float64           `json:"fuel_consumption_rate"`
	Timestamp           int64             `json:"timestamp"`
	AirportID           string            `json:"airport_id,omitempty"`
}

type Shipment struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Award         int    `json:"award"`
	OriginID      string `json:"origin_id"`
	DestinationID string `json:"destination_id"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
}

// PlayerPayload carries a full or partial player. Absent fields are left alone;
// a shipment sent as JSON null clears the carried shipment.
type PlayerPayload struct {
	ID        string          `json:"id"`
	Nickname  *string         `json:"nickname,omitempty"`
	Connected *bool           `json:"connected,omitempty"`
	Score     *int            `json:"score,omitempty"`
	Shipment  json.RawMessage `json:"shipment,omitempty"`
	Position  *PlanePosition  `json:"position,omitempty"`
}

type PlayerRef struct {
	ID string `json:"id"`
}

type PositionUpdate struct {
	ID       string        `json:"id"`
	Position PlanePosition `json:"position"`
}

// AirportPayload carries a full or partial airport. OccupiedBy "" frees the airport.
type AirportPayload struct {
	ID         string             `json:"id"`
	Name       *string            `json:"name,omitempty"`
	Location   *geometry.GeoPoint `json:"location,omitempty"`
	Elevation  *float64           `json:"elevation,omitempty"`
	OccupiedBy *string            `json:"occupied_by,omitempty"`
	Shipments  *[]Shipment        `json:"shipments,omitempty"`
}

type ShipmentEvent struct {
	AirportID  string   `json:"airport_id"`
	Shipment   Shipment `json:"shipment"`
	ShipmentID string   `json:"shipment_id,omitempty"`
}

type TimeSyncRequest struct {
	ID         string `json:"id"`
	ClientTime int64  `json:"client_time"`
}

type TimeSyncResponse struct {
	ID         string `json:"id"`
	ClientTime int64  `json:"client_time"`
	ServerTime int64  `json:"server_time"`
}
