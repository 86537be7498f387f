package main

import (
	"time"

	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/pkg/geometry"
)

type demoAirport struct {
	id, name  string
	lat, lon  float64
	elevation float64
}

var demoAirports = []demoAirport{
	{"EGLL", "London Heathrow", 51.4700, -0.4543, 25},
	{"LFPG", "Paris Charles de Gaulle", 49.0097, 2.5479, 119},
	{"EHAM", "Amsterdam Schiphol", 52.3105, 4.7683, -3},
	{"EDDF", "Frankfurt", 50.0379, 8.5622, 111},
	{"EIDW", "Dublin", 53.4264, -6.2499, 74},
}

// demoFrames is what the mock server pushes on connect: the airports, one
// shipment and the local player parked at the first airport.
func demoFrames(localID string) [][]byte {
	now := time.Now().UnixMilli()

	airports := make([]gamemodel.AirportPayload, 0, len(demoAirports))
	for _, a := range demoAirports {
		name, loc, elev := a.name, geometry.GeoPoint{Lat: a.lat, Lon: a.lon}, a.elevation
		airports = append(airports, gamemodel.AirportPayload{
			ID:        a.id,
			Name:      &name,
			Location:  &loc,
			Elevation: &elev,
		})
	}

	nickname := localID
	connected := true
	home := demoAirports[0]
	player := gamemodel.PlayerPayload{
		ID:        localID,
		Nickname:  &nickname,
		Connected: &connected,
		Position: &gamemodel.PlanePosition{
			Coordinates:         geometry.GeoPoint{Lat: home.lat, Lon: home.lon},
			TankLevel:           100,
			FuelConsumptionRate: 60,
			Timestamp:           now,
			AirportID:           home.id,
		},
	}

	shipment := gamemodel.ShipmentEvent{
		AirportID: home.id,
		Shipment: gamemodel.Shipment{
			ID:            "demo-1",
			Name:          "medical supplies",
			Award:         150,
			OriginID:      home.id,
			DestinationID: demoAirports[1].id,
			ExpiresAt:     now + (10 * time.Minute).Milliseconds(),
		},
	}

	var frames [][]byte
	for _, m := range []struct {
		msgType string
		payload any
	}{
		{gamemodel.TypeAirportRoster, airports},
		{gamemodel.TypePlayerRoster, []gamemodel.PlayerPayload{player}},
		{gamemodel.TypeAirportShipmentAdded, shipment},
	} {
		b, err := gamemodel.Encode(m.msgType, m.payload, now)
		if err != nil {
			continue
		}
		frames = append(frames, b)
	}
	return frames
}
