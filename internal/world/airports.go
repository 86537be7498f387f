package world

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/model"
)

// HandleAirport consumes the airport stream.
func (r *Reconciler) HandleAirport(env gamemodel.Envelope) {
	switch env.Type {
	case gamemodel.TypeAirportRoster:
		roster, err := gamemodel.DecodeData[[]gamemodel.AirportPayload](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		for _, ap := range roster {
			r.mergeAirport(ap)
		}
	case gamemodel.TypeAirportUpdated:
		ap, err := gamemodel.DecodeData[gamemodel.AirportPayload](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		if _, ok := r.airports[ap.ID]; !ok {
			r.log.WithField("airport", ap.ID).Debug("update for unknown airport")
			return
		}
		r.mergeAirport(ap)
	case gamemodel.TypeAirportShipmentAdded:
		ev, err := gamemodel.DecodeData[gamemodel.ShipmentEvent](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		r.addShipment(ev.AirportID, model.ShipmentFromWire(ev.Shipment))
	case gamemodel.TypeAirportShipmentRemoved:
		ev, err := gamemodel.DecodeData[gamemodel.ShipmentEvent](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		id := ev.ShipmentID
		if id == "" {
			id = ev.Shipment.ID
		}
		r.removeShipment(ev.AirportID, id, ShipmentRemoved)
	default:
		r.log.WithField("type", env.Type).Debug("unhandled airport message")
	}
}

// mergeAirport creates the airport or applies the fields present in ap.
// An occupancy change is reported on its own, apart from other field changes.
func (r *Reconciler) mergeAirport(ap gamemodel.AirportPayload) {
	if ap.ID == "" {
		r.log.Warn("airport payload without id")
		return
	}
	a, exists := r.airports[ap.ID]
	if !exists {
		a = &model.Airport{ID: ap.ID, Shipments: []model.Shipment{}}
		r.airports[ap.ID] = a
	}

	changed := false
	if ap.Name != nil {
		a.Name = *ap.Name
		changed = true
	}
	if ap.Location != nil {
		a.Location = ap.Location.Normalize()
		changed = true
	}
	if ap.Elevation != nil {
		a.Elevation = *ap.Elevation
		changed = true
	}
	if ap.Shipments != nil {
		for _, s := range a.Shipments {
			r.cancelExpiry(airportShipmentKey(a.ID, s.ID))
		}
		a.Shipments = model.ShipmentsFromWire(*ap.Shipments)
		for _, s := range a.Shipments {
			r.armAirportShipmentExpiry(a.ID, s)
		}
		changed = true
	}
	previous := a.OccupiedBy
	if ap.OccupiedBy != nil {
		a.OccupiedBy = *ap.OccupiedBy
	}

	if !exists {
		r.updateGauges()
		r.emit(Event{Kind: AirportAdded, AirportID: a.ID})
		return
	}
	if changed {
		r.emit(Event{Kind: AirportUpdated, AirportID: a.ID})
	}
	if a.OccupiedBy != previous {
		r.log.WithFields(logrus.Fields{"airport": a.ID, "from": previous, "to": a.OccupiedBy}).Debug("airport occupancy change")
		r.emit(Event{Kind: AirportOccupancyChanged, AirportID: a.ID, PlayerID: a.OccupiedBy, PreviousOccupant: previous})
	}
}

func (r *Reconciler) addShipment(airportID string, s model.Shipment) {
	a, ok := r.airports[airportID]
	if !ok {
		r.log.WithField("airport", airportID).Debug("shipment for unknown airport")
		return
	}
	replaced := false
	for i := range a.Shipments {
		if a.Shipments[i].ID == s.ID {
			a.Shipments[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		a.Shipments = append(a.Shipments, s)
	}
	r.cancelExpiry(airportShipmentKey(airportID, s.ID))
	r.emit(Event{Kind: ShipmentAdded, AirportID: airportID, ShipmentID: s.ID})
	r.armAirportShipmentExpiry(airportID, s)
}

func (r *Reconciler) removeShipment(airportID, shipmentID string, kind EventKind) {
	r.cancelExpiry(airportShipmentKey(airportID, shipmentID))
	a, ok := r.airports[airportID]
	if !ok {
		return
	}
	for i := range a.Shipments {
		if a.Shipments[i].ID == shipmentID {
			a.Shipments = append(a.Shipments[:i], a.Shipments[i+1:]...)
			r.emit(Event{Kind: kind, AirportID: airportID, ShipmentID: shipmentID})
			return
		}
	}
}

func airportShipmentKey(airportID, shipmentID string) string {
	return "airport/" + airportID + "/" + shipmentID
}

func playerShipmentKey(playerID string) string {
	return "player/" + playerID
}

// expiresIn is zero or negative once the shipment is already due.
func (r *Reconciler) expiresIn(s model.Shipment) time.Duration {
	return time.Duration(s.ExpiresAt-r.clock.CurrentTime()) * time.Millisecond
}

func (r *Reconciler) armAirportShipmentExpiry(airportID string, s model.Shipment) {
	if s.ExpiresAt <= 0 {
		return
	}
	key := airportShipmentKey(airportID, s.ID)
	d := r.expiresIn(s)
	if d <= 0 {
		r.removeShipment(airportID, s.ID, ShipmentExpired)
		return
	}
	r.expiry[key] = r.sched.AfterFunc(d, func() {
		delete(r.expiry, key)
		r.removeShipment(airportID, s.ID, ShipmentExpired)
	})
}

// armPlayerShipmentExpiry replaces any timer for the shipment carried by p.
func (r *Reconciler) armPlayerShipmentExpiry(p *model.Player) {
	key := playerShipmentKey(p.ID)
	r.cancelExpiry(key)
	if p.Shipment == nil || p.Shipment.ExpiresAt <= 0 {
		return
	}
	id := p.ID
	shipmentID := p.Shipment.ID
	expire := func() {
		pl, ok := r.players[id]
		if !ok || pl.Shipment == nil || pl.Shipment.ID != shipmentID {
			return
		}
		pl.Shipment = nil
		r.emit(Event{Kind: ShipmentExpired, PlayerID: id, ShipmentID: shipmentID})
	}
	d := r.expiresIn(*p.Shipment)
	if d <= 0 {
		expire()
		return
	}
	r.expiry[key] = r.sched.AfterFunc(d, func() {
		delete(r.expiry, key)
		expire()
	})
}

func (r *Reconciler) cancelExpiry(key string) {
	if t, ok := r.expiry[key]; ok {
		t.Stop()
		delete(r.expiry, key)
	}
}

// PendingExpiries is the number of armed shipment expiry timers.
func (r *Reconciler) PendingExpiries() int {
	return len(r.expiry)
}
