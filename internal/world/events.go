package world

import "github.com/curbz/skycargo/internal/model"

type EventKind int

const (
	PlayerAdded EventKind = iota
	PlayerUpdated
	PlayerMoved
	PlayerStatusChanged
	PlayerRemoved
	LocalPlaneChanged
	AirportAdded
	AirportUpdated
	AirportOccupancyChanged
	ShipmentAdded
	ShipmentRemoved
	ShipmentExpired
	FuelLow
	NearestAirportChanged
)

var eventKindNames = map[EventKind]string{
	PlayerAdded:             "player_added",
	PlayerUpdated:           "player_updated",
	PlayerMoved:             "player_moved",
	PlayerStatusChanged:     "player_status_changed",
	PlayerRemoved:           "player_removed",
	LocalPlaneChanged:       "local_plane_changed",
	AirportAdded:            "airport_added",
	AirportUpdated:          "airport_updated",
	AirportOccupancyChanged: "airport_occupancy_changed",
	ShipmentAdded:           "shipment_added",
	ShipmentRemoved:         "shipment_removed",
	ShipmentExpired:         "shipment_expired",
	FuelLow:                 "fuel_low",
	NearestAirportChanged:   "nearest_airport_changed",
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event describes one change. Only the ids relevant to Kind are set.
type Event struct {
	Kind       EventKind
	PlayerID   string
	AirportID  string
	ShipmentID string
	Status     model.Status
	// previous occupant for AirportOccupancyChanged
	PreviousOccupant string
}

type observer struct {
	id int
	fn func(Event)
}

// Subscribe registers fn for every change. Observers run synchronously in
// registration order before the mutating call returns.
func (r *Reconciler) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.nextObsID++
	id := r.nextObsID
	r.observers = append(r.observers, observer{id: id, fn: fn})
	return func() {
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Reconciler) emit(ev Event) {
	for _, o := range r.observers {
		o.fn(ev)
	}
}
