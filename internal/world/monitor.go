package world

import (
	"github.com/sirupsen/logrus"

	"github.com/curbz/skycargo/internal/fuel"
	"github.com/curbz/skycargo/internal/model"
)

// StartMonitor arms the periodic check of the local plane's fuel and nearest
// airport. Calling it again restarts the period.
func (r *Reconciler) StartMonitor() {
	r.StopMonitor()
	r.monitor = r.sched.AfterFunc(r.cfg.MonitorInterval, r.monitorTick)
}

func (r *Reconciler) StopMonitor() {
	if r.monitor != nil {
		r.monitor.Stop()
		r.monitor = nil
	}
}

func (r *Reconciler) monitorTick() {
	r.monitor = r.sched.AfterFunc(r.cfg.MonitorInterval, r.monitorTick)
	r.CheckLocalPlane()
}

// CheckLocalPlane recomputes fuel state and the nearest airport for the local
// plane. An airborne plane that runs dry starts crashing.
func (r *Reconciler) CheckLocalPlane() {
	p, ok := r.players[r.localID]
	if !ok || !p.HasPosition || p.Status != model.Alive {
		return
	}
	plane := r.extrapolate(p, r.clock.CurrentTime())

	if !plane.Grounded() && fuel.IsEmpty(plane.TankLevel) {
		r.log.WithFields(logrus.Fields{"player": p.ID, "lat": plane.Coordinates.Lat, "lon": plane.Coordinates.Lon}).Warn("out of fuel")
		p.Plane = plane
		r.fuelLow = false
		r.fire(p.ID, triggerCrash)
		return
	}

	low := fuel.IsLow(plane.TankLevel, r.cfg.TankCapacity, r.cfg.LowFuelPercent)
	if low && !r.fuelLow {
		r.emit(Event{Kind: FuelLow, PlayerID: p.ID, Status: p.Status})
	}
	r.fuelLow = low

	nearest := r.NearestAirports(plane.Coordinates, r.cfg.ProximityCount)
	if len(nearest) > 0 && nearest[0].ID != r.nearestID {
		r.nearestID = nearest[0].ID
		r.emit(Event{Kind: NearestAirportChanged, PlayerID: p.ID, AirportID: r.nearestID})
	}
}
