package world

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/model"
	"github.com/curbz/skycargo/internal/velocity"
	"github.com/curbz/skycargo/pkg/geometry"
)

// ChangeBearing turns the local plane by delta degrees.
func (r *Reconciler) ChangeBearing(delta float64) error {
	return r.localAction("change_bearing", true, func(p *model.PlaneState) error {
		p.Bearing = geometry.NormalizeBearing(p.Bearing + delta)
		return nil
	})
}

// ChangeVelocity steps the local plane's velocity up or down one notch.
func (r *Reconciler) ChangeVelocity(accelerate bool) error {
	return r.localAction("change_velocity", true, func(p *model.PlaneState) error {
		p.Velocity = velocity.Step(r.cfg.Velocity, p.Velocity, accelerate)
		return nil
	})
}

// TakeOff leaves the airport the local plane is parked at.
func (r *Reconciler) TakeOff() error {
	return r.localAction("take_off", false, func(p *model.PlaneState) error {
		if !p.Grounded() {
			return fmt.Errorf("%w: already airborne", ErrActionBlocked)
		}
		if a, ok := r.airports[p.AirportID]; ok {
			p.Coordinates = a.Location
		}
		p.AirportID = ""
		p.Velocity = max(p.Velocity, r.cfg.Velocity.Min)
		return nil
	})
}

// Land parks the local plane at the nearest airport when it is landable.
func (r *Reconciler) Land() error {
	return r.localAction("land", false, func(p *model.PlaneState) error {
		if p.Grounded() {
			return fmt.Errorf("%w: already on the ground", ErrActionBlocked)
		}
		nearest := r.NearestAirports(p.Coordinates, 1)
		if len(nearest) == 0 || !nearest[0].IsNearestAndLandable {
			return ErrNotLandable
		}
		p.AirportID = nearest[0].ID
		p.Coordinates = nearest[0].Location
		p.Velocity = 0
		return nil
	})
}

// localAction snapshots the extrapolated local plane, applies mutate, stamps
// it with the current time and tells the server. Grounded planes may only run
// actions that are not airborneOnly.
func (r *Reconciler) localAction(name string, airborneOnly bool, mutate func(*model.PlaneState) error) error {
	p, ok := r.players[r.localID]
	if !ok || !p.HasPosition {
		return ErrUnknownPlayer
	}
	if p.Status != model.Alive || !p.Connected || r.linkDown || (airborneOnly && p.Plane.Grounded()) {
		return r.reject(name, p, ErrActionBlocked)
	}

	now := r.clock.CurrentTime()
	plane := r.extrapolate(p, now)
	if err := mutate(&plane); err != nil {
		return r.reject(name, p, err)
	}
	plane.Timestamp = now
	p.Plane = plane

	r.emit(Event{Kind: LocalPlaneChanged, PlayerID: p.ID, Status: p.Status})
	r.sender.Send(gamemodel.TypePositionUpdateRequest, plane.Wire())
	return nil
}

func (r *Reconciler) reject(name string, p *model.Player, err error) error {
	r.metrics.LocalActionsRejected.WithLabelValues(name).Inc()
	r.log.WithFields(logrus.Fields{
		"action":    name,
		"status":    p.Status,
		"grounded":  p.Plane.Grounded(),
		"connected": p.Connected,
		"link_down": r.linkDown,
	}).Debug("local action rejected")
	return err
}
