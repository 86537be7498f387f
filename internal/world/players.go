package world

import (
	"github.com/sirupsen/logrus"

	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/model"
)

// HandlePlayer consumes the player stream.
func (r *Reconciler) HandlePlayer(env gamemodel.Envelope) {
	switch env.Type {
	case gamemodel.TypePlayerRoster:
		roster, err := gamemodel.DecodeData[[]gamemodel.PlayerPayload](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		for _, pp := range roster {
			r.mergePlayer(pp, false)
		}
	case gamemodel.TypePlayerRegistered:
		pp, err := gamemodel.DecodeData[gamemodel.PlayerPayload](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		r.mergePlayer(pp, true)
	case gamemodel.TypePlayerUpdated:
		pp, err := gamemodel.DecodeData[gamemodel.PlayerPayload](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		r.updatePlayer(pp)
	case gamemodel.TypePlayerConnected, gamemodel.TypePlayerDisconnected:
		ref, err := gamemodel.DecodeData[gamemodel.PlayerRef](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		r.setConnected(ref.ID, env.Type == gamemodel.TypePlayerConnected)
	case gamemodel.TypePlayerCrashed:
		ref, err := gamemodel.DecodeData[gamemodel.PlayerRef](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		r.fire(ref.ID, triggerCrash)
	case gamemodel.TypePlayerRemoved:
		ref, err := gamemodel.DecodeData[gamemodel.PlayerRef](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		r.fire(ref.ID, triggerRemove)
	default:
		r.log.WithField("type", env.Type).Debug("unhandled player message")
	}
}

// HandlePosition consumes the player_position stream under the ordering rule.
func (r *Reconciler) HandlePosition(env gamemodel.Envelope) {
	switch env.Type {
	case gamemodel.TypePositionUpdated:
		u, err := gamemodel.DecodeData[gamemodel.PositionUpdate](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		r.applyPosition(u.ID, u.Position)
	case gamemodel.TypePositionRoster:
		us, err := gamemodel.DecodeData[[]gamemodel.PositionUpdate](env)
		if err != nil {
			r.malformed(env, err)
			return
		}
		for _, u := range us {
			r.applyPosition(u.ID, u.Position)
		}
	default:
		r.log.WithField("type", env.Type).Debug("unhandled position message")
	}
}

// CrashCompleted signals the end of a crash animation for id.
func (r *Reconciler) CrashCompleted(id string) {
	r.fire(id, triggerCrashCompleted)
}

func (r *Reconciler) malformed(env gamemodel.Envelope, err error) {
	r.metrics.MessagesMalformed.Inc()
	r.log.WithError(err).WithField("type", env.Type).Warn("discarding malformed payload")
}

// mergePlayer creates the player or merges into the existing one without
// touching its predicted plane unless the ordering rule allows it.
func (r *Reconciler) mergePlayer(pp gamemodel.PlayerPayload, registered bool) {
	if pp.ID == "" {
		r.log.Warn("player payload without id")
		return
	}
	p, exists := r.players[pp.ID]
	if !exists {
		p = &model.Player{ID: pp.ID, Status: model.Alive, Connected: true}
		r.players[pp.ID] = p
	}

	r.applyFields(p, pp)
	if pp.Connected != nil {
		p.Connected = *pp.Connected
	}
	if pp.Position != nil {
		if !exists {
			p.Plane = model.PlaneFromWire(*pp.Position)
			p.HasPosition = true
		} else {
			r.applyPosition(pp.ID, *pp.Position)
		}
	}

	if !exists {
		r.updateGauges()
		r.log.WithFields(logrus.Fields{"player": p.ID, "nickname": p.Nickname}).Debug("player added")
		r.emit(Event{Kind: PlayerAdded, PlayerID: p.ID, Status: p.Status})
		return
	}
	if registered {
		r.fire(p.ID, triggerRegistered)
	}
	r.emit(Event{Kind: PlayerUpdated, PlayerID: p.ID, Status: p.Status})
}

// updatePlayer touches only the fields present in the payload.
func (r *Reconciler) updatePlayer(pp gamemodel.PlayerPayload) {
	p, ok := r.players[pp.ID]
	if !ok {
		r.log.WithField("player", pp.ID).Debug("update for unknown player")
		return
	}
	r.applyFields(p, pp)
	if pp.Connected != nil {
		p.Connected = *pp.Connected
	}
	r.emit(Event{Kind: PlayerUpdated, PlayerID: p.ID, Status: p.Status})
	if pp.Position != nil {
		r.applyPosition(pp.ID, *pp.Position)
	}
}

func (r *Reconciler) applyFields(p *model.Player, pp gamemodel.PlayerPayload) {
	if pp.Nickname != nil {
		p.Nickname = normalizeNickname(*pp.Nickname)
	}
	if pp.Score != nil {
		p.Score = *pp.Score
	}
	sh, present, err := model.DecodeShipment(pp.Shipment)
	if err != nil {
		r.log.WithError(err).WithField("player", p.ID).Warn("ignoring carried shipment")
		return
	}
	if present {
		p.Shipment = sh
		r.armPlayerShipmentExpiry(p)
	}
}

func (r *Reconciler) setConnected(id string, connected bool) {
	p, ok := r.players[id]
	if !ok {
		r.log.WithField("player", id).Debug("connectivity change for unknown player")
		return
	}
	if p.Connected == connected {
		return
	}
	p.Connected = connected
	r.emit(Event{Kind: PlayerUpdated, PlayerID: id, Status: p.Status})
}

// applyPosition applies an inbound position when it is not older than the
// last applied one, or unconditionally when the plane is not extrapolated
// (grounded, crashing, crashed), where the server is authoritative.
func (r *Reconciler) applyPosition(id string, w gamemodel.PlanePosition) {
	p, ok := r.players[id]
	if !ok {
		r.log.WithField("player", id).Debug("position for unknown player")
		return
	}
	authoritative := p.Plane.Grounded() || p.Status != model.Alive
	if p.HasPosition && w.Timestamp < p.Plane.Timestamp && !authoritative {
		r.metrics.StaleUpdatesDropped.WithLabelValues("player").Inc()
		r.log.WithFields(logrus.Fields{
			"player":   id,
			"incoming": w.Timestamp,
			"applied":  p.Plane.Timestamp,
		}).Debug("dropping stale position")
		return
	}
	p.Plane = model.PlaneFromWire(w)
	p.HasPosition = true
	r.emit(Event{Kind: PlayerMoved, PlayerID: id, Status: p.Status})
}

// fire runs the lifecycle trigger t for player id.
func (r *Reconciler) fire(id string, t trigger) {
	p, ok := r.players[id]
	if !ok {
		r.log.WithFields(logrus.Fields{"player": id, "trigger": t}).Debug("lifecycle trigger for unknown player")
		return
	}
	tr, ok := next(p.Status, t)
	if !ok {
		r.log.WithFields(logrus.Fields{"player": id, "status": p.Status, "trigger": t}).Debug("ignoring lifecycle trigger")
		return
	}
	if tr.delete {
		r.removePlayer(id)
		return
	}
	r.log.WithFields(logrus.Fields{"player": id, "from": p.Status, "to": tr.to}).Debug("player status change")
	p.Status = tr.to
	r.emit(Event{Kind: PlayerStatusChanged, PlayerID: id, Status: p.Status})
}

func (r *Reconciler) removePlayer(id string) {
	delete(r.players, id)
	r.cancelExpiry(playerShipmentKey(id))
	r.updateGauges()
	r.log.WithField("player", id).Debug("player removed")
	r.emit(Event{Kind: PlayerRemoved, PlayerID: id})
}
