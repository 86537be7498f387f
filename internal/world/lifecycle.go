package world

import "github.com/curbz/skycargo/internal/model"

type trigger int

const (
	triggerCrash trigger = iota
	triggerRemove
	triggerCrashCompleted
	triggerRegistered
)

func (t trigger) String() string {
	switch t {
	case triggerCrash:
		return "crash"
	case triggerRemove:
		return "remove"
	case triggerCrashCompleted:
		return "crash_completed"
	case triggerRegistered:
		return "registered"
	}
	return "unknown"
}

// transition is the outcome of a trigger: either a new status or deletion.
type transition struct {
	to     model.Status
	delete bool
}

var lifecycle = map[model.Status]map[trigger]transition{
	model.Alive: {
		triggerCrash:  {to: model.Crashing},
		triggerRemove: {delete: true},
	},
	model.Crashing: {
		triggerRemove:         {to: model.PendingRemoval},
		triggerCrashCompleted: {to: model.Crashed},
	},
	model.Crashed: {
		triggerRemove:     {delete: true},
		triggerRegistered: {to: model.Alive},
	},
	model.PendingRemoval: {
		triggerCrashCompleted: {delete: true},
	},
}

// next looks up the transition for t. ok is false when t does not apply in s.
func next(s model.Status, t trigger) (transition, bool) {
	tr, ok := lifecycle[s][t]
	return tr, ok
}
