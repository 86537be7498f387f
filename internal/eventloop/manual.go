package eventloop

import "time"

// Manual is a deterministic Scheduler driven by Advance. It also acts as the
// wall clock for components that take one, so a test can move time and fire
// timers in a single call.
type Manual struct {
	start  time.Time
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{start: start}
}

func (m *Manual) Now() time.Time {
	return m.start.Add(m.now)
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.m.remove(t)
	return true
}

// Advance moves time forward by d, firing due timers in deadline order.
// Timers armed by a callback fire in the same call when they fall due.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.stopped = true
		m.remove(next)
		next.fn()
	}
	m.now = target
}

// Pending is the number of armed timers.
func (m *Manual) Pending() int {
	return len(m.timers)
}

func (m *Manual) nextDue(limit time.Duration) *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if t.at > limit {
			continue
		}
		if best == nil || t.at < best.at || t.at == best.at && t.seq < best.seq {
			best = t
		}
	}
	return best
}

func (m *Manual) remove(t *manualTimer) {
	for i, x := range m.timers {
		if x == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}
