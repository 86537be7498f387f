package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/curbz/skycargo/internal/logging"
	"github.com/sirupsen/logrus"
)

// Timer is a cancellable delayed call. Stop reports whether it prevented the call.
type Timer interface {
	Stop() bool
}

// Scheduler arms delayed calls that run on the event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop runs every posted function and every timer callback on a single
// goroutine, so the state they touch needs no locking.
type Loop struct {
	inbox    chan func()
	quit     chan struct{}
	stopOnce sync.Once
	log      *logrus.Entry
}

func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		inbox: make(chan func(), buffer),
		quit:  make(chan struct{}),
		log:   logging.For("eventloop"),
	}
}

// Post queues fn to run on the loop. It is safe from any goroutine and
// returns false once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Run processes posted functions until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			return nil
		case fn := <-l.inbox:
			l.dispatch(fn)
		}
	}
}

func (l *Loop) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("recovered from panic in loop callback")
		}
	}()
	fn()
}

func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

type loopTimer struct {
	t    *time.Timer
	done atomic.Bool
}

// AfterFunc runs fn on the loop after d unless the returned timer is stopped first.
// A timer stopped after it fired but before the loop got to it still never runs.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.done.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return lt
}

func (lt *loopTimer) Stop() bool {
	lt.t.Stop()
	return lt.done.CompareAndSwap(false, true)
}
