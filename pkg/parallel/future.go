package parallel

import (
	"fmt"
	"sync/atomic"
	"time"
)

type State int32

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// future is the settlement of one stage. It transitions out of Pending
// exactly once; a second settlement is a bug and panics.
type future struct {
	state    atomic.Int32
	done     chan struct{}
	value    any
	err      error
	observed atomic.Bool

	unhandled func(error)
	delay     time.Duration
}

func newFuture(unhandled func(error), delay time.Duration) *future {
	return &future{
		done:      make(chan struct{}),
		unhandled: unhandled,
		delay:     delay,
	}
}

func (f *future) fulfill(v any) {
	f.settle(Fulfilled, v, nil)
}

// reject settles f with err. If nothing observes f within the unhandled
// delay, the unhandled hook receives err.
func (f *future) reject(err error) {
	f.settle(Rejected, nil, err)
	if f.unhandled != nil {
		time.AfterFunc(f.delay, func() {
			if !f.observed.Load() {
				f.unhandled(err)
			}
		})
	}
}

func (f *future) settle(state State, v any, err error) {
	if !f.state.CompareAndSwap(int32(Pending), int32(state)) {
		panic(fmt.Sprintf("parallel: stage settled twice (%s, then %s)", State(f.state.Load()), state))
	}
	f.value = v
	f.err = err
	close(f.done)
}

func (f *future) observe() {
	f.observed.Store(true)
}

// result blocks until f settles.
func (f *future) result() (any, error) {
	<-f.done
	return f.value, f.err
}
