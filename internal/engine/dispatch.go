package engine

import "sync"

// dispatcher serializes listener callbacks onto a single goroutine.
//
// Push events, poll completions and user actions all want to notify the
// listener; funneling the callbacks through one queue keeps their order
// deterministic and keeps listener code free of locking.
type dispatcher struct {
	stopOnce sync.Once
	q        chan func()
	done     chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for {
		select {
		case fn := <-d.q:
			if fn != nil {
				fn()
			}
		case <-d.done:
			return
		}
	}
}

// do queues fn; callbacks queued after stop are dropped, and a full queue
// drops the callback rather than blocking an event source.
func (d *dispatcher) do(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.q <- fn:
	default:
	}
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
}
