package electrum

import "sync"

// eventQueue is an unbounded FIFO of listener invocations run by a single
// goroutine. Pushing never blocks, so the client loop can hand events over
// while listeners are free to call back into the client.
type eventQueue struct {
	lock    *sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	chDone  chan struct{}
}

func newEventQueue() *eventQueue {
	lock := &sync.Mutex{}
	q := &eventQueue{
		lock:   lock,
		cond:   sync.NewCond(lock),
		queue:  make([]func(), 0),
		chDone: make(chan struct{}),
	}
	go q.run()
	return q
}

// push is a no-op once the queue is stopped.
func (q *eventQueue) push(fn func()) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.stopped {
		return
	}
	q.queue = append(q.queue, fn)
	q.cond.Signal()
}

// flush waits for every event pushed so far to be run. It must not be called
// from a listener.
func (q *eventQueue) flush() {
	done := make(chan struct{})
	q.push(func() { close(done) })
	select {
	case <-done:
	case <-q.chDone:
	}
}

// stop discards the pending events and terminates the dispatcher once the
// running one, if any, returns.
func (q *eventQueue) stop() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.stopped = true
	q.queue = nil
	q.cond.Signal()
}

func (q *eventQueue) run() {
	defer close(q.chDone)

	for {
		q.lock.Lock()
		for len(q.queue) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.lock.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.lock.Unlock()

		fn()
	}
}
