package main

import "sync"

// commandKind enumerates the closed set of commands a controller consumes.
type commandKind int

const (
	cmdPrint commandKind = iota + 1
	cmdEngineEvent
	cmdUserInput
	cmdPlayWAV
	cmdEOF
	cmdEnd
	cmdUnregister
	cmdQuit
)

// command is one queue entry: a tag plus an opaque payload owned by the
// producer until dequeued.
type command struct {
	kind commandKind
	data any
}

// eventQueue is an unbounded multi-producer/single-consumer FIFO.
//
// Producers (terminal reader, ringback timer, engine callbacks) enqueue
// without blocking; the single controller loop blocks in dequeue. The queue
// is unbounded so the engine callback context never stalls behind a slow
// consumer. A buffered signal channel of size 1 coalesces wakeups.
type eventQueue struct {
	mu     sync.Mutex
	items  []command
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]command, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue appends cmd. Safe to call from any goroutine. Returns false once
// the queue has been closed.
func (q *eventQueue) enqueue(cmd command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// dequeue removes and returns the head entry, blocking until one is
// available. Returns ok=false only when the queue is closed and drained.
func (q *eventQueue) dequeue() (command, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, true
		}
		if q.closed {
			q.mu.Unlock()
			return command{}, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}

// close releases a blocked consumer after the remaining entries drain.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
