package main

import (
	"time"

	"github.com/tevino/abool"
)

const ringInterval = 5 * time.Second

// ringer periodically enqueues a play_wav command until stopped. Stopping is
// cooperative: the flag is checked before each emission and before each
// sleep, so an emission already handed to the queue may still be played once.
type ringer struct {
	queue    *eventQueue
	inbound  bool
	interval time.Duration
	stopped  *abool.AtomicBool
}

// startRinger creates a ringer and starts its timer goroutine.
func startRinger(queue *eventQueue, inbound bool) *ringer {
	r := &ringer{
		queue:    queue,
		inbound:  inbound,
		interval: ringInterval,
		stopped:  abool.New(),
	}
	go r.run()
	return r
}

func (r *ringer) run() {
	clip := "ring_outbound.wav"
	if r.inbound {
		clip = "ring_inbound.wav"
	}
	for {
		if r.stopped.IsSet() {
			return
		}
		r.queue.enqueue(command{kind: cmdPlayWAV, data: clip})
		if r.stopped.IsSet() {
			return
		}
		time.Sleep(r.interval)
	}
}

// stop disarms the ringer. Idempotent.
func (r *ringer) stop() {
	r.stopped.Set()
}
