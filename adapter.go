package main

import "fmt"

// eventAdapter reshapes engine callbacks into queue commands. It runs on the
// engine's callback goroutine and never blocks: state events are enqueued for
// the controller, traces go straight to the trace file, and diagnostic lines
// are queued only when engine tracing is on.
type eventAdapter struct {
	queue       *eventQueue
	trace       *traceLogger
	traceSIP    bool
	traceEngine bool
}

func newEventAdapter(queue *eventQueue, trace *traceLogger, traceSIP, traceEngine bool) *eventAdapter {
	return &eventAdapter{queue: queue, trace: trace, traceSIP: traceSIP, traceEngine: traceEngine}
}

// handle implements EventFunc.
func (a *eventAdapter) handle(ev any) {
	switch e := ev.(type) {
	case TraceEvent:
		if a.traceSIP && a.trace != nil {
			a.trace.record(e)
		}
	case LogEvent:
		if a.traceEngine {
			line := fmt.Sprintf("%s (%d) %14s: %s",
				e.Timestamp.Format("15:04:05.000"), e.Level, e.Source, e.Message)
			a.queue.enqueue(command{kind: cmdPrint, data: line})
		}
	default:
		a.queue.enqueue(command{kind: cmdEngineEvent, data: ev})
	}
}
