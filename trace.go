package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"
)

// traceLogger appends raw protocol packets to a per-account trace file. It is
// fed directly from the engine callback context, bypassing the event queue,
// because trace volume would otherwise dominate it. The file is opened lazily
// on the first packet; if the open fails, the failure is reported once and
// tracing stays off for the rest of the run.
type traceLogger struct {
	path     string
	log      *logrus.Entry
	disabled *abool.AtomicBool

	mu      sync.Mutex
	file    *os.File
	packets int
	start   time.Time
}

func newTraceLogger(path string, log *logrus.Entry) *traceLogger {
	return &traceLogger{path: path, log: log, disabled: abool.New()}
}

// record writes one packet entry. Safe from the engine callback goroutine.
func (t *traceLogger) record(ev TraceEvent) {
	if t.disabled.IsSet() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err == nil {
			t.file, err = os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				t.fail(err)
				return
			}
		} else {
			t.fail(err)
			return
		}
		t.start = ev.Timestamp
	}

	t.packets++
	direction := "SENDING"
	if ev.Received {
		direction = "RECEIVED"
	}
	fmt.Fprintf(t.file, "%s: Packet %d, +%s\n", direction, t.packets, ev.Timestamp.Sub(t.start))
	fmt.Fprintf(t.file, "%s: %s --> %s\n", ev.Timestamp.Format("2006-01-02 15:04:05.000"), ev.Source, ev.Destination)
	t.file.Write(ev.Data)
	fmt.Fprintf(t.file, "\n--\n")
}

// fail reports the open error once and disables tracing for this run.
func (t *traceLogger) fail(err error) {
	if t.disabled.SetToIf(false, true) {
		t.log.Warnf("failed to create trace file %q: %v", t.path, err)
	}
}

func (t *traceLogger) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
