package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterQueuesStateEvents(t *testing.T) {
	q := newEventQueue()
	a := newEventAdapter(q, nil, false, false)

	a.handle(RegistrationEvent{State: RegStateRegistered, Code: 200})
	cmds := drain(q)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmdEngineEvent, cmds[0].kind)
	assert.Equal(t, RegStateRegistered, cmds[0].data.(RegistrationEvent).State)
}

func TestAdapterDropsLogsUnlessTracing(t *testing.T) {
	q := newEventQueue()
	ev := LogEvent{Timestamp: time.Now(), Level: 4, Source: "transport", Message: "resolving"}

	newEventAdapter(q, nil, false, false).handle(ev)
	assert.Empty(t, drain(q))

	newEventAdapter(q, nil, false, true).handle(ev)
	cmds := drain(q)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmdPrint, cmds[0].kind)
	assert.Contains(t, cmds[0].data.(string), "transport: resolving")
}

func TestAdapterTraceBypassesQueue(t *testing.T) {
	q := newEventQueue()
	path := filepath.Join(t.TempDir(), "log", "sip_trace.txt")
	trace := newTraceLogger(path, testLog())
	defer trace.close()
	a := newEventAdapter(q, trace, true, false)

	start := time.Now()
	a.handle(TraceEvent{
		Received:    true,
		Timestamp:   start,
		Source:      "10.0.0.2:5060",
		Destination: "10.0.0.1:5060",
		Data:        []byte("OPTIONS sip:alice@example.com SIP/2.0\r\n"),
	})
	a.handle(TraceEvent{
		Timestamp:   start.Add(20 * time.Millisecond),
		Source:      "10.0.0.1:5060",
		Destination: "10.0.0.2:5060",
		Data:        []byte("SIP/2.0 200 OK\r\n"),
	})
	assert.Empty(t, drain(q))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "RECEIVED: Packet 1, +0s")
	assert.Contains(t, out, "SENDING: Packet 2, +20ms")
	assert.Contains(t, out, "10.0.0.2:5060 --> 10.0.0.1:5060")
	assert.Contains(t, out, "OPTIONS sip:alice@example.com SIP/2.0")
}

func TestAdapterTraceDisabledAfterOpenFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	// the parent of the trace path is a regular file, MkdirAll must fail
	trace := newTraceLogger(filepath.Join(blocker, "sip_trace.txt"), testLog())
	defer trace.close()

	trace.record(TraceEvent{Timestamp: time.Now(), Data: []byte("x")})
	assert.True(t, trace.disabled.IsSet())
}
