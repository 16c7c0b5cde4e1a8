package main

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tevino/abool"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("name", "test")
}

func newTestTerminal(q *eventQueue) *terminalReader {
	return &terminalReader{queue: q, log: testLog(), eofSent: abool.New()}
}

func drain(q *eventQueue) []command {
	var cmds []command
	q.mu.Lock()
	cmds = append(cmds, q.items...)
	q.items = nil
	q.mu.Unlock()
	return cmds
}

func TestTerminalEmitVerbatim(t *testing.T) {
	q := newEventQueue()
	tr := newTestTerminal(q)

	tr.emit([]byte("hy"))
	cmds := drain(q)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmdUserInput, cmds[0].kind)
	assert.Equal(t, "hy", cmds[0].data)
}

func TestTerminalEOFOnce(t *testing.T) {
	q := newEventQueue()
	tr := newTestTerminal(q)

	// keystrokes before the EOT keep their place in the command stream
	tr.emit([]byte{'a', keyEOT, 'b'})
	cmds := drain(q)
	require.Len(t, cmds, 3)
	assert.Equal(t, cmdUserInput, cmds[0].kind)
	assert.Equal(t, "a", cmds[0].data)
	assert.Equal(t, cmdEOF, cmds[1].kind)
	assert.Equal(t, "b", cmds[2].data)

	// further EOT bytes are ignored, other input still flows
	tr.emit([]byte{keyEOT})
	tr.emit([]byte{'h'})
	cmds = drain(q)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmdUserInput, cmds[0].kind)
	assert.Equal(t, "h", cmds[0].data)
}
