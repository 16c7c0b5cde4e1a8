package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"
	"golang.org/x/sys/unix"
)

const keyEOT = 0x04 // Ctrl-D

// terminalReader feeds raw keystrokes into the event queue. Stdin is switched
// to non-canonical, no-echo mode for the lifetime of the reader and restored
// on every exit path. The blocking read is cancellable: a select(2) over the
// stdin descriptor and an internal pipe lets close release the reader
// goroutine deterministically instead of relying on a process signal.
type terminalReader struct {
	queue   *eventQueue
	log     *logrus.Entry
	fd      int
	saved   *unix.Termios
	cancelR *os.File
	cancelW *os.File
	eofSent *abool.AtomicBool
	done    chan struct{}
}

func newTerminalReader(queue *eventQueue, log *logrus.Entry) (*terminalReader, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	t := &terminalReader{
		queue:   queue,
		log:     log,
		fd:      int(os.Stdin.Fd()),
		cancelR: r,
		cancelW: w,
		eofSent: abool.New(),
		done:    make(chan struct{}),
	}
	t.makeRaw()
	go t.run()
	return t, nil
}

// makeRaw disables canonical mode and echo, keeping signal generation so a
// Ctrl-C still raises SIGINT. A non-tty stdin is left untouched.
func (t *terminalReader) makeRaw() {
	saved, err := unix.IoctlGetTermios(t.fd, unix.TCGETS)
	if err != nil {
		return
	}
	t.saved = saved
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(t.fd, unix.TCSETS, &raw); err != nil {
		t.log.Warnf("failed to set raw terminal mode: %v", err)
	}
}

// restore puts the terminal back into its original mode. Idempotent.
func (t *terminalReader) restore() {
	if t.saved != nil {
		unix.IoctlSetTermios(t.fd, unix.TCSETS, t.saved)
		t.saved = nil
	}
}

func (t *terminalReader) run() {
	defer close(t.done)
	buf := make([]byte, 10)
	for {
		if !t.wait() {
			return
		}
		n, err := unix.Read(t.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			t.log.Warnf("stdin read failed: %v", err)
			return
		}
		if n == 0 {
			t.emitEOF()
			return
		}
		t.emit(buf[:n])
	}
}

// wait blocks until stdin is readable or the cancel pipe fires. Returns false
// on cancellation.
func (t *terminalReader) wait() bool {
	cancelFD := int(t.cancelR.Fd())
	for {
		var fds unix.FdSet
		fds.Set(t.fd)
		fds.Set(cancelFD)
		nfds := t.fd
		if cancelFD > nfds {
			nfds = cancelFD
		}
		n, err := unix.Select(nfds+1, &fds, nil, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return false
		}
		if fds.IsSet(cancelFD) {
			return false
		}
		if fds.IsSet(t.fd) {
			return true
		}
	}
}

// emit splits EOT bytes out of a burst in input order: keystrokes before the
// EOT are flushed first, the first EOT latches a single eof command, further
// ones are dropped, and the remainder is forwarded verbatim.
func (t *terminalReader) emit(buf []byte) {
	plain := make([]byte, 0, len(buf))
	flush := func() {
		if len(plain) > 0 {
			t.queue.enqueue(command{kind: cmdUserInput, data: string(plain)})
			plain = plain[:0]
		}
	}
	for _, b := range buf {
		if b == keyEOT {
			flush()
			t.emitEOF()
			continue
		}
		plain = append(plain, b)
	}
	flush()
}

func (t *terminalReader) emitEOF() {
	if t.eofSent.SetToIf(false, true) {
		t.queue.enqueue(command{kind: cmdEOF})
	}
}

// close cancels the blocked read, waits for the goroutine to exit and
// restores the terminal.
func (t *terminalReader) close() {
	t.cancelW.Write([]byte{0})
	<-t.done
	t.cancelW.Close()
	t.cancelR.Close()
	t.restore()
}
