package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const helpLine = "Press Ctrl-D to quit, h to hang-up, r to toggle recording, < and > to adjust the echo cancellation"

const dtmfSymbols = "0123456789*#ABCD"

// sessionController is the single consumer of the event queue in call mode.
// It exclusively owns the call attempt, the ringer, the recording and the
// echo cancellation setting; producers only enqueue commands.
type sessionController struct {
	cfg    *Settings
	eng    Engine
	queue  *eventQueue
	out    io.Writer
	log    *logrus.Entry
	target string // outbound target URI, empty in answer mode

	inv        Invitation
	audio      AudioTransport
	ring       *ringer
	rec        Recorder
	otherAgent string
	ecTail     int
	wantQuit   bool
	printed    bool
	quit       bool

	done     chan struct{}
	abnormal bool
}

func newSessionController(cfg *Settings, eng Engine, queue *eventQueue, target string, out io.Writer, log *logrus.Entry) *sessionController {
	return &sessionController{
		cfg:      cfg,
		eng:      eng,
		queue:    queue,
		out:      out,
		log:      log,
		target:   target,
		ecTail:   cfg.ECTailLength(),
		wantQuit: target != "",
		done:     make(chan struct{}),
	}
}

// run drains the queue until quit. The completion channel is closed on every
// exit path; a fault at the loop boundary is logged with its stack and marks
// the run abnormal.
func (c *sessionController) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.abnormal = true
			c.log.Errorf("session controller fault: %v\n%s", r, debug.Stack())
			c.report("session controller fault: %v", r)
		}
	}()

	if err := c.start(); err != nil {
		c.report("Error: %v", err)
		c.abnormal = true
		return
	}
	for !c.quit {
		cmd, ok := c.queue.dequeue()
		if !ok {
			return
		}
		c.dispatch(cmd)
	}
}

// dispatch runs one command plus any follow-up it cascades into (hang-up
// falling through to unregister, unregister to quit).
func (c *sessionController) dispatch(cmd command) {
	next := &cmd
	for next != nil {
		next = c.handle(*next)
	}
}

func (c *sessionController) handle(cmd command) *command {
	switch cmd.kind {
	case cmdPrint:
		c.report("%s", cmd.data)
	case cmdEngineEvent:
		return c.handleEngineEvent(cmd.data)
	case cmdUserInput:
		return c.handleUserInput(cmd.data.(string))
	case cmdPlayWAV:
		if !c.cfg.DisableSound() {
			if err := c.eng.PlayWAV(cmd.data.(string)); err != nil {
				c.log.Warnf("failed to play %q: %v", cmd.data, err)
			}
		}
	case cmdEOF:
		c.wantQuit = true
		return &command{kind: cmdEnd}
	case cmdEnd:
		if c.inv != nil {
			if err := c.inv.Disconnect(); err != nil {
				c.log.Warnf("disconnect failed: %v", err)
				return &command{kind: cmdUnregister}
			}
			return nil
		}
		return &command{kind: cmdUnregister}
	case cmdUnregister:
		if c.target == "" && !c.cfg.PeerToPeer() {
			if err := c.eng.Unregister(); err != nil {
				c.log.Warnf("unregister failed: %v", err)
				return &command{kind: cmdQuit}
			}
			return nil // quit arrives with the unregistered event
		}
		return &command{kind: cmdQuit}
	case cmdQuit:
		c.quit = true
	}
	return nil
}

// start either dials out or arms for inbound sessions.
func (c *sessionController) start() error {
	if c.target != "" {
		audio, err := c.eng.NewAudioTransport(nil)
		if err != nil {
			return fmt.Errorf("audio transport: %w", err)
		}
		inv, err := c.eng.Invite(c.target)
		if err != nil {
			return fmt.Errorf("invite: %w", err)
		}
		if err := inv.SetLocalOffer(audio.LocalDescription()); err != nil {
			return fmt.Errorf("set local offer: %w", err)
		}
		if err := inv.Call(); err != nil {
			return fmt.Errorf("call: %w", err)
		}
		c.inv = inv
		c.audio = audio
		c.report("Call from %q to %q", inv.CallerURI(), inv.CalleeURI())
		c.report("%s", helpLine)
		return nil
	}
	if c.cfg.PeerToPeer() {
		c.report("Listening for direct sessions on %s", c.cfg.LocalAddress())
		c.report("%s", helpLine)
		c.report("Waiting for incoming SIP session requests...")
		return nil
	}
	c.report("Registering %q", c.cfg.SIPAddress())
	if err := c.eng.Register(c.cfg.RegisterExpires()); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (c *sessionController) handleEngineEvent(ev any) *command {
	switch e := ev.(type) {
	case RegistrationEvent:
		return c.handleRegistration(e)
	case InvitationEvent:
		return c.handleInvitation(e)
	default:
		c.log.Debugf("ignoring engine event %#v", ev)
	}
	return nil
}

func (c *sessionController) handleRegistration(e RegistrationEvent) *command {
	switch e.State {
	case RegStateRegistered:
		if !c.printed {
			c.report("REGISTER was successful")
			c.report("Contact: %s (expires in %d seconds)", e.Contact, e.Expires)
			for _, contact := range e.Contacts {
				if contact != e.Contact {
					c.report("Other registered contact: %s", contact)
				}
			}
			c.report("%s", helpLine)
			c.report("Waiting for incoming session...")
			c.printed = true
		}
	case RegStateUnregistered:
		// A non-success code here is fatal; the account layer owns retries.
		if e.Code/100 != 2 {
			c.report("Unregistered: %d %s", e.Code, e.Reason)
		}
		return &command{kind: cmdQuit}
	}
	return nil
}

func (c *sessionController) handleInvitation(e InvitationEvent) *command {
	if e.SDPDone && e.Inv == c.inv {
		if e.SDPOK {
			if err := c.audio.Start(c.inv.ActiveLocal(), c.inv.ActiveRemote()); err != nil {
				c.log.Errorf("failed to start audio: %v", err)
			} else {
				c.report("Media negotiation done, using %q codec at %dHz", c.audio.Codec(), c.audio.SampleRate())
				c.report("Audio RTP endpoints %s <-> %s", c.audio.LocalEndpoint(), c.audio.RemoteEndpoint())
			}
		} else {
			c.report("SDP negotiation failed")
			c.closeAudio()
			if err := c.inv.Disconnect(); err != nil {
				c.log.Warnf("disconnect after failed negotiation: %v", err)
			}
		}
	}

	switch e.State {
	case StateEarly:
		if ua, ok := e.Headers["User-Agent"]; ok {
			c.otherAgent = ua
		}
		if c.ring == nil {
			c.report("Ringing...")
			c.ring = startRinger(c.queue, c.target == "")
		}
	case StateIncoming:
		c.report("Incoming session...")
		return c.handleIncoming(e)
	case StateConfirmed:
		if e.PrevState != StateConfirmed && c.ring != nil {
			c.ring.stop()
			c.ring = nil
			if c.otherAgent != "" {
				c.report("Remote User Agent is %q", c.otherAgent)
			}
		}
	case StateDisconnected:
		if e.Inv == c.inv {
			return c.handleDisconnected(e)
		}
	}
	return nil
}

// handleIncoming accepts a lone inbound offer carrying exactly one audio
// media line and rejects everything else.
func (c *sessionController) handleIncoming(e InvitationEvent) *command {
	if c.inv != nil {
		c.report("Rejecting.")
		if err := e.Inv.Disconnect(); err != nil {
			c.log.Warnf("reject failed: %v", err)
		}
		return nil
	}
	remote := e.Inv.RemoteOffer()
	if remote == nil || len(remote.MediaDescriptions) != 1 || remote.MediaDescriptions[0].MediaName.Media != "audio" {
		c.report("Not an audio call, rejecting.")
		if err := e.Inv.Disconnect(); err != nil {
			c.log.Warnf("reject failed: %v", err)
		}
		return nil
	}
	c.inv = e.Inv
	if ua, ok := e.Headers["User-Agent"]; ok {
		c.otherAgent = ua
	}
	if c.ring == nil {
		c.ring = startRinger(c.queue, true)
	}
	if err := e.Inv.AcceptEarly(); err != nil {
		c.log.Warnf("early acknowledge failed: %v", err)
	}
	c.report("Incoming audio session from %q, do you want to accept? (y/n)", c.inv.CallerURI())
	return nil
}

// handleDisconnected performs the terminal cleanup: recording closed, ringer
// disarmed, final status reported, then either the quit cascade or a reset
// back to idle.
func (c *sessionController) handleDisconnected(e InvitationEvent) *command {
	c.closeRecording()
	c.closeAudio()
	if c.ring != nil {
		c.ring.stop()
		c.ring = nil
	}
	if e.Code != 0 && e.Code/100 != 2 {
		c.report("Session ended: %d %s", e.Code, e.Reason)
		if e.Code == 301 || e.Code == 302 {
			c.report("Received redirect request to %s", e.Headers["Contact"])
		}
	} else {
		c.report("Session ended")
	}
	if c.wantQuit {
		return &command{kind: cmdUnregister}
	}
	c.inv = nil
	c.otherAgent = ""
	return nil
}

// closeAudio releases the media transport and its socket.
func (c *sessionController) closeAudio() {
	if c.audio != nil {
		c.audio.Stop()
		c.audio = nil
	}
}

func (c *sessionController) handleUserInput(data string) *command {
	if data == "" {
		return nil
	}
	key := data[0]
	if c.inv != nil {
		switch {
		case key == 'h' || key == 'H':
			c.wantQuit = c.target != ""
			return &command{kind: cmdEnd}
		case strings.IndexByte(dtmfSymbols, key) >= 0:
			if c.audio != nil && c.audio.Started() {
				if err := c.audio.SendDTMF(key); err != nil {
					c.log.Warnf("DTMF send failed: %v", err)
				}
			}
		case key == 'r' || key == 'R':
			c.toggleRecording()
		case c.inv.State() == StateIncoming || c.inv.State() == StateEarly:
			switch key {
			case 'n', 'N':
				c.wantQuit = false
				return &command{kind: cmdEnd}
			case 'y', 'Y':
				c.acceptIncoming()
			}
		}
	} else if key == 'h' || key == 'H' {
		return &command{kind: cmdEnd}
	}
	switch key {
	case ',', '<':
		c.adjustECTail(-10)
	case '.', '>':
		c.adjustECTail(10)
	}
	return nil
}

// acceptIncoming builds a matching local description from the remote offer
// and begins the connect transition.
func (c *sessionController) acceptIncoming() {
	audio, err := c.eng.NewAudioTransport(c.inv.RemoteOffer())
	if err != nil {
		c.report("Error while trying to accept the session: %v", err)
		return
	}
	if err := c.inv.SetLocalOffer(audio.LocalDescription()); err != nil {
		c.report("Error while trying to accept the session: %v", err)
		return
	}
	if err := c.inv.Connect(); err != nil {
		c.report("Error while trying to accept the session: %v", err)
		return
	}
	c.audio = audio
}

func (c *sessionController) toggleRecording() {
	if c.rec != nil {
		c.closeRecording()
		return
	}
	src := c.inv.CallerURI()
	dst := c.inv.CalleeURI()
	dir := filepath.Join(c.cfg.HistoryDirectory(), c.cfg.AccountID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.report("Error while trying to record file: %v", err)
		return
	}
	name := fmt.Sprintf("%s-%s-%s.wav", time.Now().Format("20060102-150405"), sanitizeIdentity(src), sanitizeIdentity(dst))
	rec, err := c.eng.RecordWAV(filepath.Join(dir, name))
	if err != nil {
		c.report("Error while trying to record file: %v", err)
		return
	}
	c.rec = rec
	c.report("Recording audio to %q", rec.Path())
}

func (c *sessionController) closeRecording() {
	if c.rec == nil {
		return
	}
	path := c.rec.Path()
	if err := c.rec.Stop(); err != nil {
		c.log.Warnf("failed to close recording %q: %v", path, err)
	}
	c.report("Stopped recording audio to %q", path)
	c.rec = nil
}

// adjustECTail clamps the tail length to [0, 500] ms and reconfigures the
// sound devices only when the value actually changes.
func (c *sessionController) adjustECTail(delta int) {
	v := c.ecTail + delta
	if v < 0 {
		v = 0
	}
	if v > 500 {
		v = 500
	}
	if v != c.ecTail {
		c.ecTail = v
		if err := c.eng.SetECTail(v); err != nil {
			c.log.Warnf("failed to set EC tail: %v", err)
		}
	}
	c.report("Set echo cancellation tail length to %d ms", c.ecTail)
}

func (c *sessionController) report(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}
