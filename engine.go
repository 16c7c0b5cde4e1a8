package main

import (
	"time"

	"github.com/pion/sdp/v3"
)

// Call states as reported through InvitationEvent. The engine guarantees
// monotonic progression per call attempt; StateDisconnected is terminal.
const (
	StateIdle         = "IDLE"
	StateCalling      = "CALLING"
	StateIncoming     = "INCOMING"
	StateEarly        = "EARLY"
	StateConnecting   = "CONNECTING"
	StateConfirmed    = "CONFIRMED"
	StateDisconnected = "DISCONNECTED"
)

// Registration states.
const (
	RegStateRegistered   = "registered"
	RegStateUnregistered = "unregistered"
)

// Subscription states.
const (
	SubStateActive     = "ACTIVE"
	SubStatePending    = "PENDING"
	SubStateTerminated = "TERMINATED"
)

// EventFunc receives engine events on the engine's own callback goroutine.
// It must not block waiting on the consumer loop.
type EventFunc func(ev any)

// RegistrationEvent reports a registration state change.
type RegistrationEvent struct {
	State    string
	Code     int
	Reason   string
	Contact  string
	Expires  int
	Contacts []string // every contact the registrar reports, ours included
}

// InvitationEvent reports a call state or SDP negotiation change.
type InvitationEvent struct {
	Inv       Invitation
	State     string
	PrevState string
	SDPDone   bool // local and remote descriptions finalized by this event
	SDPOK     bool // negotiation outcome, meaningful only when SDPDone
	Code      int
	Reason    string
	Headers   map[string]string
	Timestamp time.Time
}

// SubscriptionEvent reports a subscription state change.
type SubscriptionEvent struct {
	State  string
	Code   int
	Reason string
}

// NotifyEvent carries the body of an inbound NOTIFY.
type NotifyEvent struct {
	ContentType string
	Body        []byte
}

// TraceEvent is one raw protocol packet, delivered for every message sent or
// received when tracing is on. High volume; never queued.
type TraceEvent struct {
	Received    bool
	Timestamp   time.Time
	Source      string
	Destination string
	Data        []byte
}

// LogEvent is one engine-internal diagnostic line.
type LogEvent struct {
	Timestamp time.Time
	Level     int
	Source    string
	Message   string
}

// Invitation is one call attempt owned by the engine. All methods are safe to
// call from the consumer loop only.
type Invitation interface {
	CallerURI() string
	CalleeURI() string
	State() string

	// RemoteOffer returns the peer's offered description, nil if none yet.
	RemoteOffer() *sdp.SessionDescription
	SetLocalOffer(desc *sdp.SessionDescription) error

	// Call sends the outbound offer (IDLE -> CALLING).
	Call() error
	// AcceptEarly acknowledges an inbound offer (INCOMING -> EARLY).
	AcceptEarly() error
	// Connect answers an inbound call (EARLY -> CONNECTING).
	Connect() error
	// Disconnect tears the call down from any state.
	Disconnect() error

	ActiveLocal() *sdp.SessionDescription
	ActiveRemote() *sdp.SessionDescription
}

// AudioTransport is the negotiated media path for one call.
type AudioTransport interface {
	LocalDescription() *sdp.SessionDescription
	Start(local, remote *sdp.SessionDescription) error
	Stop()
	Started() bool
	SendDTMF(digit byte) error
	Codec() string
	SampleRate() int
	LocalEndpoint() string
	RemoteEndpoint() string
}

// Subscription is an active event-package subscription.
type Subscription interface {
	Subscribe() error
	Unsubscribe() error
}

// Recorder is an open recording file.
type Recorder interface {
	Path() string
	Stop() error
}

// Engine is the signaling/media engine consumed by the controllers. One
// engine instance serves one process run.
type Engine interface {
	Start() error
	Stop()

	Register(expires int) error
	Unregister() error

	// Invite creates an outbound call attempt toward target.
	Invite(target string) (Invitation, error)
	// Subscribe creates a subscription for the named event package.
	Subscribe(eventPackage string, expires int) (Subscription, error)

	// NewAudioTransport builds a transport bound to a local address. With a
	// non-nil remote offer the local description answers it, otherwise a
	// fresh offer is generated.
	NewAudioTransport(remote *sdp.SessionDescription) (AudioTransport, error)

	// SetECTail adjusts the echo cancellation tail length in milliseconds.
	SetECTail(ms int) error
	PlayWAV(name string) error
	RecordWAV(path string) (Recorder, error)
}
