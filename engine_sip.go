package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

const sipPortRange = 10

// sipEngine implements Engine on top of the gosip stack. Events are handed
// to the adapter callback on gosip's transport goroutines.
type sipEngine struct {
	cfg    *Settings
	log    *logrus.Entry
	events EventFunc

	srv  gosip.Server
	host string
	port int

	mu        sync.Mutex
	calls     map[string]*sipInvitation
	regCallID sip.CallID
	regSeq    uint
	refresh   *time.Timer
	ecTail    int
}

func newSIPEngine(cfg *Settings, events EventFunc, log *logrus.Entry) *sipEngine {
	return &sipEngine{
		cfg:       cfg,
		log:       log,
		events:    events,
		calls:     make(map[string]*sipInvitation),
		regCallID: sip.CallID(uuid.NewString()),
		ecTail:    cfg.ECTailLength(),
	}
}

func (e *sipEngine) Start() error {
	host, err := localIPAddress(e.cfg.LocalAddress())
	if err != nil {
		return fmt.Errorf("local address: %w", err)
	}
	e.host = host

	logger := gosiplog.NewLogrusLogger(sipLog, "SIP", nil)
	e.srv = gosip.NewServer(gosip.ServerConfig{Host: host, UserAgent: "sipconsole"}, nil, nil, logger)

	for _, h := range []struct {
		method  sip.RequestMethod
		handler gosip.RequestHandler
	}{
		{sip.INVITE, e.onInvite},
		{sip.ACK, e.onAck},
		{sip.BYE, e.onBye},
		{sip.NOTIFY, e.onNotify},
	} {
		if err := e.srv.OnRequest(h.method, h.handler); err != nil {
			return fmt.Errorf("register %s handler: %w", h.method, err)
		}
	}

	port := 5060
	if _, p, err := net.SplitHostPort(e.cfg.LocalAddress()); err == nil {
		if v, err := strconv.Atoi(p); err == nil && v != 0 {
			port = v
		}
	}
	var listenErr error
	for i := 0; i < sipPortRange; i++ {
		addr := fmt.Sprintf(":%d", port+i)
		listenErr = e.srv.Listen("udp", addr)
		if listenErr == nil {
			e.port = port + i
			e.log.Infof("listening on %s/udp", addr)
			return nil
		}
		e.log.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	return fmt.Errorf("sip listen: %w", listenErr)
}

func (e *sipEngine) Stop() {
	e.cancelRefresh()
	if e.srv != nil {
		e.srv.Shutdown()
	}
}

// accountAddress builds the local From/To address with a fresh tag.
func (e *sipEngine) accountAddress(tagged bool) (*sip.Address, error) {
	uri, err := parser.ParseUri("sip:" + e.cfg.AccountID())
	if err != nil {
		return nil, fmt.Errorf("parse account uri: %w", err)
	}
	addr := &sip.Address{Uri: uri}
	if e.cfg.DisplayName() != "" {
		addr.DisplayName = sip.String{Str: e.cfg.DisplayName()}
	}
	if tagged {
		addr.Params = sip.NewParams().Add("tag", sip.String{Str: util.RandString(8)})
	}
	return addr, nil
}

// contactAddress is where peers reach this instance.
func (e *sipEngine) contactAddress() (*sip.Address, error) {
	uri, err := parser.ParseUri(fmt.Sprintf("sip:%s@%s:%d", e.cfg.User(), e.host, e.port))
	if err != nil {
		return nil, fmt.Errorf("parse contact uri: %w", err)
	}
	return &sip.Address{Uri: uri}, nil
}

// trace reports one raw message to the adapter.
func (e *sipEngine) trace(msg sip.Message, received bool) {
	src := msg.Source()
	dst := msg.Destination()
	e.events(TraceEvent{
		Received:    received,
		Timestamp:   time.Now(),
		Source:      src,
		Destination: dst,
		Data:        []byte(msg.String()),
	})
}

func (e *sipEngine) register(expires int) error {
	target := e.cfg.OutboundProxy()
	if target == "" {
		target = e.cfg.Domain()
	}
	recipient, err := parser.ParseUri("sip:" + target)
	if err != nil {
		return fmt.Errorf("parse registrar uri: %w", err)
	}
	from, err := e.accountAddress(true)
	if err != nil {
		return err
	}
	to, err := e.accountAddress(false)
	if err != nil {
		return err
	}
	contact, err := e.contactAddress()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.regSeq++
	seq := e.regSeq
	e.mu.Unlock()

	req, err := sip.NewRequestBuilder().
		SetMethod(sip.REGISTER).
		SetRecipient(recipient).
		SetFrom(from).
		SetTo(to).
		SetContact(contact).
		SetCallID(&e.regCallID).
		SetSeqNo(seq).
		AddHeader(&sip.GenericHeader{HeaderName: "Expires", Contents: strconv.Itoa(expires)}).
		Build()
	if err != nil {
		return fmt.Errorf("build REGISTER: %w", err)
	}

	e.trace(req, false)
	tx, err := e.srv.Request(req)
	if err != nil {
		return fmt.Errorf("send REGISTER: %w", err)
	}
	go e.monitorRegister(tx, expires)
	return nil
}

func (e *sipEngine) Register(expires int) error { return e.register(expires) }

func (e *sipEngine) Unregister() error {
	e.cancelRefresh()
	return e.register(0)
}

// scheduleRefresh re-sends the REGISTER halfway through the granted expiry so
// a long answer-mode wait never falls off the registrar.
func (e *sipEngine) scheduleRefresh(expires, granted int) {
	if granted <= 0 {
		return
	}
	delay := time.Duration(granted) * time.Second / 2
	if delay < time.Second {
		delay = time.Second
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refresh != nil {
		e.refresh.Stop()
	}
	e.refresh = time.AfterFunc(delay, func() {
		if err := e.register(expires); err != nil {
			e.log.Warnf("registration refresh failed: %v", err)
		}
	})
}

func (e *sipEngine) cancelRefresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refresh != nil {
		e.refresh.Stop()
		e.refresh = nil
	}
}

func (e *sipEngine) monitorRegister(tx sip.ClientTransaction, expires int) {
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				return
			}
			e.trace(res, true)
			if res.IsProvisional() {
				continue
			}
			code := int(res.StatusCode())
			if code/100 == 2 && expires > 0 {
				contacts := headerValues(res, "Contact")
				contact := ""
				if len(contacts) > 0 {
					contact = contacts[0]
				}
				granted := expires
				if v, err := strconv.Atoi(headerValue(res, "Expires")); err == nil {
					granted = v
				}
				e.scheduleRefresh(expires, granted)
				e.events(RegistrationEvent{
					State:    RegStateRegistered,
					Code:     code,
					Reason:   res.Reason(),
					Contact:  contact,
					Expires:  granted,
					Contacts: contacts,
				})
			} else {
				e.events(RegistrationEvent{State: RegStateUnregistered, Code: code, Reason: res.Reason()})
			}
			return
		case err := <-tx.Errors():
			if err != nil {
				e.log.Warnf("REGISTER transaction error: %v", err)
				e.events(RegistrationEvent{State: RegStateUnregistered, Code: 503, Reason: err.Error()})
			}
			return
		case <-tx.Done():
			return
		}
	}
}

func (e *sipEngine) Invite(target string) (Invitation, error) {
	if !strings.HasPrefix(target, "sip:") {
		target = "sip:" + target
	}
	calleeURI, err := parser.ParseUri(target)
	if err != nil {
		return nil, fmt.Errorf("parse target uri: %w", err)
	}
	from, err := e.accountAddress(true)
	if err != nil {
		return nil, err
	}
	contact, err := e.contactAddress()
	if err != nil {
		return nil, err
	}

	inv := &sipInvitation{
		eng:        e,
		fsm:        newCallFSM(StateIdle),
		callID:     sip.CallID(uuid.NewString()),
		caller:     "sip:" + e.cfg.AccountID(),
		callee:     target,
		localAddr:  from,
		remoteAddr: &sip.Address{Uri: calleeURI},
		contact:    contact,
		cseq:       1,
	}
	e.track(inv)
	return inv, nil
}

func (e *sipEngine) track(inv *sipInvitation) {
	e.mu.Lock()
	e.calls[string(inv.callID)] = inv
	e.mu.Unlock()
}

func (e *sipEngine) lookup(callID string) *sipInvitation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[callID]
}

// confirmedCall returns the invitation currently carrying media, if any.
func (e *sipEngine) confirmedCall() *sipInvitation {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inv := range e.calls {
		if inv.State() == StateConfirmed {
			return inv
		}
	}
	return nil
}

func (e *sipEngine) onInvite(req sip.Request, tx sip.ServerTransaction) {
	e.trace(req, true)
	cid, _ := req.CallID()
	callID := ""
	if cid != nil {
		callID = cid.String()
	}
	fromHdr, _ := req.From()
	toHdr, _ := req.To()

	inv := &sipInvitation{
		eng:        e,
		fsm:        newCallFSM(StateIncoming),
		callID:     sip.CallID(callID),
		inviteReq:  req,
		serverTx:   tx,
		cseq:       1,
		localAddr:  sip.NewAddressFromToHeader(toHdr),
		remoteAddr: sip.NewAddressFromFromHeader(fromHdr),
	}
	if contact, err := e.contactAddress(); err == nil {
		inv.contact = contact
	}
	if fromHdr != nil {
		inv.caller = fromHdr.Address.String()
	}
	if toHdr != nil {
		inv.callee = toHdr.Address.String()
	}
	if offer, err := parseSDP(req.Body()); err == nil {
		inv.remoteSDP = offer
	} else {
		e.log.Warnf("unparseable SDP offer on %s: %v", callID, err)
	}
	e.track(inv)

	e.events(InvitationEvent{
		Inv:       inv,
		State:     StateIncoming,
		Headers:   headerMap(req, "User-Agent", "Contact"),
		Timestamp: time.Now(),
	})
}

func (e *sipEngine) onAck(req sip.Request, tx sip.ServerTransaction) {
	e.trace(req, true)
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	inv := e.lookup(cid.String())
	if inv == nil {
		return
	}
	prev := inv.State()
	if inv.transition("confirm") {
		e.events(InvitationEvent{
			Inv:       inv,
			State:     StateConfirmed,
			PrevState: prev,
			SDPDone:   true,
			SDPOK:     inv.negotiated(),
			Timestamp: time.Now(),
		})
	}
}

func (e *sipEngine) onBye(req sip.Request, tx sip.ServerTransaction) {
	e.trace(req, true)
	e.srv.RespondOnRequest(req, sip.StatusCode(200), "OK", "", nil)
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	inv := e.lookup(cid.String())
	if inv == nil {
		return
	}
	prev := inv.State()
	if inv.transition("disconnect") {
		e.events(InvitationEvent{
			Inv:       inv,
			State:     StateDisconnected,
			PrevState: prev,
			Code:      200,
			Reason:    "OK",
			Timestamp: time.Now(),
		})
	}
	e.untrack(string(inv.callID))
}

func (e *sipEngine) untrack(callID string) {
	e.mu.Lock()
	delete(e.calls, callID)
	e.mu.Unlock()
}

func (e *sipEngine) Subscribe(eventPackage string, expires int) (Subscription, error) {
	return &sipSubscription{
		eng:     e,
		pkg:     eventPackage,
		expires: expires,
		callID:  sip.CallID(uuid.NewString()),
		accepts: "application/watcherinfo+xml",
	}, nil
}

func (e *sipEngine) onNotify(req sip.Request, tx sip.ServerTransaction) {
	e.trace(req, true)
	e.srv.RespondOnRequest(req, sip.StatusCode(200), "OK", "", nil)

	subState := strings.ToLower(headerValue(req, "Subscription-State"))
	switch {
	case strings.HasPrefix(subState, "pending"):
		e.events(SubscriptionEvent{State: SubStatePending})
	case strings.HasPrefix(subState, "terminated"):
		e.events(SubscriptionEvent{State: SubStateTerminated})
	}

	if body := req.Body(); body != "" {
		e.events(NotifyEvent{
			ContentType: headerValue(req, "Content-Type"),
			Body:        []byte(body),
		})
	}
}

func (e *sipEngine) NewAudioTransport(remote *sdp.SessionDescription) (AudioTransport, error) {
	host := e.host
	if host == "" {
		var err error
		if host, err = localIPAddress(e.cfg.LocalAddress()); err != nil {
			return nil, err
		}
	}
	return newAudioTransport(host, allowedCodecs(e.cfg.Codecs()), remote, e.sendDTMF)
}

// sendDTMF relays a digit through the confirmed dialog as an INFO request.
func (e *sipEngine) sendDTMF(digit byte) error {
	inv := e.confirmedCall()
	if inv == nil {
		return fmt.Errorf("no confirmed call")
	}
	return inv.sendInfo(digit)
}

func (e *sipEngine) SetECTail(ms int) error {
	e.mu.Lock()
	e.ecTail = ms
	e.mu.Unlock()
	e.log.Infof("echo cancellation tail length set to %d ms", ms)
	return nil
}

func (e *sipEngine) PlayWAV(name string) error {
	e.log.Debugf("playing %s", name)
	return nil
}

func (e *sipEngine) RecordWAV(path string) (Recorder, error) {
	return newWAVRecorder(path, e.cfg.SampleRate()*1000)
}

// newCallFSM guards the monotonic per-attempt call state progression.
func newCallFSM(initial string) *fsm.FSM {
	return fsm.NewFSM(initial, fsm.Events{
		{Name: "call", Src: []string{StateIdle}, Dst: StateCalling},
		{Name: "progress", Src: []string{StateCalling, StateIncoming}, Dst: StateEarly},
		{Name: "connect", Src: []string{StateIncoming, StateEarly}, Dst: StateConnecting},
		{Name: "confirm", Src: []string{StateCalling, StateEarly, StateConnecting}, Dst: StateConfirmed},
		{Name: "disconnect", Src: []string{StateIdle, StateCalling, StateIncoming, StateEarly, StateConnecting, StateConfirmed}, Dst: StateDisconnected},
	}, nil)
}

// sipInvitation is one call attempt. Controller methods run on the consumer
// goroutine; response monitoring mutates shared fields under mu.
type sipInvitation struct {
	eng    *sipEngine
	fsm    *fsm.FSM
	callID sip.CallID
	caller string
	callee string

	mu         sync.Mutex
	localAddr  *sip.Address
	remoteAddr *sip.Address
	contact    *sip.Address
	cseq       uint
	inviteReq  sip.Request
	serverTx   sip.ServerTransaction
	clientTx   sip.ClientTransaction
	localSDP   *sdp.SessionDescription
	remoteSDP  *sdp.SessionDescription
}

func (i *sipInvitation) CallerURI() string { return i.caller }
func (i *sipInvitation) CalleeURI() string { return i.callee }
func (i *sipInvitation) State() string     { return i.fsm.Current() }

func (i *sipInvitation) transition(event string) bool {
	return i.fsm.Event(context.Background(), event) == nil
}

func (i *sipInvitation) RemoteOffer() *sdp.SessionDescription {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.remoteSDP
}

func (i *sipInvitation) SetLocalOffer(desc *sdp.SessionDescription) error {
	i.mu.Lock()
	i.localSDP = desc
	i.mu.Unlock()
	return nil
}

func (i *sipInvitation) ActiveLocal() *sdp.SessionDescription {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.localSDP
}

func (i *sipInvitation) ActiveRemote() *sdp.SessionDescription {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.remoteSDP
}

func (i *sipInvitation) negotiated() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.localSDP != nil && i.remoteSDP != nil
}

// Call sends the outbound INVITE with the local media offer.
func (i *sipInvitation) Call() error {
	i.mu.Lock()
	local := i.localSDP
	i.mu.Unlock()
	if local == nil {
		return fmt.Errorf("no local offer")
	}
	body, err := local.Marshal()
	if err != nil {
		return fmt.Errorf("serialize offer: %w", err)
	}

	ctype := sip.ContentType("application/sdp")
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.INVITE).
		SetRecipient(i.remoteAddr.Uri).
		SetFrom(i.localAddr).
		SetTo(i.remoteAddr).
		SetContact(i.contact).
		SetCallID(&i.callID).
		SetSeqNo(i.cseq).
		SetContentType(&ctype).
		SetBody(string(body)).
		Build()
	if err != nil {
		return fmt.Errorf("build INVITE: %w", err)
	}

	if !i.transition("call") {
		return fmt.Errorf("call already started")
	}
	i.eng.trace(req, false)
	tx, err := i.eng.srv.Request(req)
	if err != nil {
		return fmt.Errorf("send INVITE: %w", err)
	}
	i.mu.Lock()
	i.inviteReq = req
	i.clientTx = tx
	i.mu.Unlock()
	go i.monitorInvite(req, tx)
	return nil
}

func (i *sipInvitation) monitorInvite(req sip.Request, tx sip.ClientTransaction) {
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				return
			}
			i.eng.trace(res, true)
			i.captureRemoteTag(res)
			code := int(res.StatusCode())
			switch {
			case res.IsProvisional():
				if code >= 180 {
					prev := i.State()
					if i.transition("progress") {
						i.eng.events(InvitationEvent{
							Inv:       i,
							State:     StateEarly,
							PrevState: prev,
							Code:      code,
							Reason:    res.Reason(),
							Headers:   headerMap(res, "User-Agent"),
							Timestamp: time.Now(),
						})
					}
				}
			case code/100 == 2:
				answer, err := parseSDP(res.Body())
				if err != nil {
					i.eng.log.Warnf("unparseable SDP answer: %v", err)
				}
				i.mu.Lock()
				i.remoteSDP = answer
				i.mu.Unlock()
				ack := sip.NewAckRequest("", req, res, "", nil)
				i.eng.trace(ack, false)
				if err := i.eng.srv.Send(ack); err != nil {
					i.eng.log.Warnf("failed to send ACK: %v", err)
				}
				prev := i.State()
				if i.transition("confirm") {
					i.eng.events(InvitationEvent{
						Inv:       i,
						State:     StateConfirmed,
						PrevState: prev,
						SDPDone:   true,
						SDPOK:     answer != nil,
						Code:      code,
						Reason:    res.Reason(),
						Timestamp: time.Now(),
					})
				}
				return
			default:
				prev := i.State()
				if i.transition("disconnect") {
					i.eng.events(InvitationEvent{
						Inv:       i,
						State:     StateDisconnected,
						PrevState: prev,
						Code:      code,
						Reason:    res.Reason(),
						Headers:   headerMap(res, "Contact"),
						Timestamp: time.Now(),
					})
				}
				i.eng.untrack(string(i.callID))
				return
			}
		case err := <-tx.Errors():
			if err != nil {
				i.eng.log.Warnf("INVITE transaction error: %v", err)
				prev := i.State()
				if i.transition("disconnect") {
					i.eng.events(InvitationEvent{
						Inv:       i,
						State:     StateDisconnected,
						PrevState: prev,
						Code:      503,
						Reason:    err.Error(),
						Timestamp: time.Now(),
					})
				}
				i.eng.untrack(string(i.callID))
			}
			return
		case <-tx.Done():
			return
		}
	}
}

// captureRemoteTag copies the peer's dialog tag from its To header.
func (i *sipInvitation) captureRemoteTag(res sip.Response) {
	if toHdr, ok := res.To(); ok && toHdr.Params != nil {
		if tag, ok := toHdr.Params.Get("tag"); ok {
			i.mu.Lock()
			i.remoteAddr.Params = sip.NewParams().Add("tag", tag)
			i.mu.Unlock()
		}
	}
}

// AcceptEarly acknowledges an inbound offer with 180 Ringing.
func (i *sipInvitation) AcceptEarly() error {
	i.mu.Lock()
	req := i.inviteReq
	i.mu.Unlock()
	if req == nil {
		return fmt.Errorf("no inbound offer")
	}
	res := sip.NewResponseFromRequest("", req, sip.StatusCode(180), "Ringing", "")
	i.eng.trace(res, false)
	if _, err := i.eng.srv.Respond(res); err != nil {
		return fmt.Errorf("send 180 Ringing: %w", err)
	}
	i.transition("progress")
	return nil
}

// Connect answers an inbound call with 200 OK carrying the local answer.
func (i *sipInvitation) Connect() error {
	i.mu.Lock()
	req := i.inviteReq
	local := i.localSDP
	i.mu.Unlock()
	if req == nil {
		return fmt.Errorf("no inbound offer")
	}
	if local == nil {
		return fmt.Errorf("no local answer")
	}
	body, err := local.Marshal()
	if err != nil {
		return fmt.Errorf("serialize answer: %w", err)
	}

	res := sip.NewResponseFromRequest("", req, sip.StatusCode(200), "OK", string(body))
	tag := util.RandString(8)
	if toHdr, ok := res.To(); ok {
		toHdr.Params = toHdr.Params.Add("tag", sip.String{Str: tag})
	}
	ctype := sip.ContentType("application/sdp")
	res.AppendHeader(&ctype)
	i.eng.trace(res, false)
	if _, err := i.eng.srv.Respond(res); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}
	i.transition("connect")
	return nil
}

// Disconnect tears the attempt down from whatever state it is in: decline
// before answer, CANCEL while calling, BYE once confirmed.
func (i *sipInvitation) Disconnect() error {
	state := i.State()
	defer i.eng.untrack(string(i.callID))
	switch state {
	case StateIncoming, StateEarly:
		i.mu.Lock()
		req := i.inviteReq
		i.mu.Unlock()
		if req != nil {
			res := sip.NewResponseFromRequest("", req, sip.StatusCode(603), "Decline", "")
			i.eng.trace(res, false)
			if _, err := i.eng.srv.Respond(res); err != nil {
				return fmt.Errorf("send 603 Decline: %w", err)
			}
			i.disconnectEvent(state, 0, "")
			return nil
		}
		// outbound EARLY: cancel below
		fallthrough
	case StateCalling:
		i.mu.Lock()
		tx := i.clientTx
		i.mu.Unlock()
		if tx != nil {
			if err := tx.Cancel(); err != nil {
				return fmt.Errorf("cancel INVITE: %w", err)
			}
		}
		i.disconnectEvent(state, 0, "")
		return nil
	case StateConnecting, StateConfirmed:
		if err := i.sendBye(); err != nil {
			return err
		}
		i.disconnectEvent(state, 200, "OK")
		return nil
	default:
		return fmt.Errorf("no active dialog")
	}
}

func (i *sipInvitation) disconnectEvent(prev string, code int, reason string) {
	if i.transition("disconnect") {
		i.eng.events(InvitationEvent{
			Inv:       i,
			State:     StateDisconnected,
			PrevState: prev,
			Code:      code,
			Reason:    reason,
			Timestamp: time.Now(),
		})
	}
}

func (i *sipInvitation) sendBye() error {
	i.mu.Lock()
	i.cseq++
	seq := i.cseq
	local := i.localAddr
	remote := i.remoteAddr
	i.mu.Unlock()

	req, err := sip.NewRequestBuilder().
		SetMethod(sip.BYE).
		SetRecipient(remote.Uri).
		SetFrom(local).
		SetTo(remote).
		SetContact(local).
		SetCallID(&i.callID).
		SetSeqNo(seq).
		Build()
	if err != nil {
		return fmt.Errorf("build BYE: %w", err)
	}
	i.eng.trace(req, false)
	if _, err := i.eng.srv.Request(req); err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	return nil
}

// sendInfo relays one DTMF digit through the dialog.
func (i *sipInvitation) sendInfo(digit byte) error {
	i.mu.Lock()
	i.cseq++
	seq := i.cseq
	local := i.localAddr
	remote := i.remoteAddr
	i.mu.Unlock()

	body := fmt.Sprintf("Signal=%c\r\nDuration=250\r\n", digit)
	ctype := sip.ContentType("application/dtmf-relay")
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.INFO).
		SetRecipient(remote.Uri).
		SetFrom(local).
		SetTo(remote).
		SetContact(local).
		SetCallID(&i.callID).
		SetSeqNo(seq).
		SetContentType(&ctype).
		SetBody(body).
		Build()
	if err != nil {
		return fmt.Errorf("build INFO: %w", err)
	}
	i.eng.trace(req, false)
	if _, err := i.eng.srv.Request(req); err != nil {
		return fmt.Errorf("send INFO: %w", err)
	}
	return nil
}

// sipSubscription is a presence.winfo subscription dialog.
type sipSubscription struct {
	eng     *sipEngine
	pkg     string
	expires int
	callID  sip.CallID
	accepts string

	mu   sync.Mutex
	cseq uint
}

func (s *sipSubscription) Subscribe() error   { return s.send(s.expires) }
func (s *sipSubscription) Unsubscribe() error { return s.send(0) }

func (s *sipSubscription) send(expires int) error {
	recipient, err := parser.ParseUri("sip:" + s.eng.cfg.AccountID())
	if err != nil {
		return fmt.Errorf("parse subscription uri: %w", err)
	}
	from, err := s.eng.accountAddress(true)
	if err != nil {
		return err
	}
	to := &sip.Address{Uri: recipient}
	contact, err := s.eng.contactAddress()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cseq++
	seq := s.cseq
	s.mu.Unlock()

	req, err := sip.NewRequestBuilder().
		SetMethod(sip.SUBSCRIBE).
		SetRecipient(recipient).
		SetFrom(from).
		SetTo(to).
		SetContact(contact).
		SetCallID(&s.callID).
		SetSeqNo(seq).
		AddHeader(&sip.GenericHeader{HeaderName: "Event", Contents: s.pkg}).
		AddHeader(&sip.GenericHeader{HeaderName: "Accept", Contents: s.accepts}).
		AddHeader(&sip.GenericHeader{HeaderName: "Expires", Contents: strconv.Itoa(expires)}).
		Build()
	if err != nil {
		return fmt.Errorf("build SUBSCRIBE: %w", err)
	}

	s.eng.trace(req, false)
	tx, err := s.eng.srv.Request(req)
	if err != nil {
		return fmt.Errorf("send SUBSCRIBE: %w", err)
	}
	go s.monitor(tx, expires)
	return nil
}

func (s *sipSubscription) monitor(tx sip.ClientTransaction, expires int) {
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				return
			}
			s.eng.trace(res, true)
			if res.IsProvisional() {
				continue
			}
			code := int(res.StatusCode())
			switch {
			case code/100 == 2 && expires > 0:
				s.eng.events(SubscriptionEvent{State: SubStateActive, Code: code})
			default:
				s.eng.events(SubscriptionEvent{State: SubStateTerminated, Code: code, Reason: res.Reason()})
			}
			return
		case err := <-tx.Errors():
			if err != nil {
				s.eng.log.Warnf("SUBSCRIBE transaction error: %v", err)
				s.eng.events(SubscriptionEvent{State: SubStateTerminated, Code: 503, Reason: err.Error()})
			}
			return
		case <-tx.Done():
			return
		}
	}
}

func parseSDP(body string) (*sdp.SessionDescription, error) {
	if body == "" {
		return nil, fmt.Errorf("empty body")
	}
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(body)); err != nil {
		return nil, err
	}
	return desc, nil
}

// headerValue returns the value of the first header with the given name.
func headerValue(msg sip.Message, name string) string {
	values := headerValues(msg, name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func headerValues(msg sip.Message, name string) []string {
	var values []string
	for _, hdr := range msg.GetHeaders(name) {
		s := hdr.String()
		if i := strings.IndexByte(s, ':'); i >= 0 {
			s = strings.TrimSpace(s[i+1:])
		}
		values = append(values, s)
	}
	return values
}

// headerMap collects the named headers that are present.
func headerMap(msg sip.Message, names ...string) map[string]string {
	headers := make(map[string]string)
	for _, name := range names {
		if v := headerValue(msg, name); v != "" {
			headers[name] = v
		}
	}
	return headers
}
