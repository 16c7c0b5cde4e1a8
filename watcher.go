package main

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	presRulesDoc  = "pres-rules"
	updateRetries = 3
	updatePause   = 100 * time.Millisecond
)

// watcherController is the single consumer of the event queue in winfo mode.
// It owns the pending-watcher deque and the cached rule document; all
// document updates are optimistic read-modify-write rounds against the store.
type watcherController struct {
	cfg   *Settings
	eng   Engine
	queue *eventQueue
	store documentStore
	out   io.Writer
	log   *logrus.Entry
	pause time.Duration

	sub     Subscription
	winfo   *watcherInfo
	pending []*watcherEntry
	rules   *ruleDocument
	etag    string
	quit    bool

	done     chan struct{}
	abnormal bool
}

func newWatcherController(cfg *Settings, eng Engine, queue *eventQueue, store documentStore, out io.Writer, log *logrus.Entry) *watcherController {
	return &watcherController{
		cfg:   cfg,
		eng:   eng,
		queue: queue,
		store: store,
		out:   out,
		log:   log,
		pause: updatePause,
		winfo: newWatcherInfo(),
		done:  make(chan struct{}),
	}
}

func (w *watcherController) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.abnormal = true
			w.log.Errorf("watcher controller fault: %v\n%s", r, debug.Stack())
			w.report("watcher controller fault: %v", r)
		}
	}()

	if err := w.start(); err != nil {
		w.report("Error: %v", err)
		w.abnormal = true
		return
	}
	for !w.quit {
		cmd, ok := w.queue.dequeue()
		if !ok {
			return
		}
		w.handle(cmd)
	}
}

// start prints the current rule lists, then subscribes for watcher-info.
func (w *watcherController) start() error {
	if w.store != nil {
		w.report("Retrieving current presence rules from %s", w.cfg.XCAPRoot())
		if err := w.fetchRules(); err != nil {
			w.report("Cannot obtain %q document: %v", presRulesDoc, err)
		}
		w.reportIdentities("Allowed list:", ruleAllow)
		w.reportIdentities("Blocked list:", ruleBlock)
		w.reportIdentities("Polite-blocked list:", rulePoliteBlock)
	}

	sub, err := w.eng.Subscribe("presence.winfo", w.cfg.SubscribeExpires())
	if err != nil {
		return fmt.Errorf("subscription: %w", err)
	}
	w.sub = sub
	w.report("Subscribing to %q for the presence.winfo event", w.cfg.SIPAddress())
	if err := sub.Subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (w *watcherController) handle(cmd command) {
	switch cmd.kind {
	case cmdPrint:
		w.report("%s", cmd.data)
		w.prompt()
	case cmdEngineEvent:
		w.handleEngineEvent(cmd.data)
	case cmdUserInput:
		w.handleUserInput(cmd.data.(string))
	case cmdEOF, cmdEnd:
		if w.sub != nil {
			if err := w.sub.Unsubscribe(); err != nil {
				w.log.Warnf("unsubscribe failed: %v", err)
				w.quit = true
			}
			return // quit arrives with the terminated event
		}
		w.quit = true
	case cmdQuit:
		w.quit = true
	}
}

func (w *watcherController) handleEngineEvent(ev any) {
	switch e := ev.(type) {
	case SubscriptionEvent:
		switch e.State {
		case SubStatePending:
			w.report("Subscription is pending")
		case SubStateTerminated:
			if e.Code != 0 {
				w.report("Unsubscribed: %d %s", e.Code, e.Reason)
			} else {
				w.report("Unsubscribed")
			}
			w.quit = true
		}
	case NotifyEvent:
		w.handleNotify(e)
	default:
		w.log.Debugf("ignoring engine event %#v", ev)
	}
}

// handleNotify applies a watcherinfo document, reports the full lists and
// queues newly pending/waiting watchers for a decision.
func (w *watcherController) handleNotify(e NotifyEvent) {
	if !strings.HasPrefix(e.ContentType, "application/watcherinfo+xml") {
		w.log.Debugf("ignoring NOTIFY with content type %q", e.ContentType)
		return
	}
	touched, err := w.winfo.update(e.Body)
	if err != nil {
		w.report("Got illegal winfo document: %v", err)
		return
	}
	// watcher-lists are keyed by the full resource URI, not the bare
	// user@domain form the configuration carries
	resource := "sip:" + w.cfg.AccountID()
	w.report("Received NOTIFY:\n----")
	w.reportWatchers("Active watchers:", resource, watcherActive)
	w.reportWatchers("Terminated watchers:", resource, watcherTerminated)
	w.reportWatchers("Pending watchers:", resource, watcherPending)
	w.reportWatchers("Waiting watchers:", resource, watcherWaiting)
	w.report("----")

	// Only queue decisions when a rule store is configured.
	if w.store != nil {
		for _, entry := range touched {
			if (entry.Status == watcherPending || entry.Status == watcherWaiting) && !w.isQueued(entry) {
				w.pending = append(w.pending, entry)
			}
		}
	}
	w.prompt()
}

func (w *watcherController) isQueued(entry *watcherEntry) bool {
	for _, queued := range w.pending {
		if queued.ID == entry.ID {
			return true
		}
	}
	return false
}

// prompt asks for a decision on the head of the pending deque.
func (w *watcherController) prompt() {
	if len(w.pending) == 0 {
		return
	}
	head := w.pending[0]
	w.report("%s watcher %s wants to subscribe to your presence information. Press (a) for allow, (d) for deny or (p) for polite blocking:",
		capitalize(head.Status), head.URI)
}

func (w *watcherController) handleUserInput(data string) {
	if data == "" || len(w.pending) == 0 {
		return
	}
	var kind ruleKind
	switch data[0] {
	case 'a':
		kind = ruleAllow
	case 'd':
		kind = ruleBlock
	case 'p':
		kind = rulePoliteBlock
	default:
		w.report("Please select a valid choice. Press (a) to allow, (d) to deny, (p) to polite block")
		return
	}
	head := w.pending[0]
	if w.applyDecision(kind, head.URI) {
		w.pending = w.pending[1:]
	}
	w.prompt()
}

// applyDecision runs the retried read-modify-write round. On any write
// failure the cached document is discarded so the next attempt refetches;
// after exhausting the retries the watcher stays queued.
func (w *watcherController) applyDecision(kind ruleKind, uri string) bool {
	for attempt := 0; attempt < updateRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.pause)
		}
		if w.rules == nil {
			if err := w.fetchRules(); err != nil {
				w.report("Cannot obtain %q document: %v", presRulesDoc, err)
				continue
			}
		}
		rule := w.rules.ensureRule(kind)
		rule.addIdentity(uri)
		body, err := w.rules.marshal()
		if err != nil {
			w.report("Cannot serialize %q document: %v", presRulesDoc, err)
			w.rules = nil
			continue
		}
		etag, err := w.store.Put(presRulesDoc, body, w.etag)
		if err != nil {
			w.report("Cannot PUT %q document: %v", presRulesDoc, err)
			w.rules = nil
			continue
		}
		w.etag = etag
		switch kind {
		case ruleAllow:
			w.report("Watcher %s is now allowed", uri)
		case ruleBlock:
			w.report("Watcher %s is now denied", uri)
		default:
			w.report("Watcher %s is now politely blocked", uri)
		}
		return true
	}
	switch kind {
	case ruleAllow:
		w.report("Could not allow watcher %s", uri)
	case ruleBlock:
		w.report("Could not deny watcher %s", uri)
	default:
		w.report("Could not politely block authorization of watcher %s", uri)
	}
	return false
}

// fetchRules replaces the cached document. A missing remote document becomes
// a fresh, locally originated one with an empty version token.
func (w *watcherController) fetchRules() error {
	w.rules = nil
	w.etag = ""
	body, etag, err := w.store.Get(presRulesDoc)
	if err == errDocumentMissing {
		w.rules = newRuleDocument()
		return nil
	}
	if err != nil {
		return err
	}
	doc, err := parseRuleDocument(body)
	if err != nil {
		return err
	}
	w.rules = doc
	w.etag = etag
	return nil
}

func (w *watcherController) reportIdentities(title string, kind ruleKind) {
	w.report("%s", title)
	if w.rules == nil {
		return
	}
	for _, uri := range w.rules.identities(kind) {
		w.report("\t%s", uri)
	}
}

func (w *watcherController) reportWatchers(title, resource, status string) {
	w.report("%s", title)
	for _, uri := range w.winfo.byStatus(resource, status) {
		w.report("  %s", uri)
	}
}

func (w *watcherController) report(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}
