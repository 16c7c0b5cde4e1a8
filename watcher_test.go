package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	pkg          string
	expires      int
	subscribed   bool
	unsubscribed bool
}

func (f *fakeSubscription) Subscribe() error {
	f.subscribed = true
	return nil
}

func (f *fakeSubscription) Unsubscribe() error {
	f.unsubscribed = true
	return nil
}

// fakeStore is an in-memory document store with scriptable Put failures.
type fakeStore struct {
	body    []byte
	etag    string
	missing bool
	putErr  []error // consumed one per Put
	puts    [][]byte
}

func (s *fakeStore) Get(doc string) ([]byte, string, error) {
	if s.missing {
		return nil, "", errDocumentMissing
	}
	return s.body, s.etag, nil
}

func (s *fakeStore) Put(doc string, body []byte, etag string) (string, error) {
	s.puts = append(s.puts, body)
	if len(s.putErr) > 0 {
		err := s.putErr[0]
		s.putErr = s.putErr[1:]
		if err != nil {
			return "", err
		}
	}
	s.body = body
	s.missing = false
	s.etag = fmt.Sprintf("v%d", len(s.puts))
	return s.etag, nil
}

func newTestWatcher(t *testing.T, store documentStore) (*watcherController, *fakeEngine, *bytes.Buffer) {
	t.Helper()
	eng := &fakeEngine{}
	cfg := &Settings{
		sipAddress:       "sip:alice@example.com",
		xcapRoot:         "https://xcap.example.com/xcap-root",
		subscribeExpires: 300,
	}
	out := &bytes.Buffer{}
	w := newWatcherController(cfg, eng, newEventQueue(), store, out, testLog())
	w.pause = 0
	return w, eng, out
}

func winfoBody(state string, watchers ...string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<watcherinfo xmlns="urn:ietf:params:xml:ns:watcherinfo" version="0" state=%q>
  <watcher-list resource="sip:alice@example.com" package="presence">
%s  </watcher-list>
</watcherinfo>`, state, strings.Join(watchers, "")))
}

func winfoWatcher(id, status, uri string) string {
	return fmt.Sprintf("    <watcher status=%q id=%q event=\"subscribe\">%s</watcher>\n", status, id, uri)
}

func notify(w *watcherController, body []byte) {
	w.handle(command{kind: cmdEngineEvent, data: NotifyEvent{
		ContentType: "application/watcherinfo+xml",
		Body:        body,
	}})
}

func TestWatcherStartSubscribes(t *testing.T) {
	store := &fakeStore{missing: true}
	w, eng, out := newTestWatcher(t, store)

	require.NoError(t, w.start())
	require.NotNil(t, eng.sub)
	assert.Equal(t, "presence.winfo", eng.sub.pkg)
	assert.Equal(t, 300, eng.sub.expires)
	assert.True(t, eng.sub.subscribed)
	assert.Contains(t, out.String(), "Retrieving current presence rules from https://xcap.example.com/xcap-root")
	assert.Contains(t, out.String(), `Subscribing to "sip:alice@example.com" for the presence.winfo event`)
}

func TestWatcherAllowFreshDocument(t *testing.T) {
	store := &fakeStore{missing: true}
	w, _, out := newTestWatcher(t, store)
	require.NoError(t, w.fetchRules())

	notify(w, winfoBody("full", winfoWatcher("w1", "pending", "sip:bob@example.com")))
	require.Len(t, w.pending, 1)
	assert.Contains(t, out.String(), "Pending watchers:\n  sip:bob@example.com")
	assert.Contains(t, out.String(), "Pending watcher sip:bob@example.com wants to subscribe")

	w.handle(command{kind: cmdUserInput, data: "a"})
	assert.Empty(t, w.pending)
	assert.Contains(t, out.String(), "Watcher sip:bob@example.com is now allowed")

	require.Len(t, store.puts, 1)
	doc := string(store.puts[0])
	assert.Contains(t, doc, `id="pres_whitelist"`)
	assert.Contains(t, doc, `<one id="sip:bob@example.com">`)
	assert.Contains(t, doc, "<sub-handling")
	assert.Contains(t, doc, "provide-all-attributes")
	assert.Equal(t, "v1", w.etag)
}

func TestWatcherVersionConflictRefetches(t *testing.T) {
	seed := newRuleDocument()
	seed.ensureRule(ruleBlock).addIdentity("sip:mallory@example.com")
	body, err := seed.marshal()
	require.NoError(t, err)
	store := &fakeStore{body: body, etag: "v0", putErr: []error{errVersionConflict}}
	w, _, out := newTestWatcher(t, store)
	require.NoError(t, w.fetchRules())

	notify(w, winfoBody("full", winfoWatcher("w1", "pending", "sip:bob@example.com")))
	w.handle(command{kind: cmdUserInput, data: "d"})

	assert.Empty(t, w.pending)
	assert.Contains(t, out.String(), "Watcher sip:bob@example.com is now denied")
	require.Len(t, store.puts, 2)
	final := string(store.puts[1])
	assert.Equal(t, 1, strings.Count(final, `<one id="sip:bob@example.com">`))
	assert.Equal(t, 1, strings.Count(final, `<one id="sip:mallory@example.com">`))
}

func TestWatcherRetriesExhausted(t *testing.T) {
	store := &fakeStore{
		missing: true,
		putErr:  []error{errVersionConflict, errVersionConflict, errVersionConflict},
	}
	w, _, out := newTestWatcher(t, store)

	notify(w, winfoBody("full", winfoWatcher("w1", "waiting", "sip:bob@example.com")))
	require.Len(t, w.pending, 1)

	w.handle(command{kind: cmdUserInput, data: "p"})
	assert.Contains(t, out.String(), "Could not politely block authorization of watcher sip:bob@example.com")
	// the watcher stays queued for another attempt
	require.Len(t, w.pending, 1)
	assert.Contains(t, out.String(), "Waiting watcher sip:bob@example.com wants to subscribe")
}

func TestWatcherReportsWithBareAccountAddress(t *testing.T) {
	store := &fakeStore{missing: true}
	w, _, out := newTestWatcher(t, store)
	// config carries the unprefixed form, the NOTIFY resource is a full URI
	w.cfg.sipAddress = "alice@example.com"

	notify(w, winfoBody("full", winfoWatcher("w1", "pending", "sip:bob@example.com")))
	assert.Contains(t, out.String(), "Pending watchers:\n  sip:bob@example.com")
	require.Len(t, w.pending, 1)
}

func TestWatcherInvalidChoice(t *testing.T) {
	store := &fakeStore{missing: true}
	w, _, out := newTestWatcher(t, store)

	notify(w, winfoBody("full", winfoWatcher("w1", "pending", "sip:bob@example.com")))
	w.handle(command{kind: cmdUserInput, data: "x"})
	assert.Contains(t, out.String(), "Please select a valid choice.")
	assert.Len(t, w.pending, 1)
	assert.Empty(t, store.puts)
}

func TestWatcherDuplicateNotifyNotRequeued(t *testing.T) {
	store := &fakeStore{missing: true}
	w, _, _ := newTestWatcher(t, store)

	body := winfoBody("full", winfoWatcher("w1", "pending", "sip:bob@example.com"))
	notify(w, body)
	notify(w, body)
	assert.Len(t, w.pending, 1)
}

func TestWatcherIgnoresForeignContentType(t *testing.T) {
	store := &fakeStore{missing: true}
	w, _, out := newTestWatcher(t, store)

	w.handle(command{kind: cmdEngineEvent, data: NotifyEvent{
		ContentType: "application/pidf+xml",
		Body:        []byte("<presence/>"),
	}})
	assert.Empty(t, w.pending)
	assert.NotContains(t, out.String(), "Received NOTIFY")
}

func TestWatcherUnsubscribeOnEOF(t *testing.T) {
	store := &fakeStore{missing: true}
	w, eng, out := newTestWatcher(t, store)
	require.NoError(t, w.start())

	w.handle(command{kind: cmdEOF})
	assert.True(t, eng.sub.unsubscribed)
	assert.False(t, w.quit)

	w.handle(command{kind: cmdEngineEvent, data: SubscriptionEvent{State: SubStateTerminated}})
	assert.True(t, w.quit)
	assert.Contains(t, out.String(), "Unsubscribed")
}
