package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const winfoResource = "sip:alice@example.com"

func TestWatcherInfoFullState(t *testing.T) {
	wi := newWatcherInfo()

	touched, err := wi.update(winfoBody("full",
		winfoWatcher("w1", "active", "sip:bob@example.com"),
		winfoWatcher("w2", "pending", "sip:carol@example.com"),
	))
	require.NoError(t, err)
	assert.Len(t, touched, 2)
	assert.Equal(t, []string{"sip:bob@example.com"}, wi.byStatus(winfoResource, watcherActive))
	assert.Equal(t, []string{"sip:carol@example.com"}, wi.byStatus(winfoResource, watcherPending))

	// a full document replaces the list, dropped watchers disappear
	_, err = wi.update(winfoBody("full",
		winfoWatcher("w2", "terminated", "sip:carol@example.com"),
	))
	require.NoError(t, err)
	assert.Empty(t, wi.byStatus(winfoResource, watcherActive))
	assert.Equal(t, []string{"sip:carol@example.com"}, wi.byStatus(winfoResource, watcherTerminated))
}

func TestWatcherInfoPartialStateMerges(t *testing.T) {
	wi := newWatcherInfo()

	_, err := wi.update(winfoBody("full",
		winfoWatcher("w1", "active", "sip:bob@example.com"),
		winfoWatcher("w2", "pending", "sip:carol@example.com"),
	))
	require.NoError(t, err)

	touched, err := wi.update(winfoBody("partial",
		winfoWatcher("w2", "active", "sip:carol@example.com"),
	))
	require.NoError(t, err)
	require.Len(t, touched, 1)
	assert.Equal(t, watcherActive, touched[0].Status)

	// bob survives the partial update, carol moved status
	assert.ElementsMatch(t,
		[]string{"sip:bob@example.com", "sip:carol@example.com"},
		wi.byStatus(winfoResource, watcherActive))
	assert.Empty(t, wi.byStatus(winfoResource, watcherPending))
}

func TestWatcherInfoFallsBackToURIAsID(t *testing.T) {
	wi := newWatcherInfo()

	touched, err := wi.update([]byte(`<?xml version="1.0"?>
<watcherinfo xmlns="urn:ietf:params:xml:ns:watcherinfo" version="0" state="full">
  <watcher-list resource="sip:alice@example.com" package="presence">
    <watcher status="waiting" event="timeout">sip:dave@example.com</watcher>
  </watcher-list>
</watcherinfo>`))
	require.NoError(t, err)
	require.Len(t, touched, 1)
	assert.Equal(t, "sip:dave@example.com", touched[0].ID)
}

func TestWatcherInfoRejectsGarbage(t *testing.T) {
	wi := newWatcherInfo()
	_, err := wi.update([]byte("not xml"))
	assert.Error(t, err)
}
