package main

import (
	"encoding/xml"
	"fmt"
	"sort"
)

// Watcher statuses from the watcherinfo event package (RFC 3858).
const (
	watcherActive     = "active"
	watcherTerminated = "terminated"
	watcherPending    = "pending"
	watcherWaiting    = "waiting"
)

// watcherEntry is one remote party requesting presence authorization.
type watcherEntry struct {
	ID     string
	URI    string
	Status string
}

type winfoWatcherXML struct {
	Status string `xml:"status,attr"`
	ID     string `xml:"id,attr"`
	Event  string `xml:"event,attr"`
	URI    string `xml:",chardata"`
}

type winfoListXML struct {
	Resource string            `xml:"resource,attr"`
	Package  string            `xml:"package,attr"`
	Watchers []winfoWatcherXML `xml:"watcher"`
}

type winfoDocXML struct {
	XMLName xml.Name       `xml:"urn:ietf:params:xml:ns:watcherinfo watcherinfo"`
	Version int            `xml:"version,attr"`
	State   string         `xml:"state,attr"`
	Lists   []winfoListXML `xml:"watcher-list"`
}

// watcherInfo aggregates watcher-list state across NOTIFY bodies, keyed by
// the watched resource. Full documents replace a list, partial documents
// merge by watcher id.
type watcherInfo struct {
	lists map[string]map[string]*watcherEntry
}

func newWatcherInfo() *watcherInfo {
	return &watcherInfo{lists: make(map[string]map[string]*watcherEntry)}
}

// update applies one watcherinfo document and returns the entries it touched.
func (w *watcherInfo) update(body []byte) ([]*watcherEntry, error) {
	var doc winfoDocXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse watcherinfo: %w", err)
	}
	var touched []*watcherEntry
	for _, list := range doc.Lists {
		entries := w.lists[list.Resource]
		if entries == nil || doc.State == "full" {
			entries = make(map[string]*watcherEntry)
			w.lists[list.Resource] = entries
		}
		for _, wx := range list.Watchers {
			id := wx.ID
			if id == "" {
				id = wx.URI
			}
			entry := &watcherEntry{ID: id, URI: wx.URI, Status: wx.Status}
			entries[id] = entry
			touched = append(touched, entry)
		}
	}
	return touched, nil
}

// byStatus returns the URIs of all watchers of resource in the given status,
// sorted for stable reporting.
func (w *watcherInfo) byStatus(resource, status string) []string {
	var uris []string
	for _, entry := range w.lists[resource] {
		if entry.Status == status {
			uris = append(uris, entry.URI)
		}
	}
	sort.Strings(uris)
	return uris
}
