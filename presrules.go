package main

import (
	"encoding/xml"
	"fmt"
)

// ruleKind selects one of the three authoritative pres-rules actions.
type ruleKind int

const (
	ruleAllow ruleKind = iota
	ruleBlock
	rulePoliteBlock
)

func (k ruleKind) action() string {
	switch k {
	case ruleAllow:
		return "allow"
	case ruleBlock:
		return "block"
	default:
		return "polite-block"
	}
}

func (k ruleKind) ruleID() string {
	switch k {
	case ruleAllow:
		return "pres_whitelist"
	case ruleBlock:
		return "pres_blacklist"
	default:
		return "pres_polite_blacklist"
	}
}

// identityOne is a single authorized identity inside a rule condition.
type identityOne struct {
	ID string `xml:"id,attr"`
}

type identityCondition struct {
	Ones []identityOne `xml:"one"`
}

type ruleConditions struct {
	Identity *identityCondition `xml:"identity"`
}

type ruleActions struct {
	SubHandling string `xml:"urn:ietf:params:xml:ns:pres-rules sub-handling"`
}

type provideAll struct{}

// ruleTransformations grants presence attributes to the matched identities.
// Only allow rules carry transformations.
type ruleTransformations struct {
	ProvideServices      *provideAll `xml:"urn:ietf:params:xml:ns:pres-rules provide-services"`
	ProvidePersons       *provideAll `xml:"urn:ietf:params:xml:ns:pres-rules provide-persons"`
	ProvideDevices       *provideAll `xml:"urn:ietf:params:xml:ns:pres-rules provide-devices"`
	ProvideAllAttributes *provideAll `xml:"urn:ietf:params:xml:ns:pres-rules provide-all-attributes"`
}

// presRule is one common-policy rule: conditions, actions, transformations
// modeled as typed variants looked up by kind instead of scanned untyped.
type presRule struct {
	ID              string               `xml:"id,attr"`
	Conditions      *ruleConditions      `xml:"conditions"`
	Actions         *ruleActions         `xml:"actions"`
	Transformations *ruleTransformations `xml:"transformations"`
}

// ruleDocument is the pres-rules ruleset (common-policy, RFC 4745/5025).
type ruleDocument struct {
	XMLName xml.Name    `xml:"urn:ietf:params:xml:ns:common-policy ruleset"`
	Rules   []*presRule `xml:"rule"`
}

// newRuleDocument returns an empty, locally originated document.
func newRuleDocument() *ruleDocument {
	return &ruleDocument{}
}

func parseRuleDocument(body []byte) (*ruleDocument, error) {
	doc := &ruleDocument{}
	if err := xml.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("parse pres-rules: %w", err)
	}
	return doc, nil
}

func (d *ruleDocument) marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize pres-rules: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// findRule returns the first rule whose actions carry the kind's sub-handling
// and which has an identity condition. First match wins; later same-kind
// rules are not consulted.
func (d *ruleDocument) findRule(kind ruleKind) *presRule {
	for _, rule := range d.Rules {
		if rule.Actions == nil || rule.Actions.SubHandling != kind.action() {
			continue
		}
		if rule.Conditions != nil && rule.Conditions.Identity != nil {
			return rule
		}
	}
	return nil
}

// ensureRule returns the authoritative rule of the kind, creating it with an
// empty identity list if absent. Allow rules grant all presence attributes.
func (d *ruleDocument) ensureRule(kind ruleKind) *presRule {
	if rule := d.findRule(kind); rule != nil {
		return rule
	}
	rule := &presRule{
		ID:         kind.ruleID(),
		Conditions: &ruleConditions{Identity: &identityCondition{}},
		Actions:    &ruleActions{SubHandling: kind.action()},
	}
	if kind == ruleAllow {
		rule.Transformations = &ruleTransformations{
			ProvideServices:      &provideAll{},
			ProvidePersons:       &provideAll{},
			ProvideDevices:       &provideAll{},
			ProvideAllAttributes: &provideAll{},
		}
	}
	d.Rules = append(d.Rules, rule)
	return rule
}

// addIdentity appends uri to the rule's identity list unless already present.
func (r *presRule) addIdentity(uri string) {
	if r.Conditions == nil {
		r.Conditions = &ruleConditions{}
	}
	if r.Conditions.Identity == nil {
		r.Conditions.Identity = &identityCondition{}
	}
	for _, one := range r.Conditions.Identity.Ones {
		if one.ID == uri {
			return
		}
	}
	r.Conditions.Identity.Ones = append(r.Conditions.Identity.Ones, identityOne{ID: uri})
}

// identities lists the URIs of the kind's authoritative rule, nil if absent.
func (d *ruleDocument) identities(kind ruleKind) []string {
	rule := d.findRule(kind)
	if rule == nil {
		return nil
	}
	uris := make([]string, 0, len(rule.Conditions.Identity.Ones))
	for _, one := range rule.Conditions.Identity.Ones {
		uris = append(uris, one.ID)
	}
	return uris
}
