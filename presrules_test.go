package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRuleShapes(t *testing.T) {
	doc := newRuleDocument()

	allow := doc.ensureRule(ruleAllow)
	assert.Equal(t, "pres_whitelist", allow.ID)
	assert.Equal(t, "allow", allow.Actions.SubHandling)
	require.NotNil(t, allow.Transformations)
	assert.NotNil(t, allow.Transformations.ProvideAllAttributes)

	block := doc.ensureRule(ruleBlock)
	assert.Equal(t, "pres_blacklist", block.ID)
	assert.Equal(t, "block", block.Actions.SubHandling)
	assert.Nil(t, block.Transformations)

	polite := doc.ensureRule(rulePoliteBlock)
	assert.Equal(t, "pres_polite_blacklist", polite.ID)
	assert.Equal(t, "polite-block", polite.Actions.SubHandling)

	// a second ensure returns the existing rule
	assert.Same(t, allow, doc.ensureRule(ruleAllow))
	assert.Len(t, doc.Rules, 3)
}

func TestFindRuleFirstMatchWins(t *testing.T) {
	doc := newRuleDocument()
	first := &presRule{
		ID:         "custom_allow",
		Conditions: &ruleConditions{Identity: &identityCondition{}},
		Actions:    &ruleActions{SubHandling: "allow"},
	}
	second := &presRule{
		ID:         "pres_whitelist",
		Conditions: &ruleConditions{Identity: &identityCondition{}},
		Actions:    &ruleActions{SubHandling: "allow"},
	}
	doc.Rules = append(doc.Rules, first, second)

	assert.Same(t, first, doc.findRule(ruleAllow))
	assert.Same(t, first, doc.ensureRule(ruleAllow))
}

func TestFindRuleSkipsRulesWithoutIdentity(t *testing.T) {
	doc := newRuleDocument()
	doc.Rules = append(doc.Rules, &presRule{
		ID:      "occurrence_limited",
		Actions: &ruleActions{SubHandling: "allow"},
	})
	assert.Nil(t, doc.findRule(ruleAllow))
}

func TestAddIdentityDeduplicates(t *testing.T) {
	doc := newRuleDocument()
	rule := doc.ensureRule(ruleBlock)

	rule.addIdentity("sip:bob@example.com")
	rule.addIdentity("sip:bob@example.com")
	rule.addIdentity("sip:carol@example.com")
	assert.Equal(t,
		[]string{"sip:bob@example.com", "sip:carol@example.com"},
		doc.identities(ruleBlock))
}

func TestRuleDocumentRoundTrip(t *testing.T) {
	doc := newRuleDocument()
	doc.ensureRule(ruleAllow).addIdentity("sip:bob@example.com")
	doc.ensureRule(rulePoliteBlock).addIdentity("sip:mallory@example.com")

	body, err := doc.marshal()
	require.NoError(t, err)
	assert.Contains(t, string(body), "urn:ietf:params:xml:ns:common-policy")

	parsed, err := parseRuleDocument(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"sip:bob@example.com"}, parsed.identities(ruleAllow))
	assert.Equal(t, []string{"sip:mallory@example.com"}, parsed.identities(rulePoliteBlock))
	assert.Nil(t, parsed.identities(ruleBlock))
}
