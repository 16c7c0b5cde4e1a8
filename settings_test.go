package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ini "gopkg.in/ini.v1"
)

const testConfig = `
[general]
listen_udp = 10.0.0.1:5060
trace_sip = true

[audio]
sample_rate = 16
echo_cancellation_tail_length = 120
codec_list = PCMA

[account]
sip_address = alice@example.com
password = secret
display_name = Alice
xcap_root = https://xcap.example.com/xcap-root
history_directory = /var/lib/sipconsole/history

[account.work]
sip_address = alice@work.example.com
password = hunter2
register_expires = 600
`

func loadTestSettings(t *testing.T, accountName string) *Settings {
	t.Helper()
	cfg, err := ini.Load([]byte(testConfig))
	require.NoError(t, err)
	s, err := LoadSettings(cfg, accountName)
	require.NoError(t, err)
	return s
}

func TestLoadSettingsDefaultAccount(t *testing.T) {
	s := loadTestSettings(t, "")

	assert.Equal(t, "10.0.0.1:5060", s.LocalAddress())
	assert.True(t, s.TraceSIP())
	assert.False(t, s.TraceEngine())
	assert.Equal(t, 16, s.SampleRate())
	assert.Equal(t, 120, s.ECTailLength())
	assert.Equal(t, []string{"PCMA"}, s.Codecs())

	assert.Equal(t, "alice@example.com", s.SIPAddress())
	assert.Equal(t, "Alice", s.DisplayName())
	assert.Equal(t, "https://xcap.example.com/xcap-root", s.XCAPRoot())
	assert.Equal(t, 300, s.RegisterExpires())
	assert.True(t, s.UsePresence())

	assert.Equal(t, "alice", s.User())
	assert.Equal(t, "example.com", s.Domain())
	assert.Equal(t, "alice@example.com", s.AccountID())
	assert.Equal(t, "/var/lib/sipconsole/log/alice@example.com/sip_trace.txt", s.TraceFilePath())

	require.NoError(t, s.Validate())
}

func TestLoadSettingsNamedAccount(t *testing.T) {
	s := loadTestSettings(t, "work")

	assert.Equal(t, "alice@work.example.com", s.SIPAddress())
	assert.Equal(t, "hunter2", s.Password())
	assert.Equal(t, 600, s.RegisterExpires())
}

func TestLoadSettingsUnknownAccount(t *testing.T) {
	cfg, err := ini.Load([]byte(testConfig))
	require.NoError(t, err)
	_, err = LoadSettings(cfg, "home")
	assert.Error(t, err)
}

func TestLoadSettingsBonjourAccount(t *testing.T) {
	cfg, err := ini.Load([]byte("[general]\n"))
	require.NoError(t, err)
	s, err := LoadSettings(cfg, "bonjour")
	require.NoError(t, err)
	assert.True(t, s.PeerToPeer())
	require.NoError(t, s.Validate())
}

func TestValidateRejectsIncompleteCredentials(t *testing.T) {
	s := &Settings{sipAddress: "alice@example.com"}
	assert.Error(t, s.Validate()) // missing password

	s = &Settings{sipAddress: "alice", password: "secret"}
	assert.Error(t, s.Validate()) // no domain

	s = &Settings{sipAddress: "alice@example.com", password: "secret"}
	assert.NoError(t, s.Validate())
}
