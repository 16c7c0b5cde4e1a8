package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ini "gopkg.in/ini.v1"
)

// Settings holds the configuration for one run, loaded from config.ini and
// overridden by command line flags.
type Settings struct {
	localAddress string
	traceSIP     bool
	traceEngine  bool

	sipAddress    string
	password      string
	displayName   string
	outboundProxy string
	xcapRoot      string
	historyDir    string
	peerToPeer    bool
	usePresence   bool

	sampleRate   int
	ecTailLength int
	codecs       []string
	disableSound bool

	registerExpires  int
	subscribeExpires int
}

// LoadSettings reads the named account section plus the general and audio
// sections. An empty accountName selects the default [account] section.
func LoadSettings(cfg *ini.File, accountName string) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("general")
	s.localAddress = sec.Key("listen_udp").MustString("0.0.0.0:0")
	s.traceSIP = sec.Key("trace_sip").MustBool(false)
	s.traceEngine = sec.Key("trace_engine").MustBool(false)

	sec = cfg.Section("audio")
	s.sampleRate = sec.Key("sample_rate").MustInt(32)
	s.ecTailLength = sec.Key("echo_cancellation_tail_length").MustInt(50)
	s.codecs = sec.Key("codec_list").Strings(",")
	if len(s.codecs) == 0 {
		s.codecs = []string{"PCMU", "PCMA"}
	}
	s.disableSound = sec.Key("disable_sound").MustBool(false)

	section := "account"
	if accountName != "" {
		section = "account." + accountName
	}
	// The bonjour pseudo-account runs without registrar or credentials.
	if accountName == "bonjour" {
		s.peerToPeer = true
	} else if accountName != "" && !cfg.HasSection(section) {
		return nil, fmt.Errorf("there is no account section named %q in the configuration file", section)
	}
	sec = cfg.Section(section)
	s.sipAddress = sec.Key("sip_address").String()
	s.password = sec.Key("password").String()
	s.displayName = sec.Key("display_name").String()
	s.outboundProxy = sec.Key("outbound_proxy").String()
	s.xcapRoot = sec.Key("xcap_root").String()
	s.historyDir = sec.Key("history_directory").MustString(defaultHistoryDir())
	s.peerToPeer = sec.Key("peer_to_peer").MustBool(s.peerToPeer)
	s.usePresence = sec.Key("use_presence_agent").MustBool(true)

	s.registerExpires = sec.Key("register_expires").MustInt(300)
	s.subscribeExpires = sec.Key("subscribe_expires").MustInt(300)

	return s, nil
}

func defaultHistoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sipconsole/history"
	}
	return filepath.Join(home, ".sipconsole", "history")
}

// Validate checks that the credentials needed outside peer-to-peer mode are
// complete.
func (s *Settings) Validate() error {
	if s.peerToPeer {
		return nil
	}
	if s.sipAddress == "" || s.password == "" {
		return fmt.Errorf("no complete set of SIP credentials specified in config file and on command line")
	}
	if !strings.Contains(s.sipAddress, "@") {
		return fmt.Errorf("invalid value for sip_address: %q", s.sipAddress)
	}
	return nil
}

func (s *Settings) LocalAddress() string  { return s.localAddress }
func (s *Settings) TraceSIP() bool        { return s.traceSIP }
func (s *Settings) TraceEngine() bool     { return s.traceEngine }
func (s *Settings) SIPAddress() string    { return s.sipAddress }
func (s *Settings) Password() string      { return s.password }
func (s *Settings) DisplayName() string   { return s.displayName }
func (s *Settings) OutboundProxy() string { return s.outboundProxy }
func (s *Settings) XCAPRoot() string      { return s.xcapRoot }
func (s *Settings) PeerToPeer() bool      { return s.peerToPeer }
func (s *Settings) UsePresence() bool     { return s.usePresence }

func (s *Settings) SampleRate() int          { return s.sampleRate }
func (s *Settings) ECTailLength() int        { return s.ecTailLength }
func (s *Settings) Codecs() []string         { return s.codecs }
func (s *Settings) DisableSound() bool       { return s.disableSound }
func (s *Settings) HistoryDirectory() string { return s.historyDir }

func (s *Settings) RegisterExpires() int  { return s.registerExpires }
func (s *Settings) SubscribeExpires() int { return s.subscribeExpires }

// User and Domain split the configured SIP address.
func (s *Settings) User() string {
	user, _ := splitSIPAddress(s.sipAddress)
	return user
}

func (s *Settings) Domain() string {
	_, domain := splitSIPAddress(s.sipAddress)
	return domain
}

// AccountID is the user@domain form used for per-account file paths.
func (s *Settings) AccountID() string {
	if s.sipAddress == "" {
		return "p2p"
	}
	return strings.TrimPrefix(s.sipAddress, "sip:")
}

// TraceFilePath is the per-account SIP trace log location.
func (s *Settings) TraceFilePath() string {
	return filepath.Join(filepath.Dir(s.historyDir), "log", s.AccountID(), "sip_trace.txt")
}
