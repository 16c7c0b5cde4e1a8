package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// audioCodec maps an RTP payload type to its name and clock rate.
type audioCodec struct {
	payload int
	name    string
	rate    int
}

// Implemented codecs, in default preference order.
var supportedCodecs = []audioCodec{
	{payload: 0, name: "PCMU", rate: 8000},
	{payload: 8, name: "PCMA", rate: 8000},
}

// allowedCodecs filters the supported set down to the configured names,
// preserving the configured order. An empty or unrecognized list allows all.
func allowedCodecs(names []string) []audioCodec {
	var codecs []audioCodec
	for _, name := range names {
		for _, codec := range supportedCodecs {
			if strings.EqualFold(codec.name, name) {
				codecs = append(codecs, codec)
			}
		}
	}
	if len(codecs) == 0 {
		return supportedCodecs
	}
	return codecs
}

// audioTransport binds a local RTP socket and carries the SDP offer/answer
// for one audio line. DTMF rides out of band through the dialog (INFO), so
// the send hook is injected by the engine.
type audioTransport struct {
	conn     *net.UDPConn
	localIP  string
	codec    audioCodec
	allowed  []audioCodec
	local    *sdp.SessionDescription
	remote   string
	started  bool
	sendDTMF func(digit byte) error
}

// newAudioTransport binds an ephemeral UDP port on localIP. With a non-nil
// remote offer the local description answers it using the first allowed codec
// both sides support; otherwise every allowed codec is offered.
func newAudioTransport(localIP string, allowed []audioCodec, remote *sdp.SessionDescription, sendDTMF func(byte) error) (*audioTransport, error) {
	if len(allowed) == 0 {
		allowed = supportedCodecs
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(localIP)})
	if err != nil {
		return nil, fmt.Errorf("bind rtp socket: %w", err)
	}
	t := &audioTransport{
		conn:     conn,
		localIP:  localIP,
		codec:    allowed[0],
		allowed:  allowed,
		sendDTMF: sendDTMF,
	}

	codecs := allowed
	if remote != nil {
		codec, err := matchCodec(remote, allowed)
		if err != nil {
			conn.Close()
			return nil, err
		}
		t.codec = codec
		codecs = []audioCodec{codec}
	}
	t.local = t.buildDescription(codecs)
	return t, nil
}

// matchCodec picks the first allowed payload type from the offer's audio
// line.
func matchCodec(desc *sdp.SessionDescription, allowed []audioCodec) (audioCodec, error) {
	audio := audioLine(desc)
	if audio == nil {
		return audioCodec{}, fmt.Errorf("no audio media line in description")
	}
	for _, format := range audio.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil {
			continue
		}
		for _, codec := range allowed {
			if codec.payload == pt {
				return codec, nil
			}
		}
	}
	return audioCodec{}, fmt.Errorf("no common audio codec in offer")
}

func audioLine(desc *sdp.SessionDescription) *sdp.MediaDescription {
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "audio" {
			return media
		}
	}
	return nil
}

func (t *audioTransport) buildDescription(codecs []audioCodec) *sdp.SessionDescription {
	port := t.conn.LocalAddr().(*net.UDPAddr).Port
	formats := make([]string, 0, len(codecs))
	attrs := make([]sdp.Attribute, 0, len(codecs))
	for _, codec := range codecs {
		formats = append(formats, strconv.Itoa(codec.payload))
		attrs = append(attrs, sdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%d %s/%d", codec.payload, codec.name, codec.rate),
		})
	}
	return &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().Unix()),
			SessionVersion: uint64(time.Now().Unix()),
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: t.localIP,
		},
		SessionName: "sipconsole",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: t.localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attrs,
		}},
	}
}

func (t *audioTransport) LocalDescription() *sdp.SessionDescription { return t.local }

// Start records the negotiated remote endpoint and opens the media path.
func (t *audioTransport) Start(local, remote *sdp.SessionDescription) error {
	if remote == nil {
		return fmt.Errorf("no remote description")
	}
	audio := audioLine(remote)
	if audio == nil {
		return fmt.Errorf("no audio media line in remote description")
	}
	host := ""
	if remote.ConnectionInformation != nil && remote.ConnectionInformation.Address != nil {
		host = remote.ConnectionInformation.Address.Address
	}
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		host = audio.ConnectionInformation.Address.Address
	}
	if host == "" {
		return fmt.Errorf("no connection address in remote description")
	}
	if codec, err := matchCodec(remote, t.allowed); err == nil {
		t.codec = codec
	}
	t.remote = net.JoinHostPort(host, strconv.Itoa(audio.MediaName.Port.Value))
	t.started = true
	return nil
}

func (t *audioTransport) Stop() {
	t.started = false
	t.conn.Close()
}

func (t *audioTransport) Started() bool { return t.started }

func (t *audioTransport) SendDTMF(digit byte) error {
	if !t.started {
		return fmt.Errorf("media not started")
	}
	return t.sendDTMF(digit)
}

func (t *audioTransport) Codec() string   { return t.codec.name }
func (t *audioTransport) SampleRate() int { return t.codec.rate }

func (t *audioTransport) LocalEndpoint() string {
	return t.conn.LocalAddr().String()
}

func (t *audioTransport) RemoteEndpoint() string { return t.remote }
