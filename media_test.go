package main

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioTransportOffersAllCodecs(t *testing.T) {
	tr, err := newAudioTransport("127.0.0.1", nil, nil, nil)
	require.NoError(t, err)
	defer tr.Stop()

	local := tr.LocalDescription()
	require.Len(t, local.MediaDescriptions, 1)
	audio := local.MediaDescriptions[0]
	assert.Equal(t, "audio", audio.MediaName.Media)
	assert.Equal(t, []string{"0", "8"}, audio.MediaName.Formats)
	assert.NotZero(t, audio.MediaName.Port.Value)
	require.Len(t, audio.Attributes, 2)
	assert.Equal(t, "rtpmap", audio.Attributes[0].Key)
	assert.Equal(t, "0 PCMU/8000", audio.Attributes[0].Value)
}

func TestAudioTransportAnswersOffer(t *testing.T) {
	tr, err := newAudioTransport("127.0.0.1", nil, audioOffer(8), nil)
	require.NoError(t, err)
	defer tr.Stop()

	local := tr.LocalDescription()
	require.Len(t, local.MediaDescriptions, 1)
	assert.Equal(t, []string{"8"}, local.MediaDescriptions[0].MediaName.Formats)
	assert.Equal(t, "PCMA", tr.Codec())
}

func TestAudioTransportRejectsForeignCodecs(t *testing.T) {
	_, err := newAudioTransport("127.0.0.1", nil, audioOffer(96), nil)
	assert.Error(t, err)
}

func TestAudioTransportStart(t *testing.T) {
	tr, err := newAudioTransport("127.0.0.1", nil, nil, func(byte) error { return nil })
	require.NoError(t, err)
	defer tr.Stop()

	assert.False(t, tr.Started())
	assert.Error(t, tr.SendDTMF('1')) // media not negotiated yet

	require.NoError(t, tr.Start(tr.LocalDescription(), audioOffer(0)))
	assert.True(t, tr.Started())
	assert.Equal(t, "10.0.0.2:4002", tr.RemoteEndpoint())
	assert.Equal(t, "PCMU", tr.Codec())
	assert.Equal(t, 8000, tr.SampleRate())
	assert.NoError(t, tr.SendDTMF('1'))
}

func TestAllowedCodecsOrder(t *testing.T) {
	assert.Equal(t, []audioCodec{{payload: 8, name: "PCMA", rate: 8000}}, allowedCodecs([]string{"pcma"}))
	assert.Equal(t, supportedCodecs, allowedCodecs(nil))
	assert.Equal(t, supportedCodecs, allowedCodecs([]string{"OPUS"}))

	tr, err := newAudioTransport("127.0.0.1", allowedCodecs([]string{"PCMA", "PCMU"}), nil, nil)
	require.NoError(t, err)
	defer tr.Stop()
	assert.Equal(t, []string{"8", "0"}, tr.LocalDescription().MediaDescriptions[0].MediaName.Formats)
}

func TestMatchCodecNoAudioLine(t *testing.T) {
	desc := &sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{Media: "video", Formats: []string{"96"}},
		}},
	}
	_, err := matchCodec(desc, supportedCodecs)
	assert.Error(t, err)
}
