package core

import (
	"strings"

	"github.com/dkeye/liveroom/internal/domain"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// Codec describes one RTP codec as negotiated between client and router.
type Codec struct {
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	PayloadType uint8  `json:"payloadType,omitempty"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
}

// Kind derives the media kind from the mime type prefix.
func (c Codec) Kind() MediaKind {
	mt := strings.ToLower(c.MimeType)
	switch {
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	}
	return ""
}

// RtpCapabilities is what a receiving client can decode.
type RtpCapabilities struct {
	Codecs []Codec `json:"codecs"`
}

type Encoding struct {
	SSRC uint32 `json:"ssrc,omitempty"`
	RID  string `json:"rid,omitempty"`
}

// RtpParameters describe a stream sent by a producer or to a consumer.
type RtpParameters struct {
	MID       string     `json:"mid,omitempty"`
	Codecs    []Codec    `json:"codecs"`
	Encodings []Encoding `json:"encodings,omitempty"`
}

// PrimaryCodec is the first codec listed, the one media is sent with.
func (p RtpParameters) PrimaryCodec() (Codec, error) {
	if len(p.Codecs) == 0 {
		return Codec{}, domain.Invalid("rtp parameters carry no codec")
	}
	return p.Codecs[0], nil
}

// MatchCodec finds the first codec in caps that can carry src unchanged.
func MatchCodec(src Codec, caps []Codec) (Codec, bool) {
	for _, c := range caps {
		if !strings.EqualFold(c.MimeType, src.MimeType) || c.ClockRate != src.ClockRate {
			continue
		}
		if src.Channels > 0 && c.Channels > 0 && src.Channels != c.Channels {
			continue
		}
		return c, true
	}
	return Codec{}, false
}

// CanConsume reports whether a receiver with caps can decode a stream sent
// with params. It is the engine-independent half of Router.CanConsume.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	src, err := params.PrimaryCodec()
	if err != nil {
		return false
	}
	_, ok := MatchCodec(src, caps.Codecs)
	return ok
}

type ICEServer struct {
	URLs       []string `json:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" mapstructure:"credential"`
}

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type TransportInfo struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	ICEServers []ICEServer `json:"iceServers,omitempty"`
}

type ProducerInfo struct {
	ID            string        `json:"id"`
	RoomID        string        `json:"roomId"`
	TransportID   string        `json:"transportId"`
	Kind          MediaKind     `json:"kind"`
	ParticipantID string        `json:"participantId,omitempty"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}

type ConsumerInfo struct {
	ID            string        `json:"id"`
	RoomID        string        `json:"roomId"`
	ProducerID    string        `json:"producerId"`
	TransportID   string        `json:"transportId"`
	Kind          MediaKind     `json:"kind"`
	Paused        bool          `json:"paused"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}
