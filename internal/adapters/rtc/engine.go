// Package rtc implements the media engine on top of pion/webrtc. Each
// worker owns one webrtc.API; each transport is one PeerConnection.
package rtc

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers []core.ICEServer
	UDPPortMin uint16
	UDPPortMax uint16
	NAT1To1IPs []string
}

// Codecs is the fixed router codec set: Opus for audio, VP8 for video.
func Codecs() []core.Codec {
	return []core.Codec{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, PayloadType: 111, SDPFmtpLine: "minptime=10;useinbandfec=1"},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
	}
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) NewWorker(_ context.Context, index int) (core.Worker, error) {
	api, err := e.newAPI()
	if err != nil {
		return nil, err
	}
	w := newWorker(fmt.Sprintf("webrtc-%d", index), api, e.cfg.ICEServers)
	log.Info().Str("module", "webrtc").Str("worker", w.id).Msg("worker ready")
	return w, nil
}

func (e *Engine) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range Codecs() {
		codecType := webrtc.RTPCodecTypeVideo
		if c.Kind() == core.KindAudio {
			codecType = webrtc.RTPCodecTypeAudio
		}
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: capability(c),
			PayloadType:        webrtc.PayloadType(c.PayloadType),
		}, codecType); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	i.Add(pli)
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("default interceptors: %w", err)
	}

	s := webrtc.SettingEngine{}
	if e.cfg.UDPPortMin > 0 && e.cfg.UDPPortMax >= e.cfg.UDPPortMin {
		if err := s.SetEphemeralUDPPortRange(e.cfg.UDPPortMin, e.cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	if len(e.cfg.NAT1To1IPs) > 0 {
		s.SetNAT1To1IPs(e.cfg.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	), nil
}

func capability(c core.Codec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func kindOf(t webrtc.RTPCodecType) core.MediaKind {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return core.KindAudio
	case webrtc.RTPCodecTypeVideo:
		return core.KindVideo
	}
	return ""
}

func iceServers(in []core.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func toSDP(d core.SessionDescription, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(strings.ToLower(d.Type))
	if t != want {
		return webrtc.SessionDescription{}, fmt.Errorf("expected %s, got %q", want, d.Type)
	}
	if d.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("empty sdp")
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromSDP(d *webrtc.SessionDescription) core.SessionDescription {
	if d == nil {
		return core.SessionDescription{}
	}
	return core.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toCandidateInit(c core.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidateInit(c webrtc.ICECandidateInit) core.ICECandidate {
	return core.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
