package pion

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/teamhive/signal-relay/internal/peer"
)

// Media is the local capture session: one audio and one video track opened
// at call start and attached to every peer connection. A screen track is
// created on demand and swapped in place of the camera.
type Media struct {
	audio  *webrtc.TrackLocalStaticSample
	camera *webrtc.TrackLocalStaticSample
	screen *webrtc.TrackLocalStaticSample
}

func NewMedia() (*Media, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "signal-relay")
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}
	camera, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", "signal-relay")
	if err != nil {
		return nil, fmt.Errorf("camera track: %w", err)
	}
	return &Media{audio: audio, camera: camera}, nil
}

// Video returns the camera feed. Implements peer.Media.
func (m *Media) Video() peer.VideoSource { return m.camera }

// Screen returns the screen-share feed, creating its track on first use.
func (m *Media) Screen() (peer.VideoSource, error) {
	if m.screen == nil {
		screen, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "signal-relay")
		if err != nil {
			return nil, fmt.Errorf("screen track: %w", err)
		}
		m.screen = screen
	}
	return m.screen, nil
}

// Audio returns the microphone track for attachment to new connections.
func (m *Media) Audio() *webrtc.TrackLocalStaticSample { return m.audio }

// Close releases the capture session. Static sample tracks hold no device
// handles themselves; the capture pipeline feeding them stops writing once
// the session is closed.
func (m *Media) Close() error {
	m.screen = nil
	return nil
}

var _ peer.Media = (*Media)(nil)
