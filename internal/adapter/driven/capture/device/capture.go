package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoCodecs = errors.New("no encoders available on this platform")

type Config struct {
	MaxWidth  int
	MaxHeight int
}

// Capturer opens local devices through pion/mediadevices. Tracks are
// encoded with the codecs of selector, which must also be registered on the
// media engine that sends them.
type Capturer struct {
	cfg      Config
	selector *mediadevices.CodecSelector
}

func NewCapturer(cfg Config, selector *mediadevices.CodecSelector) *Capturer {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 640
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 480
	}
	return &Capturer{cfg: cfg, selector: selector}
}

type attempt struct {
	video bool
	audio bool
	label string
}

// CaptureUserMedia opens camera and microphone. GetUserMedia fails as a
// unit, so video-only and audio-only are tried before giving up.
func (c *Capturer) CaptureUserMedia(ctx context.Context) (port.LocalStream, error) {
	if c.selector == nil {
		return port.LocalStream{}, ErrNoCodecs
	}

	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		if err := ctx.Err(); err != nil {
			return port.LocalStream{}, err
		}

		stream, err := mediadevices.GetUserMedia(c.constraints(a))
		if err != nil {
			log.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		var out port.LocalStream
		for _, t := range stream.GetTracks() {
			track := newTrack(t)
			switch track.Kind() {
			case domain.KindAudio:
				out.Audio = track
			case domain.KindVideo:
				out.Video = track
			}
		}
		log.Info().Str("attempt", a.label).Int("tracks", len(out.Tracks())).Msg("Local media captured")
		return out, nil
	}
	return port.LocalStream{}, fmt.Errorf("all capture attempts failed: %w", lastErr)
}

func (c *Capturer) constraints(a attempt) mediadevices.MediaStreamConstraints {
	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if a.video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; some cameras produce broken MJPEG.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: c.cfg.MaxWidth}
			mc.Height = prop.IntRanged{Max: c.cfg.MaxHeight}
		}
	}
	if a.audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	return constraints
}

// CaptureDisplay opens a screen capture source.
func (c *Capturer) CaptureDisplay(ctx context.Context) (port.LocalTrack, error) {
	if c.selector == nil {
		return nil, ErrNoCodecs
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: c.selector,
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("display capture returned no video track")
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	log.Info().Str("track", tracks[0].ID()).Msg("Screen capture started")
	return newTrack(tracks[0]), nil
}

func kindOf(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}
