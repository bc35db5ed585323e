package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog"
)

// videoSlot is the outbound video sender of one peer link.
type videoSlot struct {
	peer   domain.PeerID
	sender port.Sender
}

// MediaController owns the local capture tracks and is the only writer of
// MediaState. Apart from Acquire and AcquireDisplay it must only be used
// from the call service goroutine.
type MediaController struct {
	capturer port.MediaCapturer
	metrics  port.CallMetrics
	log      zerolog.Logger

	camera port.LocalStream
	screen port.LocalTrack
	// shareID identifies the running screen share; 0 when not sharing.
	shareID   uint64
	shareSeq  uint64
	state     domain.MediaState
	installed bool
}

func NewMediaController(capturer port.MediaCapturer, metrics port.CallMetrics, log zerolog.Logger) *MediaController {
	return &MediaController{
		capturer: capturer,
		metrics:  metrics,
		log:      log.With().Str("component", "media").Logger(),
	}
}

// Acquire opens camera and microphone.
func (m *MediaController) Acquire(ctx context.Context) (port.LocalStream, error) {
	stream, err := m.capturer.CaptureUserMedia(ctx)
	if err != nil {
		return port.LocalStream{}, fmt.Errorf("%w: %w", domain.ErrMediaAcquisition, err)
	}
	if len(stream.Tracks()) == 0 {
		return port.LocalStream{}, fmt.Errorf("%w: no camera or microphone track", domain.ErrMediaAcquisition)
	}
	return stream, nil
}

// AcquireDisplay opens a screen capture source.
func (m *MediaController) AcquireDisplay(ctx context.Context) (port.LocalTrack, error) {
	track, err := m.capturer.CaptureDisplay(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaAcquisition, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: no display track", domain.ErrMediaAcquisition)
	}
	return track, nil
}

// Install makes stream the local camera/mic source.
func (m *MediaController) Install(stream port.LocalStream) domain.MediaState {
	m.camera = stream
	m.installed = true
	m.state = domain.MediaState{
		MicEnabled:        stream.Audio != nil && stream.Audio.Enabled(),
		CamEnabled:        stream.Video != nil && stream.Video.Enabled(),
		ActiveVideoSource: domain.SourceCamera,
	}
	m.log.Info().
		Bool("audio", stream.Audio != nil).
		Bool("video", stream.Video != nil).
		Msg("Local media installed")
	return m.state
}

func (m *MediaController) Installed() bool          { return m.installed }
func (m *MediaController) State() domain.MediaState { return m.state }
func (m *MediaController) Sharing() bool            { return m.shareID != 0 }
func (m *MediaController) ShareID() uint64          { return m.shareID }
func (m *MediaController) HasCameraVideo() bool     { return m.camera.Video != nil }

func (m *MediaController) activeVideo() port.LocalTrack {
	if m.state.ActiveVideoSource == domain.SourceScreen && m.screen != nil {
		return m.screen
	}
	return m.camera.Video
}

// Attach adds the local tracks to conn and returns the video sender. The
// video track is whatever source is active right now, so links created
// during a screen share start on the screen.
func (m *MediaController) Attach(conn port.Connection) (port.Sender, error) {
	if m.camera.Audio != nil {
		if _, err := conn.AddTrack(m.camera.Audio); err != nil {
			return nil, fmt.Errorf("add audio track: %w", err)
		}
	} else if err := conn.AddRecvOnly(domain.KindAudio); err != nil {
		return nil, fmt.Errorf("add audio receiver: %w", err)
	}

	video := m.activeVideo()
	if video == nil {
		if err := conn.AddRecvOnly(domain.KindVideo); err != nil {
			return nil, fmt.Errorf("add video receiver: %w", err)
		}
		return nil, nil
	}
	sender, err := conn.AddTrack(video)
	if err != nil {
		return nil, fmt.Errorf("add video track: %w", err)
	}
	return sender, nil
}

func (m *MediaController) ToggleMic() domain.MediaState {
	if m.camera.Audio == nil {
		return m.state
	}
	enabled := !m.camera.Audio.Enabled()
	m.camera.Audio.SetEnabled(enabled)
	m.state.MicEnabled = enabled
	m.log.Info().Bool("enabled", enabled).Msg("Microphone toggled")
	return m.state
}

func (m *MediaController) ToggleCam() domain.MediaState {
	if m.camera.Video == nil {
		return m.state
	}
	enabled := !m.camera.Video.Enabled()
	m.camera.Video.SetEnabled(enabled)
	m.state.CamEnabled = enabled
	m.log.Info().Bool("enabled", enabled).Msg("Camera toggled")
	return m.state
}

// BeginShare switches every slot to track and returns the share ID along
// with the peers whose sender refused the replacement.
func (m *MediaController) BeginShare(track port.LocalTrack, slots []videoSlot) (uint64, []domain.PeerID) {
	m.shareSeq++
	m.shareID = m.shareSeq
	m.screen = track
	m.state.ActiveVideoSource = domain.SourceScreen

	failed := m.replaceAll(track, slots)
	m.metrics.TrackReplaced(domain.SourceScreen)
	m.log.Info().Uint64("share", m.shareID).Int("peers", len(slots)).Msg("Screen share started")
	return m.shareID, failed
}

// EndShare restores the camera on every slot. It does nothing unless id is
// the running share, so the restore happens once per share.
func (m *MediaController) EndShare(id uint64, slots []videoSlot) (bool, []domain.PeerID) {
	if id == 0 || id != m.shareID {
		return false, nil
	}
	screen := m.screen
	m.shareID = 0
	m.screen = nil
	m.state.ActiveVideoSource = domain.SourceCamera

	failed := m.replaceAll(m.camera.Video, slots)
	if screen != nil {
		screen.Stop()
	}
	m.metrics.TrackReplaced(domain.SourceCamera)
	m.log.Info().Uint64("share", id).Int("peers", len(slots)).Msg("Screen share ended, camera restored")
	return true, failed
}

func (m *MediaController) replaceAll(track port.LocalTrack, slots []videoSlot) []domain.PeerID {
	var failed []domain.PeerID
	for _, slot := range slots {
		if err := slot.sender.ReplaceTrack(track); err != nil {
			m.log.Warn().Err(err).Str("peer", slot.peer.String()).Msg("Track replacement failed")
			failed = append(failed, slot.peer)
		}
	}
	return failed
}

// StopAll stops every local track.
func (m *MediaController) StopAll() {
	if m.screen != nil {
		m.screen.Stop()
		m.screen = nil
	}
	m.shareID = 0
	for _, t := range m.camera.Tracks() {
		t.Stop()
	}
	m.camera = port.LocalStream{}
	m.installed = false
}

// Reset returns MediaState to its initial value.
func (m *MediaController) Reset() domain.MediaState {
	m.state = domain.MediaState{}
	return m.state
}

func releaseStream(stream port.LocalStream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

func isMediaFailure(err error) bool {
	return errors.Is(err, domain.ErrMediaAcquisition)
}
