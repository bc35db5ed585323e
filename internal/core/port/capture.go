package port

import (
	"context"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	// SetEnabled mutes or blanks the track without removing it.
	SetEnabled(enabled bool)
	// OnEnded registers fn to run once when the source stops producing.
	OnEnded(fn func())
	Stop()
}

// LocalStream holds the camera and microphone tracks. Either may be nil when
// the device is unavailable.
type LocalStream struct {
	Audio LocalTrack
	Video LocalTrack
}

func (s LocalStream) Tracks() []LocalTrack {
	var tracks []LocalTrack
	if s.Audio != nil {
		tracks = append(tracks, s.Audio)
	}
	if s.Video != nil {
		tracks = append(tracks, s.Video)
	}
	return tracks
}

type MediaCapturer interface {
	CaptureUserMedia(ctx context.Context) (LocalStream, error)
	CaptureDisplay(ctx context.Context) (LocalTrack, error)
}
