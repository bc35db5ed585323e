package device

import (
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Track is a captured device track. A disabled track keeps flowing but
// carries black frames or silence, so senders need no renegotiation.
type Track struct {
	source  mediadevices.Track
	id      string
	kind    domain.MediaKind
	enabled atomic.Bool

	mu      sync.Mutex
	ended   bool
	onEnded []func()
	stopped bool

	blankMu sync.Mutex
	blank   image.Image
}

func newTrack(source mediadevices.Track) *Track {
	t := &Track{
		source: source,
		id:     source.ID(),
		kind:   kindOf(source.Kind()),
	}
	t.enabled.Store(true)

	switch s := source.(type) {
	case *mediadevices.VideoTrack:
		s.Transform(t.gateVideo)
	case *mediadevices.AudioTrack:
		s.Transform(t.gateAudio)
	}
	source.OnEnded(func(err error) {
		if err != nil {
			log.Debug().Err(err).Str("track", t.id).Msg("Capture track ended")
		}
		t.end()
	})
	return t
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Kind() domain.MediaKind   { return t.kind }
func (t *Track) Enabled() bool            { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *Track) Local() webrtc.TrackLocal { return t.source }

// OnEnded registers fn to run once the source stops. It runs immediately
// when the source has already ended on its own.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

func (t *Track) end() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	handlers := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// Stop releases the device. Handlers registered with OnEnded do not run.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.ended = true
	t.onEnded = nil
	t.mu.Unlock()

	if t.source == nil {
		return
	}
	if err := t.source.Close(); err != nil {
		log.Debug().Err(err).Str("track", t.id).Msg("Error closing capture track")
	}
}

func (t *Track) gateVideo(r video.Reader) video.Reader {
	return video.ReaderFunc(func() (image.Image, func(), error) {
		img, release, err := r.Read()
		if err != nil || t.Enabled() {
			return img, release, err
		}
		bounds := img.Bounds()
		if release != nil {
			release()
		}
		return t.blankFrame(bounds), func() {}, nil
	})
}

func (t *Track) blankFrame(bounds image.Rectangle) image.Image {
	t.blankMu.Lock()
	defer t.blankMu.Unlock()
	if t.blank != nil && t.blank.Bounds() == bounds {
		return t.blank
	}
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, image.Black, image.Point{}, draw.Src)
	t.blank = img
	return img
}

func (t *Track) gateAudio(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil || t.Enabled() {
			return chunk, release, err
		}
		info := chunk.ChunkInfo()
		if release != nil {
			release()
		}
		return wave.NewInt16Interleaved(info), func() {}, nil
	})
}
