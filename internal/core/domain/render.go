package domain

import "time"

type RenderEventKind string

const (
	EventParticipantAdded   RenderEventKind = "participant_added"
	EventParticipantRemoved RenderEventKind = "participant_removed"
	EventRemoteStream       RenderEventKind = "remote_stream"
	EventMediaState         RenderEventKind = "media_state"
	EventNotice             RenderEventKind = "notice"
)

type StreamInfo struct {
	StreamID string    `json:"stream_id"`
	TrackID  string    `json:"track_id"`
	Kind     MediaKind `json:"kind"`
}

// RenderEvent is one change of what the UI shows. Seq is assigned by the
// event log and increases by one per event.
type RenderEvent struct {
	Seq    uint64          `json:"seq"`
	Kind   RenderEventKind `json:"event"`
	Peer   PeerID          `json:"peer,omitempty"`
	Stream *StreamInfo     `json:"stream,omitempty"`
	Media  *MediaState     `json:"media,omitempty"`
	Notice *Notice         `json:"notice,omitempty"`
	At     time.Time       `json:"at"`
}
