package port

import (
	"context"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// ConnectionHandlers are invoked by the engine from its own goroutines.
type ConnectionHandlers struct {
	OnICECandidate func(domain.ICECandidate)
	OnRemoteStream func(RemoteStream)
	OnStateChange  func(domain.ConnectionState)
}

type MediaEngine interface {
	NewConnection(peer domain.PeerID, handlers ConnectionHandlers) (Connection, error)
}

// Connection is the media connection to one remote peer.
type Connection interface {
	AddTrack(track LocalTrack) (Sender, error)
	// AddRecvOnly makes the connection receive kind without sending it.
	AddRecvOnly(kind domain.MediaKind) error
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddICECandidate(ctx context.Context, candidate domain.ICECandidate) error
	Close() error
}

// Sender is an outbound track slot. ReplaceTrack swaps its source without
// renegotiating.
type Sender interface {
	Track() LocalTrack
	ReplaceTrack(track LocalTrack) error
}

type RemoteStream interface {
	StreamID() string
	TrackID() string
	Kind() domain.MediaKind
}
