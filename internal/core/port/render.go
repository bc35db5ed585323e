package port

import "github.com/Wyydra/meshcall/internal/core/domain"

// RenderSink presents the call. Calls arrive on the call service goroutine
// and must not block.
type RenderSink interface {
	OnParticipantAdded(id domain.PeerID)
	OnParticipantRemoved(id domain.PeerID)
	OnRemoteStream(id domain.PeerID, stream RemoteStream)
	OnLocalMediaStateChanged(state domain.MediaState)
	OnSystemNotice(notice domain.Notice)
}
