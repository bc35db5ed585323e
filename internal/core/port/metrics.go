package port

import "github.com/Wyydra/meshcall/internal/core/domain"

type CallMetrics interface {
	PeerLinkOpened(role domain.Role)
	PeerLinkClosed(reason domain.CloseReason)
	NegotiationCompleted(role domain.Role)
	SignalSent(t domain.MessageType)
	SignalReceived(t domain.MessageType)
	StaleSignalDropped(t domain.MessageType)
	// MalformedDropped counts inbound frames the channel could not decode.
	MalformedDropped()
	CandidatesBuffered(n int)
	TrackReplaced(source domain.VideoSource)
}

type NopMetrics struct{}

func (NopMetrics) PeerLinkOpened(domain.Role)            {}
func (NopMetrics) PeerLinkClosed(domain.CloseReason)     {}
func (NopMetrics) NegotiationCompleted(domain.Role)      {}
func (NopMetrics) SignalSent(domain.MessageType)         {}
func (NopMetrics) SignalReceived(domain.MessageType)     {}
func (NopMetrics) StaleSignalDropped(domain.MessageType) {}
func (NopMetrics) MalformedDropped()                     {}
func (NopMetrics) CandidatesBuffered(int)                {}
func (NopMetrics) TrackReplaced(domain.VideoSource)      {}
