package domain

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription mirrors RTCSessionDescriptionInit on the wire.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit on the wire.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateOfferSent
	StateOfferReceived
	StateStable
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer_sent"
	case StateOfferReceived:
		return "offer_received"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s NegotiationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CloseReason says why a peer link reached StateClosed.
type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonPeerLeft
	ReasonLocalLeave
	ReasonReplaced
	ReasonFailed
)

func (r CloseReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPeerLeft:
		return "peer_left"
	case ReasonLocalLeave:
		return "local_leave"
	case ReasonReplaced:
		return "replaced"
	case ReasonFailed:
		return "failed"
	}
	return "unknown"
}

// ConnectionState is the media connection status reported by the engine.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the peer should be treated as gone.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionDisconnected || s == ConnectionFailed
}
