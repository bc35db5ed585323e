package domain

import "time"

type CallStatus int

const (
	StatusIdle CallStatus = iota
	StatusJoining
	StatusInCall
	StatusLeaving
)

func (s CallStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusJoining:
		return "joining"
	case StatusInCall:
		return "in_call"
	case StatusLeaving:
		return "leaving"
	}
	return "unknown"
}

type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "callee"
}

// Discovery records how the local side learned about a remote peer.
type Discovery int

const (
	// DiscoveredInSnapshot: the peer was listed in room_users, i.e. it was
	// already in the call when we joined.
	DiscoveredInSnapshot Discovery = iota
	// DiscoveredOnJoin: a user_joined notification announced the peer after us.
	DiscoveredOnJoin
	// DiscoveredByOffer: the first thing we heard from the peer was its offer.
	DiscoveredByOffer
)

// RoleFor decides which side of a pair initiates negotiation. The peer that
// receives the roster snapshot offers to everyone in it; everyone already
// present waits for that offer. Each pair therefore has exactly one initiator.
func RoleFor(local, remote PeerID, via Discovery) Role {
	if local == remote {
		return RoleCallee
	}
	if via == DiscoveredInSnapshot {
		return RoleCaller
	}
	return RoleCallee
}

// KeepsOfferInGlare reports whether the local side keeps its own pending
// offer when the remote peer sends a competing one.
func KeepsOfferInGlare(local, remote PeerID) bool {
	return local.Less(remote)
}

type Participant struct {
	ID       PeerID    `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

type VideoSource int

const (
	SourceCamera VideoSource = iota
	SourceScreen
)

func (s VideoSource) String() string {
	if s == SourceScreen {
		return "screen"
	}
	return "camera"
}

func (s VideoSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type MediaState struct {
	MicEnabled        bool        `json:"mic_enabled"`
	CamEnabled        bool        `json:"cam_enabled"`
	ActiveVideoSource VideoSource `json:"active_video_source"`
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a non-fatal message meant for the user.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

func (s CallStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
