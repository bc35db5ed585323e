package domain

type MessageType string

const (
	TypeJoinRoom   MessageType = "join_room"
	TypeLeaveRoom  MessageType = "leave_room"
	TypeRoomUsers  MessageType = "room_users"
	TypeUserJoined MessageType = "user_joined"
	TypeUserLeft   MessageType = "user_left"
	TypeOffer      MessageType = "webrtc_offer"
	TypeAnswer     MessageType = "webrtc_answer"
	TypeICE        MessageType = "webrtc_ice"
)

// Message is a signaling message. The set of implementations is closed:
// only the types in this file satisfy it.
//
// Peer-addressed messages carry a single Peer field. Outbound it is the
// recipient, inbound it is the sender; the relay rewrites one into the other.
type Message interface {
	Type() MessageType
	isMessage()
}

type JoinRoom struct{}

type LeaveRoom struct{}

type RoomUsers struct {
	Users []PeerID
}

type UserJoined struct {
	Username PeerID
}

type UserLeft struct {
	Username PeerID
}

type Offer struct {
	Peer        PeerID
	Description SessionDescription
}

type Answer struct {
	Peer        PeerID
	Description SessionDescription
}

type ICE struct {
	Peer      PeerID
	Candidate ICECandidate
}

func (JoinRoom) Type() MessageType   { return TypeJoinRoom }
func (LeaveRoom) Type() MessageType  { return TypeLeaveRoom }
func (RoomUsers) Type() MessageType  { return TypeRoomUsers }
func (UserJoined) Type() MessageType { return TypeUserJoined }
func (UserLeft) Type() MessageType   { return TypeUserLeft }
func (Offer) Type() MessageType      { return TypeOffer }
func (Answer) Type() MessageType     { return TypeAnswer }
func (ICE) Type() MessageType        { return TypeICE }

func (JoinRoom) isMessage()   {}
func (LeaveRoom) isMessage()  {}
func (RoomUsers) isMessage()  {}
func (UserJoined) isMessage() {}
func (UserLeft) isMessage()   {}
func (Offer) isMessage()      {}
func (Answer) isMessage()     {}
func (ICE) isMessage()        {}
