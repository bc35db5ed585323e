package ws

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// envelope is the JSON shape of every relay message. Outbound negotiation
// messages carry "to", inbound ones carry "from".
type envelope struct {
	Type      domain.MessageType         `json:"type"`
	Users     []domain.PeerID            `json:"users,omitempty"`
	Username  domain.PeerID              `json:"username,omitempty"`
	From      domain.PeerID              `json:"from,omitempty"`
	To        domain.PeerID              `json:"to,omitempty"`
	Offer     *domain.SessionDescription `json:"offer,omitempty"`
	Answer    *domain.SessionDescription `json:"answer,omitempty"`
	Candidate *domain.ICECandidate       `json:"candidate,omitempty"`
}

// Encode serializes an outbound message.
func Encode(msg domain.Message) ([]byte, error) {
	env := envelope{Type: msg.Type()}

	switch m := msg.(type) {
	case domain.JoinRoom, domain.LeaveRoom:
	case domain.RoomUsers:
		env.Users = m.Users
		if env.Users == nil {
			env.Users = []domain.PeerID{}
		}
	case domain.UserJoined:
		env.Username = m.Username
	case domain.UserLeft:
		env.Username = m.Username
	case domain.Offer:
		env.To = m.Peer
		env.Offer = &m.Description
	case domain.Answer:
		env.To = m.Peer
		env.Answer = &m.Description
	case domain.ICE:
		env.To = m.Peer
		env.Candidate = &m.Candidate
	default:
		return nil, fmt.Errorf("encode %T: unknown message", msg)
	}
	return json.Marshal(env)
}

// Decode parses an inbound message. Anything that is not a complete, known
// message fails with domain.ErrMalformedMessage.
func Decode(data []byte) (domain.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}

	switch env.Type {
	case domain.TypeJoinRoom:
		return domain.JoinRoom{}, nil
	case domain.TypeLeaveRoom:
		return domain.LeaveRoom{}, nil
	case domain.TypeRoomUsers:
		if env.Users == nil {
			return nil, malformed(env.Type, "users")
		}
		return domain.RoomUsers{Users: env.Users}, nil
	case domain.TypeUserJoined:
		if env.Username == "" {
			return nil, malformed(env.Type, "username")
		}
		return domain.UserJoined{Username: env.Username}, nil
	case domain.TypeUserLeft:
		if env.Username == "" {
			return nil, malformed(env.Type, "username")
		}
		return domain.UserLeft{Username: env.Username}, nil
	case domain.TypeOffer:
		if env.From == "" || env.Offer == nil || env.Offer.SDP == "" {
			return nil, malformed(env.Type, "from/offer")
		}
		return domain.Offer{Peer: env.From, Description: *env.Offer}, nil
	case domain.TypeAnswer:
		if env.From == "" || env.Answer == nil || env.Answer.SDP == "" {
			return nil, malformed(env.Type, "from/answer")
		}
		return domain.Answer{Peer: env.From, Description: *env.Answer}, nil
	case domain.TypeICE:
		if env.From == "" || env.Candidate == nil {
			return nil, malformed(env.Type, "from/candidate")
		}
		return domain.ICE{Peer: env.From, Candidate: *env.Candidate}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedMessage, env.Type)
	}
}

func malformed(t domain.MessageType, field string) error {
	return fmt.Errorf("%w: %s without %s", domain.ErrMalformedMessage, t, field)
}
