package domain

import (
	"github.com/google/uuid"
)

// PeerID is a participant identity. It equals the authenticated username.
type PeerID string

func (id PeerID) String() string {
	return string(id)
}

// Less orders identities lexicographically. Used to break offer glare.
func (id PeerID) Less(other PeerID) bool {
	return string(id) < string(other)
}

type ClientID uuid.UUID

func NewClientID() ClientID {
	return ClientID(uuid.New())
}

func (id ClientID) String() string {
	return uuid.UUID(id).String()
}
