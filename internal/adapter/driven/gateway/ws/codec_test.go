package ws

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

func TestDecode(t *testing.T) {
	mid := "0"
	tests := []struct {
		name string
		in   string
		want domain.Message
	}{
		{"room users", `{"type":"room_users","users":["bob","carol"]}`, domain.RoomUsers{Users: []domain.PeerID{"bob", "carol"}}},
		{"empty room", `{"type":"room_users","users":[]}`, domain.RoomUsers{Users: []domain.PeerID{}}},
		{"user joined", `{"type":"user_joined","username":"bob"}`, domain.UserJoined{Username: "bob"}},
		{"user left", `{"type":"user_left","username":"bob"}`, domain.UserLeft{Username: "bob"}},
		{"offer", `{"type":"webrtc_offer","from":"bob","offer":{"type":"offer","sdp":"v=0"}}`,
			domain.Offer{Peer: "bob", Description: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"}}},
		{"answer", `{"type":"webrtc_answer","from":"bob","answer":{"type":"answer","sdp":"v=0"}}`,
			domain.Answer{Peer: "bob", Description: domain.SessionDescription{Type: domain.SDPAnswer, SDP: "v=0"}}},
		{"ice", `{"type":"webrtc_ice","from":"bob","candidate":{"candidate":"candidate:1","sdpMid":"0"}}`,
			domain.ICE{Peer: "bob", Candidate: domain.ICECandidate{Candidate: "candidate:1", SDPMid: &mid}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type() != tt.want.Type() {
				t.Fatalf("type = %s, want %s", got.Type(), tt.want.Type())
			}
			// Compare through JSON so pointer fields compare by value.
			gb, _ := json.Marshal(got)
			wb, _ := json.Marshal(tt.want)
			if string(gb) != string(wb) {
				t.Errorf("got %s, want %s", gb, wb)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":              `{"type":`,
		"missing type":          `{"users":[]}`,
		"unknown type":          `{"type":"userlist","users":["bob"]}`,
		"room without list":     `{"type":"room_users"}`,
		"join without name":     `{"type":"user_joined"}`,
		"offer without from":    `{"type":"webrtc_offer","offer":{"type":"offer","sdp":"v=0"}}`,
		"offer without sdp":     `{"type":"webrtc_offer","from":"bob","offer":{"type":"offer"}}`,
		"answer without body":   `{"type":"webrtc_answer","from":"bob"}`,
		"ice without candidate": `{"type":"webrtc_ice","from":"bob"}`,
	}

	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(in)); !errors.Is(err, domain.ErrMalformedMessage) {
				t.Fatalf("Decode error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestEncodeAddressesRecipient(t *testing.T) {
	data, err := Encode(domain.Offer{Peer: "carol", Description: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "webrtc_offer" || got["to"] != "carol" {
		t.Fatalf("envelope = %v", got)
	}
	if _, ok := got["from"]; ok {
		t.Error("outbound offer carries a from field")
	}
	offer, ok := got["offer"].(map[string]any)
	if !ok || offer["type"] != "offer" || offer["sdp"] != "v=0" {
		t.Errorf("offer = %v", got["offer"])
	}
}

func TestEncodeJoinRoom(t *testing.T) {
	data, err := Encode(domain.JoinRoom{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"type":"join_room"}` {
		t.Errorf("join_room = %s", data)
	}
}
