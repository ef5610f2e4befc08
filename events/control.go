package events

import (
	"encoding/json"
	"fmt"
)

// Control frame types exchanged outside the mutation stream.
const (
	TypeAuth      = "AUTH"
	TypeAuthOK    = "AUTH_OK"
	TypeAuthError = "AUTH_ERROR"
	TypePing      = "PING"
	TypePong      = "PONG"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// Auth is sent by a client after connecting to subscribe to its
// organization's events.
type Auth struct {
	Type           string `json:"type"`
	OrganizationID string `json:"organizationId"`
	Role           Role   `json:"role"`
	Token          string `json:"token"`
}

func NewAuth(orgID string, role Role, token string) Auth {
	return Auth{Type: TypeAuth, OrganizationID: orgID, Role: role, Token: token}
}

// Inbound is the union of client → server messages; Type selects the meaning.
type Inbound struct {
	Type           string `json:"type"`
	OrganizationID string `json:"organizationId,omitempty"`
	Role           Role   `json:"role,omitempty"`
	Token          string `json:"token,omitempty"`
}

func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("events: decode client message: %w", err)
	}
	return in, nil
}

// ControlFrame builds a server → client control frame.
func ControlFrame(typ string, payload any) ([]byte, error) {
	f := Frame{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}

// PeekType returns the type field of any frame without decoding the payload.
func PeekType(data []byte) (string, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", err
	}
	return f.Type, nil
}
