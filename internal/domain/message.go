package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProtocolViolation marks a bus message whose shape is not understood.
// Receivers log and drop such messages; they are never fatal.
var ErrProtocolViolation = errors.New("protocol violation")

// MessageType identifies a bus message.
type MessageType string

const (
	// MsgSelectItem asks every surface to put a garment on.
	MsgSelectItem MessageType = "SELECT_ITEM"
	// MsgCloseScreen asks the customer surface to terminate itself.
	MsgCloseScreen MessageType = "CLOSE_SCREEN"
	// MsgScreenClosed announces that the customer surface went away.
	MsgScreenClosed MessageType = "SCREEN_CLOSED"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MsgSelectItem, MsgCloseScreen, MsgScreenClosed:
		return true
	}
	return false
}

// Message is the immutable envelope exchanged over the bus.
// Session scopes the message to one try-on session; an empty Session is
// accepted by every receiver.
type Message struct {
	Type    MessageType     `json:"type"`
	Session string          `json:"session,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewSelectItem builds a SELECT_ITEM message carrying g.
func NewSelectItem(session string, g Garment) (Message, error) {
	payload, err := json.Marshal(g)
	if err != nil {
		return Message{}, fmt.Errorf("encode garment payload: %w", err)
	}
	return Message{Type: MsgSelectItem, Session: session, Payload: payload}, nil
}

// NewCloseScreen builds a CLOSE_SCREEN message.
func NewCloseScreen(session string) Message {
	return Message{Type: MsgCloseScreen, Session: session}
}

// NewScreenClosed builds a SCREEN_CLOSED message.
func NewScreenClosed(session string) Message {
	return Message{Type: MsgScreenClosed, Session: session}
}

// Validate checks the envelope shape.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrProtocolViolation, m.Type)
	}
	if m.Type == MsgSelectItem {
		if _, err := m.Garment(); err != nil {
			return err
		}
	}
	return nil
}

// Garment decodes the SELECT_ITEM payload.
func (m Message) Garment() (Garment, error) {
	if m.Type != MsgSelectItem {
		return Garment{}, fmt.Errorf("%w: %s carries no garment", ErrProtocolViolation, m.Type)
	}
	if len(m.Payload) == 0 {
		return Garment{}, fmt.Errorf("%w: empty SELECT_ITEM payload", ErrProtocolViolation)
	}
	var g Garment
	if err := json.Unmarshal(m.Payload, &g); err != nil {
		return Garment{}, fmt.Errorf("%w: decode garment: %v", ErrProtocolViolation, err)
	}
	if g.ID == "" && g.Name == "" {
		return Garment{}, fmt.Errorf("%w: garment without id or name", ErrProtocolViolation)
	}
	return g, nil
}

// InSession reports whether the message belongs to session.
// Messages without a session id, and receivers without one, match anything.
func (m Message) InSession(session string) bool {
	return m.Session == "" || session == "" || m.Session == session
}
