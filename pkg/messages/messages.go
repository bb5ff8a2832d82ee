package messages

import (
	"encoding/json"
	"fmt"

	"github.com/cbodonnell/gserver/pkg/apperrors"
)

// MessageType names a message of the host/game protocol.
type MessageType string

// Game to host
const (
	MessageTypeGameReady      MessageType = "GAME_READY"
	MessageTypeSaveGame       MessageType = "SAVE_GAME"
	MessageTypeRequestSaves   MessageType = "REQUEST_SAVES"
	MessageTypeUpdateProgress MessageType = "UPDATE_PROGRESS"
	MessageTypeError          MessageType = "ERROR"
)

// Host to game
const (
	MessageTypeUserInfo    MessageType = "USER_INFO"
	MessageTypeRequestSave MessageType = "REQUEST_SAVE"
	MessageTypeSavesList   MessageType = "SAVES_LIST"
	MessageTypeLoadGame    MessageType = "LOAD_GAME"
)

// Message is the envelope of every message exchanged with a game frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a raw frame message. A message without a type is a validation failure.
func Decode(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, apperrors.Validation("malformed message: %v", err)
	}
	if msg.Type == "" {
		return nil, apperrors.Validation("message has no type")
	}
	return msg, nil
}

// New builds a message with the JSON encoding of payload.
func New(t MessageType, payload interface{}) (*Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %v", t, err)
	}
	return &Message{
		Type:    t,
		Payload: b,
	}, nil
}

// Encode returns the JSON encoding of the message.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Payload) == 0 {
		m.Payload = json.RawMessage(`{}`)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %v", err)
	}
	return b, nil
}

// DecodePayload unmarshals the payload into v. An absent payload leaves v untouched.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return apperrors.Validation("malformed %s payload: %v", m.Type, err)
	}
	return nil
}
