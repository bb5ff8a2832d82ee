package messages

import (
	"encoding/json"
	"testing"

	"github.com/cbodonnell/gserver/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name           string
		data           string
		wantType       MessageType
		wantValidation bool
	}{
		{
			name:     "game ready",
			data:     `{"type":"GAME_READY","payload":{"gameId":"snake","version":"1.0.0"}}`,
			wantType: MessageTypeGameReady,
		},
		{
			name:     "unknown type still decodes",
			data:     `{"type":"DANCE","payload":{}}`,
			wantType: MessageType("DANCE"),
		},
		{
			name:     "missing payload",
			data:     `{"type":"REQUEST_SAVES"}`,
			wantType: MessageTypeRequestSaves,
		},
		{
			name:           "missing type",
			data:           `{"payload":{"gameId":"snake"}}`,
			wantValidation: true,
		},
		{
			name:           "not json",
			data:           `hello`,
			wantValidation: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.data))
			if tt.wantValidation {
				assert.True(t, apperrors.IsValidation(err), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
		})
	}
}

func TestMessage_Encode(t *testing.T) {
	msg, err := New(MessageTypeRequestSave, &RequestSave{SlotNumber: 2, RequestID: "r-1"})
	require.NoError(t, err)

	b, err := msg.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"REQUEST_SAVE","payload":{"slotNumber":2,"requestId":"r-1"}}`, string(b))
}

func TestMessage_DecodePayload(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"SAVE_GAME","payload":{"slotNumber":1,"saveData":{"score":50},"metadata":{"score":50},"thumbnail":null}}`))
	require.NoError(t, err)

	payload := &SaveGame{}
	require.NoError(t, msg.DecodePayload(payload))
	assert.Equal(t, 1, payload.SlotNumber)
	assert.JSONEq(t, `{"score":50}`, string(payload.SaveData))
	assert.Nil(t, payload.Thumbnail)
	assert.Empty(t, payload.RequestID)

	bad := &Message{Type: MessageTypeSaveGame, Payload: json.RawMessage(`{"slotNumber":"one"}`)}
	assert.True(t, apperrors.IsValidation(bad.DecodePayload(&SaveGame{})))
}
