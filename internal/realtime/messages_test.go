package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livecart/backend/internal/models"
)

func envelope(t *testing.T, event string, data interface{}) WSMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return WSMessage{Event: event, Data: raw}
}

func TestDecodeInbound_Valid(t *testing.T) {
	stream := uuid.New()

	in, err := DecodeInbound(envelope(t, KindJoin, map[string]string{"stream": stream.String(), "device_hint": "tablet"}))
	require.NoError(t, err)
	join, ok := in.(*JoinMsg)
	require.True(t, ok)
	assert.Equal(t, stream, join.StreamID)
	assert.Equal(t, "tablet", join.DeviceHint)

	in, err = DecodeInbound(envelope(t, KindOrderPlaced, map[string]interface{}{
		"stream":  stream.String(),
		"product": uuid.New().String(),
		"amount":  "19.99",
	}))
	require.NoError(t, err)
	order := in.(*OrderPlacedMsg)
	assert.Equal(t, "19.99", order.Amount.String())
	assert.Equal(t, uuid.Nil, order.OrderID)

	in, err = DecodeInbound(envelope(t, KindSetActive, map[string]interface{}{"stream": stream.String(), "active": false}))
	require.NoError(t, err)
	assert.False(t, *in.(*SetActiveMsg).Active)
}

func TestDecodeInbound_Rejects(t *testing.T) {
	stream := uuid.New().String()
	tests := []struct {
		name string
		msg  WSMessage
		want error
	}{
		{"unknown kind", WSMessage{Event: "rotate_ad", Data: json.RawMessage(`{}`)}, ErrUnknownKind},
		{"missing data", WSMessage{Event: KindJoin}, models.ErrInvalidInput},
		{"not json", WSMessage{Event: KindJoin, Data: json.RawMessage(`"x"`)}, models.ErrInvalidInput},
		{"bad uuid", envelope(t, KindLeave, map[string]string{"stream": "abc"}), models.ErrInvalidInput},
		{"nil stream", envelope(t, KindJoin, map[string]string{}), models.ErrInvalidInput},
		{"set_active without flag", envelope(t, KindSetActive, map[string]string{"stream": stream}), models.ErrInvalidInput},
		{"blank chat", envelope(t, KindChatMessage, map[string]string{"stream": stream, "text": "  "}), models.ErrInvalidInput},
		{"one poll option", envelope(t, KindCreatePoll, map[string]interface{}{"stream": stream, "question": "Q", "options": []string{"A"}}), models.ErrInvalidInput},
		{"blank vote option", envelope(t, KindVotePoll, map[string]string{"poll_id": uuid.New().String()}), models.ErrInvalidInput},
		{"zero amount", envelope(t, KindOrderPlaced, map[string]string{"stream": stream, "product": uuid.New().String(), "amount": "0"}), models.ErrInvalidInput},
		{"missing product", envelope(t, KindOrderPlaced, map[string]string{"stream": stream, "amount": "5"}), models.ErrInvalidInput},
		{"blank answer", envelope(t, KindSubmitAnswer, map[string]string{"question_id": uuid.New().String()}), models.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInbound(tt.msg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
