package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageDecode(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"LOGIN","payload":{"email":"a@b.c","password":"pw"}}`), &msg))
	require.Equal(t, TypeLogin, msg.Type)

	var p LoginPayload
	require.NoError(t, msg.Decode(&p))
	require.Equal(t, "a@b.c", p.Email)
	require.NoError(t, p.Validate())
}

func TestMessageDecodeMissingPayload(t *testing.T) {
	msg := Message{Type: TypeStopTracking}

	p := SessionHistoryPayload{Limit: 7}
	require.NoError(t, msg.Decode(&p))
	require.Equal(t, 7, p.Limit, "missing payload leaves defaults untouched")

	msg.Payload = json.RawMessage("null")
	require.NoError(t, msg.Decode(&p))
}

func TestMessageDecodeInvalid(t *testing.T) {
	msg := Message{Type: TypeWebcamData, Payload: json.RawMessage(`{"imageData":42}`)}

	var p WebcamDataPayload
	err := msg.Decode(&p)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeTrackActivity, TrackActivityPayload{ActivityType: "scroll"})
	require.NoError(t, err)
	require.JSONEq(t, `{"activityType":"scroll"}`, string(msg.Payload))

	msg, err = NewMessage(TypeLogout, nil)
	require.NoError(t, err)
	require.Empty(t, msg.Payload)
}

func TestPayloadValidation(t *testing.T) {
	require.ErrorIs(t, LoginPayload{Email: "a@b.c"}.Validate(), ErrInvalidPayload)
	require.ErrorIs(t, WebcamDataPayload{}.Validate(), ErrInvalidPayload)
	require.ErrorIs(t, TrackActivityPayload{}.Validate(), ErrInvalidPayload)
	require.NoError(t, TrackActivityPayload{ActivityType: "click"}.Validate())
}

func TestIsEvent(t *testing.T) {
	require.True(t, EventTabActivated.IsEvent())
	require.True(t, EventStartup.IsEvent())
	require.False(t, TypeStartTracking.IsEvent())
}

func TestTrackingStatusOmitsAbsentSession(t *testing.T) {
	data, err := json.Marshal(TrackingStatus{})
	require.NoError(t, err)
	require.JSONEq(t, `{"isTracking":false}`, string(data))
}
