package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Event envelope
// ---------------------------------------------------------------------------

func TestNewEvent_PopulatesEnvelope(t *testing.T) {
	event, err := NewEvent(SubjectRequestCreated, "aubus", map[string]string{"request_id": "42"})
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, SubjectRequestCreated, event.Type)
	assert.Equal(t, "aubus", event.Source)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
	assert.False(t, event.Timestamp.IsZero())

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err, "event ID should parse as a UUID")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "42", payload["request_id"])
}

func TestNewEvent_NilPayloadEncodesAsNull(t *testing.T) {
	event, err := NewEvent("test.event", "test-source", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), event.Data)
}

func TestNewEvent_RequestCreatedData(t *testing.T) {
	data := RequestCreatedData{
		RequestID:        7,
		RiderID:          uuid.New(),
		Direction:        "to_campus",
		OriginLatitude:   33.8892,
		OriginLongitude:  35.4805,
		DestLatitude:     33.9007,
		DestLongitude:    35.4794,
		CandidateCount:   7,
		OffersSent:       3,
		EstimatedSeconds: 900,
		CreatedAt:        time.Now().UTC(),
	}

	event, err := NewEvent(SubjectRequestCreated, "aubus", data)
	require.NoError(t, err)

	var decoded RequestCreatedData
	require.NoError(t, json.Unmarshal(event.Data, &decoded))
	assert.Equal(t, data.RequestID, decoded.RequestID)
	assert.Equal(t, data.RiderID, decoded.RiderID)
	assert.Equal(t, data.Direction, decoded.Direction)
	assert.Equal(t, data.CandidateCount, decoded.CandidateCount)
	assert.Equal(t, data.OffersSent, decoded.OffersSent)
}

func TestNewEvent_RejectsUnencodablePayload(t *testing.T) {
	event, err := NewEvent("test", "src", make(chan int))
	assert.Error(t, err)
	assert.Nil(t, event)
}

func TestNewEvent_IDsDoNotRepeat(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		event, err := NewEvent("test", "src", nil)
		require.NoError(t, err)
		require.False(t, seen[event.ID], "event ID repeated after %d events", i)
		seen[event.ID] = true
	}
}

func TestEvent_SurvivesJSONRoundTrip(t *testing.T) {
	original, err := NewEvent(SubjectRideCompleted, "aubus", map[string]int{"request_id": 12})
	require.NoError(t, err)

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.Source, decoded.Source)
	assert.JSONEq(t, string(original.Data), string(decoded.Data))
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "AUBUS", cfg.StreamName)
	assert.Equal(t, "aubus", cfg.Name)
	assert.NotEmpty(t, cfg.URL)
}
