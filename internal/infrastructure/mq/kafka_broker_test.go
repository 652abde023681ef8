package mq

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astro_chat_server/internal/service/relay"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := relay.NewFrame(relay.EventCallAccepted, json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
	require.NoError(t, err)
	env := relay.Envelope{Target: "user1", From: "user2", CallID: "42", Origin: "west", Frame: frame}

	value, err := encodeEnvelope(env)
	require.NoError(t, err)

	got, err := decodeEnvelope(value)
	require.NoError(t, err)
	assert.Equal(t, env.Target, got.Target)
	assert.Equal(t, env.Origin, got.Origin)
	assert.Equal(t, relay.EventCallAccepted, got.Frame.Event)
	assert.JSONEq(t, string(frame.Data), string(got.Frame.Data))
}

func TestEnvelopeRejectsIncomplete(t *testing.T) {
	_, err := encodeEnvelope(relay.Envelope{Frame: relay.Frame{Event: "joined"}})
	assert.Error(t, err)

	_, err = decodeEnvelope([]byte(`{"target":"user1"}`))
	assert.Error(t, err)
	_, err = decodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, splitBrokers(" k1:9092, ,k2:9092"))
	assert.Empty(t, splitBrokers(""))
	assert.Equal(t, "relay-east", consumerGroup("east"))
}
