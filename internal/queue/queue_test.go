package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	body, _ := json.Marshal(map[string]string{"record_id": "r-1"})
	require.NoError(t, q.Publish(ctx, Message{Type: "admitted", Body: body}))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-out:
		assert.Equal(t, "admitted", msg.Type)
		assert.JSONEq(t, `{"record_id":"r-1"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemoryPublishRespectsCancellation(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, Message{Type: "admitted"}))

	// queue is full; a cancelled publish must not block
	cancel()
	err := q.Publish(ctx, Message{Type: "admitted"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMessageRoundTrip(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"student_id": "s-1"})
	msg := Message{Type: "admitted", Body: body}

	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, msg.Type, decoded.Type)
	assert.JSONEq(t, string(msg.Body), string(decoded.Body))
}
