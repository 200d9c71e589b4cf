package mq

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatchesByType(t *testing.T) {
	r := NewRouter(nil)
	var got CleanupExecutedPayload
	r.Register(EventCleanupExecuted, func(_ context.Context, data json.RawMessage) error {
		return json.Unmarshal(data, &got)
	})
	r.Register(EventCleanupRestored, func(context.Context, json.RawMessage) error {
		panic("boom")
	})

	evt, err := NewEvent(EventCleanupExecuted, CleanupExecutedPayload{OperationID: "op", Succeeded: 90, Failed: 10})
	require.NoError(t, err)
	body, _ := json.Marshal(evt)
	require.NoError(t, r.Handle(context.Background(), body))
	assert.Equal(t, 90, got.Succeeded)
	assert.Equal(t, "op", got.OperationID)

	evt, _ = NewEvent(EventCleanupRestored, CleanupRestoredPayload{})
	body, _ = json.Marshal(evt)
	assert.ErrorContains(t, r.Handle(context.Background(), body), "panicked")

	evt, _ = NewEvent("something.else", nil)
	body, _ = json.Marshal(evt)
	assert.NoError(t, r.Handle(context.Background(), body))

	assert.Error(t, r.Handle(context.Background(), json.RawMessage("{")))
}
