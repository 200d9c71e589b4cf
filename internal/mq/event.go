// Package mq defines the cleanup events the engine publishes and routes
// received ones to handlers by type.
package mq

import (
	"encoding/json"
	"time"
)

// 通用 Event（适配 Router）
type Event struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// NewEvent 把 payload 序列化进 Event
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type: eventType,
		At:   time.Now().UTC(),
		Data: data,
	}, nil
}
