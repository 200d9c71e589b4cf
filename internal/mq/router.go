package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

type TypedHandlerFunc func(ctx context.Context, data json.RawMessage) error

// Router 按 Event.Type 分发事件
type Router struct {
	routes map[string]TypedHandlerFunc
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		routes: make(map[string]TypedHandlerFunc),
		logger: logger,
	}
}

func (r *Router) Register(eventType string, h TypedHandlerFunc) {
	r.routes[eventType] = h
}

// Handle decodes body as an Event and runs the handler for its type. Unknown
// types are ignored.
func (r *Router) Handle(ctx context.Context, body json.RawMessage) (err error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	h, ok := r.routes[evt.Type]
	if !ok {
		r.logger.Debug("No handler for event", zap.String("type", evt.Type))
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler for %s panicked: %v", evt.Type, rec)
		}
	}()
	return h(ctx, evt.Data)
}
