package mapsse

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vmrc/geoportal/internal/core"
)

// EventHandler streams map render commands to connected viewers.
type EventHandler struct {
	surface *Surface
}

// NewEventHandler creates the SSE event handler over the shared surface.
func NewEventHandler(surface *Surface) *EventHandler {
	return &EventHandler{surface: surface}
}

// RegisterRoutes registers the map event stream.
func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/map/events", h.Events,
		huma.OperationTags("map"),
	)
}

// Events replays the current surface to the new viewer, then streams
// every subsequent render command. Commands arrive as the mapCommand
// signal with an increasing mapSeq so the client applies each patch.
func (h *EventHandler) Events(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSEContext(humaCtx)
			snapshot, ch := h.surface.Subscribe()
			defer h.surface.Unsubscribe(ch)

			seq := 0
			send := func(cmd core.Command) {
				seq++
				sse.SendSignals(map[string]any{
					"mapCommand": cmd,
					"mapSeq":     seq,
				})
			}

			for _, cmd := range snapshot {
				send(cmd)
			}
			for {
				select {
				case <-ctx.Done():
					return
				case cmd, ok := <-ch:
					if !ok {
						return
					}
					send(cmd)
				}
			}
		},
	}, nil
}
