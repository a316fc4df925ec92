package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/joeblew999/plat-tiles/internal/service"
)

// RegisterEvents registers the archive event stream.
func (h *APIHandler) RegisterEvents(api huma.API) {
	sse.Register(api, huma.Operation{
		OperationID: "archive-events",
		Method:      "GET",
		Path:        "/api/v1/events",
		Summary:     "Stream archive build events",
		Tags:        []string{"archives"},
	}, map[string]any{
		"archive": service.Event{},
	}, h.Events)
}

// Events streams seed progress until the client goes away.
func (h *APIHandler) Events(ctx context.Context, input *struct{}, send sse.Sender) {
	if h.svc.Events == nil {
		return
	}
	ch := h.svc.Events.Subscribe()
	defer h.svc.Events.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := send.Data(ev); err != nil {
				return
			}
		}
	}
}
