package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-tiles/internal/service"
)

// RegisterInfo registers the service description route.
func (h *APIHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type GridInfo struct {
	SRID     int32  `json:"srid" doc:"Spatial reference of the grid" example:"3857"`
	Origin   string `json:"origin" doc:"Row origin" example:"top-left"`
	TileSize uint32 `json:"tileSize" doc:"Tile edge in pixels" example:"256"`
	MaxZoom  uint8  `json:"maxZoom" doc:"Deepest zoom level"`
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	Revision   string   `json:"revision,omitempty" doc:"Source revision"`
	Datasource string   `json:"datasource" doc:"Datasource kind" example:"postgis"`
	Grid       GridInfo `json:"grid" doc:"Tiling grid"`
	Layers     int      `json:"layers" doc:"Number of configured layers"`
	Topics     []string `json:"topics" doc:"Topic names, including all"`
	Cache      bool     `json:"cache" doc:"Whether the tile cache is enabled"`
	TileURL    string   `json:"tileUrl" doc:"Tile URL template" example:"/tiles/{topic}/{z}/{x}/{y}.pbf"`
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	g := h.svc.Tiles.Grid()
	topics := []string{service.AllTopic}
	for _, t := range h.svc.Tiles.Topics() {
		topics = append(topics, t.Name)
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:       "plat-tiles",
		Version:    h.version(),
		Revision:   h.svc.Build.Revision,
		Datasource: h.svc.Datasource,
		Grid: GridInfo{
			SRID:     g.SRID(),
			Origin:   g.Origin().String(),
			TileSize: g.TileSize(),
			MaxZoom:  g.MaxZoom(),
		},
		Layers:  len(h.svc.Tiles.Layers()),
		Topics:  topics,
		Cache:   h.svc.Cache != nil,
		TileURL: "/tiles/{topic}/{z}/{x}/{y}.pbf",
	}}, nil
}
