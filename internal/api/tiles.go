package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/conditional"

	"github.com/joeblew999/plat-tiles/internal/service"
)

// tileCacheControl lets clients and proxies reuse tiles for an hour.
// Tiles with a failed layer are never stored.
const (
	tileCacheControl     = "public, max-age=3600"
	degradedCacheControl = "no-store"
)

type TileInput struct {
	Topic string `path:"topic" doc:"Topic name, or all for every layer" example:"all"`
	Z     int    `path:"z" minimum:"0" maximum:"30" doc:"Zoom level"`
	X     int64  `path:"x" minimum:"0" maximum:"4294967295" doc:"Tile column"`
	Y     string `path:"y" doc:"Tile row, optionally suffixed with .pbf or .mvt" example:"0.pbf"`
	conditional.Params
}

// row parses the tile row, dropping a format suffix.
func (in *TileInput) row() (uint32, error) {
	y := strings.TrimSuffix(strings.TrimSuffix(in.Y, ".pbf"), ".mvt")
	v, err := strconv.ParseUint(y, 10, 32)
	if err != nil {
		return 0, huma.Error400BadRequest(fmt.Sprintf("invalid tile row %q", in.Y))
	}
	return uint32(v), nil
}

type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	ETag            string `header:"ETag"`
	CacheControl    string `header:"Cache-Control"`
	TileCache       string `header:"X-Tile-Cache" doc:"hit or miss when the tile cache is enabled"`
	Body            []byte
}

// RegisterTiles registers the vector tile route.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-tile",
		Method:      "GET",
		Path:        "/tiles/{topic}/{z}/{x}/{y}",
		Summary:     "Get a vector tile",
		Description: "Returns the Mapbox Vector Tile of a topic. Tiles without features are answered with 204.",
		Tags:        []string{"tiles"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Vector tile",
				Content:     map[string]*huma.MediaType{service.ContentType: {}},
			},
			"204": {Description: "Tile without features"},
			"304": {Description: "Tile unchanged"},
		},
	}, h.GetTile)
}

func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	y, err := input.row()
	if err != nil {
		return nil, err
	}
	x, z := uint32(input.X), uint8(input.Z)

	body, state, degraded, err := h.tile(ctx, input.Topic, z, x, y)
	if err != nil {
		return nil, err
	}

	etag := strconv.FormatUint(xxhash.Sum64(body), 16)
	if input.HasConditionalParams() {
		if err := input.PreconditionFailed(etag, time.Time{}); err != nil {
			return nil, err
		}
	}

	out := &TileOutput{
		Status:       200,
		ETag:         `"` + etag + `"`,
		CacheControl: tileCacheControl,
		TileCache:    state,
	}
	if degraded {
		out.CacheControl = degradedCacheControl
	}
	if len(body) == 0 {
		out.Status = 204
		return out, nil
	}
	out.ContentType = service.ContentType
	out.Body = body
	return out, nil
}

// tile returns the encoded tile, reading through the cache when enabled.
// The state is "hit", "miss" or empty without a cache. Degraded tiles are
// not written to the cache.
func (h *APIHandler) tile(ctx context.Context, topic string, z uint8, x, y uint32) (body []byte, state string, degraded bool, err error) {
	var key string
	if h.svc.Cache != nil {
		if _, err := h.svc.Tiles.ResolveLayers(topic); err != nil {
			return nil, "", false, tileError(err)
		}
		key = h.svc.Cache.Key(h.svc.Generation, topic, z, x, y)
		body, ok, err := h.svc.Cache.Get(ctx, key)
		switch {
		case err != nil:
			h.svc.Log.Warn("tile cache read failed", "key", key, "err", err)
		case ok:
			h.observe(true)
			return body, "hit", false, nil
		}
		h.observe(false)
	}

	tile, err := h.svc.Tiles.Tile(ctx, topic, x, y, z)
	if err != nil {
		return nil, "", false, tileError(err)
	}
	if tile.NumFeatures() > 0 {
		body = tile.Marshal()
	}
	degraded = tile.IsDegraded()
	if key == "" {
		return body, "", degraded, nil
	}
	if degraded {
		h.svc.Log.Warn("not caching degraded tile", "key", key, "layers", tile.Degraded)
		return body, "miss", true, nil
	}
	if err := h.svc.Cache.Set(ctx, key, body); err != nil {
		h.svc.Log.Warn("tile cache write failed", "key", key, "err", err)
	}
	return body, "miss", false, nil
}

func (h *APIHandler) observe(hit bool) {
	if h.svc.CacheStats == nil {
		return
	}
	if hit {
		h.svc.CacheStats.CacheHit()
	} else {
		h.svc.CacheStats.CacheMiss()
	}
}
