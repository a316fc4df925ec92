package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-tiles/internal/pmtiles"
	"github.com/joeblew999/plat-tiles/internal/service"
	"github.com/joeblew999/plat-tiles/internal/tiler/gotiler"
)

type ArchiveTileInput struct {
	Name string `path:"name" doc:"Archive name, with or without .pmtiles" example:"streets"`
	Z    int    `path:"z" minimum:"0" maximum:"30" doc:"Zoom level"`
	X    int64  `path:"x" minimum:"0" maximum:"4294967295" doc:"Tile column"`
	Y    string `path:"y" doc:"Tile row, optionally suffixed with .pbf or .mvt" example:"0.pbf"`
}

// SeedRequest describes an archive to pre-render.
type SeedRequest struct {
	Name    string    `json:"name" required:"true" pattern:"^[A-Za-z0-9_-]+$" doc:"Archive name without extension" example:"streets"`
	Topic   string    `json:"topic,omitempty" doc:"Topic to render; all when empty" example:"all"`
	MinZoom uint8     `json:"minZoom,omitempty" maximum:"22" doc:"First zoom level"`
	MaxZoom uint8     `json:"maxZoom" maximum:"22" doc:"Last zoom level" example:"6"`
	Bbox    []float64 `json:"bbox,omitempty" minItems:"4" maxItems:"4" doc:"minLon, minLat, maxLon, maxLat; the whole world when empty"`
	Gzip    bool      `json:"gzip,omitempty" doc:"Gzip tiles inside the archive"`
	Workers int       `json:"workers,omitempty" minimum:"0" maximum:"64" doc:"Concurrent tile renders"`
}

type SeedBody struct {
	Archive service.ArchiveFile `json:"archive" doc:"Written archive"`
	Tiles   int64               `json:"tiles" doc:"Tiles with features"`
	Empty   int64               `json:"empty" doc:"Tiles skipped as empty"`
	Seconds float64             `json:"seconds" doc:"Render duration"`
}

// RegisterArchives registers archive listing, reading and seeding routes.
func (h *APIHandler) RegisterArchives(api huma.API) {
	huma.Get(api, "/api/v1/archives", h.GetArchives, huma.OperationTags("archives"))
	huma.Post(api, "/api/v1/archives", h.SeedArchive, huma.OperationTags("archives"))
	huma.Register(api, huma.Operation{
		OperationID: "get-archive-tile",
		Method:      "GET",
		Path:        "/archives/{name}/{z}/{x}/{y}",
		Summary:     "Get a tile from an archive",
		Tags:        []string{"tiles"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Stored tile",
				Content:     map[string]*huma.MediaType{service.ContentType: {}},
			},
			"204": {Description: "Tile not in archive"},
		},
	}, h.GetArchiveTile)
}

func (h *APIHandler) GetArchives(ctx context.Context, input *struct{}) (*struct{ Body []service.ArchiveFile }, error) {
	files, err := h.svc.Archives.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("list archives", err)
	}
	return &struct{ Body []service.ArchiveFile }{Body: files}, nil
}

func (h *APIHandler) GetArchiveTile(ctx context.Context, input *ArchiveTileInput) (*TileOutput, error) {
	y, err := (&TileInput{Y: input.Y}).row()
	if err != nil {
		return nil, err
	}
	data, c, ok, err := h.svc.Archives.Tile(input.Name, uint8(input.Z), uint32(input.X), y)
	if err != nil {
		return nil, tileError(err)
	}
	out := &TileOutput{Status: 200, CacheControl: tileCacheControl}
	if !ok {
		out.Status = 204
		return out, nil
	}
	out.ContentType = service.ContentType
	if c == pmtiles.Gzip {
		out.ContentEncoding = "gzip"
	}
	out.Body = data
	return out, nil
}

func (h *APIHandler) publish(ev service.Event) {
	if h.svc.Events != nil {
		h.svc.Events.Publish(ev)
	}
}

// SeedArchive renders a topic into an archive. One seed runs at a time.
func (h *APIHandler) SeedArchive(ctx context.Context, input *struct{ Body SeedRequest }) (*struct {
	Status int
	Body   SeedBody
}, error) {
	req := input.Body
	if !h.seeding.TryLock() {
		return nil, huma.Error409Conflict("a seed is already running")
	}
	defer h.seeding.Unlock()

	path, err := h.svc.Archives.Path(req.Name)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if err := os.MkdirAll(h.svc.Archives.Dir(), 0o755); err != nil {
		return nil, huma.Error500InternalServerError("create archive directory", err)
	}
	cfg := gotiler.TileConfig{
		Topic:   req.Topic,
		MinZoom: req.MinZoom,
		MaxZoom: req.MaxZoom,
		Gzip:    req.Gzip,
		Workers: req.Workers,
	}
	if cfg.Topic == "" {
		cfg.Topic = service.AllTopic
	}
	if _, err := h.svc.Tiles.ResolveLayers(cfg.Topic); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	if len(req.Bbox) == 4 {
		cfg.Bounds = orb.Bound{Min: orb.Point{req.Bbox[0], req.Bbox[1]}, Max: orb.Point{req.Bbox[2], req.Bbox[3]}}
	}

	archive := filepath.Base(path)
	h.publish(service.Event{Archive: archive, Action: service.ActionSeeding})
	cfg.Progress = func(done, total int64) {
		h.publish(service.Event{Archive: archive, Action: service.ActionProgress, Done: done, Total: total})
	}

	st, err := gotiler.New(h.svc.Tiles, h.svc.Log).Tile(ctx, path, cfg)
	if err != nil {
		h.publish(service.Event{Archive: archive, Action: service.ActionFailed, Error: err.Error()})
		switch {
		case errors.Is(err, gotiler.ErrInvalidConfig):
			return nil, huma.Error422UnprocessableEntity(err.Error())
		case errors.Is(err, gotiler.ErrLayerFailed):
			return nil, huma.Error503ServiceUnavailable("datasource unavailable", err)
		}
		return nil, huma.Error500InternalServerError("seed failed", err)
	}
	h.publish(service.Event{Archive: archive, Action: service.ActionWritten, Done: st.Tiles + st.Empty, Total: st.Tiles + st.Empty})
	af, err := h.svc.Archives.Info(req.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("read archive", err)
	}
	return &struct {
		Status int
		Body   SeedBody
	}{Status: 201, Body: SeedBody{Archive: af, Tiles: st.Tiles, Empty: st.Empty, Seconds: st.Duration.Seconds()}}, nil
}
