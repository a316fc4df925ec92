// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-tiles/internal/cache"
	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/grid"
	"github.com/joeblew999/plat-tiles/internal/logger"
	"github.com/joeblew999/plat-tiles/internal/metrics"
	"github.com/joeblew999/plat-tiles/internal/service"
)

// CacheObserver counts tile cache lookups. *metrics.HTTP satisfies it.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

// Services holds the service dependencies for API handlers. Cache,
// CacheStats and Events are optional.
type Services struct {
	Tiles      *service.MvtService
	Archives   *service.ArchiveService
	Events     *service.EventBus
	Cache      *cache.TileCache
	CacheStats CacheObserver
	// Generation fingerprints the layer configuration for cache keys.
	Generation uint64
	Datasource string
	Build      metrics.BuildInfo
	Log        *slog.Logger
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
	// seeding serializes archive builds.
	seeding sync.Mutex
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc.Log == nil {
		svc.Log = logger.Discard()
	}
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every handler group on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer and topic routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/detect", h.DetectLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/topics", h.GetTopics, huma.OperationTags("layers"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: h.version()}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*struct{ Body []datasource.Layer }, error) {
	layers := h.svc.Tiles.Layers()
	if layers == nil {
		layers = []datasource.Layer{}
	}
	return &struct{ Body []datasource.Layer }{Body: layers}, nil
}

// DetectLayers introspects the datasource. The result is not applied; it
// is meant for writing configuration files.
func (h *APIHandler) DetectLayers(ctx context.Context, input *struct{}) (*struct{ Body []datasource.Layer }, error) {
	layers, err := h.svc.Tiles.DetectLayers(ctx)
	if err != nil {
		if errors.Is(err, datasource.ErrDatasourceUnavailable) {
			return nil, huma.Error503ServiceUnavailable("datasource unavailable", err)
		}
		return nil, huma.Error500InternalServerError("detect layers", err)
	}
	if layers == nil {
		layers = []datasource.Layer{}
	}
	return &struct{ Body []datasource.Layer }{Body: layers}, nil
}

type TopicsBody struct {
	Default string          `json:"default" doc:"Topic selecting every layer" example:"all"`
	Topics  []service.Topic `json:"topics" doc:"Configured topics"`
}

func (h *APIHandler) GetTopics(ctx context.Context, input *struct{}) (*struct{ Body TopicsBody }, error) {
	topics := h.svc.Tiles.Topics()
	if topics == nil {
		topics = []service.Topic{}
	}
	return &struct{ Body TopicsBody }{Body: TopicsBody{Default: service.AllTopic, Topics: topics}}, nil
}

func (h *APIHandler) version() string {
	if h.svc.Build.Version == "" {
		return "dev"
	}
	return h.svc.Build.Version
}

// tileError maps service errors to HTTP problems.
func tileError(err error) error {
	switch {
	case errors.Is(err, service.ErrUnknownTopic):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrArchiveNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, grid.ErrInvalidTileAddress):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request canceled", err)
	}
	return huma.Error500InternalServerError("tile failed", err)
}
