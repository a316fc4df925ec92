// Package datasource defines the contract every feature backend implements
// and the layer configuration it is queried with.
package datasource

import (
	"context"
	"errors"

	"github.com/joeblew999/plat-tiles/internal/feature"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

// ErrDatasourceUnavailable wraps connection and handle failures. It aborts
// retrieval for one layer only.
var ErrDatasourceUnavailable = errors.New("datasource unavailable")

// Layer is one configured feature collection. Layers are immutable after
// load and shared across requests.
type Layer struct {
	Name          string `json:"name" yaml:"name" mapstructure:"name" doc:"Layer name in tiles" example:"roads"`
	TableName     string `json:"tableName,omitempty" yaml:"table_name,omitempty" mapstructure:"table_name" doc:"Table, view or file the layer reads"`
	GeometryField string `json:"geometryField,omitempty" yaml:"geometry_field,omitempty" mapstructure:"geometry_field" doc:"Geometry column"`
	GeometryType  string `json:"geometryType,omitempty" yaml:"geometry_type,omitempty" mapstructure:"geometry_type" doc:"Declared geometry type" example:"POLYGON"`
	SRID          int32  `json:"srid" yaml:"srid" mapstructure:"srid" doc:"Spatial reference of the source geometries" example:"3857"`
	FIDField      string `json:"fidField,omitempty" yaml:"fid_field,omitempty" mapstructure:"fid_field" doc:"Integer field used as feature id"`
	MinZoom       uint8  `json:"minZoom" yaml:"minzoom" mapstructure:"minzoom" doc:"First zoom level the layer appears at"`
	MaxZoom       *uint8 `json:"maxZoom,omitempty" yaml:"maxzoom,omitempty" mapstructure:"maxzoom" doc:"Last zoom level the layer appears at, unbounded when unset"`
	Query         string `json:"query,omitempty" yaml:"query,omitempty" mapstructure:"query" doc:"Custom SQL or attribute filter"`
	Buffer        uint32 `json:"buffer,omitempty" yaml:"buffer,omitempty" mapstructure:"buffer" doc:"Extra pixels fetched around each tile"`
}

// InZoom reports whether the layer applies at zoom z. A nil MaxZoom means
// no upper bound.
func (l Layer) InZoom(z uint8) bool {
	if z < l.MinZoom {
		return false
	}
	return l.MaxZoom == nil || z <= *l.MaxZoom
}

// ZoomLevel returns a pointer to z for setting Layer.MaxZoom.
func ZoomLevel(z uint8) *uint8 { return &z }

// Source returns the native object the layer reads, defaulting to its name.
func (l Layer) Source() string {
	if l.TableName != "" {
		return l.TableName
	}
	return l.Name
}

// Datasource streams features for a layer.
type Datasource interface {
	// DetectLayers introspects the backend schema. It is not on the tile
	// serving path and may be slow.
	DetectLayers(ctx context.Context) ([]Layer, error)

	// RetrieveFeatures calls fn synchronously for every feature of layer
	// intersecting extent at zoom. fn must not keep the Feature after it
	// returns. Layers outside their zoom range yield no features.
	RetrieveFeatures(ctx context.Context, layer Layer, extent grid.Extent, zoom uint8, g *grid.Grid, fn func(feature.Feature)) error

	// Close releases pooled handles.
	Close() error
}

// QueryExtent returns the extent a backend should query for a tile,
// widened by the layer's pixel buffer.
func QueryExtent(layer Layer, extent grid.Extent, zoom uint8, g *grid.Grid) grid.Extent {
	if layer.Buffer == 0 {
		return extent
	}
	return extent.Buffer(float64(layer.Buffer) * g.Resolution(zoom))
}
