// Package config loads the tile server configuration file.
//
// The file is YAML; every key can be overridden from the environment with
// the TILES_ prefix, e.g. TILES_DATASOURCE_DSN or TILES_CACHE_ADDR.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/grid"
	"github.com/joeblew999/plat-tiles/internal/logger"
	"github.com/joeblew999/plat-tiles/internal/metrics"
	"github.com/joeblew999/plat-tiles/internal/mvt"
	"github.com/joeblew999/plat-tiles/internal/service"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "TILES"

// Datasource kinds.
const (
	KindPostGIS = "postgis"
	KindDuckDB  = "duckdb"
	KindGeoJSON = "geojson"
)

type Config struct {
	Datasource DatasourceConfig   `yaml:"datasource" mapstructure:"datasource"`
	Grid       GridConfig         `yaml:"grid" mapstructure:"grid"`
	Layers     []datasource.Layer `yaml:"layers" mapstructure:"layers"`
	Topics     []service.Topic    `yaml:"topics,omitempty" mapstructure:"topics"`
	Service    ServiceConfig      `yaml:"service" mapstructure:"service"`
	Cache      CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Archives   ArchivesConfig     `yaml:"archives" mapstructure:"archives"`
	Log        logger.Config      `yaml:"log" mapstructure:"log"`
	Metrics    metrics.Config     `yaml:"metrics" mapstructure:"metrics"`
}

// DatasourceConfig selects and parameterizes the backend. DSN is used by
// postgis, Path by duckdb and Dir by geojson.
type DatasourceConfig struct {
	Kind      string        `yaml:"kind" mapstructure:"kind"`
	DSN       string        `yaml:"dsn,omitempty" mapstructure:"dsn"`
	Path      string        `yaml:"path,omitempty" mapstructure:"path"`
	Dir       string        `yaml:"dir,omitempty" mapstructure:"dir"`
	SRID      int32         `yaml:"srid,omitempty" mapstructure:"srid"`
	MaxConns  int32         `yaml:"max_conns,omitempty" mapstructure:"max_conns"`
	CacheSize int           `yaml:"cache_size,omitempty" mapstructure:"cache_size"`
	Timeout   time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// GridConfig names a predefined grid or describes a custom one.
type GridConfig struct {
	Predefined string      `yaml:"predefined,omitempty" mapstructure:"predefined"`
	Origin     string      `yaml:"origin,omitempty" mapstructure:"origin"`
	SRID       int32       `yaml:"srid,omitempty" mapstructure:"srid"`
	TileSize   uint32      `yaml:"tile_size,omitempty" mapstructure:"tile_size"`
	MaxZoom    uint8       `yaml:"maxzoom,omitempty" mapstructure:"maxzoom"`
	Extent     grid.Extent `yaml:"extent,omitempty" mapstructure:"extent"`
}

type ServiceConfig struct {
	TileExtent uint32 `yaml:"tile_extent" mapstructure:"tile_extent"`
}

// CacheConfig enables the Redis tile cache when Addr is set.
type CacheConfig struct {
	Addr   string        `yaml:"addr,omitempty" mapstructure:"addr"`
	TTL    time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Prefix string        `yaml:"prefix" mapstructure:"prefix"`
}

type ArchivesConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Datasource: DatasourceConfig{Kind: KindGeoJSON, Dir: "data", Timeout: 5 * time.Second},
		Grid:       GridConfig{Predefined: "web_mercator"},
		Service:    ServiceConfig{TileExtent: mvt.DefaultExtent},
		Cache:      CacheConfig{TTL: 24 * time.Hour, Prefix: "tile"},
		Archives:   ArchivesConfig{Dir: ".data/tiles"},
		Log:        logger.Config{Level: "info"},
		Metrics:    metrics.Config{Enabled: true, Path: "/metrics"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("datasource.kind", d.Datasource.Kind)
	v.SetDefault("datasource.dsn", "")
	v.SetDefault("datasource.path", "")
	v.SetDefault("datasource.dir", d.Datasource.Dir)
	v.SetDefault("datasource.srid", 0)
	v.SetDefault("datasource.max_conns", 0)
	v.SetDefault("datasource.cache_size", 0)
	v.SetDefault("datasource.timeout", d.Datasource.Timeout)
	v.SetDefault("grid.predefined", d.Grid.Predefined)
	v.SetDefault("service.tile_extent", d.Service.TileExtent)
	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.prefix", d.Cache.Prefix)
	v.SetDefault("archives.dir", d.Archives.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", false)
	v.SetDefault("log.sample_n", 0)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Load reads path, applies defaults and environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	var errs []error
	switch c.Datasource.Kind {
	case KindPostGIS:
		if c.Datasource.DSN == "" {
			errs = append(errs, errors.New("datasource.dsn is required for postgis"))
		}
	case KindDuckDB:
	case KindGeoJSON:
		if c.Datasource.Dir == "" {
			errs = append(errs, errors.New("datasource.dir is required for geojson"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown datasource kind %q", c.Datasource.Kind))
	}
	if c.Service.TileExtent == 0 {
		errs = append(errs, errors.New("service.tile_extent must be positive"))
	}
	for _, l := range c.Layers {
		if l.MaxZoom != nil && *l.MaxZoom < l.MinZoom {
			errs = append(errs, fmt.Errorf("layer %q: maxzoom %d below minzoom %d", l.Name, *l.MaxZoom, l.MinZoom))
		}
	}
	if _, err := c.Grid.Build(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Build returns the configured grid.
func (g GridConfig) Build() (*grid.Grid, error) {
	switch g.Predefined {
	case "web_mercator", "webmercator", "EPSG:3857":
		return grid.WebMercator(), nil
	case "":
	default:
		return nil, fmt.Errorf("unknown predefined grid %q", g.Predefined)
	}
	origin, err := grid.ParseOrigin(g.Origin)
	if err != nil {
		return nil, err
	}
	gr, err := grid.New(grid.Config{
		Origin:   origin,
		TileSize: g.TileSize,
		SRID:     g.SRID,
		Extent:   g.Extent,
		MaxZoom:  g.MaxZoom,
	})
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	return gr, nil
}
