package duckdb

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

const detectQuery = `SELECT schema_name, table_name, column_name
FROM duckdb_columns()
WHERE data_type = 'GEOMETRY'
ORDER BY schema_name, table_name, column_name`

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// relation returns the FROM target of a layer. File sources are scanned
// directly; anything else is a possibly schema-qualified table.
func relation(source string) string {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".parquet", ".geoparquet":
		return "read_parquet(" + quoteLiteral(source) + ")"
	case ".geojson", ".json", ".gpkg", ".shp", ".fgb":
		return "ST_Read(" + quoteLiteral(source) + ")"
	}
	parts := strings.Split(source, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func envelope(e grid.Extent, gridSRID, layerSRID int32) string {
	env := fmt.Sprintf("ST_MakeEnvelope(%s, %s, %s, %s)", num(e.MinX), num(e.MinY), num(e.MaxX), num(e.MaxY))
	if layerSRID != 0 && layerSRID != gridSRID {
		env = fmt.Sprintf("ST_Transform(%s, 'EPSG:%d', 'EPSG:%d', true)", env, gridSRID, layerSRID)
	}
	return env
}

// buildQuery selects the WKB geometry first and every other column after
// it. A custom query replaces the relation and may use the !bbox!, !zoom!
// and !pixel_width! tokens.
func buildQuery(layer datasource.Layer, extent grid.Extent, zoom uint8, g *grid.Grid) string {
	geomCol := layer.GeometryField
	if geomCol == "" {
		geomCol = "geom"
	}
	col := quoteIdent(geomCol)
	env := envelope(datasource.QueryExtent(layer, extent, zoom, g), g.SRID(), layer.SRID)

	from := relation(layer.Source())
	filtered := false
	if layer.Query != "" {
		r := strings.NewReplacer(
			"!bbox!", env,
			"!zoom!", strconv.Itoa(int(zoom)),
			"!pixel_width!", num(g.Resolution(zoom)),
		)
		from = "(" + r.Replace(layer.Query) + ") AS q"
		filtered = strings.Contains(layer.Query, "!bbox!")
	}

	sql := fmt.Sprintf("SELECT ST_AsWKB(%s) AS __geom, * EXCLUDE (%s) FROM %s", col, col, from)
	if !filtered {
		sql += fmt.Sprintf(" WHERE ST_Intersects_Extent(%s, %s)", col, env)
	}
	return sql
}
