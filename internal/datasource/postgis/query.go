package postgis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/joeblew999/plat-tiles/internal/datasource"
	"github.com/joeblew999/plat-tiles/internal/grid"
)

// geomAlias names the WKB column every tile query selects first.
const geomAlias = "__geom"

// Tokens a custom layer query may contain.
const (
	tokenBBox       = "!bbox!"
	tokenZoom       = "!zoom!"
	tokenPixelWidth = "!pixel_width!"
)

// ident quotes a possibly schema-qualified name.
func ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// envelope returns the tile extent as a geometry in the layer's SRID.
func envelope(e grid.Extent, gridSRID, layerSRID int32) string {
	env := fmt.Sprintf("ST_MakeEnvelope(%s, %s, %s, %s, %d)", num(e.MinX), num(e.MinY), num(e.MaxX), num(e.MaxY), gridSRID)
	if layerSRID != 0 && layerSRID != gridSRID {
		env = fmt.Sprintf("ST_Transform(%s, %d)", env, layerSRID)
	}
	return env
}

// buildQuery returns the SQL for one tile of layer. Numeric values are
// inlined, so the statement takes no parameters.
func buildQuery(layer datasource.Layer, extent grid.Extent, zoom uint8, g *grid.Grid) string {
	geomCol := layer.GeometryField
	if geomCol == "" {
		geomCol = "geom"
	}
	q := datasource.QueryExtent(layer, extent, zoom, g)
	env := envelope(q, g.SRID(), layer.SRID)
	col := pgx.Identifier{geomCol}.Sanitize()

	if layer.Query == "" {
		return fmt.Sprintf("SELECT ST_AsBinary(%s) AS %s, * FROM %s WHERE %s && %s",
			col, geomAlias, ident(layer.Source()), col, env)
	}

	r := strings.NewReplacer(
		tokenBBox, env,
		tokenZoom, strconv.Itoa(int(zoom)),
		tokenPixelWidth, num(g.Resolution(zoom)),
	)
	sub := r.Replace(layer.Query)
	sql := fmt.Sprintf("SELECT ST_AsBinary(q.%s) AS %s, q.* FROM (%s) AS q", col, geomAlias, sub)
	if !strings.Contains(layer.Query, tokenBBox) {
		sql += fmt.Sprintf(" WHERE q.%s && %s", col, env)
	}
	return sql
}

const detectQuery = `SELECT f_table_schema, f_table_name, f_geometry_column, srid, type
FROM geometry_columns
ORDER BY f_table_schema, f_table_name, f_geometry_column`
