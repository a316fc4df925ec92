package api

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/topics>; rel="topics"`,
		`</api/v1/archives>; rel="archives"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/layers>; rel="layers"`,
	},
	"/api/v1/layers": {
		`</api/v1/layers/detect>; rel="detect"`,
		`</api/v1/topics>; rel="topics"`,
	},
	"/api/v1/topics": {
		`</api/v1/layers>; rel="layers"`,
	},
	"/api/v1/archives": {
		`</api/v1/topics>; rel="topics"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers. Tile responses are binary and get none.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		if strings.Contains(op.Path, "{") && !slices.Contains(op.Tags, "tiles") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		return v, nil
	}
}
