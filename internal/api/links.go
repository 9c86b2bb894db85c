package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/regions>; rel="regions"`,
		`</api/v1/rasters>; rel="rasters"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/regions>; rel="regions"`,
	},
	"/api/v1/regions": {
		`</api/v1/aoi>; rel="base-aoi"`,
		`</api/v1/rasters>; rel="rasters"`,
		`</api/v1/diagnostics/verify>; rel="verify"`,
	},
	"/api/v1/regions/{id}": {
		`</api/v1/regions>; rel="collection"`,
		`</api/v1/regions/{id}/overlays>; rel="overlays"`,
	},
	"/api/v1/regions/{id}/overlays": {
		`</api/v1/regions/{id}>; rel="region"`,
	},
	"/api/v1/rasters": {
		`</api/v1/clip>; rel="clip"`,
	},
	"/api/v1/diagnostics/verify": {
		`</api/v1/diagnostics/pending>; rel="pending"`,
	},
	"/api/v1/db/tables": {
		`</api/v1/db/query>; rel="query"`,
		`</api/v1/db/stats>; rel="stats"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		return v, nil
	}
}
