package api

import (
	"context"
	"database/sql"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// DBHandler exposes read-only access to the portal's DuckDB: table
// inventory, row counts for the registry and catalog tables, and ad hoc
// SELECTs for debugging.
type DBHandler struct {
	db *sql.DB
}

// NewDBHandler creates a new database handler.
func NewDBHandler(db *sql.DB) *DBHandler {
	return &DBHandler{db: db}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/db/tables", h.ListTables, huma.OperationTags("db"))
	huma.Get(api, "/api/v1/db/stats", h.Stats, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/db/query", h.Query, huma.OperationTags("db"))
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}
	if tables == nil {
		tables = []string{}
	}

	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

// StatsOutput reports persisted row counts.
type StatsOutput struct {
	Body struct {
		Regions      int `json:"regions" doc:"Persisted regions"`
		Overlays     int `json:"overlays" doc:"Persisted overlays"`
		RasterLayers int `json:"rasterLayers" doc:"Cataloged raster layers"`
	}
}

// Stats counts the rows in the registry and catalog tables.
func (h *DBHandler) Stats(ctx context.Context, input *struct{}) (*StatsOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	out := &StatsOutput{}
	counts := []struct {
		table string
		dst   *int
	}{
		{"regions", &out.Body.Regions},
		{"overlays", &out.Body.Overlays},
		{"raster_layers", &out.Body.RasterLayers},
	}
	for _, c := range counts {
		// Tables are created by the services at startup; a missing one
		// just counts as zero.
		if err := h.db.QueryRowContext(ctx, "SELECT count(*) FROM "+c.table).Scan(c.dst); err != nil {
			*c.dst = 0
		}
	}
	return out, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" doc:"SELECT statement to execute"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body struct {
		Columns []string                 `json:"columns" doc:"Column names"`
		Rows    []map[string]interface{} `json:"rows" doc:"Query results"`
		Count   int                      `json:"count" doc:"Number of rows returned"`
	}
}

// Query executes a read-only query against DuckDB. The registry tables
// are written only by the snapshot store; mutating them out of band
// would desync the persisted state from the live one.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	q := strings.TrimSpace(input.Body.Query)
	if !strings.HasPrefix(strings.ToUpper(q), "SELECT") {
		return nil, huma.Error400BadRequest("Only SELECT statements are allowed")
	}

	rows, err := h.db.QueryContext(ctx, q)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			continue
		}
		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if results == nil {
		results = []map[string]interface{}{}
	}

	out := &QueryOutput{}
	out.Body.Columns = columns
	out.Body.Rows = results
	out.Body.Count = len(results)
	return out, nil
}
