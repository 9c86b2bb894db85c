// Package catalog maintains the inventory of raster layers the clip
// service can operate on. Layers are discovered on disk and kept in a
// DuckDB table with stable ids derived from their paths, so ids survive
// restarts and rescans.
package catalog

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Layer is one raster layer available for clipping.
type Layer struct {
	ID      int64  `json:"id" doc:"Stable layer id" example:"1042337"`
	Name    string `json:"name" doc:"Display name (file name without extension)" example:"M2.5_DF_D04_h"`
	Path    string `json:"-"`
	Dataset string `json:"dataset" doc:"Dataset tag" enum:"mortality,hsl" example:"mortality"`
}

// Service manages the raster layer catalog.
type Service struct {
	db   *sql.DB
	root string
	log  zerolog.Logger
}

// NewService creates a catalog service over an existing DuckDB connection.
func NewService(db *sql.DB, rasterRoot string, log zerolog.Logger) (*Service, error) {
	s := &Service{db: db, root: rasterRoot, log: log}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS raster_layers (
		id      BIGINT PRIMARY KEY,
		name    VARCHAR NOT NULL,
		path    VARCHAR NOT NULL,
		dataset VARCHAR NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating raster_layers table: %w", err)
	}
	return nil
}

// Refresh rescans the raster root and rewrites the catalog table.
// Returns the number of layers discovered.
func (s *Service) Refresh() (int, error) {
	layers, err := s.discover()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM raster_layers"); err != nil {
		return 0, fmt.Errorf("clearing raster_layers: %w", err)
	}
	for _, l := range layers {
		if _, err := tx.Exec(
			"INSERT INTO raster_layers (id, name, path, dataset) VALUES (?, ?, ?, ?)",
			l.ID, l.Name, l.Path, l.Dataset,
		); err != nil {
			return 0, fmt.Errorf("inserting layer %s: %w", l.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.log.Info().Int("layers", len(layers)).Str("root", s.root).Msg("raster catalog refreshed")
	return len(layers), nil
}

// discover walks the raster root for GeoTIFFs. The directory structure
// carries the dataset tag: anything under a HighStressMortality folder is
// an HSL layer, everything else is monthly mortality.
func (s *Service) discover() ([]Layer, error) {
	var layers []Layer
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".tif") {
			return nil
		}
		dataset := "mortality"
		if strings.Contains(path, "HighStressMortality") {
			dataset = "hsl"
		}
		name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		layers = append(layers, Layer{
			ID:      StableID(path),
			Name:    name,
			Path:    path,
			Dataset: dataset,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning raster root %s: %w", s.root, err)
	}
	return layers, nil
}

// List returns every cataloged layer, name-sorted.
func (s *Service) List() ([]Layer, error) {
	rows, err := s.db.Query("SELECT id, name, path, dataset FROM raster_layers ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var layers []Layer
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.ID, &l.Name, &l.Path, &l.Dataset); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// Get returns the layer with the given id.
func (s *Service) Get(id int64) (Layer, bool, error) {
	var l Layer
	err := s.db.QueryRow(
		"SELECT id, name, path, dataset FROM raster_layers WHERE id = ?", id,
	).Scan(&l.ID, &l.Name, &l.Path, &l.Dataset)
	if err == sql.ErrNoRows {
		return Layer{}, false, nil
	}
	if err != nil {
		return Layer{}, false, err
	}
	return l, true, nil
}

// StableID derives a stable positive id from a layer path: first 8 bytes
// of the sha256 of the lowercased path, reduced below 2^31 so it stays a
// friendly JSON integer.
func StableID(path string) int64 {
	sum := sha256.Sum256([]byte(strings.ToLower(path)))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v % (1<<31 - 1))
}
