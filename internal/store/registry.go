// Package store persists the region/overlay registry to DuckDB so a
// restarted portal comes back with the same regions and overlays the
// browser last saw. Persistence is observational: a bus subscriber
// snapshots controller state after each mutation; the core never knows
// the database exists.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vmrc/geoportal/internal/core"
)

// Registry reads and writes registry snapshots.
type Registry struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRegistry creates the snapshot store and its tables.
func NewRegistry(db *sql.DB, log zerolog.Logger) (*Registry, error) {
	r := &Registry{db: db, log: log}
	if err := r.ensureSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS regions (
			id         VARCHAR PRIMARY KEY,
			geometry   VARCHAR NOT NULL,
			kind       VARCHAR NOT NULL,
			locked     BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS overlays (
			id         VARCHAR PRIMARY KEY,
			region_id  VARCHAR NOT NULL,
			image_ref  VARCHAR NOT NULL,
			west       DOUBLE NOT NULL,
			south      DOUBLE NOT NULL,
			east       DOUBLE NOT NULL,
			north      DOUBLE NOT NULL,
			active     BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating registry tables: %w", err)
		}
	}
	return nil
}

// Save rewrites both tables from the given snapshot in one transaction.
// The registry is small (tens of rows), so full rewrite beats tracking
// per-row diffs.
func (r *Registry) Save(regions []core.Region, overlays []core.Overlay) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM regions"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM overlays"); err != nil {
		return err
	}
	for _, rg := range regions {
		if _, err := tx.Exec(
			"INSERT INTO regions (id, geometry, kind, locked, created_at) VALUES (?, ?, ?, ?, ?)",
			rg.ID, string(rg.Geometry), string(rg.Kind), rg.Locked, rg.CreatedAt,
		); err != nil {
			return fmt.Errorf("saving region %s: %w", rg.ID, err)
		}
	}
	for _, o := range overlays {
		if _, err := tx.Exec(
			"INSERT INTO overlays (id, region_id, image_ref, west, south, east, north, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			o.ID, o.RegionID, o.ImageRef, o.Bounds[0], o.Bounds[1], o.Bounds[2], o.Bounds[3], o.Active, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("saving overlay %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

// Load reads the persisted snapshot, oldest entities first.
func (r *Registry) Load() ([]core.Region, []core.Overlay, error) {
	rows, err := r.db.Query("SELECT id, geometry, kind, locked, created_at FROM regions")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var regions []core.Region
	for rows.Next() {
		var rg core.Region
		var geometry, kind string
		if err := rows.Scan(&rg.ID, &geometry, &kind, &rg.Locked, &rg.CreatedAt); err != nil {
			return nil, nil, err
		}
		rg.Geometry = []byte(geometry)
		rg.Kind = core.RegionKind(kind)
		rg.ContentHash = core.ContentHash(rg.Kind, rg.Geometry)
		regions = append(regions, rg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	orows, err := r.db.Query("SELECT id, region_id, image_ref, west, south, east, north, active, created_at FROM overlays")
	if err != nil {
		return nil, nil, err
	}
	defer orows.Close()

	var overlays []core.Overlay
	for orows.Next() {
		var o core.Overlay
		if err := orows.Scan(&o.ID, &o.RegionID, &o.ImageRef,
			&o.Bounds[0], &o.Bounds[1], &o.Bounds[2], &o.Bounds[3],
			&o.Active, &o.CreatedAt); err != nil {
			return nil, nil, err
		}
		overlays = append(overlays, o)
	}
	if err := orows.Err(); err != nil {
		return nil, nil, err
	}

	// Tie-break on id: TIMESTAMP truncates to microseconds, so entities
	// created in the same tick would otherwise replay in random order.
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].CreatedAt.Equal(regions[j].CreatedAt) {
			return regions[i].ID < regions[j].ID
		}
		return regions[i].CreatedAt.Before(regions[j].CreatedAt)
	})
	sort.Slice(overlays, func(i, j int) bool {
		if overlays[i].CreatedAt.Equal(overlays[j].CreatedAt) {
			return overlays[i].ID < overlays[j].ID
		}
		return overlays[i].CreatedAt.Before(overlays[j].CreatedAt)
	})
	return regions, overlays, nil
}

// Replay feeds a persisted snapshot back through the controller. Upserts
// are idempotent, so replaying over an already seeded controller (the
// base AOI installs first) converges instead of duplicating. Activation
// state is restored last: auto-activation on attach may disagree with
// what was persisted.
func (r *Registry) Replay(ctrl *core.Controller) error {
	regions, overlays, err := r.Load()
	if err != nil {
		return err
	}

	for _, rg := range regions {
		if _, err := ctrl.UpsertRegion(rg.ID, rg.Geometry, rg.Kind); err != nil {
			r.log.Warn().Err(err).Str("region", rg.ID).Msg("skipping persisted region")
		}
	}
	perRegionActive := make(map[string]string)
	for _, o := range overlays {
		if _, err := ctrl.AttachOverlay(o.ID, o.RegionID, o.ImageRef, o.Bounds); err != nil {
			r.log.Warn().Err(err).Str("overlay", o.ID).Msg("skipping persisted overlay")
			continue
		}
		if o.Active {
			perRegionActive[o.RegionID] = o.ID
		}
	}
	for _, rg := range regions {
		want, ok := perRegionActive[rg.ID]
		cur, hasCur := ctrl.ActiveOverlay(rg.ID)
		switch {
		case ok && (!hasCur || cur.ID != want):
			if err := ctrl.SetActiveOverlay(rg.ID, want); err != nil {
				r.log.Warn().Err(err).Str("region", rg.ID).Msg("could not restore active overlay")
			}
		case !ok && hasCur:
			if err := ctrl.HideOverlay(cur.ID); err != nil {
				r.log.Warn().Err(err).Str("overlay", cur.ID).Msg("could not restore hidden state")
			}
		}
	}

	r.log.Info().Int("regions", len(regions)).Int("overlays", len(overlays)).Msg("registry replayed")
	return nil
}

// Run subscribes to the controller's bus and snapshots after every
// mutation until ctx is cancelled. Meant to run in its own goroutine.
func (r *Registry) Run(ctx context.Context, ctrl *core.Controller) {
	ch := ctrl.Bus().Subscribe()
	defer ctrl.Bus().Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Save(ctrl.Regions(), ctrl.AllOverlays()); err != nil {
				r.log.Error().Err(err).Msg("registry snapshot failed")
			}
		}
	}
}
