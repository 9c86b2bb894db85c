package store

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmrc/geoportal/internal/core"
	"github.com/vmrc/geoportal/internal/db"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	conn, err := db.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	reg, err := NewRegistry(conn, zerolog.Nop())
	require.NoError(t, err)
	return reg
}

func newController() *core.Controller {
	return core.NewController(core.ControllerConfig{
		Logger:     zerolog.Nop(),
		RetryDelay: -1,
	})
}

func seedController(t *testing.T, ctrl *core.Controller) {
	t.Helper()
	_, err := ctrl.UpsertRegion("base", []byte(`{"type":"Point","coordinates":[0,0]}`), core.KindBase)
	require.NoError(t, err)
	_, err = ctrl.UpsertRegion("r1", []byte(`{"type":"Point","coordinates":[1,1]}`), core.KindDrawn)
	require.NoError(t, err)
	_, err = ctrl.AttachOverlay("o1", "r1", "/clipped/a.png", core.Bounds{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = ctrl.AttachOverlay("o2", "r1", "/clipped/b.png", core.Bounds{5, 6, 7, 8})
	require.NoError(t, err)
	require.NoError(t, ctrl.SetActiveOverlay("r1", "o2"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctrl := newController()
	seedController(t, ctrl)

	require.NoError(t, reg.Save(ctrl.Regions(), ctrl.AllOverlays()))

	regions, overlays, err := reg.Load()
	require.NoError(t, err)
	require.Len(t, regions, 2)
	require.Len(t, overlays, 2)

	byID := map[string]core.Region{}
	for _, rg := range regions {
		byID[rg.ID] = rg
	}
	assert.True(t, byID["base"].Locked)
	assert.Equal(t, core.KindBase, byID["base"].Kind)
	assert.Equal(t,
		core.ContentHash(core.KindDrawn, []byte(`{"type":"Point","coordinates":[1,1]}`)),
		byID["r1"].ContentHash, "content hash is recomputed on load")

	// Oldest first: o1 attached before o2.
	assert.Equal(t, "o1", overlays[0].ID)
	assert.Equal(t, "o2", overlays[1].ID)
	assert.False(t, overlays[0].Active)
	assert.True(t, overlays[1].Active)
	assert.Equal(t, core.Bounds{1, 2, 3, 4}, overlays[0].Bounds)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	reg := newTestRegistry(t)
	ctrl := newController()
	seedController(t, ctrl)

	require.NoError(t, reg.Save(ctrl.Regions(), ctrl.AllOverlays()))

	_, err := ctrl.RemoveOverlay("o1")
	require.NoError(t, err)
	require.NoError(t, reg.Save(ctrl.Regions(), ctrl.AllOverlays()))

	_, overlays, err := reg.Load()
	require.NoError(t, err)
	require.Len(t, overlays, 1)
	assert.Equal(t, "o2", overlays[0].ID)
}

func TestReplay(t *testing.T) {
	reg := newTestRegistry(t)
	ctrl := newController()
	seedController(t, ctrl)
	require.NoError(t, reg.Save(ctrl.Regions(), ctrl.AllOverlays()))

	// Fresh controller already seeded with the base AOI, as at startup.
	restored := newController()
	_, err := restored.UpsertRegion("base", []byte(`{"type":"Point","coordinates":[0,0]}`), core.KindBase)
	require.NoError(t, err)

	require.NoError(t, reg.Replay(restored))

	assert.Len(t, restored.Regions(), 2)
	assert.Equal(t, "base", restored.BaseRegionID())
	assert.Len(t, restored.Overlays("r1"), 2)

	// o1 auto-activated on attach; replay must restore o2 as active.
	active, ok := restored.ActiveOverlay("r1")
	require.True(t, ok)
	assert.Equal(t, "o2", active.ID)
}

func TestReplay_RestoresAllHidden(t *testing.T) {
	reg := newTestRegistry(t)
	ctrl := newController()
	seedController(t, ctrl)
	require.NoError(t, ctrl.HideOverlay("o2"))
	require.NoError(t, reg.Save(ctrl.Regions(), ctrl.AllOverlays()))

	restored := newController()
	require.NoError(t, reg.Replay(restored))

	_, ok := restored.ActiveOverlay("r1")
	assert.False(t, ok, "auto-activation must be undone when nothing was persisted active")
}

func TestReplay_EmptySnapshot(t *testing.T) {
	reg := newTestRegistry(t)
	restored := newController()
	require.NoError(t, reg.Replay(restored))
	assert.Empty(t, restored.Regions())
}
