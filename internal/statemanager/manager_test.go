package statemanager

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aeonia-ai/gaia-sub001/internal/bus"
	"github.com/Aeonia-ai/gaia-sub001/internal/delta"
	"github.com/Aeonia-ai/gaia-sub001/internal/docstore"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
)

func newTestManager(t *testing.T) (*Manager, docstore.Store) {
	t.Helper()
	store, err := docstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	clock := time.Unix(0, 0)
	m := New(store, bus.New(), WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	return m, store
}

func seedWorld(t *testing.T, store docstore.Store, experience string, world domain.World) {
	t.Helper()
	data, err := json.Marshal(world)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), worldKey(experience), data))
}

func basicWorld() domain.World {
	return domain.World{
		Locations: map[string]domain.Location{
			"town": {
				Name: "Town",
				Areas: map[string]domain.Area{
					"spawn": {
						Name: "Spawn",
						Items: []domain.Instance{
							{InstanceID: "bottle_mystery", TemplateID: "bottle", State: map[string]any{"visible": true}, Extra: map[string]any{"collectible": true}},
						},
					},
				},
			},
		},
		NPCs:     map[string]domain.Instance{},
		Metadata: domain.WorldMetadata{Version: 1},
	}
}

func TestGetWorldStateNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.GetWorldState(context.Background(), "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestGetPlayerViewBootstraps(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, store, "e1", basicWorld())

	pv, err := m.GetPlayerView(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "town", pv.Player.CurrentLocation)
	assert.Empty(t, pv.Player.Inventory)
	assert.Greater(t, pv.SnapshotVersion, int64(0))

	again, err := m.GetPlayerView(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.Equal(t, pv.SnapshotVersion, again.SnapshotVersion, "second read must not re-bootstrap")
}

func TestUpdateWorldStateAppliesPatchAndStampsVersion(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, store, "e1", basicWorld())

	patchNode := map[string]any{
		"locations": map[string]any{
			"town": map[string]any{
				"areas": map[string]any{
					"spawn": map[string]any{
						"items": map[string]any{
							"$update": []any{
								map[string]any{
									"instance_id": "bottle_mystery",
									"state":       map[string]any{"visible": false},
								},
							},
						},
					},
				},
			},
		},
	}

	version, world, err := m.UpdateWorldState(ctx, "e1", patchNode)
	require.NoError(t, err)
	assert.Greater(t, version, int64(1))
	assert.False(t, world.Locations["town"].Areas["spawn"].Items[0].Visible())
}

func TestUpdatePlayerViewEmitsDelta(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, store, "e1", basicWorld())

	_, err := m.GetPlayerView(ctx, "e1", "u1")
	require.NoError(t, err)

	sub := m.bus.Subscribe(bus.UserSubject("u1"))
	defer sub.Cancel()

	patchNode := map[string]any{"player": map[string]any{"current_area": "spawn"}}
	version, pv, err := m.UpdatePlayerView(ctx, "e1", "u1", patchNode, nil)
	require.NoError(t, err)
	assert.Equal(t, "spawn", *pv.Player.CurrentArea)

	select {
	case evt := <-sub.Events:
		d := evt.Payload.(delta.Delta)
		assert.Equal(t, version, d.SnapshotVersion)
		assert.Less(t, d.BaseVersion, d.SnapshotVersion)
	case <-time.After(time.Second):
		t.Fatal("delta never published")
	}
}

func TestUpdateWorldAndPlayerViewComposesCollectItem(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, store, "e1", basicWorld())

	_, err := m.GetPlayerView(ctx, "e1", "u1")
	require.NoError(t, err)

	worldPatch := map[string]any{
		"locations": map[string]any{
			"town": map[string]any{
				"areas": map[string]any{
					"spawn": map[string]any{
						"items": map[string]any{
							"$remove": map[string]any{"instance_id": "bottle_mystery"},
						},
					},
				},
			},
		},
	}
	playerPatch := map[string]any{
		"player": map[string]any{
			"inventory": map[string]any{
				"$append": map[string]any{"instance_id": "bottle_mystery", "template_id": "bottle"},
			},
		},
	}
	changes := []delta.Change{
		delta.Removed("spawn", "bottle_mystery"),
		delta.AddedToInventory(map[string]any{"instance_id": "bottle_mystery"}),
	}

	sub := m.bus.Subscribe(bus.UserSubject("u1"))
	defer sub.Cancel()

	worldVersion, playerVersion, world, pv, err := m.UpdateWorldAndPlayerView(ctx, "e1", "u1", worldPatch, playerPatch, changes)
	require.NoError(t, err)
	assert.Greater(t, worldVersion, int64(1))
	assert.Greater(t, playerVersion, int64(0))
	assert.Empty(t, world.Locations["town"].Areas["spawn"].Items)
	require.Len(t, pv.Player.Inventory, 1)
	assert.Equal(t, "bottle_mystery", pv.Player.Inventory[0].InstanceID)

	select {
	case evt := <-sub.Events:
		d := evt.Payload.(delta.Delta)
		assert.Len(t, d.Changes, 2)
	case <-time.After(time.Second):
		t.Fatal("delta never published")
	}
}

func TestResetExperienceBacksUpRestoresAndClearsPlayerViews(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, store, "e1", basicWorld())

	template := basicWorld()
	template.Metadata.Version = 0
	templateData, err := json.Marshal(template)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, worldTemplateKey("e1"), templateData))

	_, err = m.GetPlayerView(ctx, "e1", "u1")
	require.NoError(t, err)
	_, err = m.GetPlayerView(ctx, "e1", "u2")
	require.NoError(t, err)

	_, _, err = m.UpdateWorldState(ctx, "e1", map[string]any{
		"locations": map[string]any{"town": map[string]any{"name": "Changed"}},
	})
	require.NoError(t, err)

	backupFile, cleared, err := m.ResetExperience(ctx, "e1")
	require.NoError(t, err)
	assert.NotEmpty(t, backupFile)
	assert.Equal(t, 2, cleared)

	world, err := m.GetWorldState(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Town", world.Locations["town"].Name)

	_, err = store.Load(ctx, playerViewKey("e1", "u1"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
