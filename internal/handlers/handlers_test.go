package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aeonia-ai/gaia-sub001/internal/bus"
	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/docstore"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
	"github.com/Aeonia-ai/gaia-sub001/internal/statemanager"
	"github.com/Aeonia-ai/gaia-sub001/internal/template"
)

func setup(t *testing.T) (*Handlers, docstore.Store) {
	t.Helper()
	root := t.TempDir()
	store, err := docstore.NewFileStore(filepath.Join(root, "docs"))
	require.NoError(t, err)

	clock := time.Unix(0, 0)
	manager := statemanager.New(store, bus.New(), statemanager.WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	resolver := template.NewResolver(filepath.Join(root, "content"))
	h := New(manager, resolver, func() int64 { return 1700000000000 }, nil)
	writeTemplateFile(t, root, "e1", domain.EntityItem, "bottle", "name: Mystery Bottle\ncollectible: true\n")
	writeTemplateFile(t, root, "e1", domain.EntityItem, "statue", "name: Statue\ncollectible: false\n")
	return h, store
}

// writeTemplateFile seeds a template file at the content root's conventional
// <experience>/templates/<entity_type>/<template_id>.yaml path (spec §6.3).
func writeTemplateFile(t *testing.T, contentRoot, experience string, entityType domain.EntityType, templateID, yamlBody string) {
	t.Helper()
	dir := filepath.Join(contentRoot, "content", experience, "templates", string(entityType))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, templateID+".yaml"), []byte(yamlBody), 0o644))
}

func seedWorld(t *testing.T, store docstore.Store, experience string, world domain.World) {
	t.Helper()
	data, err := json.Marshal(world)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "experiences/"+experience+"/state/world.json", data))
}

func townWorld() domain.World {
	return domain.World{
		Locations: map[string]domain.Location{
			"town": {
				Name: "Town",
				Areas: map[string]domain.Area{
					"spawn": {
						Name: "Spawn",
						Items: []domain.Instance{
							// collectible is deliberately absent here: both
							// items rely on their template's default
							// (bottle: true, statue: false).
							{InstanceID: "bottle_mystery", TemplateID: "bottle", State: map[string]any{"visible": true}},
							{InstanceID: "statue", TemplateID: "statue", State: map[string]any{"visible": true}},
						},
						Connections: map[string]string{"north": "plaza"},
					},
					"plaza": {
						Name:  "Plaza",
						Items: []domain.Instance{},
					},
				},
			},
		},
		NPCs:     map[string]domain.Instance{},
		Metadata: domain.WorldMetadata{Version: 1},
	}
}

// bootstrapAt auto-bootstraps the player view (picking up the world's
// lexicographically-first location) then moves the player into area.
func bootstrapAt(t *testing.T, h *Handlers, experience, userID, _, area string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.manager.GetPlayerView(ctx, experience, userID)
	require.NoError(t, err)
	if area == "" {
		return
	}
	_, _, err = h.manager.UpdatePlayerView(ctx, experience, userID, map[string]any{
		"player": map[string]any{"current_area": area},
	}, nil)
	require.NoError(t, err)
}

func TestCollectItemMissingInstanceID(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.CollectItem(context.Background(), dispatch.Request{Experience: "e1", UserID: "u1", Fields: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "missing_instance_id", result.Error.Code)
}

func TestCollectItemNotFound(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.CollectItem(context.Background(), dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"instance_id": "nope"},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "item_not_found", result.Error.Code)
}

func TestCollectItemNotCollectible(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.CollectItem(context.Background(), dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"instance_id": "statue"},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "not_collectible", result.Error.Code)
}

func TestCollectThenDropRoundTrip(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")
	ctx := context.Background()

	collectResult, err := h.CollectItem(ctx, dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"instance_id": "bottle_mystery"},
	})
	require.NoError(t, err)
	require.True(t, collectResult.Success)

	pv, err := h.manager.GetPlayerView(ctx, "e1", "u1")
	require.NoError(t, err)
	require.Len(t, pv.Player.Inventory, 1)

	world, err := h.manager.GetWorldState(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, world.Locations["town"].Areas["spawn"].Items, 1, "only the statue remains")

	dropResult, err := h.DropItem(ctx, dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"instance_id": "bottle_mystery"},
	})
	require.NoError(t, err)
	require.True(t, dropResult.Success)

	pv, err = h.manager.GetPlayerView(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.Empty(t, pv.Player.Inventory)

	world, err = h.manager.GetWorldState(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, world.Locations["town"].Areas["spawn"].Items, 2)
}

func TestDropItemNotInInventory(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.DropItem(context.Background(), dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"instance_id": "bottle_mystery"},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "not_in_inventory", result.Error.Code)
}

func TestGoMovesToDestinationByID(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.Go(context.Background(), dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"destination": "plaza"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	pv, err := h.manager.GetPlayerView(context.Background(), "e1", "u1")
	require.NoError(t, err)
	require.NotNil(t, pv.Player.CurrentArea)
	assert.Equal(t, "plaza", *pv.Player.CurrentArea)
}

func TestGoByDirection(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.Go(context.Background(), dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"direction": "north"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestGoMissingDestination(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.Go(context.Background(), dispatch.Request{Experience: "e1", UserID: "u1", Fields: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "missing_destination", result.Error.Code)
}

func TestGoDestinationNotFoundEchoesAvailable(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")

	result, err := h.Go(context.Background(), dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"destination": "nowhere"},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "destination_not_found", result.Error.Code)
	assert.Contains(t, result.Metadata, "available_destinations")
}

func TestInventoryReturnsMergedItems(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")
	ctx := context.Background()

	_, err := h.CollectItem(ctx, dispatch.Request{
		Experience: "e1", UserID: "u1",
		Fields: map[string]any{"instance_id": "bottle_mystery"},
	})
	require.NoError(t, err)

	result, err := h.Inventory(ctx, dispatch.Request{Experience: "e1", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	inv, ok := result.Metadata["inventory"].([]domain.MergedInstance)
	require.True(t, ok)
	require.Len(t, inv, 1)
	assert.Equal(t, "bottle_mystery", inv[0].InstanceID)
}

func TestCollectConcurrentOnlyOneSucceeds(t *testing.T) {
	h, store := setup(t)
	seedWorld(t, store, "e1", townWorld())
	bootstrapAt(t, h, "e1", "u1", "town", "spawn")
	ctx := context.Background()

	results := make(chan dispatch.Result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := h.CollectItem(ctx, dispatch.Request{
				Experience: "e1", UserID: "u1",
				Fields: map[string]any{"instance_id": "bottle_mystery"},
			})
			require.NoError(t, err)
			results <- r
		}()
	}

	successes := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.Success {
			successes++
		} else {
			assert.Equal(t, "item_not_found", r.Error.Code)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent collect_item should succeed (spec §8.3)")
}
