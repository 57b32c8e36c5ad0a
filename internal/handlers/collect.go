package handlers

import (
	"context"
	"errors"

	"github.com/Aeonia-ai/gaia-sub001/internal/delta"
	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
	"github.com/Aeonia-ai/gaia-sub001/internal/patch"
)

// CollectItem implements `collect_item` (spec §4.6): locate instance_id in
// the player's current location (top-level or any area), verify it is
// collectible, remove it from the world and append a copy to the player's
// inventory as a single composed write, publishing one two-change delta.
func (h *Handlers) CollectItem(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	instanceID := instanceIDFromFields(req.Fields)
	if instanceID == "" {
		return dispatch.Fail("missing_instance_id", "instance_id is required"), nil
	}

	pv, err := h.manager.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}
	if pv.Player.CurrentLocation == "" {
		return dispatch.Fail("no_location", "player has no current location"), nil
	}

	world, err := h.manager.GetWorldState(ctx, req.Experience)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}
	loc, ok := world.Locations[pv.Player.CurrentLocation]
	if !ok {
		return dispatch.Fail("no_location", "current location not found in world"), nil
	}

	located, ok := findInLocation(loc, instanceID)
	if !ok {
		return dispatch.Fail("item_not_found", "no such instance in the current location"), nil
	}

	merged := h.mergeResolved(ctx, req.Experience, domain.EntityItem, located.inst)
	if !merged.Collectible() {
		return dispatch.Fail("not_collectible", "instance is not collectible"), nil
	}

	removePath := []string{"locations", pv.Player.CurrentLocation, "items"}
	if located.areaID != "" {
		removePath = []string{"locations", pv.Player.CurrentLocation, "areas", located.areaID, "items"}
	}
	worldPatch := nest(removePath, map[string]any{
		"$remove": map[string]any{"instance_id": instanceID},
	})
	playerPatch := map[string]any{
		"player": map[string]any{
			"inventory": map[string]any{
				"$append": instanceToPatchValue(located.inst),
			},
		},
	}

	changes := []delta.Change{
		delta.Removed(located.areaID, instanceID),
		delta.AddedToInventory(merged),
	}

	_, _, _, _, err = h.manager.UpdateWorldAndPlayerView(ctx, req.Experience, req.UserID, worldPatch, playerPatch, changes)
	if err != nil {
		if errors.Is(err, patch.ErrNoMatch) {
			// Another concurrent collect_item won the race and already
			// removed this instance (spec §8.3 "two concurrent
			// collect_item... the other returns item_not_found").
			return dispatch.Fail("item_not_found", "no such instance in the current location"), nil
		}
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "You collected " + instanceID + ".",
		StateChanges:    changes,
	}, nil
}

// DropItem implements `drop_item` (spec §4.6): the inverse of CollectItem.
// Removes instance_id from the player's inventory and appends it to the
// current location/area's items[].
func (h *Handlers) DropItem(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	instanceID := instanceIDFromFields(req.Fields)
	if instanceID == "" {
		return dispatch.Fail("missing_instance_id", "instance_id is required"), nil
	}

	pv, err := h.manager.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}
	if pv.Player.CurrentLocation == "" {
		return dispatch.Fail("no_location", "player has no current location"), nil
	}

	inst, ok := findInInventory(pv, instanceID)
	if !ok {
		return dispatch.Fail("not_in_inventory", "instance not held by player"), nil
	}

	addPath := []string{"locations", pv.Player.CurrentLocation, "items"}
	areaID := ""
	if pv.Player.CurrentArea != nil {
		areaID = *pv.Player.CurrentArea
		addPath = []string{"locations", pv.Player.CurrentLocation, "areas", areaID, "items"}
	}
	worldPatch := nest(addPath, map[string]any{
		"$append": instanceToPatchValue(inst),
	})
	playerPatch := map[string]any{
		"player": map[string]any{
			"inventory": map[string]any{
				"$remove": map[string]any{"instance_id": instanceID},
			},
		},
	}

	merged := h.mergeResolved(ctx, req.Experience, domain.EntityItem, inst)
	changes := []delta.Change{
		{Operation: delta.OpRemove, Path: "player.inventory", InstanceID: instanceID},
		delta.Added(areaID, merged),
	}

	_, _, _, _, err = h.manager.UpdateWorldAndPlayerView(ctx, req.Experience, req.UserID, worldPatch, playerPatch, changes)
	if err != nil {
		if errors.Is(err, patch.ErrNoMatch) {
			return dispatch.Fail("not_in_inventory", "instance not held by player"), nil
		}
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "You dropped " + instanceID + ".",
		StateChanges:    changes,
	}, nil
}
