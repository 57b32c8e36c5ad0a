package handlers

import (
	"context"

	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
)

// Go implements `go` (spec §4.6): move to an area of the player's current
// location, either by direct area id (`destination`) or by `direction`
// resolved through the current area's `connections` map.
func (h *Handlers) Go(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	destination, _ := req.Fields["destination"].(string)
	direction, _ := req.Fields["direction"].(string)
	if destination == "" && direction == "" {
		return dispatch.Fail("missing_destination", "destination or direction is required"), nil
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

	if destination == "" {
		if pv.Player.CurrentArea == nil {
			return destinationNotFound(loc, "no current area to navigate from"), nil
		}
		area, ok := loc.Areas[*pv.Player.CurrentArea]
		if !ok {
			return destinationNotFound(loc, "current area not found in world"), nil
		}
		destination, ok = area.Connections[direction]
		if !ok {
			return destinationNotFound(loc, "no connection in that direction"), nil
		}
	}

	if _, ok := loc.Areas[destination]; !ok {
		return destinationNotFound(loc, "destination is not an area of the current location"), nil
	}

	patchNode := map[string]any{
		"player": map[string]any{
			"current_area": destination,
		},
	}
	_, _, err = h.manager.UpdatePlayerView(ctx, req.Experience, req.UserID, patchNode, nil)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "You move to " + destination + ".",
	}, nil
}

// destinationNotFound builds the failed Result for an unresolvable
// destination, echoing available_destinations (spec §4.6 "destination_not_found
// (echo available_destinations)").
func destinationNotFound(loc domain.Location, message string) dispatch.Result {
	available := make([]string, 0, len(loc.Areas))
	for id := range loc.Areas {
		available = append(available, id)
	}
	return dispatch.Result{
		Success:  false,
		Error:    &dispatch.Error{Code: "destination_not_found", Message: message},
		Metadata: map[string]any{"available_destinations": available},
	}
}

// Inventory implements `inventory` (spec §4.6): read-only, returns the
// player's inventory with every instance resolved through the template
// resolver.
func (h *Handlers) Inventory(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	pv, err := h.manager.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	merged := make([]domain.MergedInstance, 0, len(pv.Player.Inventory))
	for _, inst := range pv.Player.Inventory {
		merged = append(merged, h.mergeResolved(ctx, req.Experience, domain.EntityItem, inst))
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "",
		Metadata:        map[string]any{"inventory": merged},
	}, nil
}
