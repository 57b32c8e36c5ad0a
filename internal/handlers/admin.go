package handlers

import (
	"context"
	"encoding/json"

	"github.com/Aeonia-ai/gaia-sub001/internal/adminpath"
	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
)

// Reset implements `@reset experience CONFIRM` (spec §4.6): back up the
// world document, restore from world.template.json, and delete every
// player view for the experience. Requires an explicit confirm field so a
// bare "@reset" typo can never fire (spec §7: "admin operations that are
// partially destructive... backups are created before any destructive
// step").
func (h *Handlers) Reset(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	if confirm, _ := req.Fields["confirm"].(bool); !confirm {
		return dispatch.Fail("missing_confirmation", "reset requires confirm:true"), nil
	}

	backupFile, cleared, err := h.manager.ResetExperience(ctx, req.Experience)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "World reset.",
		Metadata: map[string]any{
			"backup_file":          backupFile,
			"cleared_player_views": cleared,
		},
	}, nil
}

// ResetWorldOnly implements the supplemental `@reset-world-only` verb (spec
// §9 Open Questions: "world-only reset is documented as dangerous... source
// offers it anyway"). Does not touch player views.
func (h *Handlers) ResetWorldOnly(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	if confirm, _ := req.Fields["confirm"].(bool); !confirm {
		return dispatch.Fail("missing_confirmation", "reset requires confirm:true"), nil
	}

	backupFile, err := h.manager.ResetWorldOnly(ctx, req.Experience)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "World reset (player views untouched).",
		Metadata:        map[string]any{"backup_file": backupFile},
	}, nil
}

// locatedEntity is an admin search hit anywhere in the world document, not
// scoped to any one player's current location (unlike findInLocation).
type locatedEntity struct {
	worldPath []string // path segments to the containing list, e.g. ["locations","town","areas","spawn","items"]
	inst      domain.Instance
}

// findEntityInWorld searches the whole world document for instanceID among
// the given entityType's lists (spec §4.6 @examine: "items checked both
// top-level and per-area"). It only searches list-shaped instance
// collections (a
// location's top-level Items, and each area's Items/NPCs): those are the
// only shapes internal/patch's $update/$remove operators know how to
// address by instance_id. world.NPCs is keyed by name rather than a list
// and is therefore not addressable by @examine/@edit.
func findEntityInWorld(world *domain.World, entityType domain.EntityType, instanceID string) (locatedEntity, bool) {
	for locID, loc := range world.Locations {
		if entityType == domain.EntityItem {
			for _, inst := range loc.Items {
				if inst.InstanceID == instanceID {
					return locatedEntity{worldPath: []string{"locations", locID, "items"}, inst: inst}, true
				}
			}
		}
		for areaID, area := range loc.Areas {
			list := area.Items
			pathTail := "items"
			if entityType == domain.EntityNPC {
				list = area.NPCs
				pathTail = "npcs"
			}
			for _, inst := range list {
				if inst.InstanceID == instanceID {
					return locatedEntity{worldPath: []string{"locations", locID, "areas", areaID, pathTail}, inst: inst}, true
				}
			}
		}
	}
	return locatedEntity{}, false
}

func parseEntityType(raw string) (domain.EntityType, bool) {
	switch raw {
	case "item", "items":
		return domain.EntityItem, true
	case "npc", "npcs":
		return domain.EntityNPC, true
	default:
		return "", false
	}
}

// mergedEntityMap resolves inst through the template resolver and flattens
// the result to a plain map, the shape adminpath.Resolve/Enumerate operate
// on.
func (h *Handlers) mergedEntityMap(ctx context.Context, experience string, entityType domain.EntityType, inst domain.Instance) (map[string]any, error) {
	merged := h.mergeResolved(ctx, experience, entityType, inst)
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Examine implements `@examine <type> <id>` (spec §4.6): returns the raw
// merged entity plus an enumeration of its editable leaf properties.
func (h *Handlers) Examine(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	typeStr, _ := req.Fields["entity_type"].(string)
	entityType, ok := parseEntityType(typeStr)
	if !ok {
		return dispatch.Fail("missing_instance_id", "entity_type must be item or npc"), nil
	}
	instanceID, _ := req.Fields["id"].(string)
	if instanceID == "" {
		return dispatch.Fail("missing_instance_id", "id is required"), nil
	}

	world, err := h.manager.GetWorldState(ctx, req.Experience)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}
	located, ok := findEntityInWorld(world, entityType, instanceID)
	if !ok {
		return dispatch.Fail("item_not_found", "no such entity in the world"), nil
	}

	entity, err := h.mergedEntityMap(ctx, req.Experience, entityType, located.inst)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "",
		Metadata: map[string]any{
			"entity":          entity,
			"editable_fields": adminpath.Enumerate(entity),
			"world_path":      worldPathString(located.worldPath),
		},
	}, nil
}

// Edit implements `@edit <type> <id> <property-path> <value>` (spec §4.6).
func (h *Handlers) Edit(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	typeStr, _ := req.Fields["entity_type"].(string)
	entityType, ok := parseEntityType(typeStr)
	if !ok {
		return dispatch.Fail("missing_instance_id", "entity_type must be item or npc"), nil
	}
	instanceID, _ := req.Fields["id"].(string)
	if instanceID == "" {
		return dispatch.Fail("missing_instance_id", "id is required"), nil
	}
	path, _ := req.Fields["property_path"].(string)
	if path == "" {
		return dispatch.Fail("missing_property_path", "property_path is required"), nil
	}
	rawValue, _ := req.Fields["value"].(string)

	world, err := h.manager.GetWorldState(ctx, req.Experience)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}
	located, ok := findEntityInWorld(world, entityType, instanceID)
	if !ok {
		return dispatch.Fail("item_not_found", "no such entity in the world"), nil
	}

	entity, err := h.mergedEntityMap(ctx, req.Experience, entityType, located.inst)
	if err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	before, err := adminpath.Resolve(entity, path)
	if err != nil {
		return dispatch.Fail("item_not_found", err.Error()), nil
	}
	after, err := adminpath.Coerce(before, rawValue)
	if err != nil {
		return dispatch.Fail("type_mismatch", err.Error()), nil
	}

	fields := adminpath.ToNestedFields(path, after)
	criteria := map[string]any{"instance_id": instanceID}
	for k, v := range fields {
		criteria[k] = v
	}
	worldPatch := nest(located.worldPath, map[string]any{
		"$update": []any{criteria},
	})

	if _, _, err := h.manager.UpdateWorldState(ctx, req.Experience, worldPatch); err != nil {
		return dispatch.Fail("processing_error", err.Error()), nil
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "",
		Metadata: map[string]any{
			"world_path": worldPathString(located.worldPath),
			"before":     before,
			"after":      after,
		},
	}, nil
}

// Where implements `@where` (spec §4.6): current location, current area,
// the area's full item/npc listing (hidden items included), and
// neighboring areas.
func (h *Handlers) Where(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
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

	items := loc.Items
	var npcs []domain.Instance
	neighbors := map[string]string{}
	if pv.Player.CurrentArea != nil {
		area, ok := loc.Areas[*pv.Player.CurrentArea]
		if !ok {
			return dispatch.Fail("no_location", "current area not found in world"), nil
		}
		items = area.Items
		npcs = area.NPCs
		neighbors = area.Connections
	}

	mergedItems := make([]domain.MergedInstance, 0, len(items))
	for _, inst := range items {
		mergedItems = append(mergedItems, h.mergeResolved(ctx, req.Experience, domain.EntityItem, inst))
	}
	mergedNPCs := make([]domain.MergedInstance, 0, len(npcs))
	for _, inst := range npcs {
		mergedNPCs = append(mergedNPCs, h.mergeResolved(ctx, req.Experience, domain.EntityNPC, inst))
	}

	return dispatch.Result{
		Success:         true,
		MessageToPlayer: "",
		Metadata: map[string]any{
			"current_location": pv.Player.CurrentLocation,
			"current_area":     pv.Player.CurrentArea,
			"items":            mergedItems,
			"npcs":             mergedNPCs,
			"neighbors":        neighbors,
		},
	}, nil
}

func worldPathString(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "."
		}
		out += s
	}
	return out
}
