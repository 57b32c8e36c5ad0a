// Package handlers implements the fast command handlers of spec §4.6:
// collect_item, drop_item, go, inventory, and the "@"-prefixed admin verbs.
// Every handler bootstraps the player view if absent, then reads/writes
// exclusively through internal/statemanager — no handler ever touches
// internal/docstore directly (spec §3.5 Ownership).
package handlers

import (
	"context"
	"log/slog"

	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
	"github.com/Aeonia-ai/gaia-sub001/internal/statemanager"
	"github.com/Aeonia-ai/gaia-sub001/internal/template"
)

// Handlers holds the dependencies every fast handler and admin verb reads
// and writes through. Constructed once at startup and handed to
// internal/dispatch (spec §9 "Process-wide state → explicit wiring").
type Handlers struct {
	manager   *statemanager.Manager
	resolver  *template.Resolver
	nowMillis func() int64
	log       *slog.Logger
}

// New constructs a Handlers set.
func New(manager *statemanager.Manager, resolver *template.Resolver, nowMillis func() int64, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{manager: manager, resolver: resolver, nowMillis: nowMillis, log: log}
}

// Register returns the fast-handler and admin-verb registries dispatch.New
// expects (spec §9 "the dispatcher is a map from action-name string to
// handler function pointer").
func (h *Handlers) Register() (fast map[string]dispatch.Handler, admin map[string]dispatch.Handler) {
	fast = map[string]dispatch.Handler{
		"collect_item": h.CollectItem,
		"drop_item":    h.DropItem,
		"go":           h.Go,
		"inventory":    h.Inventory,
	}
	admin = map[string]dispatch.Handler{
		"@reset":            h.Reset,
		"@reset-world-only": h.ResetWorldOnly,
		"@examine":          h.Examine,
		"@edit":             h.Edit,
		"@where":            h.Where,
	}
	return fast, admin
}

// locatedInstance is the result of searching a location for an instance:
// which area it lives in (empty string for the location's legacy top-level
// items list) and its raw index within that list.
type locatedInstance struct {
	areaID string // "" means loc.Items (top-level), not loc.Areas[""]
	index  int
	inst   domain.Instance
}

// findInLocation searches loc's top-level Items and every Area's Items for
// instanceID (spec §4.6 collect_item: "searching top-level and all areas of
// that location").
func findInLocation(loc domain.Location, instanceID string) (locatedInstance, bool) {
	for i, inst := range loc.Items {
		if inst.InstanceID == instanceID {
			return locatedInstance{areaID: "", index: i, inst: inst}, true
		}
	}
	for areaID, area := range loc.Areas {
		for i, inst := range area.Items {
			if inst.InstanceID == instanceID {
				return locatedInstance{areaID: areaID, index: i, inst: inst}, true
			}
		}
	}
	return locatedInstance{}, false
}

// findInInventory searches pv's inventory for instanceID.
func findInInventory(pv *domain.PlayerView, instanceID string) (domain.Instance, bool) {
	for _, inst := range pv.Player.Inventory {
		if inst.InstanceID == instanceID {
			return inst, true
		}
	}
	return domain.Instance{}, false
}

// instanceIDFromFields reads instance_id (preferred) or the legacy item_id
// field from a request's action-specific payload. collect_item and
// drop_item use it, so item_id is accepted on those write paths too.
func instanceIDFromFields(fields map[string]any) string {
	if v, ok := fields["instance_id"].(string); ok && v != "" {
		return v
	}
	if v, ok := fields["item_id"].(string); ok && v != "" {
		return v
	}
	return ""
}

// mergeResolved resolves inst through the template resolver, falling back
// to the instance's own fields (with its real template_id preserved) when
// the template is missing (spec §4.2 failure modes) — the same
// non-fatal-fallback shape internal/aoi uses for AOI projection.
func (h *Handlers) mergeResolved(ctx context.Context, experience string, entityType domain.EntityType, inst domain.Instance) domain.MergedInstance {
	tpl, err := h.resolver.Load(ctx, experience, entityType, inst.TemplateID)
	if err != nil {
		h.log.Warn("handlers: template not found", "experience", experience, "template_id", inst.TemplateID, "error", err)
		fallback := domain.Template{TemplateID: inst.TemplateID, EntityType: entityType, Fields: map[string]any{}}
		return template.Merge(&fallback, inst.InstanceID, instanceState(inst))
	}
	return template.Merge(tpl, inst.InstanceID, instanceState(inst))
}

func instanceState(inst domain.Instance) map[string]any {
	if inst.State == nil {
		return map[string]any{}
	}
	return inst.State
}

// nest turns a dotted path's segments and a leaf patch value into the
// nested map[string]any shape internal/patch's structural navigation
// expects (spec §9 "structured patch language... the spec requires them to
// nest").
func nest(path []string, leaf map[string]any) map[string]any {
	if len(path) == 0 {
		return leaf
	}
	return map[string]any{path[0]: nest(path[1:], leaf)}
}

// instanceToPatchValue converts inst to the generic map representation the
// patch engine operates on (the same flattened named-fields-plus-extra
// shape its MarshalJSON produces).
func instanceToPatchValue(inst domain.Instance) map[string]any {
	value := map[string]any{
		"instance_id": inst.InstanceID,
		"template_id": inst.TemplateID,
	}
	if inst.State != nil {
		value["state"] = inst.State
	}
	for k, v := range inst.Extra {
		value[k] = v
	}
	return value
}
