// Package aoi builds the Area-of-Interest projection a player's connection
// receives after every `update_location` (spec §4.3): the nearest zone to
// the player's GPS fix, that zone's areas with their items/npcs normalized
// through the template resolver, and the player's own fields.
//
// Grounded on the read-derive-return shape of
// _examples/AltairaLabs-PromptKit/server/a2a/server.go's getOrCreateConversation (load state,
// derive a response object, no write) — no teacher component does spatial
// nearest-neighbor lookup, so that part follows stdlib math directly.
package aoi

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
	"github.com/Aeonia-ai/gaia-sub001/internal/statemanager"
	"github.com/Aeonia-ai/gaia-sub001/internal/template"
)

// AreaOfInterest is the client-facing DTO sent in response to
// `update_location` (spec §4.3 step 5).
type AreaOfInterest struct {
	Type            string           `json:"type"`
	Timestamp       int64            `json:"timestamp"`
	SnapshotVersion int64            `json:"snapshot_version"`
	Zone            *Zone            `json:"zone"`
	Areas           map[string]*AOIArea `json:"areas"`
	Player          PlayerSummary    `json:"player"`
}

// Zone identifies the location nearest the player's GPS fix.
type Zone struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	GPS         domain.GPS `json:"gps"`
}

// AOIArea is one area's client-visible contents.
type AOIArea struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Items       []domain.MergedInstance `json:"items"`
	NPCs        []domain.MergedInstance `json:"npcs"`
}

// PlayerSummary is the player-facing subset of a PlayerView.
type PlayerSummary struct {
	CurrentLocation string                  `json:"current_location"`
	CurrentArea     *string                 `json:"current_area"`
	Inventory       []domain.MergedInstance `json:"inventory"`
}

// Builder computes AreaOfInterest DTOs from persisted state.
type Builder struct {
	manager   *statemanager.Manager
	resolver  *template.Resolver
	nowMillis func() int64
	log       *slog.Logger
}

// NewBuilder constructs a Builder reading through manager and resolver.
func NewBuilder(manager *statemanager.Manager, resolver *template.Resolver, nowMillis func() int64, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{manager: manager, resolver: resolver, nowMillis: nowMillis, log: log}
}

// Build computes the AOI for (experience, userID) given the player's
// current GPS fix (spec §4.3).
func (b *Builder) Build(ctx context.Context, experience, userID string, gps domain.GPS) (*AreaOfInterest, error) {
	world, err := b.manager.GetWorldState(ctx, experience)
	if err != nil {
		return nil, err
	}
	pv, err := b.manager.GetPlayerView(ctx, experience, userID)
	if err != nil {
		return nil, err
	}

	zoneID, ok := nearestZone(world, gps)
	inv := b.mergeAll(ctx, experience, pv.Player.Inventory)

	aoi := &AreaOfInterest{
		Type:            "area_of_interest",
		Timestamp:       b.nowMillis(),
		SnapshotVersion: pv.SnapshotVersion,
		Areas:           map[string]*AOIArea{},
		Player: PlayerSummary{
			CurrentLocation: pv.Player.CurrentLocation,
			CurrentArea:     pv.Player.CurrentArea,
			Inventory:       inv,
		},
	}

	if !ok {
		// Not near any zone: not an error (spec §4.3 edge case).
		return aoi, nil
	}

	loc := world.Locations[zoneID]
	aoi.Zone = &Zone{ID: zoneID, Name: loc.Name, Description: loc.Description, GPS: loc.GPS}

	for areaID, area := range loc.Areas {
		aoi.Areas[areaID] = &AOIArea{
			ID:          areaID,
			Name:        area.Name,
			Description: area.Description,
			Items:       b.mergeVisible(ctx, experience, domain.EntityItem, area.Items),
			NPCs:        b.mergeVisible(ctx, experience, domain.EntityNPC, area.NPCs),
		}
	}
	if len(loc.Items) > 0 {
		// Legacy top-level items (spec §3.1) surface under a synthetic
		// area keyed by the location id itself, alongside named areas.
		aoi.Areas[zoneID] = &AOIArea{
			ID:    zoneID,
			Name:  loc.Name,
			Items: b.mergeVisible(ctx, experience, domain.EntityItem, loc.Items),
		}
	}

	return aoi, nil
}

// defaultZoneRadiusMeters bounds how far a player may be from a zone's GPS
// anchor and still be considered "near" it, when the location document
// doesn't set its own RadiusMeters (spec §4.3 step 2, §8.3 "far from any
// zone anchor").
const defaultZoneRadiusMeters = 500.0

// nearestZone finds the location whose GPS anchor is closest to gps, among
// those within their anchor radius. It returns ok=false if the world has no
// locations at all, or if gps falls outside every location's anchor radius
// (spec §4.3 step 2 "if none within the experience's anchor set", §8.3
// "at coordinates far from any zone anchor").
func nearestZone(world *domain.World, gps domain.GPS) (string, bool) {
	ids := make([]string, 0, len(world.Locations))
	for id := range world.Locations {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic tie-break

	var best string
	bestDist := math.Inf(1)
	found := false
	for _, id := range ids {
		loc := world.Locations[id]
		d := haversineMeters(gps, loc.GPS)
		radius := loc.RadiusMeters
		if radius <= 0 {
			radius = defaultZoneRadiusMeters
		}
		if d > radius {
			continue
		}
		if d < bestDist {
			bestDist = d
			best = id
			found = true
		}
	}
	return best, found
}

const earthRadiusMeters = 6371000.0

// haversineMeters computes great-circle distance between two GPS points.
func haversineMeters(a, b domain.GPS) float64 {
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// mergeVisible resolves every instance in instances through the template
// resolver, dropping instances with state.visible == false (spec §4.3 edge
// case "Item visibility").
func (b *Builder) mergeVisible(ctx context.Context, experience string, entityType domain.EntityType, instances []domain.Instance) []domain.MergedInstance {
	out := make([]domain.MergedInstance, 0, len(instances))
	for _, inst := range instances {
		if !inst.Visible() {
			continue
		}
		out = append(out, b.merge(ctx, experience, entityType, inst))
	}
	return out
}

// mergeAll resolves every instance, without filtering on visibility — used
// for the player's own inventory, which is always shown to its owner.
func (b *Builder) mergeAll(ctx context.Context, experience string, instances []domain.Instance) []domain.MergedInstance {
	out := make([]domain.MergedInstance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, b.merge(ctx, experience, domain.EntityItem, inst))
	}
	return out
}

func (b *Builder) merge(ctx context.Context, experience string, entityType domain.EntityType, inst domain.Instance) domain.MergedInstance {
	tpl, err := b.resolver.Load(ctx, experience, entityType, inst.TemplateID)
	if err != nil {
		// template_not_found: return the instance's own fields unchanged,
		// logged, never propagated as an operational failure (spec §4.2
		// failure modes).
		b.log.Warn("aoi: template not found", "experience", experience, "template_id", inst.TemplateID, "error", err)
		fallback := domain.Template{TemplateID: inst.TemplateID, EntityType: entityType, Fields: map[string]any{}}
		return template.Merge(&fallback, inst.InstanceID, instanceState(inst))
	}
	return template.Merge(tpl, inst.InstanceID, instanceState(inst))
}

// instanceState returns inst.State, defaulting to an empty (non-nil) map
// so the merged instance's "state" key is always an object on the wire.
func instanceState(inst domain.Instance) map[string]any {
	if inst.State == nil {
		return map[string]any{}
	}
	return inst.State
}
