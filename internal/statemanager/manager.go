// Package statemanager is the sole read/write path for world and
// player-view documents (spec §4.1): it owns exclusive per-document
// locking, monotonic version stamping, merge-operator patch application,
// and change-event publication. No other package writes these documents.
package statemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Aeonia-ai/gaia-sub001/internal/bus"
	"github.com/Aeonia-ai/gaia-sub001/internal/delta"
	"github.com/Aeonia-ai/gaia-sub001/internal/docstore"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
	"github.com/Aeonia-ai/gaia-sub001/internal/patch"
)

const maxWorldBackups = 5

// Manager is the only component that reads or writes persisted world and
// player-view documents (spec §3.5 Ownership).
type Manager struct {
	store docstore.Store
	bus   *bus.Bus
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger overrides the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// New constructs a Manager backed by store, publishing change events on bus.
func New(store docstore.Store, eventBus *bus.Bus, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		bus:   eventBus,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetWorldState returns the current world document for experience.
func (m *Manager) GetWorldState(ctx context.Context, experience string) (*domain.World, error) {
	data, err := m.store.Load(ctx, worldKey(experience))
	if err != nil {
		return nil, err
	}
	var world domain.World
	if err := json.Unmarshal(data, &world); err != nil {
		return nil, fmt.Errorf("statemanager: decode world: %w", err)
	}
	return &world, nil
}

// GetPlayerView returns the player view for (experience, userID), creating
// it on first access (spec §3.2 "auto-bootstrap").
func (m *Manager) GetPlayerView(ctx context.Context, experience, userID string) (*domain.PlayerView, error) {
	key := playerViewKey(experience, userID)
	data, err := m.store.Load(ctx, key)
	if err == nil {
		var pv domain.PlayerView
		if err := json.Unmarshal(data, &pv); err != nil {
			return nil, fmt.Errorf("statemanager: decode player view: %w", err)
		}
		return &pv, nil
	}
	if err != docstore.ErrNotFound {
		return nil, err
	}

	return m.bootstrapPlayerView(ctx, experience, userID)
}

func (m *Manager) bootstrapPlayerView(ctx context.Context, experience, userID string) (*domain.PlayerView, error) {
	unlock, err := m.store.Lock(ctx, playerViewKey(experience, userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	key := playerViewKey(experience, userID)
	if data, err := m.store.Load(ctx, key); err == nil {
		var pv domain.PlayerView
		if err := json.Unmarshal(data, &pv); err != nil {
			return nil, fmt.Errorf("statemanager: decode player view: %w", err)
		}
		return &pv, nil
	} else if err != docstore.ErrNotFound {
		return nil, err
	}

	startLocation, err := m.startLocation(ctx, experience)
	if err != nil {
		return nil, err
	}

	pv := domain.NewPlayerView(startLocation)
	pv.StampVersion(m.now())

	data, err := json.Marshal(pv)
	if err != nil {
		return nil, fmt.Errorf("statemanager: encode new player view: %w", err)
	}
	if err := m.store.Save(ctx, key, data); err != nil {
		return nil, err
	}
	return pv, nil
}

// startLocation picks the bootstrap location for a new player view: the
// lexicographically first location id in the world document. The source
// system keys this off per-experience configuration that this spec does
// not otherwise carry; this is a documented, deterministic stand-in (see
// DESIGN.md Open Question decisions).
func (m *Manager) startLocation(ctx context.Context, experience string) (string, error) {
	world, err := m.GetWorldState(ctx, experience)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(world.Locations))
	for id := range world.Locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// UpdateWorldState applies patchNode to the world document and stamps a new
// version. It never publishes a delta: world-only changes (e.g. an admin
// `@edit`) are not tied to a single player's version chain. Handlers whose
// world change must be reflected to one player use
// UpdateWorldAndPlayerView instead (spec §9 "single serialization point").
func (m *Manager) UpdateWorldState(ctx context.Context, experience string, patchNode any) (int64, *domain.World, error) {
	unlock, err := m.store.Lock(ctx, worldKey(experience))
	if err != nil {
		return 0, nil, err
	}
	defer unlock()

	world, err := m.loadWorldLocked(ctx, experience)
	if err != nil {
		return 0, nil, err
	}

	updated, err := applyPatch(world, patchNode)
	if err != nil {
		return 0, nil, fmt.Errorf("statemanager: apply world patch: %w", err)
	}

	updated.StampVersion(m.now())
	if err := m.saveWorld(ctx, experience, updated); err != nil {
		return 0, nil, err
	}
	return updated.Metadata.Version, updated, nil
}

// UpdatePlayerView applies patchNode to (experience, userID)'s player view,
// stamps a new snapshot_version, and always publishes a delta built from
// changes (spec §4.1: update_player_view "always emits change event").
// changes may be empty for patches with nothing client-visible to report
// (e.g. a bare location move).
func (m *Manager) UpdatePlayerView(ctx context.Context, experience, userID string, patchNode any, changes []delta.Change) (int64, *domain.PlayerView, error) {
	unlock, err := m.store.Lock(ctx, playerViewKey(experience, userID))
	if err != nil {
		return 0, nil, err
	}
	defer unlock()

	pv, err := m.loadPlayerViewLocked(ctx, experience, userID)
	if err != nil {
		return 0, nil, err
	}

	base := pv.SnapshotVersion
	updated, err := applyPatch(pv, patchNode)
	if err != nil {
		return 0, nil, fmt.Errorf("statemanager: apply player view patch: %w", err)
	}

	updated.StampVersion(m.now())
	if err := m.savePlayerView(ctx, experience, userID, updated); err != nil {
		return 0, nil, err
	}

	m.publishDelta(experience, userID, base, updated.SnapshotVersion, changes)
	return updated.SnapshotVersion, updated, nil
}

// UpdateWorldAndPlayerView performs collect_item/drop_item's cross-document
// write: world first, player view second, under a single call so no caller
// can observe or create the two documents independently (spec §9 "Cyclic
// write dependency between players and world"). Exactly one delta is
// published, versioned against the player view's snapshot_version chain.
func (m *Manager) UpdateWorldAndPlayerView(
	ctx context.Context,
	experience, userID string,
	worldPatch, playerPatch any,
	changes []delta.Change,
) (worldVersion int64, playerVersion int64, world *domain.World, pv *domain.PlayerView, err error) {
	unlockWorld, err := m.store.Lock(ctx, worldKey(experience))
	if err != nil {
		return 0, 0, nil, nil, err
	}
	defer unlockWorld()

	unlockPlayer, err := m.store.Lock(ctx, playerViewKey(experience, userID))
	if err != nil {
		return 0, 0, nil, nil, err
	}
	defer unlockPlayer()

	w, err := m.loadWorldLocked(ctx, experience)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	updatedWorld, err := applyPatch(w, worldPatch)
	if err != nil {
		return 0, 0, nil, nil, fmt.Errorf("statemanager: apply world patch: %w", err)
	}
	updatedWorld.StampVersion(m.now())

	p, err := m.loadPlayerViewLocked(ctx, experience, userID)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	base := p.SnapshotVersion
	updatedPlayer, err := applyPatch(p, playerPatch)
	if err != nil {
		return 0, 0, nil, nil, fmt.Errorf("statemanager: apply player view patch: %w", err)
	}
	updatedPlayer.StampVersion(m.now())

	if err := m.saveWorld(ctx, experience, updatedWorld); err != nil {
		return 0, 0, nil, nil, err
	}
	if err := m.savePlayerView(ctx, experience, userID, updatedPlayer); err != nil {
		return 0, 0, nil, nil, err
	}

	m.publishDelta(experience, userID, base, updatedPlayer.SnapshotVersion, changes)
	return updatedWorld.Metadata.Version, updatedPlayer.SnapshotVersion, updatedWorld, updatedPlayer, nil
}

func (m *Manager) publishDelta(experience, userID string, base, snapshot int64, changes []delta.Change) {
	if m.bus == nil {
		return
	}
	d := delta.New(experience, userID, base, snapshot, changes, m.now().UnixMilli())
	m.bus.Publish(bus.UserSubject(userID), d)
}

func (m *Manager) loadWorldLocked(ctx context.Context, experience string) (*domain.World, error) {
	data, err := m.store.Load(ctx, worldKey(experience))
	if err != nil {
		return nil, err
	}
	var world domain.World
	if err := json.Unmarshal(data, &world); err != nil {
		return nil, fmt.Errorf("statemanager: decode world: %w", err)
	}
	return &world, nil
}

func (m *Manager) loadPlayerViewLocked(ctx context.Context, experience, userID string) (*domain.PlayerView, error) {
	key := playerViewKey(experience, userID)
	data, err := m.store.Load(ctx, key)
	if err == docstore.ErrNotFound {
		startLocation, serr := m.startLocation(ctx, experience)
		if serr != nil {
			return nil, serr
		}
		return domain.NewPlayerView(startLocation), nil
	}
	if err != nil {
		return nil, err
	}
	var pv domain.PlayerView
	if err := json.Unmarshal(data, &pv); err != nil {
		return nil, fmt.Errorf("statemanager: decode player view: %w", err)
	}
	return &pv, nil
}

func (m *Manager) saveWorld(ctx context.Context, experience string, world *domain.World) error {
	data, err := json.Marshal(world)
	if err != nil {
		return fmt.Errorf("statemanager: encode world: %w", err)
	}
	return m.store.Save(ctx, worldKey(experience), data)
}

func (m *Manager) savePlayerView(ctx context.Context, experience, userID string, pv *domain.PlayerView) error {
	data, err := json.Marshal(pv)
	if err != nil {
		return fmt.Errorf("statemanager: encode player view: %w", err)
	}
	return m.store.Save(ctx, playerViewKey(experience, userID), data)
}

// applyPatch bridges the typed document structs to the generic patch
// engine: marshal to a plain map, apply the merge-operator patch, and
// decode the result back into a document of the same type.
func applyPatch[T any](doc *T, patchNode any) (*T, error) {
	generic, err := toGenericDoc(doc)
	if err != nil {
		return nil, err
	}
	result, err := patch.Apply(generic, patchNode)
	if err != nil {
		return nil, err
	}
	var out T
	if err := fromGenericDoc(result, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func toGenericDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromGenericDoc(doc any, target any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
