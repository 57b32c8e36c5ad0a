package domain

import "time"

// Player is the player-owned sub-document of a PlayerView (spec §3.2).
type Player struct {
	CurrentLocation string     `json:"current_location"`
	CurrentArea     *string    `json:"current_area"` // nullable: player may be at top-level location
	Inventory       []Instance `json:"inventory"`
}

// PlayerView is the per-(user, experience) document. It is lazily
// auto-bootstrapped on first access (spec §3.2 Lifecycle).
type PlayerView struct {
	Player          Player         `json:"player"`
	SnapshotVersion int64          `json:"snapshot_version"`
	QuestStates     map[string]any `json:"quest_states,omitempty"`
	DiscoveredAreas []string       `json:"discovered_areas,omitempty"`
}

// Clone returns a deep copy of the player view via JSON round-trip.
func (p *PlayerView) Clone() *PlayerView {
	if p == nil {
		return nil
	}
	return jsonClone(p)
}

// StampVersion bumps SnapshotVersion to a value strictly greater than the
// current one (spec §4.1 step 3, §9 Versioning).
func (p *PlayerView) StampVersion(now time.Time) int64 {
	return stampVersion(&p.SnapshotVersion, now)
}

// NewPlayerView returns the auto-bootstrap default for a brand-new player
// view: empty inventory, no current area, snapshot version 0 (the first
// successful write will stamp it to a real version).
func NewPlayerView(startLocation string) *PlayerView {
	return &PlayerView{
		Player: Player{
			CurrentLocation: startLocation,
			CurrentArea:     nil,
			Inventory:       []Instance{},
		},
		SnapshotVersion: 0,
		QuestStates:     map[string]any{},
		DiscoveredAreas: []string{},
	}
}
