// Package delta formats the v0.4 world-update message (spec §4.4): an
// ordered change-list carrying base_version -> snapshot_version, published
// on a user's bus subject after every committed state-manager write.
package delta

import "encoding/json"

// Change is one entry in a delta's changes list. Exactly one of AreaID's
// use-cases applies per Operation; Item is populated for add/update, absent
// for remove.
type Change struct {
	Operation  string `json:"operation"`
	AreaID     string `json:"area_id,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Path       string `json:"path,omitempty"`
	Item       any    `json:"item,omitempty"`
}

// MarshalJSON writes an inventory add (Path set, no AreaID) with an
// explicit "area_id": null; every other change omits an empty area_id.
func (c Change) MarshalJSON() ([]byte, error) {
	type plain Change
	if c.Operation != OpAdd || c.Path == "" || c.AreaID != "" {
		return json.Marshal(plain(c))
	}
	return json.Marshal(struct {
		plain
		AreaID *string `json:"area_id"`
	}{plain: plain(c)})
}

const (
	OpRemove = "remove"
	OpAdd    = "add"
	OpUpdate = "update"
)

// Removed builds a "remove" change for an instance leaving area_id.
func Removed(areaID, instanceID string) Change {
	return Change{Operation: OpRemove, AreaID: areaID, InstanceID: instanceID}
}

// Added builds an "add" change for an instance appearing in area_id.
// Inventory adds use AddedToInventory instead.
func Added(areaID string, item any) Change {
	return Change{Operation: OpAdd, AreaID: areaID, Item: item}
}

// AddedToInventory builds an "add" change for an instance entering the
// player's inventory (area_id is null on the wire; Path is always
// "player.inventory").
func AddedToInventory(item any) Change {
	return Change{Operation: OpAdd, Path: "player.inventory", Item: item}
}

// Updated builds an "update" change for an instance whose fields changed
// in place.
func Updated(areaID, instanceID string, item any) Change {
	return Change{Operation: OpUpdate, AreaID: areaID, InstanceID: instanceID, Item: item}
}

// Delta is the full v0.4 world_update message.
type Delta struct {
	Type             string   `json:"type"`
	Version          string   `json:"version"`
	Experience       string   `json:"experience"`
	UserID           string   `json:"user_id"`
	BaseVersion      int64    `json:"base_version"`
	SnapshotVersion  int64    `json:"snapshot_version"`
	Changes          []Change `json:"changes"`
	TimestampMillis  int64    `json:"timestamp"`
}

// New builds a Delta. now is the publish time in epoch milliseconds,
// supplied by the caller rather than computed here so callers can stamp
// deterministically in tests and reuse the same clock reading used for
// version stamping.
func New(experience, userID string, baseVersion, snapshotVersion int64, changes []Change, nowMillis int64) Delta {
	return Delta{
		Type:            "world_update",
		Version:         "0.4",
		Experience:      experience,
		UserID:          userID,
		BaseVersion:     baseVersion,
		SnapshotVersion: snapshotVersion,
		Changes:         changes,
		TimestampMillis: nowMillis,
	}
}
