package bus

import "fmt"

// UserSubject builds the subject name a given user's connection subscribes
// to for world-state delta delivery: "world.updates.user.<user_id>" (spec
// §4.4, §6.4). A user connected to more than one experience shares one
// subject across them, matching the wire format exactly.
func UserSubject(userID string) string {
	return fmt.Sprintf("world.updates.user.%s", userID)
}
