package statemanager

import "fmt"

// Document key layout. Player views are keyed experience-first so that
// deleting every player view for an experience (the @reset admin verb) is a
// single prefix List/Delete instead of an all-players scan.
func worldKey(experience string) string {
	return fmt.Sprintf("experiences/%s/state/world.json", experience)
}

func worldTemplateKey(experience string) string {
	return fmt.Sprintf("experiences/%s/state/world.template.json", experience)
}

func backupKey(experience string, timestampMillis int64) string {
	return fmt.Sprintf("experiences/%s/backups/world.%d.json", experience, timestampMillis)
}

func backupPrefix(experience string) string {
	return fmt.Sprintf("experiences/%s/backups/world.", experience)
}

func playerViewKey(experience, userID string) string {
	return fmt.Sprintf("players/%s/%s/view.json", experience, userID)
}

func playerViewPrefix(experience string) string {
	return fmt.Sprintf("players/%s/", experience)
}
