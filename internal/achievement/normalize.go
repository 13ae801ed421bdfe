// Package achievement turns upstream unlock data into canonical records and
// derives the views the widget needs from them. Everything here is pure.
package achievement

import "github.com/steam-achievement-widget/internal/domain"

// Normalize merges a player's raw unlock records with a game's schema.
// Output order follows raw. A raw record with no schema entry is still
// emitted, named after itself and without an image. Locked records use the
// schema's gray icon when it has one.
func Normalize(raw []domain.RawUnlockRecord, schema []domain.SchemaAchievement) []domain.AchievementRecord {
	byDisplayName := make(map[string]domain.SchemaAchievement, len(schema))
	byName := make(map[string]domain.SchemaAchievement, len(schema))
	for _, s := range schema {
		if s.DisplayName != "" {
			byDisplayName[s.DisplayName] = s
		}
		if s.Name != "" {
			byName[s.Name] = s
		}
	}

	records := make([]domain.AchievementRecord, 0, len(raw))
	for _, r := range raw {
		id := r.APIName
		if id == "" {
			id = r.Name
		}
		if id == "" {
			continue
		}

		rec := domain.AchievementRecord{
			ID:          id,
			DisplayName: r.Name,
			Description: r.Description,
			Achieved:    r.Achieved == domain.AchievedFlag,
		}
		if rec.DisplayName == "" {
			rec.DisplayName = id
		}
		if rec.Achieved {
			rec.UnlockTime = r.UnlockTime
		}

		meta, ok := byDisplayName[r.Name]
		if !ok && r.APIName != "" {
			meta, ok = byName[r.APIName]
		}
		if ok {
			if meta.DisplayName != "" {
				rec.DisplayName = meta.DisplayName
			}
			rec.Image = meta.Icon
			if !rec.Achieved && meta.IconGray != "" {
				rec.Image = meta.IconGray
			}
		}

		records = append(records, rec)
	}
	return records
}
