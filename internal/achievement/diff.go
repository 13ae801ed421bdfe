package achievement

import "github.com/steam-achievement-widget/internal/domain"

// DetectNewlyUnlocked returns the records of current that are unlocked and
// were present but locked in previous, in current's order.
//
// With no previous snapshot nothing can be called new, so the result is empty.
// Ids missing from previous are not reported either.
func DetectNewlyUnlocked(previous, current []domain.AchievementRecord) []domain.AchievementRecord {
	newlyUnlocked := make([]domain.AchievementRecord, 0)
	if len(previous) == 0 || len(current) == 0 {
		return newlyUnlocked
	}

	wasAchieved := make(map[string]bool, len(previous))
	for _, r := range previous {
		wasAchieved[r.ID] = r.Achieved
	}

	for _, r := range current {
		if !r.Achieved {
			continue
		}
		if achieved, seen := wasAchieved[r.ID]; seen && !achieved {
			newlyUnlocked = append(newlyUnlocked, r)
		}
	}
	return newlyUnlocked
}
