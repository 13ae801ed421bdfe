package achievement

import (
	"math"
	"sort"

	"github.com/steam-achievement-widget/internal/domain"
)

// Classification partitions a snapshot by unlock state
type Classification struct {
	// Unlocked is ordered most recent first
	Unlocked []domain.AchievementRecord
	// Locked keeps input order
	Locked []domain.AchievementRecord
}

// Classify splits records into unlocked and locked sets.
// Equal unlock times keep their relative input order.
func Classify(records []domain.AchievementRecord) Classification {
	c := Classification{
		Unlocked: make([]domain.AchievementRecord, 0, len(records)),
		Locked:   make([]domain.AchievementRecord, 0),
	}
	for _, r := range records {
		if r.Achieved {
			c.Unlocked = append(c.Unlocked, r)
		} else {
			c.Locked = append(c.Locked, r)
		}
	}

	sort.SliceStable(c.Unlocked, func(i, j int) bool {
		return c.Unlocked[i].UnlockTime > c.Unlocked[j].UnlockTime
	})
	return c
}

// Total returns the number of classified records
func (c Classification) Total() int {
	return len(c.Unlocked) + len(c.Locked)
}

// Recent returns up to n of the most recently unlocked records
func (c Classification) Recent(n int) []domain.AchievementRecord {
	if n < 0 {
		n = 0
	}
	if n > len(c.Unlocked) {
		n = len(c.Unlocked)
	}
	recent := make([]domain.AchievementRecord, n)
	copy(recent, c.Unlocked[:n])
	return recent
}

// Progress returns the unlocked/total counts and the rounded percentage
func (c Classification) Progress() domain.Progress {
	return domain.Progress{
		Unlocked:   len(c.Unlocked),
		Total:      c.Total(),
		Percentage: Percentage(len(c.Unlocked), c.Total()),
	}
}

// Percentage returns round(unlocked/total*100), or 0 when total is 0
func Percentage(unlocked, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(unlocked) / float64(total) * 100))
}
