package entity

import "time"

// Cluster is an ephemeral Aggregator grouping of NewsItems judged to be about
// the same story.
type Cluster struct {
	MainItem     NewsItem
	RelatedItems []NewsItem
	Sources      []string
	Keywords     []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Score        float64
}

// TopBonus multiplies the score when the main item carries extra["is_top"].
const topBonus = 1.5

// Recompute derives Score from the cluster's current membership and age:
// (related_count + sources_count) × time_decay × top_bonus,
// where time_decay is linear from 2.0 at age 0h to 1.0 at age 24h and flat
// beyond.
func (c *Cluster) Recompute(now time.Time) {
	age := now.Sub(c.CreatedAt)
	decay := timeDecay(age)
	bonus := 1.0
	if isTop, ok := c.MainItem.Extra["is_top"].(bool); ok && isTop {
		bonus = topBonus
	}
	c.Score = float64(len(c.RelatedItems)+len(c.Sources)) * decay * bonus
}

func timeDecay(age time.Duration) float64 {
	const fullWindow = 24 * time.Hour
	if age <= 0 {
		return 2.0
	}
	if age >= fullWindow {
		return 1.0
	}
	frac := float64(age) / float64(fullWindow)
	return 2.0 - frac
}
