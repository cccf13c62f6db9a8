package catalog

import "time"

// Badge is an achievement definition users can earn.
type Badge struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Points      int64  `json:"points"`
	IsActive    bool   `json:"is_active"`
}

// Activity is a trackable action definition.
type Activity struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Points      int64  `json:"points"`
	IsActive    bool   `json:"is_active"`
}

// Reward is a redeemable item definition.
type Reward struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	PointsCost  int64  `json:"points_cost"`
	Inventory   *int64 `json:"inventory,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// EarnedBadge pairs a badge with the time a user earned it.
type EarnedBadge struct {
	Badge    Badge     `json:"badge"`
	EarnedAt time.Time `json:"earned_at"`
}

// CompletedActivity pairs an activity with a completion timestamp.
type CompletedActivity struct {
	Activity    Activity  `json:"activity"`
	CompletedAt time.Time `json:"completed_at"`
}

// RedeemedReward pairs a reward with a redemption timestamp.
type RedeemedReward struct {
	Reward     Reward    `json:"reward"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
