package rank

import (
	"time"
)

// Rank is a rung on the ladder. Threshold is the canonical (lax credit)
// balance required to hold it.
type Rank struct {
	Key        string    `gorm:"column:key;primaryKey"`
	Title      string    `gorm:"column:title"`
	Threshold  int64     `gorm:"column:threshold"`
	OrderIndex int       `gorm:"column:order_index"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Rank) TableName() string { return "ranks" }

// RankStatus is a user's current rung. Order never decreases; corrective
// ledger events can drop the balance below the threshold without demoting.
type RankStatus struct {
	ID             string    `gorm:"column:id;primaryKey"`
	UserID         string    `gorm:"column:user_id;uniqueIndex"`
	RankKey        string    `gorm:"column:rank_key"`
	OrderIndex     int       `gorm:"column:order_index"`
	TransitionedAt time.Time `gorm:"column:transitioned_at"`
	Version        int64     `gorm:"column:version"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (RankStatus) TableName() string { return "rank_statuses" }

// DefaultRanks returns the seeded ten-rung ladder.
func DefaultRanks() []*Rank {
	return []*Rank{
		{Key: "rookie", Title: "Rookie", Threshold: 0, OrderIndex: 0},
		{Key: "junior_varsity", Title: "Junior Varsity", Threshold: 100, OrderIndex: 1},
		{Key: "varsity", Title: "Varsity", Threshold: 500, OrderIndex: 2},
		{Key: "all_conference", Title: "All-Conference", Threshold: 1000, OrderIndex: 3},
		{Key: "all_state", Title: "All-State", Threshold: 2500, OrderIndex: 4},
		{Key: "all_american", Title: "All-American", Threshold: 5000, OrderIndex: 5},
		{Key: "elite", Title: "Elite", Threshold: 10000, OrderIndex: 6},
		{Key: "legend", Title: "Legend", Threshold: 25000, OrderIndex: 7},
		{Key: "hall_of_fame", Title: "Hall of Fame", Threshold: 50000, OrderIndex: 8},
		{Key: "goat", Title: "GOAT", Threshold: 100000, OrderIndex: 9},
	}
}
