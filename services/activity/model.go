package activity

import (
	"time"
)

// Common counter keys. Badge predicates may reference any key a caller
// records, these are just the ones the workout pipeline emits.
const (
	CounterWorkouts         = "workout_count"
	CounterWallBallWorkouts = "wall_ball_workouts"
	CounterAttackWorkouts   = "attack_workouts"
	CounterDefenseWorkouts  = "defense_workouts"
	CounterMidfieldWorkouts = "midfield_workouts"
)

type ActivityCounter struct {
	ID         string    `gorm:"column:id;primaryKey"`
	UserID     string    `gorm:"column:user_id;uniqueIndex:idx_counter_user_key"`
	CounterKey string    `gorm:"column:counter_key;uniqueIndex:idx_counter_user_key"`
	Count      int64     `gorm:"column:count"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (ActivityCounter) TableName() string { return "activity_counters" }

type StreakStatus struct {
	ID               string    `gorm:"column:id;primaryKey"`
	UserID           string    `gorm:"column:user_id;uniqueIndex"`
	Current          int64     `gorm:"column:current"`
	Longest          int64     `gorm:"column:longest"`
	LastActivityDate time.Time `gorm:"column:last_activity_date"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (StreakStatus) TableName() string { return "streak_statuses" }

// Snapshot is the flattened activity state handed to badge predicates.
type Snapshot struct {
	Counters      map[string]int64
	StreakCurrent int64
	StreakLongest int64
}
