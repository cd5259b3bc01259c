package badge

import (
	"time"
)

// Badge is reference data. Expression is a CEL predicate over the user's
// progression snapshot (currency balances, activity counters, streaks).
type Badge struct {
	Key         string    `gorm:"column:key;primaryKey"`
	Name        string    `gorm:"column:name"`
	Category    string    `gorm:"column:category"`
	Description string    `gorm:"column:description"`
	Expression  string    `gorm:"column:expression"`
	MaxEarnings int64     `gorm:"column:max_earnings;default:1"`
	PointsAward int64     `gorm:"column:points_award"`
	Hidden      bool      `gorm:"column:hidden"`
	Active      bool      `gorm:"column:active;default:true"`
	Sort        int       `gorm:"column:sort"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Badge) TableName() string { return "badges" }

// BadgeAward records one earning of a badge. The unique index on
// (user_id, badge_key, sequence) is what makes concurrent evaluators safe:
// both compute the same next sequence, one insert wins, the loser treats
// the badge as already awarded.
type BadgeAward struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_award_user_badge_seq"`
	BadgeKey  string    `gorm:"column:badge_key;uniqueIndex:idx_award_user_badge_seq"`
	Sequence  int64     `gorm:"column:sequence;uniqueIndex:idx_award_user_badge_seq"`
	SourceRef string    `gorm:"column:source_ref"`
	AwardedAt time.Time `gorm:"column:awarded_at"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (BadgeAward) TableName() string { return "badge_awards" }

// DefaultBadges returns the seeded badge set.
func DefaultBadges() []*Badge {
	return []*Badge{
		{
			Key: "first_workout", Name: "First Workout", Category: "milestone",
			Description: "Complete your first workout.",
			Expression:  "workout_count >= 1",
			MaxEarnings: 1, PointsAward: 10, Active: true, Sort: 1,
		},
		{
			Key: "five_workouts", Name: "Getting Started", Category: "milestone",
			Description: "Complete five workouts.",
			Expression:  "workout_count >= 5",
			MaxEarnings: 1, PointsAward: 25, Active: true, Sort: 2,
		},
		{
			Key: "wall_ball_wizard", Name: "Wall Ball Wizard", Category: "skills",
			Description: "Complete ten wall ball workouts.",
			Expression:  "wall_ball_workouts >= 10",
			MaxEarnings: 1, PointsAward: 50, Active: true, Sort: 3,
		},
		{
			Key: "week_warrior", Name: "Week Warrior", Category: "streak",
			Description: "Work out seven days in a row.",
			Expression:  "streak_current >= 7",
			MaxEarnings: 1, PointsAward: 75, Active: true, Sort: 4,
		},
		{
			Key: "point_collector", Name: "Point Collector", Category: "wealth",
			Description: "Hold one hundred lax credits.",
			Expression:  "lax_credit >= 100",
			MaxEarnings: 1, PointsAward: 20, Active: true, Sort: 5,
		},
		{
			Key: "grinder", Name: "Grinder", Category: "milestone",
			Description: "Complete fifty workouts.",
			Expression:  "workout_count >= 50",
			MaxEarnings: 1, PointsAward: 150, Hidden: true, Active: true, Sort: 6,
		},
	}
}
