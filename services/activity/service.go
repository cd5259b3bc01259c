package activity

import (
	"context"
	"time"

	"laxhq-progression/pkg/db/option"
	"laxhq-progression/pkg/errutil"
	"laxhq-progression/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	counters repository.Repository[ActivityCounter]
	streaks  repository.Repository[StreakStatus]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		counters: repository.ProvideStore[ActivityCounter](p.DB),
		streaks:  repository.ProvideStore[StreakStatus](p.DB),
	}
}

// Record bumps each counter by one and advances the streak for occurredAt.
func (s *Service) Record(ctx context.Context, userID string, occurredAt time.Time, counterKeys ...string) error {
	if userID == "" {
		return errutil.BadRequest("user_id is required")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		countersTx := s.counters.WithTrx(tx)
		for _, key := range counterKeys {
			counter, err := countersTx.FindOne(ctx, &ActivityCounter{UserID: userID, CounterKey: key})
			if err != nil {
				return err
			}

			if counter == nil {
				if err := countersTx.Create(ctx, &ActivityCounter{
					ID:         s.node.Generate().String(),
					UserID:     userID,
					CounterKey: key,
					Count:      1,
					CreatedAt:  time.Now(),
					UpdatedAt:  time.Now(),
				}); err != nil {
					return err
				}
				continue
			}

			updates := map[string]any{
				"count":      gorm.Expr("count + 1"),
				"updated_at": time.Now(),
			}
			if err := countersTx.Update(ctx, counter.ID, &updates); err != nil {
				return err
			}
		}

		return s.advanceStreak(ctx, tx, userID, occurredAt)
	})
}

func (s *Service) advanceStreak(ctx context.Context, tx *gorm.DB, userID string, occurredAt time.Time) error {
	streaksTx := s.streaks.WithTrx(tx)

	day := truncateToDay(occurredAt)

	streak, err := streaksTx.FindOne(ctx, &StreakStatus{UserID: userID})
	if err != nil {
		return err
	}

	if streak == nil {
		return streaksTx.Create(ctx, &StreakStatus{
			ID:               s.node.Generate().String(),
			UserID:           userID,
			Current:          1,
			Longest:          1,
			LastActivityDate: day,
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		})
	}

	last := truncateToDay(streak.LastActivityDate)
	switch {
	case day.Equal(last):
		// Second activity on the same day does not move the streak.
		return nil
	case day.Equal(last.AddDate(0, 0, 1)):
		streak.Current++
	default:
		streak.Current = 1
	}

	if streak.Current > streak.Longest {
		streak.Longest = streak.Current
	}

	updates := map[string]any{
		"current":            streak.Current,
		"longest":            streak.Longest,
		"last_activity_date": day,
		"updated_at":         time.Now(),
	}
	return streaksTx.Update(ctx, streak.ID, &updates)
}

// Snapshot returns the user's counters and streak state.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	counters, err := s.counters.Find(ctx, &ActivityCounter{UserID: userID})
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{Counters: make(map[string]int64, len(counters))}
	for _, counter := range counters {
		snapshot.Counters[counter.CounterKey] = counter.Count
	}

	streak, err := s.streaks.FindOne(ctx, &StreakStatus{UserID: userID})
	if err != nil {
		return nil, err
	}
	if streak != nil {
		snapshot.StreakCurrent = streak.Current
		snapshot.StreakLongest = streak.Longest
	}

	return snapshot, nil
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
