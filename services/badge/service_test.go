package badge

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laxhq-progression/services/activity"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type testEnv struct {
	badge    *Service
	ledger   *ledger.Service
	activity *activity.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Badge{}, &BadgeAward{},
		&ledger.Currency{}, &ledger.WalletEntry{}, &ledger.LedgerEvent{},
		&activity.ActivityCounter{}, &activity.StreakStatus{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	activitySvc := activity.NewService(activity.ServiceParams{DB: db, Node: node})
	badgeSvc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Ledger:   ledgerSvc,
		Activity: activitySvc,
		Cache:    NewBadgeCache(time.Minute),
	})

	ctx := context.Background()
	require.NoError(t, ledgerSvc.SeedCurrencies(ctx))
	require.NoError(t, badgeSvc.SeedBadges(ctx))

	return &testEnv{badge: badgeSvc, ledger: ledgerSvc, activity: activitySvc}
}

func awardKeys(awards []*BadgeAward) []string {
	keys := make([]string, 0, len(awards))
	for _, a := range awards {
		keys = append(keys, a.BadgeKey)
	}
	return keys
}

func TestFiveWorkoutsAwardedExactlyOnFifth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, env.activity.Record(ctx, "user-1", base.AddDate(0, 0, i), activity.CounterWorkouts))

		awards, err := env.badge.Evaluate(ctx, "user-1")
		require.NoError(t, err)
		require.NotContains(t, awardKeys(awards), "five_workouts")
	}

	require.NoError(t, env.activity.Record(ctx, "user-1", base.AddDate(0, 0, 4), activity.CounterWorkouts))

	awards, err := env.badge.Evaluate(ctx, "user-1")
	require.NoError(t, err)
	require.Contains(t, awardKeys(awards), "five_workouts")

	// Re-evaluating never awards it again.
	awards, err = env.badge.Evaluate(ctx, "user-1")
	require.NoError(t, err)
	require.NotContains(t, awardKeys(awards), "five_workouts")

	all, err := env.badge.Awards(ctx, "user-1")
	require.NoError(t, err)
	count := 0
	for _, a := range all {
		if a.BadgeKey == "five_workouts" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestAwardCreditsPointsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.activity.Record(ctx, "user-1", time.Now(), activity.CounterWorkouts))

	awards, err := env.badge.Evaluate(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"first_workout"}, awardKeys(awards))

	balance, err := env.ledger.Balance(ctx, "user-1", ledger.CurrencyLaxCredit)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	_, err = env.badge.Evaluate(ctx, "user-1")
	require.NoError(t, err)

	balance, err = env.ledger.Balance(ctx, "user-1", ledger.CurrencyLaxCredit)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)
}

func TestAwardTreatsSequenceCollisionAsAlreadyEarned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := &Badge{Key: "wall_ball_wizard", Name: "Wall Ball Wizard", MaxEarnings: 2, PointsAward: 50}

	// A concurrent evaluator counted the same rows, computed the same next
	// sequence and won the insert. This call's Count still sees one earning
	// left, so it reaches the insert and must lose on the unique index.
	require.NoError(t, env.badge.awards.Create(ctx, &BadgeAward{
		ID:        "rival-award",
		UserID:    "user-1",
		BadgeKey:  b.Key,
		Sequence:  2,
		SourceRef: "badge:wall_ball_wizard:2",
		AwardedAt: time.Now().UTC(),
		CreatedAt: time.Now(),
	}))

	award, err := env.badge.award(ctx, "user-1", b)
	require.NoError(t, err)
	require.Nil(t, award)

	count, err := env.badge.awards.Count(ctx, &BadgeAward{UserID: "user-1", BadgeKey: b.Key})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// No points were credited for the lost insert.
	balance, err := env.ledger.Balance(ctx, "user-1", ledger.CurrencyLaxCredit)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestBalancePredicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ledger.RecordEvent(ctx, ledger.RecordRequest{
		UserID: "user-1", CurrencyKey: ledger.CurrencyLaxCredit, Delta: 100, SourceRef: "grant:1",
	})
	require.NoError(t, err)

	awards, err := env.badge.Evaluate(ctx, "user-1")
	require.NoError(t, err)
	require.Contains(t, awardKeys(awards), "point_collector")
}

func TestStreakPredicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		require.NoError(t, env.activity.Record(ctx, "user-1", base.AddDate(0, 0, i), activity.CounterWorkouts))
	}

	awards, err := env.badge.Evaluate(ctx, "user-1")
	require.NoError(t, err)
	require.Contains(t, awardKeys(awards), "week_warrior")
}

func TestCatalogHidesHiddenBadges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	visible, err := env.badge.Catalog(ctx, false)
	require.NoError(t, err)
	for _, b := range visible {
		require.False(t, b.Hidden)
	}

	all, err := env.badge.Catalog(ctx, true)
	require.NoError(t, err)
	require.Greater(t, len(all), len(visible))
}
