package activity

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laxhq-progression/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &ActivityCounter{}, &StreakStatus{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func day(offset int) time.Time {
	base := time.Date(2026, time.March, 10, 15, 4, 5, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestRecordIncrementsCounters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "user-1", day(0), CounterWorkouts, CounterWallBallWorkouts))
	require.NoError(t, svc.Record(ctx, "user-1", day(0), CounterWorkouts))

	snapshot, err := svc.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), snapshot.Counters[CounterWorkouts])
	require.Equal(t, int64(1), snapshot.Counters[CounterWallBallWorkouts])
}

func TestStreakAdvancesOnConsecutiveDays(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "user-1", day(0), CounterWorkouts))
	require.NoError(t, svc.Record(ctx, "user-1", day(1), CounterWorkouts))
	require.NoError(t, svc.Record(ctx, "user-1", day(2), CounterWorkouts))

	snapshot, err := svc.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), snapshot.StreakCurrent)
	require.Equal(t, int64(3), snapshot.StreakLongest)
}

func TestStreakSameDayDoesNotAdvance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "user-1", day(0), CounterWorkouts))
	require.NoError(t, svc.Record(ctx, "user-1", day(0).Add(2*time.Hour), CounterWorkouts))

	snapshot, err := svc.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), snapshot.StreakCurrent)
}

func TestStreakResetsAfterGapKeepsLongest(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "user-1", day(0), CounterWorkouts))
	require.NoError(t, svc.Record(ctx, "user-1", day(1), CounterWorkouts))
	require.NoError(t, svc.Record(ctx, "user-1", day(5), CounterWorkouts))

	snapshot, err := svc.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), snapshot.StreakCurrent)
	require.Equal(t, int64(2), snapshot.StreakLongest)
}

func TestSnapshotEmptyUser(t *testing.T) {
	svc := newTestService(t)

	snapshot, err := svc.Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, snapshot.Counters)
	require.Equal(t, int64(0), snapshot.StreakCurrent)
}
