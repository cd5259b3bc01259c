package progression

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"laxhq-progression/pkg/errutil"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/badge"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/notification"
	"laxhq-progression/services/rank"
	"laxhq-progression/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type seqMock struct {
	n atomic.Int64
}

func (m *seqMock) NextEventCode(ctx context.Context, userID string) (string, error) {
	return fmt.Sprintf("EVT-%03d", m.n.Add(1)), nil
}

type dispatcherMock struct {
	events []notification.ProgressionEvent
}

func (m *dispatcherMock) Dispatch(ctx context.Context, events ...notification.ProgressionEvent) {
	m.events = append(m.events, events...)
}

type enqueuerMock struct {
	tasks []*asynq.Task
}

func (m *enqueuerMock) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type testEnv struct {
	svc      *Service
	ledger   *ledger.Service
	rank     *rank.Service
	dispatch *dispatcherMock
	enqueue  *enqueuerMock
	db       *gorm.DB
}

func newTestEnv(t *testing.T, seedRanks bool) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&ledger.Currency{}, &ledger.WalletEntry{}, &ledger.LedgerEvent{},
		&activity.ActivityCounter{}, &activity.StreakStatus{},
		&badge.Badge{}, &badge.BadgeAward{},
		&rank.Rank{}, &rank.RankStatus{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	activitySvc := activity.NewService(activity.ServiceParams{DB: db, Node: node})
	badgeSvc := badge.NewService(badge.ServiceParams{
		DB: db, Node: node, Ledger: ledgerSvc, Activity: activitySvc,
		Cache: badge.NewBadgeCache(30 * time.Second),
	})
	rankSvc := rank.NewService(rank.ServiceParams{DB: db, Node: node, Ledger: ledgerSvc})

	dispatch := &dispatcherMock{}
	enqueue := &enqueuerMock{}

	svc := &Service{
		db:       db,
		node:     node,
		seq:      &seqMock{},
		ledger:   ledgerSvc,
		activity: activitySvc,
		badge:    badgeSvc,
		rank:     rankSvc,
		notify:   dispatch,
		asynq:    enqueue,
	}

	ctx := context.Background()
	require.NoError(t, ledgerSvc.SeedCurrencies(ctx))
	require.NoError(t, badgeSvc.SeedBadges(ctx))
	if seedRanks {
		require.NoError(t, rankSvc.SeedRanks(ctx))
	}

	return &testEnv{svc: svc, ledger: ledgerSvc, rank: rankSvc, dispatch: dispatch, enqueue: enqueue, db: db}
}

func TestSplitPointsSumsToTotal(t *testing.T) {
	deltas := SplitPoints(100)
	require.Equal(t, int64(30), deltas[ledger.CurrencyLaxCredit])
	require.Equal(t, int64(15), deltas[ledger.CurrencyAttackToken])
	require.Equal(t, int64(10), deltas[ledger.CurrencyFlexPoint])

	// Remainder from integer division lands on lax_credit.
	deltas = SplitPoints(103)
	var sum int64
	for _, d := range deltas {
		sum += d
	}
	require.Equal(t, int64(103), sum)
	require.Equal(t, int64(33), deltas[ledger.CurrencyLaxCredit])
}

func TestOnActivityCompleteFullPipeline(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	result, err := env.svc.OnActivityComplete(ctx, Completion{
		UserID:         "user-1",
		SourceRef:      "workout:1",
		CurrencyDeltas: SplitPoints(100),
		Counters:       []string{activity.CounterWorkouts},
	})
	require.NoError(t, err)

	require.False(t, result.Duplicate)
	require.False(t, result.EvaluationDeferred)
	require.Equal(t, int64(30), result.NewBalances[ledger.CurrencyLaxCredit])
	require.Contains(t, result.AwardedBadges, "first_workout")
	require.True(t, result.RankChanged)
	require.Equal(t, "junior_varsity", result.RankKey)

	var types []string
	for _, e := range env.dispatch.events {
		require.NotEmpty(t, e.EventID)
		require.Equal(t, "user-1", e.UserID)
		types = append(types, e.Type)
	}
	require.Contains(t, types, notification.EventBalanceDelta)
	require.Contains(t, types, notification.EventBadgeEarned)
	require.Contains(t, types, notification.EventRankUp)
}

func TestOnActivityCompleteDuplicateShortCircuits(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	completion := Completion{
		UserID:         "user-1",
		SourceRef:      "workout:1",
		CurrencyDeltas: SplitPoints(100),
		Counters:       []string{activity.CounterWorkouts},
	}

	first, err := env.svc.OnActivityComplete(ctx, completion)
	require.NoError(t, err)

	dispatched := len(env.dispatch.events)

	second, err := env.svc.OnActivityComplete(ctx, completion)
	require.NoError(t, err)

	require.True(t, second.Duplicate)
	require.Equal(t, first.RankKey, second.RankKey)
	require.Empty(t, second.AwardedBadges)
	require.Len(t, env.dispatch.events, dispatched)

	// Replay credited nothing. Balance includes the first_workout award.
	balance, err := env.ledger.Balance(ctx, "user-1", ledger.CurrencyLaxCredit)
	require.NoError(t, err)
	require.Equal(t, int64(40), balance)
	require.Equal(t, balance, second.NewBalances[ledger.CurrencyLaxCredit])
}

func TestDuplicateBackfillDispatchesMissedDeltas(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	// A crashed earlier attempt recorded only the first currency.
	_, err := env.ledger.RecordEvent(ctx, ledger.RecordRequest{
		UserID:      "user-1",
		CurrencyKey: ledger.CurrencyAttackToken,
		Delta:       15,
		SourceRef:   "workout:1",
	})
	require.NoError(t, err)

	result, err := env.svc.OnActivityComplete(ctx, Completion{
		UserID:    "user-1",
		SourceRef: "workout:1",
		CurrencyDeltas: map[string]int64{
			ledger.CurrencyAttackToken: 15,
			ledger.CurrencyLaxCredit:   30,
		},
	})
	require.NoError(t, err)
	require.True(t, result.Duplicate)

	// The missing currency was back-filled and its delta fanned out.
	balance, err := env.ledger.Balance(ctx, "user-1", ledger.CurrencyLaxCredit)
	require.NoError(t, err)
	require.Equal(t, int64(30), balance)
	require.Equal(t, int64(30), result.NewBalances[ledger.CurrencyLaxCredit])

	require.Len(t, env.dispatch.events, 1)
	require.Equal(t, notification.EventBalanceDelta, env.dispatch.events[0].Type)
	require.Equal(t, ledger.CurrencyLaxCredit, env.dispatch.events[0].CurrencyKey)
}

func TestOnActivityCompleteUnknownCurrencyAborts(t *testing.T) {
	env := newTestEnv(t, true)

	_, err := env.svc.OnActivityComplete(context.Background(), Completion{
		UserID:         "user-1",
		SourceRef:      "workout:1",
		CurrencyDeltas: map[string]int64{"gold_star": 5},
	})
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusUnknownCurrency))
}

func TestEvaluatorFailureDefersNotRollsBack(t *testing.T) {
	// No ranks seeded, so rank evaluation fails while the ledger commit holds.
	env := newTestEnv(t, false)
	ctx := context.Background()

	result, err := env.svc.OnActivityComplete(ctx, Completion{
		UserID:         "user-1",
		SourceRef:      "workout:1",
		CurrencyDeltas: SplitPoints(100),
		Counters:       []string{activity.CounterWorkouts},
	})
	require.NoError(t, err)
	require.True(t, result.EvaluationDeferred)

	balance, err := env.ledger.Balance(ctx, "user-1", ledger.CurrencyLaxCredit)
	require.NoError(t, err)
	require.Greater(t, balance, int64(0))
}

func TestSweepRepairsDeferredEvaluation(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	result, err := env.svc.OnActivityComplete(ctx, Completion{
		UserID:         "user-1",
		SourceRef:      "workout:1",
		CurrencyDeltas: SplitPoints(100),
		Counters:       []string{activity.CounterWorkouts},
	})
	require.NoError(t, err)
	require.True(t, result.EvaluationDeferred)

	require.NoError(t, env.rank.SeedRanks(ctx))
	require.NoError(t, env.svc.Sweep(ctx, "user-1"))

	status, err := env.rank.Current(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, "junior_varsity", status.RankKey)
}

func TestHandleSweepTaskCoversAllWalletUsers(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := env.svc.OnActivityComplete(ctx, Completion{
			UserID:         fmt.Sprintf("user-%d", i),
			SourceRef:      "workout:1",
			CurrencyDeltas: SplitPoints(50),
		})
		require.NoError(t, err)
	}

	err := env.svc.HandleSweepTask(ctx, asynq.NewTask("progression:evaluation:sweep", nil))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		status, serr := env.rank.Current(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, serr)
		require.NotNil(t, status)
	}
}

func TestEnqueueSweepUsesLowQueue(t *testing.T) {
	env := newTestEnv(t, true)

	require.NoError(t, env.svc.EnqueueSweep(context.Background(), "user-1"))
	require.Len(t, env.enqueue.tasks, 1)
	require.Equal(t, "progression:evaluation:sweep", env.enqueue.tasks[0].Type())
}
