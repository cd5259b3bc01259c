package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laxhq-progression/pkg/health"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/badge"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/notification"
	"laxhq-progression/services/progression"
	"laxhq-progression/services/rank"
	"laxhq-progression/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type seqMock struct {
	n atomic.Int64
}

func (m *seqMock) NextEventCode(ctx context.Context, userID string) (string, error) {
	return fmt.Sprintf("EVT-%03d", m.n.Add(1)), nil
}

type dispatcherMock struct{}

func (m *dispatcherMock) Dispatch(ctx context.Context, events ...notification.ProgressionEvent) {}

type enqueuerMock struct{}

func (m *enqueuerMock) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
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
	progressionSvc := progression.NewService(progression.ServiceParams{
		DB: db, Node: node, Seq: &seqMock{},
		Asynq:  &enqueuerMock{},
		Ledger: ledgerSvc, Activity: activitySvc, Badge: badgeSvc, Rank: rankSvc,
		Notify: &dispatcherMock{},
	})

	ctx := context.Background()
	require.NoError(t, ledgerSvc.SeedCurrencies(ctx))
	require.NoError(t, badgeSvc.SeedBadges(ctx))
	require.NoError(t, rankSvc.SeedRanks(ctx))

	return NewRouter(Params{
		Health:      health.ProvideHealth(health.HealthParams{DB: db}),
		Progression: progressionSvc,
		Ledger:      ledgerSvc,
		Activity:    activitySvc,
		Badge:       badgeSvc,
		Rank:        rankSvc,
	})
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCompleteActivitySplitsTotal(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/activities/complete", gin.H{
		"user_id":      "user-1",
		"source_ref":   "workout:1",
		"total_points": 100,
		"counters":     []string{activity.CounterWorkouts},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result progression.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, int64(30), result.NewBalances[ledger.CurrencyLaxCredit])
	require.Contains(t, result.AwardedBadges, "first_workout")
	require.True(t, result.RankChanged)
	require.Equal(t, "junior_varsity", result.RankKey)
}

func TestCompleteActivityReplayIsDuplicate(t *testing.T) {
	r := newTestRouter(t)

	body := gin.H{"user_id": "user-1", "source_ref": "workout:1", "total_points": 100}

	w := doJSON(t, r, http.MethodPost, "/v1/activities/complete", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/activities/complete", body)
	require.Equal(t, http.StatusOK, w.Code)

	var result progression.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.True(t, result.Duplicate)
}

func TestCompleteActivityValidation(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/activities/complete", gin.H{"source_ref": "workout:1"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/activities/complete", gin.H{
		"user_id": "user-1", "source_ref": "workout:1",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/activities/complete", gin.H{
		"user_id": "user-1", "source_ref": "workout:1",
		"currency_deltas": map[string]int64{"gold_star": 5},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserProgressionSnapshot(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/activities/complete", gin.H{
		"user_id":      "user-1",
		"source_ref":   "workout:1",
		"total_points": 100,
		"counters":     []string{activity.CounterWorkouts},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/users/user-1/progression", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp userProgressionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Wallets, 6)
	require.Equal(t, "junior_varsity", resp.Rank.Key)
	require.Equal(t, "Junior Varsity", resp.Rank.Title)
	require.Equal(t, int64(1), resp.Streak.Current)
	require.Equal(t, int64(1), resp.Counters[activity.CounterWorkouts])
	require.NotEmpty(t, resp.Badges)
}

func TestVerifyChainEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/activities/complete", gin.H{
		"user_id": "user-1", "source_ref": "workout:1", "total_points": 100,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/users/user-1/events/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"valid":true`)
}

func TestRanksAndBadgesCatalog(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/v1/ranks", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var ranksResp struct {
		Ranks []rankView `json:"ranks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ranksResp))
	require.Len(t, ranksResp.Ranks, 10)
	require.Equal(t, "rookie", ranksResp.Ranks[0].Key)

	w = doJSON(t, r, http.MethodGet, "/v1/badges", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var badgesResp struct {
		Badges []badgeView `json:"badges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &badgesResp))
	require.Len(t, badgesResp.Badges, 5)

	w = doJSON(t, r, http.MethodGet, "/v1/badges?include_hidden=true", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &badgesResp))
	require.Len(t, badgesResp.Badges, 6)
}
