package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laxhq-progression/pkg/taskname"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	tasks []*asynq.Task
	err   error
}

func (m *enqueuerMock) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type publishCall struct {
	channel string
	message interface{}
}

type publisherMock struct {
	calls []publishCall
	err   error
}

func (m *publisherMock) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	m.calls = append(m.calls, publishCall{channel: channel, message: message})
	cmd.SetVal(1)
	return cmd
}

func newTestService(rdb Publisher, enq Enqueuer) *Service {
	return &Service{
		rdb:            rdb,
		asynq:          enq,
		publishTimeout: time.Second,
		maxRetry:       3,
	}
}

func TestDispatchEnqueuesPerEvent(t *testing.T) {
	enq := &enqueuerMock{}
	svc := newTestService(&publisherMock{}, enq)

	svc.Dispatch(context.Background(),
		ProgressionEvent{EventID: "EVT-1", UserID: "user-1", Type: EventBalanceDelta, CurrencyKey: "lax_credit", Delta: 30},
		ProgressionEvent{EventID: "EVT-2", UserID: "user-1", Type: EventBadgeEarned, BadgeKey: "first_workout"},
	)

	require.Len(t, enq.tasks, 2)
	require.Equal(t, taskname.NotificationDispatch, enq.tasks[0].Type())

	var payload DispatchPayload
	require.NoError(t, json.Unmarshal(enq.tasks[1].Payload(), &payload))
	require.Equal(t, "EVT-2", payload.Event.EventID)
	require.Equal(t, "first_workout", payload.Event.BadgeKey)
}

func TestDispatchToleratesEnqueueFailure(t *testing.T) {
	enq := &enqueuerMock{err: errors.New("broker down")}
	svc := newTestService(&publisherMock{}, enq)

	// Must not panic or surface the error to the caller.
	svc.Dispatch(context.Background(),
		ProgressionEvent{EventID: "EVT-1", UserID: "user-1", Type: EventRankUp, RankKey: "varsity"},
	)
	require.Empty(t, enq.tasks)
}

func TestHandleDispatchTaskPublishesToUserChannel(t *testing.T) {
	rdb := &publisherMock{}
	svc := newTestService(rdb, &enqueuerMock{})

	event := ProgressionEvent{
		EventID:    "EVT-1",
		UserID:     "user-1",
		Type:       EventRankUp,
		RankKey:    "varsity",
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(DispatchPayload{Event: event})
	require.NoError(t, err)

	err = svc.HandleDispatchTask(context.Background(), asynq.NewTask(taskname.NotificationDispatch, payload))
	require.NoError(t, err)

	require.Len(t, rdb.calls, 1)
	require.Equal(t, "progression:user:user-1", rdb.calls[0].channel)

	var published ProgressionEvent
	require.NoError(t, json.Unmarshal(rdb.calls[0].message.([]byte), &published))
	require.Equal(t, "varsity", published.RankKey)
	require.Equal(t, EventRankUp, published.Type)
}

func TestHandleDispatchTaskPublishFailureRetryable(t *testing.T) {
	rdb := &publisherMock{err: errors.New("connection reset")}
	svc := newTestService(rdb, &enqueuerMock{})

	payload, err := json.Marshal(DispatchPayload{Event: ProgressionEvent{EventID: "EVT-1", UserID: "user-1"}})
	require.NoError(t, err)

	err = svc.HandleDispatchTask(context.Background(), asynq.NewTask(taskname.NotificationDispatch, payload))
	require.Error(t, err)
}

func TestHandleDispatchTaskBadPayload(t *testing.T) {
	svc := newTestService(&publisherMock{}, &enqueuerMock{})

	err := svc.HandleDispatchTask(context.Background(), asynq.NewTask(taskname.NotificationDispatch, []byte("{not json")))
	require.Error(t, err)
}
