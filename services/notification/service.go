package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"laxhq-progression/pkg/config"
	"laxhq-progression/pkg/rediskey"
	"laxhq-progression/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	dispatchEnqueued = prometheus.NewCounter(prometheus.CounterOpts{Name: "notification_dispatch_enqueued_total"})
	dispatchDropped  = prometheus.NewCounter(prometheus.CounterOpts{Name: "notification_dispatch_dropped_total"})
	publishOK        = prometheus.NewCounter(prometheus.CounterOpts{Name: "notification_publish_total"})
)

// Publisher is the slice of redis used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Enqueuer is the slice of asynq used to hand events to the worker.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Service struct {
	rdb   Publisher
	asynq Enqueuer

	publishTimeout time.Duration
	maxRetry       int
}

type ServiceParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client
	Asynq  *asynq.Client
}

func NewService(p ServiceParams) *Service {
	publishTimeout := p.Config.Notification.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = 2 * time.Second
	}
	maxRetry := p.Config.Notification.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}

	return &Service{
		rdb:            p.Redis,
		asynq:          p.Asynq,
		publishTimeout: publishTimeout,
		maxRetry:       maxRetry,
	}
}

// Dispatch enqueues one dispatch task per event. Delivery is at-least-once
// with bounded retry; an enqueue failure is logged and dropped so the
// caller's progression result is never held up by fan-out.
func (s *Service) Dispatch(ctx context.Context, events ...ProgressionEvent) {
	for _, event := range events {
		payload, err := json.Marshal(DispatchPayload{Event: event})
		if err != nil {
			zap.L().Error("failed to marshal progression event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			dispatchDropped.Inc()
			continue
		}

		task := asynq.NewTask(taskname.NotificationDispatch, payload)
		if _, err := s.asynq.EnqueueContext(ctx, task,
			asynq.MaxRetry(s.maxRetry),
			asynq.Queue("default"),
		); err != nil {
			zap.L().Error("failed to enqueue dispatch task",
				zap.String("event_id", event.EventID),
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
			dispatchDropped.Inc()
			continue
		}

		dispatchEnqueued.Inc()
	}
}

// HandleDispatchTask publishes the event to the user's channel. Publish gets
// its own short timeout; errors bubble up so asynq retries within MaxRetry.
func (s *Service) HandleDispatchTask(ctx context.Context, t *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	event := payload.Event

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	channel := rediskey.BuildUserChannel(event.UserID)
	if err := s.rdb.Publish(ctx, channel, body).Err(); err != nil {
		zap.L().Warn("failed to publish progression event",
			zap.String("event_id", event.EventID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return err
	}

	publishOK.Inc()
	zap.L().Debug("progression event published",
		zap.String("event_id", event.EventID),
		zap.String("channel", channel),
		zap.String("type", event.Type),
	)

	return nil
}
