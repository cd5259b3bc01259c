package progression

import (
	"context"
	"sort"
	"time"

	"laxhq-progression/pkg/errutil"
	"laxhq-progression/pkg/sequence"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/badge"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/notification"
	"laxhq-progression/services/rank"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher is the slice of the notification service the orchestrator needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, events ...notification.ProgressionEvent)
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	ledger   *ledger.Service
	activity *activity.Service
	badge    *badge.Service
	rank     *rank.Service

	notify Dispatcher
	asynq  Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Seq      sequence.Generator
	Asynq    Enqueuer
	Ledger   *ledger.Service
	Activity *activity.Service
	Badge    *badge.Service
	Rank     *rank.Service
	Notify   Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Seq,

		ledger:   p.Ledger,
		activity: p.Activity,
		badge:    p.Badge,
		rank:     p.Rank,

		notify: p.Notify,
		asynq:  p.Asynq,
	}
}

// OnActivityComplete runs the full pipeline for one completion: ledger
// writes, activity counters, badge evaluation, rank evaluation, fan-out.
// Ledger failures abort; evaluator failures are logged and flagged for the
// nightly sweep so the credited points are never rolled back.
func (s *Service) OnActivityComplete(ctx context.Context, completion Completion) (*Result, error) {
	if completion.UserID == "" {
		return nil, errutil.BadRequest("user_id is required")
	}
	if completion.SourceRef == "" {
		return nil, errutil.BadRequest("source_ref is required")
	}
	if len(completion.CurrencyDeltas) == 0 {
		return nil, errutil.BadRequest("currency_deltas is required")
	}

	occurredAt := completion.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	traceID := trace.SpanFromContext(ctx).SpanContext().TraceID().String()
	zapLog := zap.L().With(
		zap.String("trace_id", traceID),
		zap.String("user_id", completion.UserID),
		zap.String("source_ref", completion.SourceRef),
	)

	result := &Result{NewBalances: make(map[string]int64, len(completion.CurrencyDeltas))}

	var events []notification.ProgressionEvent

	keys := make([]string, 0, len(completion.CurrencyDeltas))
	for key := range completion.CurrencyDeltas {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var duplicate bool
	for _, key := range keys {
		delta := completion.CurrencyDeltas[key]

		newBalance, err := s.ledger.RecordEvent(ctx, ledger.RecordRequest{
			UserID:      completion.UserID,
			CurrencyKey: key,
			Delta:       delta,
			SourceRef:   completion.SourceRef,
			Description: "activity completion",
		})
		switch {
		case err == nil:
			result.NewBalances[key] = newBalance
			events = append(events, s.newEvent(ctx, notification.ProgressionEvent{
				UserID:      completion.UserID,
				Type:        notification.EventBalanceDelta,
				CurrencyKey: key,
				Delta:       delta,
				NewBalance:  newBalance,
				OccurredAt:  occurredAt,
			}))

		case errutil.HasStatus(err, errutil.StatusDuplicateEvent):
			// The loop keeps going so a crashed earlier attempt gets its
			// missing currencies back-filled before we short-circuit.
			duplicate = true

		default:
			return nil, err
		}
	}

	if duplicate {
		// Deltas the back-fill just recorded still fan out; everything else
		// was announced by the original attempt.
		if len(events) > 0 {
			s.notify.Dispatch(ctx, events...)
		}
		zapLog.Info("completion already recorded, returning recorded state")
		return s.recordedResult(ctx, completion.UserID)
	}

	if len(completion.Counters) > 0 {
		if err := s.activity.Record(ctx, completion.UserID, occurredAt, completion.Counters...); err != nil {
			zapLog.Error("failed to record activity counters", zap.Error(err))
			result.EvaluationDeferred = true
		}
	}

	awards, err := s.badge.Evaluate(ctx, completion.UserID)
	if err != nil {
		zapLog.Error("badge evaluation failed, deferring to sweep", zap.Error(err))
		result.EvaluationDeferred = true
	} else {
		for _, award := range awards {
			result.AwardedBadges = append(result.AwardedBadges, award.BadgeKey)
			events = append(events, s.newEvent(ctx, notification.ProgressionEvent{
				UserID:     completion.UserID,
				Type:       notification.EventBadgeEarned,
				BadgeKey:   award.BadgeKey,
				OccurredAt: occurredAt,
			}))
		}
	}

	transitioned, newRank, err := s.rank.Evaluate(ctx, completion.UserID)
	if err != nil {
		zapLog.Error("rank evaluation failed, deferring to sweep", zap.Error(err))
		result.EvaluationDeferred = true
	} else {
		result.RankChanged = transitioned
		if newRank != nil {
			result.RankKey = newRank.Key
		}
		if transitioned {
			events = append(events, s.newEvent(ctx, notification.ProgressionEvent{
				UserID:     completion.UserID,
				Type:       notification.EventRankUp,
				RankKey:    newRank.Key,
				OccurredAt: occurredAt,
			}))
		}
	}

	s.notify.Dispatch(ctx, events...)

	return result, nil
}

// recordedResult rebuilds the response for a completion that was already
// processed. Awarded badges are not replayed, only current state.
func (s *Service) recordedResult(ctx context.Context, userID string) (*Result, error) {
	wallets, err := s.ledger.Wallets(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Duplicate:   true,
		NewBalances: make(map[string]int64, len(wallets)),
	}
	for _, w := range wallets {
		result.NewBalances[w.CurrencyKey] = w.Balance
	}

	status, err := s.rank.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status != nil {
		result.RankKey = status.RankKey
	}

	return result, nil
}

func (s *Service) newEvent(ctx context.Context, event notification.ProgressionEvent) notification.ProgressionEvent {
	code, err := s.seq.NextEventCode(ctx, event.UserID)
	if err != nil {
		zap.L().Warn("failed to issue event code, falling back to snowflake", zap.Error(err))
		code = s.node.Generate().String()
	}
	event.EventID = code
	return event
}
