package progression

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"laxhq-progression/pkg/errutil"
	"laxhq-progression/pkg/taskname"
	"laxhq-progression/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type SweepPayload struct {
	UserIDs []string `json:"user_ids,omitempty"`
}

// EnqueueSweep schedules one sweep run. An empty payload means every user
// with a wallet.
func (s *Service) EnqueueSweep(ctx context.Context, userIDs ...string) error {
	payload, err := json.Marshal(SweepPayload{UserIDs: userIDs})
	if err != nil {
		return err
	}

	_, err = s.asynq.EnqueueContext(ctx,
		asynq.NewTask(taskname.ProgressionSweep, payload),
		asynq.Queue("low"),
		asynq.MaxRetry(3),
	)
	return err
}

// HandleSweepTask re-runs reconciliation and evaluation for the targeted
// users. Per-user failures are logged and skipped so one bad user never
// stalls the whole sweep.
func (s *Service) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	userIDs := payload.UserIDs
	if len(userIDs) == 0 {
		var err error
		userIDs, err = s.activeUserIDs(ctx)
		if err != nil {
			return err
		}
	}

	start := time.Now()
	var failed, retryable int
	for _, userID := range userIDs {
		if err := s.Sweep(ctx, userID); err != nil {
			zap.L().Error("sweep failed for user",
				zap.String("user_id", userID),
				zap.String("status", string(errutil.StatusOf(err))),
				zap.Error(err),
			)
			failed++
			if errutil.StatusOf(err).Retryable() {
				retryable++
			}
		}
	}

	zap.L().Info("progression sweep finished",
		zap.Int("users", len(userIDs)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)

	// Transient failures get another pass via asynq's MaxRetry.
	if retryable > 0 {
		return fmt.Errorf("%d of %d users failed with retryable errors", retryable, len(userIDs))
	}

	return nil
}

// Sweep repairs one user: wallet drift first, then badge and rank
// evaluation, picking up anything a deferred pipeline left behind.
func (s *Service) Sweep(ctx context.Context, userID string) error {
	corrected, err := s.ledger.Reconcile(ctx, userID)
	if err != nil {
		return err
	}
	if corrected > 0 {
		zap.L().Warn("reconcile corrected wallet drift",
			zap.String("user_id", userID),
			zap.Int("corrected", corrected),
		)
	}

	if _, err := s.badge.Evaluate(ctx, userID); err != nil {
		return err
	}

	_, _, err = s.rank.Evaluate(ctx, userID)
	return err
}

func (s *Service) activeUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&ledger.WalletEntry{}).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}
