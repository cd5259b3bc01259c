package rank

import (
	"context"
	"sort"
	"time"

	"laxhq-progression/pkg/errutil"
	"laxhq-progression/pkg/repository"
	"laxhq-progression/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ranks    repository.Repository[Rank]
	statuses repository.Repository[RankStatus]

	ledger *ledger.Service
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		ranks:    repository.ProvideStore[Rank](p.DB),
		statuses: repository.ProvideStore[RankStatus](p.DB),

		ledger: p.Ledger,
	}
}

// Evaluate recomputes the user's rank from the canonical balance. Rank is
// monotonic: a balance that falls below the current threshold is logged and
// ignored. Returns whether a transition happened and the rank now held.
func (s *Service) Evaluate(ctx context.Context, userID string) (bool, *Rank, error) {
	if userID == "" {
		return false, nil, errutil.BadRequest("user_id is required")
	}

	balance, err := s.ledger.CanonicalBalance(ctx, userID)
	if err != nil {
		return false, nil, err
	}

	ladder, err := s.Ladder(ctx)
	if err != nil {
		return false, nil, err
	}
	if len(ladder) == 0 {
		return false, nil, errutil.Internal("rank ladder is empty")
	}

	eligible := eligibleRank(ladder, balance)

	status, err := s.statuses.FindOne(ctx, &RankStatus{UserID: userID})
	if err != nil {
		return false, nil, err
	}

	if status == nil {
		if err := s.statuses.Create(ctx, &RankStatus{
			ID:             s.node.Generate().String(),
			UserID:         userID,
			RankKey:        eligible.Key,
			OrderIndex:     eligible.OrderIndex,
			TransitionedAt: time.Now().UTC(),
			Version:        1,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}); err != nil {
			return false, nil, err
		}

		// Landing on the bottom rung is the baseline, not a promotion.
		transitioned := eligible.OrderIndex > ladder[0].OrderIndex
		return transitioned, eligible, nil
	}

	if eligible.OrderIndex == status.OrderIndex {
		return false, eligible, nil
	}

	if eligible.OrderIndex < status.OrderIndex {
		zap.L().Warn("balance fell below current rank threshold, keeping rank",
			zap.String("user_id", userID),
			zap.String("current_rank", status.RankKey),
			zap.String("would_be_rank", eligible.Key),
			zap.Int64("canonical_balance", balance),
		)
		current := rankByKey(ladder, status.RankKey)
		return false, current, nil
	}

	res := s.db.WithContext(ctx).Model(&RankStatus{}).
		Where("id = ? AND version = ?", status.ID, status.Version).
		Updates(map[string]any{
			"rank_key":        eligible.Key,
			"order_index":     eligible.OrderIndex,
			"transitioned_at": time.Now().UTC(),
			"version":         status.Version + 1,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, errutil.VersionConflict("rank status changed concurrently")
	}

	zap.L().Info("rank transition",
		zap.String("user_id", userID),
		zap.String("from", status.RankKey),
		zap.String("to", eligible.Key),
		zap.Int64("canonical_balance", balance),
	)

	return true, eligible, nil
}

// Current returns the user's rank status, nil if never evaluated.
func (s *Service) Current(ctx context.Context, userID string) (*RankStatus, error) {
	return s.statuses.FindOne(ctx, &RankStatus{UserID: userID})
}

// Ladder returns every rank ordered bottom to top.
func (s *Service) Ladder(ctx context.Context) ([]*Rank, error) {
	ladder, err := s.ranks.Find(ctx, &Rank{})
	if err != nil {
		return nil, err
	}

	sort.Slice(ladder, func(i, j int) bool {
		if ladder[i].Threshold != ladder[j].Threshold {
			return ladder[i].Threshold < ladder[j].Threshold
		}
		return ladder[i].OrderIndex < ladder[j].OrderIndex
	})

	return ladder, nil
}

// Distribution counts users per rank.
func (s *Service) Distribution(ctx context.Context) (map[string]int64, error) {
	type row struct {
		RankKey string
		Total   int64
	}

	var rows []row
	if err := s.db.WithContext(ctx).Model(&RankStatus{}).
		Select("rank_key, count(*) as total").
		Group("rank_key").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	dist := make(map[string]int64, len(rows))
	for _, r := range rows {
		dist[r.RankKey] = r.Total
	}
	return dist, nil
}

// SeedRanks inserts the default ladder, skipping keys that exist.
func (s *Service) SeedRanks(ctx context.Context) error {
	for _, r := range DefaultRanks() {
		exist, err := s.ranks.FindOne(ctx, &Rank{Key: r.Key})
		if err != nil {
			return err
		}
		if exist != nil {
			continue
		}

		if err := s.ranks.Create(ctx, r); err != nil {
			return err
		}
	}

	return nil
}

// eligibleRank picks the highest threshold not above balance. Equal
// thresholds resolve to the higher order index.
func eligibleRank(ladder []*Rank, balance int64) *Rank {
	eligible := ladder[0]
	for _, r := range ladder {
		if r.Threshold <= balance {
			eligible = r
		}
	}
	return eligible
}

func rankByKey(ladder []*Rank, key string) *Rank {
	for _, r := range ladder {
		if r.Key == key {
			return r
		}
	}
	return nil
}
