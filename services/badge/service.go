package badge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"laxhq-progression/pkg/celengine"
	"laxhq-progression/pkg/db/option"
	"laxhq-progression/pkg/errutil"
	"laxhq-progression/pkg/repository"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	badges repository.Repository[Badge]
	awards repository.Repository[BadgeAward]

	ledger   *ledger.Service
	activity *activity.Service
	cache    *BadgeCache
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Activity *activity.Service
	Cache    *BadgeCache
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		badges: repository.ProvideStore[Badge](p.DB),
		awards: repository.ProvideStore[BadgeAward](p.DB),

		ledger:   p.Ledger,
		activity: p.Activity,
		cache:    p.Cache,
	}
}

// Evaluate runs every active badge predicate against the user's current
// snapshot and awards the ones that newly match. Returns only the awards
// created by this call.
func (s *Service) Evaluate(ctx context.Context, userID string) ([]*BadgeAward, error) {
	if userID == "" {
		return nil, errutil.BadRequest("user_id is required")
	}

	attrs, err := s.buildAttributes(ctx, userID)
	if err != nil {
		return nil, errutil.EvaluationFailed("failed to build badge snapshot", errutil.WithErr(err))
	}

	set, err := s.compiledBadges(ctx, attrs)
	if err != nil {
		return nil, errutil.EvaluationFailed("failed to compile badge predicates", errutil.WithErr(err))
	}

	awarded := make([]*BadgeAward, 0)
	for _, compiled := range set.Badges {
		matched, err := compiled.evaluate(attrs)
		if err != nil {
			zap.L().Warn("badge predicate failed",
				zap.String("badge_key", compiled.Key),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		award, err := s.award(ctx, userID, &compiled.Badge)
		if err != nil {
			return awarded, err
		}
		if award != nil {
			awarded = append(awarded, award)
		}
	}

	return awarded, nil
}

// award inserts the next award sequence for the badge. A unique-index
// collision means another evaluation got there first and is not an error.
func (s *Service) award(ctx context.Context, userID string, b *Badge) (*BadgeAward, error) {
	earned, err := s.awards.Count(ctx, &BadgeAward{UserID: userID, BadgeKey: b.Key})
	if err != nil {
		return nil, err
	}

	maxEarnings := b.MaxEarnings
	if maxEarnings <= 0 {
		maxEarnings = 1
	}
	if earned >= maxEarnings {
		return nil, nil
	}

	sequence := earned + 1
	award := &BadgeAward{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		BadgeKey:  b.Key,
		Sequence:  sequence,
		SourceRef: fmt.Sprintf("badge:%s:%d", b.Key, sequence),
		AwardedAt: time.Now().UTC(),
		CreatedAt: time.Now(),
	}

	if err := s.awards.Create(ctx, award); err != nil {
		if isUniqueViolation(err) {
			zap.L().Debug("badge award lost insert race",
				zap.String("badge_key", b.Key),
				zap.String("user_id", userID),
			)
			return nil, nil
		}
		return nil, err
	}

	zap.L().Info("badge awarded",
		zap.String("badge_key", b.Key),
		zap.String("user_id", userID),
		zap.Int64("sequence", sequence),
	)

	if b.PointsAward > 0 {
		// The award's source_ref doubles as the ledger idempotency key, so a
		// crash between the two writes is repaired by the next evaluation.
		if _, err := s.ledger.RecordEvent(ctx, ledger.RecordRequest{
			UserID:      userID,
			CurrencyKey: ledger.CurrencyLaxCredit,
			Delta:       b.PointsAward,
			SourceRef:   award.SourceRef,
			Description: fmt.Sprintf("Badge earned: %s", b.Name),
		}); err != nil && !errutil.HasStatus(err, errutil.StatusDuplicateEvent) {
			zap.L().Error("failed to credit badge points",
				zap.String("badge_key", b.Key),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}

	return award, nil
}

// Awards lists the user's earned badges, newest first.
func (s *Service) Awards(ctx context.Context, userID string) ([]*BadgeAward, error) {
	return s.awards.Find(ctx, &BadgeAward{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "awarded_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"awarded_at": true},
	}))
}

// Catalog lists active badges, hidden ones excluded unless includeHidden.
func (s *Service) Catalog(ctx context.Context, includeHidden bool) ([]*Badge, error) {
	badges, err := s.badges.Find(ctx, &Badge{Active: true}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sort",
		OrderBy: "asc",
		Allow:   map[string]bool{"sort": true},
	}))
	if err != nil {
		return nil, err
	}

	if includeHidden {
		return badges, nil
	}

	visible := make([]*Badge, 0, len(badges))
	for _, b := range badges {
		if !b.Hidden {
			visible = append(visible, b)
		}
	}
	return visible, nil
}

func (s *Service) compiledBadges(ctx context.Context, attrs map[string]interface{}) (*CompiledBadgeSet, error) {
	return s.cache.Load(func() (*CompiledBadgeSet, error) {
		badges, err := s.badges.Find(ctx, &Badge{Active: true}, option.WithSortBy(option.QuerySortBy{
			SortBy:  "sort",
			OrderBy: "asc",
			Allow:   map[string]bool{"sort": true},
		}))
		if err != nil {
			return nil, err
		}

		env, err := celengine.GetOrBuildEnv(attrs)
		if err != nil {
			return nil, err
		}

		compiled, err := compileBadges(env, badges)
		if err != nil {
			return nil, err
		}

		return &CompiledBadgeSet{Badges: compiled, UpdatedAt: time.Now()}, nil
	})
}

// buildAttributes flattens the user's progression state into the fixed
// variable schema badge expressions are written against. Only whitelisted
// counter keys are exposed so the compiled env stays stable across users.
func (s *Service) buildAttributes(ctx context.Context, userID string) (map[string]interface{}, error) {
	attrs := baseAttributes()

	wallets, err := s.ledger.Wallets(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, w := range wallets {
		if _, ok := attrs[w.CurrencyKey]; ok {
			attrs[w.CurrencyKey] = w.Balance
		}
	}

	canonical, err := s.ledger.CanonicalBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	attrs["canonical_balance"] = canonical

	snapshot, err := s.activity.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	for key, count := range snapshot.Counters {
		if _, ok := attrs[key]; ok {
			attrs[key] = count
		}
	}
	attrs["streak_current"] = snapshot.StreakCurrent
	attrs["streak_longest"] = snapshot.StreakLongest

	return attrs, nil
}

func baseAttributes() map[string]interface{} {
	attrs := map[string]interface{}{
		"canonical_balance": int64(0),
		"streak_current":    int64(0),
		"streak_longest":    int64(0),
	}
	for _, c := range ledger.DefaultCurrencies() {
		attrs[c.Key] = int64(0)
	}
	for _, key := range []string{
		activity.CounterWorkouts,
		activity.CounterWallBallWorkouts,
		activity.CounterAttackWorkouts,
		activity.CounterDefenseWorkouts,
		activity.CounterMidfieldWorkouts,
	} {
		attrs[key] = int64(0)
	}
	return attrs
}

// SeedBadges inserts the default badge set, skipping keys that exist.
// Expressions are checked against the attribute schema before insert so a
// bad seed fails here, not at evaluation time.
func (s *Service) SeedBadges(ctx context.Context) error {
	env, err := celengine.GetOrBuildEnv(baseAttributes())
	if err != nil {
		return err
	}

	for _, b := range DefaultBadges() {
		if err := celengine.ValidateExpression(env, b.Expression); err != nil {
			return errutil.EvaluationFailed("invalid badge expression", errutil.WithErr(err))
		}

		exist, err := s.badges.FindOne(ctx, &Badge{Key: b.Key})
		if err != nil {
			return err
		}
		if exist != nil {
			continue
		}

		if err := s.badges.Create(ctx, b); err != nil {
			return err
		}
	}

	s.cache.Invalidate()
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
