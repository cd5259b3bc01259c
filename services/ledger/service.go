package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"laxhq-progression/pkg/db/option"
	"laxhq-progression/pkg/db/pagination"
	"laxhq-progression/pkg/errutil"
	"laxhq-progression/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const genesisHash = "GENESIS"

// RecordRequest describes one signed balance change for a user.
type RecordRequest struct {
	UserID      string
	CurrencyKey string
	Delta       int64
	SourceRef   string
	Description string
	Metadata    map[string]string
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	currencies repository.Repository[Currency]
	wallets    repository.Repository[WalletEntry]
	events     repository.Repository[LedgerEvent]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		currencies: repository.ProvideStore[Currency](p.DB),
		wallets:    repository.ProvideStore[WalletEntry](p.DB),
		events:     repository.ProvideStore[LedgerEvent](p.DB),
	}
}

// RecordEvent appends an event and updates the materialized wallet in one
// transaction. The same (user, currency, source_ref) is recorded at most once;
// replays fail with StatusDuplicateEvent and leave state untouched.
func (s *Service) RecordEvent(ctx context.Context, req RecordRequest) (int64, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", req.UserID),
		zap.String("currency_key", req.CurrencyKey),
		zap.String("source_ref", req.SourceRef),
	}

	if req.UserID == "" || req.SourceRef == "" {
		return 0, errutil.BadRequest("user_id and source_ref are required")
	}
	if req.Delta == 0 {
		return 0, errutil.BadRequest("delta must be non-zero")
	}

	currency, err := s.currencies.FindOne(ctx, &Currency{Key: req.CurrencyKey})
	if err != nil {
		zap.L().With(opts...).Error("failed to query currency", zap.Error(err))
		return 0, errutil.Internal("failed to query currency", errutil.WithErr(err))
	}
	if currency == nil {
		return 0, errutil.UnknownCurrency(fmt.Sprintf("currency %q is not registered", req.CurrencyKey))
	}

	// Pre-check for friendlier errors; the unique index is the real guard.
	if exist, _ := s.events.FindOne(ctx, &LedgerEvent{
		UserID: req.UserID, CurrencyKey: req.CurrencyKey, SourceRef: req.SourceRef,
	}); exist != nil {
		zap.L().With(opts...).Warn("source_ref already recorded")
		return 0, errutil.DuplicateEvent("source_ref already recorded")
	}

	var newBalance int64
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		balance, err := s.processRecord(ctx, tx, currency, req)
		if err != nil {
			return err
		}

		newBalance = balance
		return nil
	}); err != nil {
		if isUniqueViolation(err) {
			zap.L().With(opts...).Warn("source_ref lost insert race")
			return 0, errutil.DuplicateEvent("source_ref already recorded")
		}
		zap.L().With(opts...).Error("failed to record event", zap.Error(err))
		return 0, err
	}

	return newBalance, nil
}

func (s *Service) processRecord(ctx context.Context, tx *gorm.DB, currency *Currency, req RecordRequest) (int64, error) {
	eventsTx := s.events.WithTrx(tx)
	walletsTx := s.wallets.WithTrx(tx)

	lastEvent, err := eventsTx.FindOne(ctx, &LedgerEvent{
		UserID: req.UserID, CurrencyKey: req.CurrencyKey,
	}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"created_at": true},
	}), option.WithLockingUpdate())
	if err != nil {
		return 0, err
	}

	wallet, err := walletsTx.FindOne(ctx, &WalletEntry{
		UserID: req.UserID, CurrencyKey: req.CurrencyKey,
	}, option.WithLockingUpdate())
	if err != nil {
		return 0, err
	}

	var previousBalance int64
	if wallet != nil {
		previousBalance = wallet.Balance
	}

	newBalance := previousBalance + req.Delta
	if newBalance < 0 && !currency.AllowNegative {
		return 0, errutil.InsufficientBalance(fmt.Sprintf(
			"balance %d is insufficient for delta %d", previousBalance, req.Delta))
	}

	previousHash := genesisHash
	if lastEvent != nil {
		previousHash = lastEvent.Hash
	}

	metaBytes, _ := json.Marshal(req.Metadata)
	event := NewLedgerEvent(EventParams{
		EventID:     s.node.Generate().String(),
		UserID:      req.UserID,
		CurrencyKey: req.CurrencyKey,
		Delta:       req.Delta,
		SourceRef:   req.SourceRef,
		Description: req.Description,
		Metadata:    datatypes.JSON(metaBytes),
		CreatedAt:   time.Now().UTC(),
	})
	event.PreviousHash = previousHash
	event.Hash = event.GenerateHash()

	if err := eventsTx.Create(ctx, event); err != nil {
		return 0, err
	}

	if wallet == nil {
		entry := &WalletEntry{
			ID:          s.node.Generate().String(),
			UserID:      req.UserID,
			CurrencyKey: req.CurrencyKey,
			Balance:     newBalance,
			Version:     1,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if req.Delta > 0 {
			entry.TotalEarned = req.Delta
		} else {
			entry.TotalSpent = -req.Delta
		}

		return newBalance, walletsTx.Create(ctx, entry)
	}

	updates := map[string]any{
		"balance":    gorm.Expr("balance + ?", req.Delta),
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	}
	if req.Delta > 0 {
		updates["total_earned"] = gorm.Expr("total_earned + ?", req.Delta)
	} else {
		updates["total_spent"] = gorm.Expr("total_spent + ?", -req.Delta)
	}

	return newBalance, walletsTx.Update(ctx, wallet.ID, &updates)
}

// Wallets returns the materialized balances for a user, one per currency held.
func (s *Service) Wallets(ctx context.Context, userID string) ([]*WalletEntry, error) {
	return s.wallets.Find(ctx, &WalletEntry{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "currency_key",
		OrderBy: "asc",
		Allow:   map[string]bool{"currency_key": true},
	}))
}

// Balance returns the materialized balance for one currency, zero if the
// user never earned it.
func (s *Service) Balance(ctx context.Context, userID, currencyKey string) (int64, error) {
	wallet, err := s.wallets.FindOne(ctx, &WalletEntry{UserID: userID, CurrencyKey: currencyKey})
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, nil
	}
	return wallet.Balance, nil
}

// CanonicalBalance converts every wallet into lax credits using the currency
// weight and returns the sum. Rank evaluation keys off this number.
func (s *Service) CanonicalBalance(ctx context.Context, userID string) (int64, error) {
	wallets, err := s.Wallets(ctx, userID)
	if err != nil {
		return 0, err
	}

	currencies, err := s.currencies.Find(ctx, &Currency{})
	if err != nil {
		return 0, err
	}

	weights := make(map[string]int64, len(currencies))
	for _, c := range currencies {
		weights[c.Key] = c.Weight
	}

	var total int64
	for _, w := range wallets {
		weight, ok := weights[w.CurrencyKey]
		if !ok {
			weight = 1
		}
		total += w.Balance * weight
	}

	return total, nil
}

// Reconcile rebuilds wallet balances from the event log and repairs any
// drift. Returns the number of corrected wallets.
func (s *Service) Reconcile(ctx context.Context, userID string) (int, error) {
	events, err := s.events.Find(ctx, &LedgerEvent{UserID: userID})
	if err != nil {
		return 0, err
	}

	sums := make(map[string]int64)
	earned := make(map[string]int64)
	spent := make(map[string]int64)
	for _, e := range events {
		sums[e.CurrencyKey] += e.Delta
		if e.Delta > 0 {
			earned[e.CurrencyKey] += e.Delta
		} else {
			spent[e.CurrencyKey] += -e.Delta
		}
	}

	wallets, err := s.Wallets(ctx, userID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(wallets))
	corrected := 0

	for _, w := range wallets {
		seen[w.CurrencyKey] = true
		want := sums[w.CurrencyKey]
		if w.Balance == want && w.TotalEarned == earned[w.CurrencyKey] && w.TotalSpent == spent[w.CurrencyKey] {
			continue
		}

		zap.L().Warn("wallet drifted from event log",
			zap.String("user_id", userID),
			zap.String("currency_key", w.CurrencyKey),
			zap.Int64("materialized", w.Balance),
			zap.Int64("replayed", want),
		)

		updates := map[string]any{
			"balance":      want,
			"total_earned": earned[w.CurrencyKey],
			"total_spent":  spent[w.CurrencyKey],
			"version":      gorm.Expr("version + 1"),
			"updated_at":   time.Now(),
		}
		if err := s.wallets.Update(ctx, w.ID, &updates); err != nil {
			return corrected, err
		}
		corrected++
	}

	for currencyKey, sum := range sums {
		if seen[currencyKey] {
			continue
		}

		if err := s.wallets.Create(ctx, &WalletEntry{
			ID:          s.node.Generate().String(),
			UserID:      userID,
			CurrencyKey: currencyKey,
			Balance:     sum,
			TotalEarned: earned[currencyKey],
			TotalSpent:  spent[currencyKey],
			Version:     1,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}); err != nil {
			return corrected, err
		}
		corrected++
	}

	return corrected, nil
}

// VerifyChain replays the hash chain of one user+currency event stream.
func (s *Service) VerifyChain(ctx context.Context, userID, currencyKey string) (bool, error) {
	events, err := s.events.Find(ctx, &LedgerEvent{
		UserID: userID, CurrencyKey: currencyKey,
	}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow:   map[string]bool{"created_at": true},
	}))
	if err != nil {
		return false, err
	}

	lastHash := genesisHash
	for _, event := range events {
		if event.Hash != event.GenerateHash() || event.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = event.Hash
	}

	return true, nil
}

// Events returns the raw event log for a user, oldest first.
func (s *Service) Events(ctx context.Context, userID string) ([]*LedgerEvent, error) {
	return s.events.Find(ctx, &LedgerEvent{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

// EventsPage returns one page of the event log, oldest first, with a cursor
// over (created_at, id).
func (s *Service) EventsPage(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) ([]*LedgerEvent, *pagination.PageInfo, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Limit(limit + 1)

	if cursor != nil && cursor.CreatedAt != "" {
		after, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor")
		}
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", after, after, cursor.ID)
	}

	var events []*LedgerEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(events, int32(limit), func(e *LedgerEvent) string {
		next, err := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
			ID:        e.ID,
		})
		if err != nil {
			return ""
		}
		return next
	})

	if len(events) > limit {
		events = events[:limit]
	}

	return events, pageInfo, nil
}
