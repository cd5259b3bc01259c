package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Currency is reference data. Weight converts a unit of the currency into
// lax credits when computing the canonical balance.
type Currency struct {
	Key           string    `gorm:"column:key;primaryKey"`
	Name          string    `gorm:"column:name"`
	Weight        int64     `gorm:"column:weight;default:1"`
	Canonical     bool      `gorm:"column:canonical"`
	AllowNegative bool      `gorm:"column:allow_negative"`
	Sort          int       `gorm:"column:sort"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (Currency) TableName() string { return "currencies" }

// DefaultCurrencies returns the seeded six-currency set. lax_credit is the
// canonical currency every other currency converts into.
func DefaultCurrencies() []*Currency {
	return []*Currency{
		{Key: CurrencyLaxCredit, Name: "Lax Credit", Weight: 1, Canonical: true, Sort: 1},
		{Key: CurrencyAttackToken, Name: "Attack Token", Weight: 1, Sort: 2},
		{Key: CurrencyDefenseDollar, Name: "Defense Dollar", Weight: 1, Sort: 3},
		{Key: CurrencyMidfieldMedal, Name: "Midfield Medal", Weight: 1, Sort: 4},
		{Key: CurrencyReboundReward, Name: "Rebound Reward", Weight: 1, Sort: 5},
		{Key: CurrencyFlexPoint, Name: "Flex Point", Weight: 1, Sort: 6},
	}
}

const (
	CurrencyLaxCredit     = "lax_credit"
	CurrencyAttackToken   = "attack_token"
	CurrencyDefenseDollar = "defense_dollar"
	CurrencyMidfieldMedal = "midfield_medal"
	CurrencyReboundReward = "rebound_reward"
	CurrencyFlexPoint     = "flex_point"
)

// WalletEntry is the materialized per-user, per-currency balance. The event
// log is the source of truth; Reconcile can rebuild this row at any time.
type WalletEntry struct {
	ID          string    `gorm:"column:id;primaryKey"`
	UserID      string    `gorm:"column:user_id;uniqueIndex:idx_wallet_user_currency"`
	CurrencyKey string    `gorm:"column:currency_key;uniqueIndex:idx_wallet_user_currency"`
	Balance     int64     `gorm:"column:balance"`
	TotalEarned int64     `gorm:"column:total_earned"`
	TotalSpent  int64     `gorm:"column:total_spent"`
	Version     int64     `gorm:"column:version"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }

// LedgerEvent is an immutable fact. Corrections are new compensating events,
// never edits. The unique index makes source_ref the idempotency key.
type LedgerEvent struct {
	ID           string         `gorm:"column:id;primaryKey"`
	UserID       string         `gorm:"column:user_id;uniqueIndex:idx_event_user_currency_ref;index"`
	CurrencyKey  string         `gorm:"column:currency_key;uniqueIndex:idx_event_user_currency_ref"`
	SourceRef    string         `gorm:"column:source_ref;uniqueIndex:idx_event_user_currency_ref"`
	Delta        int64          `gorm:"column:delta"`
	Description  string         `gorm:"column:description"`
	PreviousHash string         `gorm:"column:previous_hash"`
	Hash         string         `gorm:"column:hash"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at;index"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

type EventParams struct {
	EventID     string
	UserID      string
	CurrencyKey string
	Delta       int64
	SourceRef   string
	Description string
	Metadata    datatypes.JSON
	CreatedAt   time.Time
}

func NewLedgerEvent(p EventParams) *LedgerEvent {
	return &LedgerEvent{
		ID:          p.EventID,
		UserID:      p.UserID,
		CurrencyKey: p.CurrencyKey,
		Delta:       p.Delta,
		SourceRef:   p.SourceRef,
		Description: p.Description,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
	}
}

func (e *LedgerEvent) HashFields() map[string]string {
	return map[string]string{
		"id":            e.ID,
		"user_id":       e.UserID,
		"currency_key":  e.CurrencyKey,
		"delta":         fmt.Sprintf("%d", e.Delta),
		"source_ref":    e.SourceRef,
		"description":   e.Description,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": e.PreviousHash,
	}
}

func (e *LedgerEvent) GenerateHash() string {
	fields := e.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
