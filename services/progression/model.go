package progression

import (
	"time"

	"laxhq-progression/services/ledger"
)

// Completion describes one finished activity. SourceRef is the idempotency
// key; replaying the same completion never double-credits.
type Completion struct {
	UserID         string
	SourceRef      string
	CurrencyDeltas map[string]int64
	Counters       []string
	OccurredAt     time.Time
}

type Result struct {
	Duplicate          bool             `json:"duplicate"`
	NewBalances        map[string]int64 `json:"new_balances"`
	AwardedBadges      []string         `json:"awarded_badges,omitempty"`
	RankChanged        bool             `json:"rank_changed"`
	RankKey            string           `json:"rank_key,omitempty"`
	EvaluationDeferred bool             `json:"evaluation_deferred"`
}

var splitShares = []struct {
	key     string
	percent int64
}{
	{ledger.CurrencyLaxCredit, 30},
	{ledger.CurrencyAttackToken, 15},
	{ledger.CurrencyDefenseDollar, 15},
	{ledger.CurrencyMidfieldMedal, 15},
	{ledger.CurrencyReboundReward, 15},
	{ledger.CurrencyFlexPoint, 10},
}

// SplitPoints spreads a workout's point total across the six currencies.
// Integer division leaves a remainder, which goes to lax credits so the
// shares always sum to the total.
func SplitPoints(total int64) map[string]int64 {
	deltas := make(map[string]int64, len(splitShares))

	var allocated int64
	for _, share := range splitShares {
		amount := total * share.percent / 100
		deltas[share.key] = amount
		allocated += amount
	}
	deltas[ledger.CurrencyLaxCredit] += total - allocated

	return deltas
}
