package notification

import (
	"time"
)

const (
	EventBalanceDelta = "balance_delta"
	EventBadgeEarned  = "badge_earned"
	EventRankUp       = "rank_up"
)

// ProgressionEvent is the JSON document published to the user's channel.
type ProgressionEvent struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Type        string    `json:"type"`
	CurrencyKey string    `json:"currency_key,omitempty"`
	Delta       int64     `json:"delta,omitempty"`
	NewBalance  int64     `json:"new_balance,omitempty"`
	BadgeKey    string    `json:"badge_key,omitempty"`
	RankKey     string    `json:"rank_key,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
