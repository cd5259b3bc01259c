package httpapi

import (
	"net/http"
	"time"

	"laxhq-progression/pkg/db/pagination"
	"laxhq-progression/pkg/errutil"
	"laxhq-progression/pkg/middleware"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/badge"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/progression"
	"laxhq-progression/services/rank"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	progression *progression.Service
	ledger      *ledger.Service
	activity    *activity.Service
	badge       *badge.Service
	rank        *rank.Service
}

type completeActivityRequest struct {
	UserID         string           `json:"user_id" binding:"required"`
	SourceRef      string           `json:"source_ref" binding:"required"`
	TotalPoints    int64            `json:"total_points"`
	CurrencyDeltas map[string]int64 `json:"currency_deltas"`
	Counters       []string         `json:"counters"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// CompleteActivity triggers the progression pipeline. Callers either supply
// explicit per-currency deltas or a total that gets split across the six
// currencies.
func (h *Handler) CompleteActivity(c *gin.Context) {
	var req completeActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest(err.Error()))
		return
	}

	deltas := req.CurrencyDeltas
	if len(deltas) == 0 {
		if req.TotalPoints <= 0 {
			_ = c.Error(errutil.BadRequest("total_points or currency_deltas is required"))
			return
		}
		deltas = progression.SplitPoints(req.TotalPoints)
	}

	result, err := h.progression.OnActivityComplete(c.Request.Context(), progression.Completion{
		UserID:         req.UserID,
		SourceRef:      req.SourceRef,
		CurrencyDeltas: deltas,
		Counters:       req.Counters,
		OccurredAt:     req.OccurredAt,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type walletView struct {
	CurrencyKey string `json:"currency_key"`
	Balance     int64  `json:"balance"`
	TotalEarned int64  `json:"total_earned"`
	TotalSpent  int64  `json:"total_spent"`
}

type rankView struct {
	Key            string     `json:"key"`
	Title          string     `json:"title"`
	Threshold      int64      `json:"threshold"`
	TransitionedAt *time.Time `json:"transitioned_at,omitempty"`
}

type awardView struct {
	BadgeKey  string    `json:"badge_key"`
	Sequence  int64     `json:"sequence"`
	AwardedAt time.Time `json:"awarded_at"`
}

type streakView struct {
	Current int64 `json:"current"`
	Longest int64 `json:"longest"`
}

type userProgressionResponse struct {
	UserID           string           `json:"user_id"`
	Wallets          []walletView     `json:"wallets"`
	CanonicalBalance int64            `json:"canonical_balance"`
	Rank             *rankView        `json:"rank,omitempty"`
	Badges           []awardView      `json:"badges"`
	Streak           streakView       `json:"streak"`
	Counters         map[string]int64 `json:"counters"`
}

func (h *Handler) UserProgression(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	wallets, err := h.ledger.Wallets(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	canonical, err := h.ledger.CanonicalBalance(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status, err := h.rank.Current(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	awards, err := h.badge.Awards(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	snapshot, err := h.activity.Snapshot(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := userProgressionResponse{
		UserID:           userID,
		Wallets:          make([]walletView, 0, len(wallets)),
		CanonicalBalance: canonical,
		Badges:           make([]awardView, 0, len(awards)),
		Streak:           streakView{Current: snapshot.StreakCurrent, Longest: snapshot.StreakLongest},
		Counters:         snapshot.Counters,
	}

	for _, w := range wallets {
		resp.Wallets = append(resp.Wallets, walletView{
			CurrencyKey: w.CurrencyKey,
			Balance:     w.Balance,
			TotalEarned: w.TotalEarned,
			TotalSpent:  w.TotalSpent,
		})
	}

	for _, a := range awards {
		resp.Badges = append(resp.Badges, awardView{
			BadgeKey:  a.BadgeKey,
			Sequence:  a.Sequence,
			AwardedAt: a.AwardedAt,
		})
	}

	if status != nil {
		view := &rankView{Key: status.RankKey}
		transitionedAt := status.TransitionedAt
		view.TransitionedAt = &transitionedAt

		ladder, lerr := h.rank.Ladder(ctx)
		if lerr != nil {
			_ = c.Error(lerr)
			return
		}
		for _, r := range ladder {
			if r.Key == status.RankKey {
				view.Title = r.Title
				view.Threshold = r.Threshold
				break
			}
		}
		resp.Rank = view
	}

	c.JSON(http.StatusOK, resp)
}

type eventView struct {
	ID           string    `json:"id"`
	CurrencyKey  string    `json:"currency_key"`
	Delta        int64     `json:"delta"`
	SourceRef    string    `json:"source_ref"`
	Description  string    `json:"description,omitempty"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *Handler) UserEvents(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest(err.Error()))
		return
	}

	var cursor *pagination.Cursor
	if page.Cursor != "" {
		decoded, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			_ = c.Error(errutil.BadRequest("invalid cursor"))
			return
		}
		cursor = decoded
	}

	events, pageInfo, err := h.ledger.EventsPage(c.Request.Context(), c.Param("id"), cursor, page.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID:           e.ID,
			CurrencyKey:  e.CurrencyKey,
			Delta:        e.Delta,
			SourceRef:    e.SourceRef,
			Description:  e.Description,
			PreviousHash: e.PreviousHash,
			Hash:         e.Hash,
			CreatedAt:    e.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"events": views, "page_info": pageInfo})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	currencyKey := c.DefaultQuery("currency_key", ledger.CurrencyLaxCredit)

	valid, err := h.ledger.VerifyChain(c.Request.Context(), c.Param("id"), currencyKey)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"currency_key": currencyKey, "valid": valid})
}

func (h *Handler) Ranks(c *gin.Context) {
	ladder, err := h.rank.Ladder(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	views := make([]rankView, 0, len(ladder))
	for _, r := range ladder {
		views = append(views, rankView{Key: r.Key, Title: r.Title, Threshold: r.Threshold})
	}

	c.JSON(http.StatusOK, gin.H{"ranks": views})
}

func (h *Handler) RankDistribution(c *gin.Context) {
	dist, err := h.rank.Distribution(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"distribution": dist})
}

type badgeView struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	MaxEarnings int64  `json:"max_earnings"`
	PointsAward int64  `json:"points_award"`
}

// Badges lists the active catalog. Hidden badges stay hidden for end-user
// channels; only server-to-server callers may request them.
func (h *Handler) Badges(c *gin.Context) {
	includeHidden := c.Query("include_hidden") == "true" &&
		middleware.GetChannel(c.Request.Context()) == "api"

	badges, err := h.badge.Catalog(c.Request.Context(), includeHidden)
	if err != nil {
		_ = c.Error(err)
		return
	}

	views := make([]badgeView, 0, len(badges))
	for _, b := range badges {
		views = append(views, badgeView{
			Key:         b.Key,
			Name:        b.Name,
			Category:    b.Category,
			Description: b.Description,
			MaxEarnings: b.MaxEarnings,
			PointsAward: b.PointsAward,
		})
	}

	c.JSON(http.StatusOK, gin.H{"badges": views})
}
