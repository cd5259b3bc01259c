package httpapi

import (
	"laxhq-progression/pkg/health"
	"laxhq-progression/pkg/middleware"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/badge"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/progression"
	"laxhq-progression/services/rank"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

type Params struct {
	fx.In
	Health      health.HealthService
	Progression *progression.Service
	Ledger      *ledger.Service
	Activity    *activity.Service
	Badge       *badge.Service
	Rank        *rank.Service
}

func NewRouter(p Params) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Channel(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &Handler{
		progression: p.Progression,
		ledger:      p.Ledger,
		activity:    p.Activity,
		badge:       p.Badge,
		rank:        p.Rank,
	}

	v1 := r.Group("/v1")
	v1.POST("/activities/complete", h.CompleteActivity)
	v1.GET("/users/:id/progression", h.UserProgression)
	v1.GET("/users/:id/events", h.UserEvents)
	v1.GET("/users/:id/events/verify", h.VerifyChain)
	v1.GET("/ranks", h.Ranks)
	v1.GET("/ranks/distribution", h.RankDistribution)
	v1.GET("/badges", h.Badges)

	return r
}
