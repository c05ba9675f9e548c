package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"borrow-analytics-backend/config"
	"borrow-analytics-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router. gatherer may be nil when
// metrics are disabled.
func NewRouter(h *Handler, cfg *config.Config, rc *mw.ResponseCache, gatherer prometheus.Gatherer, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger(logger))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), burst(cfg.Server.RateLimitPerSec), cfg.Server.RequestIPHeader)
	caching := rc.Middleware()

	r.GET("/healthz", h.Health)
	if cfg.Metrics.Enabled && gatherer != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/items", caching, h.ListItems)
		api.GET("/items/:item/timeline", caching, h.GetTimeline)
		api.GET("/topk", caching, h.GetTopK)
		api.GET("/summary", caching, h.GetSummary)
		api.GET("/stats", caching, h.GetStats)
		api.POST("/refresh", h.PostRefresh)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

// burst allows short spikes of twice the per-second rate, at least 1.
func burst(perSec float64) int {
	b := int(perSec * 2)
	if b < 1 {
		return 1
	}
	return b
}
