package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"borrow-analytics-backend/config"
	"borrow-analytics-backend/internal/refresh"
	"borrow-analytics-backend/internal/store"
)

// Refresher runs an on-demand live refresh.
type Refresher interface {
	RefreshOnce(ctx context.Context) (refresh.RunSummary, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store        store.Store
	webpush      *webpush.Options
	refresher    Refresher
	loc          *time.Location
	inventoryTag string
	log          zerolog.Logger
	now          func() time.Time
}

// NewHandler creates a new API handler. refresher may be nil, in which case
// POST /api/refresh answers 503.
func NewHandler(s store.Store, webpushOptions *webpush.Options, refresher Refresher, sources config.SourcesConfig, logger zerolog.Logger) *Handler {
	loc := sources.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:        s,
		webpush:      webpushOptions,
		refresher:    refresher,
		loc:          loc,
		inventoryTag: sources.InventoryTag,
		log:          logger.With().Str("component", "api").Logger(),
		now:          time.Now,
	}
}
