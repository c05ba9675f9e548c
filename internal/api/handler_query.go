package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/parse"
	"borrow-analytics-backend/internal/query"
	"borrow-analytics-backend/internal/ranking"
	"borrow-analytics-backend/internal/store"
	"borrow-analytics-backend/internal/timeline"
)

const defaultTopK = 10

// filterFromQuery reads mode and category. Realtime mode hides the
// inventory tab.
func (h *Handler) filterFromQuery(c *gin.Context) (store.Filter, error) {
	mode, err := query.ParseMode(c.Query("mode"))
	if err != nil {
		return store.Filter{}, err
	}
	f := store.Filter{Sources: mode.Sources()}
	if mode == query.ModeRealtime && h.inventoryTag != "" {
		f.ExcludeTags = []string{h.inventoryTag}
	}
	if cat := strings.TrimSpace(c.Query("category")); cat != "" && !strings.EqualFold(cat, "all") {
		f.Category = cat
	}
	return f, nil
}

func (h *Handler) rangeFromQuery(c *gin.Context) (query.DateRange, error) {
	return query.ParseDateRange(c.Query("start"), c.Query("end"), h.loc)
}

// intervals loads, range-filters and localises intervals.
func (h *Handler) intervals(c *gin.Context, f store.Filter, r query.DateRange) ([]interval.Interval, bool) {
	ivs, err := h.store.Query(c.Request.Context(), f)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to query intervals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query intervals"})
		return nil, false
	}
	ivs = r.Apply(ivs)
	for i := range ivs {
		ivs[i] = ivs[i].In(h.loc)
	}
	return ivs, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// ListItems handles GET /api/items.
func (h *Handler) ListItems(c *gin.Context) {
	f, err := h.filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	items, err := h.store.ListItems(c.Request.Context(), f)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
		return
	}

	if q := c.Query("q"); strings.TrimSpace(q) != "" {
		byKey := make(map[string]store.ItemInfo, len(items))
		keys := make([]string, len(items))
		for i, it := range items {
			byKey[it.ItemKey] = it
			keys[i] = it.ItemKey
		}
		matched := query.FuzzySearch(keys, q)
		items = make([]store.ItemInfo, len(matched))
		for i, k := range matched {
			items[i] = byKey[k]
		}
	}
	if items == nil {
		items = []store.ItemInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type timelineResponse struct {
	ItemKey     string           `json:"item_key"`
	Granularity string           `json:"granularity"`
	AsOf        time.Time        `json:"as_of"`
	Intervals   int              `json:"intervals"`
	NoData      bool             `json:"no_data,omitempty"`
	Points      []timeline.Point `json:"points"`
}

// GetTimeline handles GET /api/items/:item/timeline.
func (h *Handler) GetTimeline(c *gin.Context) {
	item := strings.TrimSpace(c.Param("item"))
	g, err := timeline.ParseGranularity(c.Query("granularity"))
	if err != nil {
		badRequest(c, err)
		return
	}
	asOf, err := h.parseAsOf(c.Query("as_of"))
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := h.filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	f.ItemKey = item
	r, err := h.rangeFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	ivs, ok := h.intervals(c, f, r)
	if !ok {
		return
	}
	resp := timelineResponse{ItemKey: item, Granularity: g.String(), AsOf: asOf, Intervals: len(ivs)}
	series, err := timeline.Build(ivs, g, asOf)
	switch {
	case errors.Is(err, timeline.ErrNoData):
		resp.NoData = true
		resp.Points = []timeline.Point{}
	case err != nil:
		badRequest(c, err)
		return
	default:
		resp.Points = series.Points
	}
	c.JSON(http.StatusOK, resp)
}

// parseAsOf accepts RFC 3339 or a bare date, read as midnight in the
// configured zone. Empty means now.
func (h *Handler) parseAsOf(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.now().In(h.loc), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(h.loc), nil
	}
	return parse.DateBound(raw, h.loc)
}

// GetTopK handles GET /api/topk.
func (h *Handler) GetTopK(c *gin.Context) {
	metric, err := ranking.ParseMetric(c.Query("metric"))
	if err != nil {
		badRequest(c, err)
		return
	}
	period, err := ranking.ParsePeriod(c.Query("period"))
	if err != nil {
		badRequest(c, err)
		return
	}
	k := defaultTopK
	if raw := c.Query("k"); raw != "" {
		if k, err = strconv.Atoi(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be an integer"})
			return
		}
	}
	f, err := h.filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	if name := strings.TrimSpace(c.Query("item_name")); name != "" {
		f.ItemName = name
	}
	r, err := h.rangeFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	ivs, ok := h.intervals(c, f, r)
	if !ok {
		return
	}
	res, err := ranking.TopK(ivs, ranking.Options{Metric: metric, K: k, Period: period})
	switch {
	case errors.Is(err, ranking.ErrNoData):
		c.JSON(http.StatusOK, gin.H{"no_data": true, "metric": metric, "period": period, "items": []ranking.Ranked{}, "buckets": []ranking.Bucket{}})
	case errors.Is(err, ranking.ErrNoDurationData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "no_duration_data", "error": err.Error()})
	case err != nil:
		badRequest(c, err)
	default:
		c.JSON(http.StatusOK, res)
	}
}

// GetSummary handles GET /api/summary.
func (h *Handler) GetSummary(c *gin.Context) {
	f, err := h.filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.rangeFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ivs, ok := h.intervals(c, f, r)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, query.Summarize(ivs))
}

// GetStats handles GET /api/stats.
func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.store.Statistics(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to compute statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// PostRefresh handles POST /api/refresh.
func (h *Handler) PostRefresh(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live refresh is not configured"})
		return
	}
	sum, err := h.refresher.RefreshOnce(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("on-demand refresh failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "run": sum.Run})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": sum.Run, "returned": sum.Returned, "failed_tabs": sum.FailedTabs})
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
