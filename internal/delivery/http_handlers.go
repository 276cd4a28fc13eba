package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/usecase"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// handles HTTP requests
type HTTPHandlers struct {
	analytics  *usecase.AnalyticsService
	trends     *usecase.TrendService
	timeseries *usecase.TimeSeriesService
	insights   *usecase.InsightService
	health     *usecase.HealthService
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewHTTPHandlers(
	analytics *usecase.AnalyticsService,
	trends *usecase.TrendService,
	timeseries *usecase.TimeSeriesService,
	insights *usecase.InsightService,
	health *usecase.HealthService,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *HTTPHandlers {
	return &HTTPHandlers{
		analytics:  analytics,
		trends:     trends,
		timeseries: timeseries,
		insights:   insights,
		health:     health,
		logger:     logger,
		metrics:    metrics,
	}
}

// analyticsQueryRequest is the POST body of /analytics/query with wire-format
// dates.
type analyticsQueryRequest struct {
	SiteURL    string                   `json:"site_url"`
	StartDate  string                   `json:"start_date"`
	EndDate    string                   `json:"end_date"`
	Dimensions []string                 `json:"dimensions,omitempty"`
	Filters    []domain.DimensionFilter `json:"filters,omitempty"`
	RowLimit   int                      `json:"row_limit,omitempty"`
}

// QueryAnalytics runs one raw analytics query.
func (h *HTTPHandlers) QueryAnalytics(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	var req analyticsQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}

	start, err := time.Parse(domain.DateLayout, req.StartDate)
	if err != nil {
		h.badRequest(c, "start_date must be in YYYY-MM-DD format")
		return
	}
	end, err := time.Parse(domain.DateLayout, req.EndDate)
	if err != nil {
		h.badRequest(c, "end_date must be in YYYY-MM-DD format")
		return
	}

	rows, err := h.analytics.Query(c.Request.Context(), domain.AnalyticsQuery{
		SiteURL:    req.SiteURL,
		StartDate:  start,
		EndDate:    end,
		Dimensions: req.Dimensions,
		Filters:    req.Filters,
		RowLimit:   req.RowLimit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rows":       rows,
		"count":      len(rows),
		"request_id": c.GetString("request_id"),
	})
}

// ListSites returns the visible properties.
func (h *HTTPHandlers) ListSites(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	sites, err := h.analytics.ListSites(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sites":      sites,
		"count":      len(sites),
		"request_id": c.GetString("request_id"),
	})
}

// SiteHealth checks one site when ?site= is given, all sites otherwise.
func (h *HTTPHandlers) SiteHealth(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	if site := c.Query("site"); site != "" {
		report, err := h.health.CheckSite(c.Request.Context(), site)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"report":     report,
			"request_id": c.GetString("request_id"),
		})
		return
	}

	reports, err := h.health.CheckAllSites(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports":    reports,
		"count":      len(reports),
		"request_id": c.GetString("request_id"),
	})
}

// DetectTrends compares the requested period against the one before it.
func (h *HTTPHandlers) DetectTrends(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	dimension := c.DefaultQuery("dimension", domain.DimensionQuery)
	metric := c.DefaultQuery("metric", domain.MetricClicks)

	start, end, ok := h.dateRange(c, 28)
	if !ok {
		return
	}

	items, err := h.trends.DetectTrends(c.Request.Context(), site, dimension, metric, start, end)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trends":     items,
		"count":      len(items),
		"request_id": c.GetString("request_id"),
	})
}

// DetectAnomalies scans the recent daily series for outliers.
func (h *HTTPHandlers) DetectAnomalies(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	metric := c.DefaultQuery("metric", domain.MetricClicks)
	days := h.intQuery(c, "days", 0)

	anomalies, err := h.trends.DetectAnomalies(c.Request.Context(), site, metric, days)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"anomalies":  anomalies,
		"count":      len(anomalies),
		"request_id": c.GetString("request_id"),
	})
}

// TimeSeries returns the aggregated series plus forecast.
func (h *HTTPHandlers) TimeSeries(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	var metricNames []string
	if raw := c.Query("metrics"); raw != "" {
		metricNames = strings.Split(raw, ",")
	}
	granularity := c.DefaultQuery("granularity", domain.GranularityDay)

	start, end, ok := h.dateRange(c, 56)
	if !ok {
		return
	}

	insights, err := h.timeseries.GetInsights(c.Request.Context(), site, metricNames, granularity, start, end)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"insights":   insights,
		"request_id": c.GetString("request_id"),
	})
}

// DropAttribution explains the most recent traffic drop.
func (h *HTTPHandlers) DropAttribution(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	attribution, err := h.insights.AnalyzeDropAttribution(c.Request.Context(), site)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attribution": attribution,
		"request_id":  c.GetString("request_id"),
	})
}

// LowHangingFruit lists mid-ranking queries with unrealized click potential.
func (h *HTTPHandlers) LowHangingFruit(c *gin.Context) {
	h.opportunityHandler(c, h.insights.FindLowHangingFruit, "opportunities")
}

// StrikingDistance lists queries just shy of the first page.
func (h *HTTPHandlers) StrikingDistance(c *gin.Context) {
	h.opportunityHandler(c, h.insights.FindStrikingDistance, "opportunities")
}

// QuickWins lists pages on positions 11-20.
func (h *HTTPHandlers) QuickWins(c *gin.Context) {
	h.opportunityHandler(c, h.insights.FindQuickWins, "quick_wins")
}

// Cannibalization lists queries split across several competing pages.
func (h *HTTPHandlers) Cannibalization(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	issues, err := h.insights.DetectCannibalization(c.Request.Context(), site, h.intQuery(c, "days", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"issues":     issues,
		"count":      len(issues),
		"request_id": c.GetString("request_id"),
	})
}

// LowCTR lists top-10 rankings underperforming their position benchmark.
func (h *HTTPHandlers) LowCTR(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	items, err := h.insights.FindLowCTROpportunities(c.Request.Context(), site,
		h.intQuery(c, "days", 0), h.intQuery(c, "min_impressions", 100))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      items,
		"count":      len(items),
		"request_id": c.GetString("request_id"),
	})
}

// LostQueries lists queries whose clicks collapsed between periods.
func (h *HTTPHandlers) LostQueries(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	lost, err := h.insights.FindLostQueries(c.Request.Context(), site, h.intQuery(c, "period_days", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lost_queries": lost,
		"count":        len(lost),
		"request_id":   c.GetString("request_id"),
	})
}

// BrandSplit segments traffic by the caller-supplied brand pattern.
func (h *HTTPHandlers) BrandSplit(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	pattern := c.Query("pattern")
	if pattern == "" {
		h.badRequest(c, "pattern parameter is required")
		return
	}

	split, err := h.insights.AnalyzeBrandSplit(c.Request.Context(), site, pattern, h.intQuery(c, "days", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"split":      split,
		"request_id": c.GetString("request_id"),
	})
}

// Recommendations synthesizes the prioritized insight list.
func (h *HTTPHandlers) Recommendations(c *gin.Context) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	recs, err := h.insights.GenerateRecommendations(c.Request.Context(), site)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recommendations": recs,
		"count":           len(recs),
		"request_id":      c.GetString("request_id"),
	})
}

// HealthCheck returns the liveness status of the service
func (h *HTTPHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "search-analytics",
	})
}

type opportunityFunc func(ctx context.Context, site string, days, minImpressions int) ([]domain.OpportunityItem, error)

func (h *HTTPHandlers) opportunityHandler(c *gin.Context, find opportunityFunc, field string) {
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	site, ok := h.requireSite(c)
	if !ok {
		return
	}

	items, err := find(c.Request.Context(), site, h.intQuery(c, "days", 0), h.intQuery(c, "min_impressions", 100))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		field:        items,
		"count":      len(items),
		"request_id": c.GetString("request_id"),
	})
}

func (h *HTTPHandlers) requireSite(c *gin.Context) (string, bool) {
	site := c.Query("site")
	if site == "" {
		h.badRequest(c, "site parameter is required")
		return "", false
	}
	return site, true
}

// dateRange parses optional start_date/end_date params, defaulting to the
// lag-adjusted window of defaultDays.
func (h *HTTPHandlers) dateRange(c *gin.Context, defaultDays int) (time.Time, time.Time, bool) {
	start, end := h.analytics.DefaultWindow(defaultDays)

	if raw := c.Query("start_date"); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			h.badRequest(c, "start_date must be in YYYY-MM-DD format")
			return time.Time{}, time.Time{}, false
		}
		start = parsed
	}
	if raw := c.Query("end_date"); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			h.badRequest(c, "end_date must be in YYYY-MM-DD format")
			return time.Time{}, time.Time{}, false
		}
		end = parsed
	}
	if end.Before(start) {
		h.badRequest(c, "end_date precedes start_date")
		return time.Time{}, time.Time{}, false
	}

	return start, end, true
}

func (h *HTTPHandlers) intQuery(c *gin.Context, name string, defaultValue int) int {
	if raw := c.Query(name); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			return value
		}
	}
	return defaultValue
}

func (h *HTTPHandlers) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      "Invalid parameters",
		"message":    message,
		"request_id": c.GetString("request_id"),
	})
}

// respondError maps service failures onto HTTP statuses: caller bugs to 400,
// backend failures to 502, everything else to 500.
func (h *HTTPHandlers) respondError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")
	h.logger.WithContext(c.Request.Context()).WithError(err).Error("Request failed")

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrQuota), errors.Is(err, domain.ErrNotFound):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{
		"error":      http.StatusText(status),
		"message":    err.Error(),
		"request_id": requestID,
	})
}
