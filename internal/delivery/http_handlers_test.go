package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/cache"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/infrastructure"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/usecase"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/config"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

var (
	testLogger  = logger.New("error")
	testMetrics = metrics.New()
)

type stubSource struct {
	fetch    func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error)
	sites    []domain.Site
	sitesErr error
}

func (s *stubSource) FetchMetricRows(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
	if s.fetch == nil {
		return nil, nil
	}
	return s.fetch(ctx, q)
}

func (s *stubSource) ListSites(ctx context.Context) ([]domain.Site, error) {
	return s.sites, s.sitesErr
}

func (s *stubSource) ListSitemaps(ctx context.Context, siteURL string) ([]domain.Sitemap, error) {
	return nil, nil
}

func (s *stubSource) CountCrawlIssues(ctx context.Context, siteURL string) (int, error) {
	return 0, nil
}

func newTestRouter(source domain.SearchDataSource) http.Handler {
	cfg := config.AnalyticsConfig{
		CacheTTL:          time.Minute,
		HealthConcurrency: 3,
		ReportingLagDays:  3,
		AnomalyWindowDays: 14,
		AnomalyThreshold:  0.25,
		AnomalyMinVolume:  10,
		TrendThreshold:    20,
		TrendMinVolume:    10,
		ForecastDays:      7,
		RollingWindowSize: 7,
		DefaultRowLimit:   1000,
	}

	analytics := usecase.NewAnalyticsService(
		source,
		cache.NewQueryCache(cfg.CacheTTL, testLogger, testMetrics),
		cfg, testLogger, testMetrics,
	)
	trends := usecase.NewTrendService(analytics, testLogger, testMetrics)
	timeseries := usecase.NewTimeSeriesService(analytics, testLogger, testMetrics)
	insights := usecase.NewInsightService(analytics, trends, infrastructure.NewRegexMatcher(), testLogger, testMetrics)
	health := usecase.NewHealthService(analytics, trends, cfg.HealthConcurrency, testLogger, testMetrics)

	handlers := NewHTTPHandlers(analytics, trends, timeseries, insights, health, testLogger, testMetrics)
	return NewHTTPRouter(handlers, testLogger, testMetrics, 10*time.Second).SetupRoutes()
}

func doRequest(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestQueryAnalyticsEndpoint(t *testing.T) {
	source := &stubSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			return []domain.MetricRow{
				{Keys: []string{"go tutorial"}, Clicks: 10, Impressions: 100, CTR: 0.1, Position: 5},
			}, nil
		},
	}
	router := newTestRouter(source)

	w := doRequest(t, router, http.MethodPost, "/api/v1/analytics/query",
		`{"site_url":"https://example.com/","start_date":"2024-01-01","end_date":"2024-01-28","dimensions":["query"]}`)

	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Rows  []domain.MetricRow `json:"rows"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Count)
	require.Len(t, response.Rows, 1)
	assert.Equal(t, 10, response.Rows[0].Clicks)
}

func TestQueryAnalyticsRejectsBadDates(t *testing.T) {
	router := newTestRouter(&stubSource{})

	w := doRequest(t, router, http.MethodPost, "/api/v1/analytics/query",
		`{"site_url":"https://example.com/","start_date":"January 1st","end_date":"2024-01-28"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryAnalyticsMapsInvalidQueryTo400(t *testing.T) {
	router := newTestRouter(&stubSource{})

	// end before start passes date parsing but fails validation
	w := doRequest(t, router, http.MethodPost, "/api/v1/analytics/query",
		`{"site_url":"https://example.com/","start_date":"2024-01-28","end_date":"2024-01-01"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBackendFailuresMapTo502(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth failure", domain.ErrAuth},
		{"quota exhausted", domain.ErrQuota},
		{"unknown property", domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &stubSource{
				fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
					return nil, tt.err
				},
			}
			router := newTestRouter(source)

			w := doRequest(t, router, http.MethodPost, "/api/v1/analytics/query",
				`{"site_url":"https://example.com/","start_date":"2024-01-01","end_date":"2024-01-28"}`)

			assert.Equal(t, http.StatusBadGateway, w.Code)
		})
	}
}

func TestInsightEndpointsRequireSite(t *testing.T) {
	router := newTestRouter(&stubSource{})

	endpoints := []string{
		"/api/v1/insights/trends",
		"/api/v1/insights/anomalies",
		"/api/v1/insights/timeseries",
		"/api/v1/insights/drop-attribution",
		"/api/v1/insights/low-hanging-fruit",
		"/api/v1/insights/cannibalization",
		"/api/v1/insights/low-ctr",
		"/api/v1/insights/striking-distance",
		"/api/v1/insights/lost-queries",
		"/api/v1/insights/brand-split",
		"/api/v1/insights/quick-wins",
		"/api/v1/insights/recommendations",
	}

	for _, endpoint := range endpoints {
		w := doRequest(t, router, http.MethodGet, endpoint, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, endpoint)
	}
}

func TestBrandSplitRequiresPattern(t *testing.T) {
	router := newTestRouter(&stubSource{})

	w := doRequest(t, router, http.MethodGet, "/api/v1/insights/brand-split?site=https%3A%2F%2Fexample.com%2F", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLowHangingFruitEndpoint(t *testing.T) {
	source := &stubSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			return []domain.MetricRow{
				{Keys: []string{"mid-ranker"}, Clicks: 50, Impressions: 1000, CTR: 0.05, Position: 8},
			}, nil
		},
	}
	router := newTestRouter(source)

	w := doRequest(t, router, http.MethodGet, "/api/v1/insights/low-hanging-fruit?site=https%3A%2F%2Fexample.com%2F", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Opportunities []domain.OpportunityItem `json:"opportunities"`
		Count         int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Equal(t, 1, response.Count)
	assert.Equal(t, 100, response.Opportunities[0].PotentialClicks)
}

func TestListSitesEndpoint(t *testing.T) {
	source := &stubSource{
		sites: []domain.Site{{URL: "https://example.com/", PermissionLevel: "siteOwner"}},
	}
	router := newTestRouter(source)

	w := doRequest(t, router, http.MethodGet, "/api/v1/sites", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Sites []domain.Site `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Sites, 1)
	assert.Equal(t, "https://example.com/", response.Sites[0].URL)
}

func TestTrendsRejectsInvertedRange(t *testing.T) {
	router := newTestRouter(&stubSource{})

	w := doRequest(t, router, http.MethodGet,
		"/api/v1/insights/trends?site=https%3A%2F%2Fexample.com%2F&start_date=2024-01-28&end_date=2024-01-01", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheckEndpoint(t *testing.T) {
	router := newTestRouter(&stubSource{})

	w := doRequest(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRequestIDPropagates(t *testing.T) {
	router := newTestRouter(&stubSource{})

	w := doRequest(t, router, http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
