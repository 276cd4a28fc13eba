package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/cache"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/config"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

var (
	testLogger  = logger.New("error")
	testMetrics = metrics.New()
)

var testAnalyticsConfig = config.AnalyticsConfig{
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

// fakeSource implements domain.SearchDataSource for tests.
type fakeSource struct {
	fetch       func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error)
	sites       []domain.Site
	sitemaps    []domain.Sitemap
	crawlIssues int
	sitesErr    error
	sitemapsErr error
	crawlErr    error
}

func (f *fakeSource) FetchMetricRows(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
	if f.fetch == nil {
		return nil, nil
	}
	return f.fetch(ctx, q)
}

func (f *fakeSource) ListSites(ctx context.Context) ([]domain.Site, error) {
	return f.sites, f.sitesErr
}

func (f *fakeSource) ListSitemaps(ctx context.Context, siteURL string) ([]domain.Sitemap, error) {
	return f.sitemaps, f.sitemapsErr
}

func (f *fakeSource) CountCrawlIssues(ctx context.Context, siteURL string) (int, error) {
	return f.crawlIssues, f.crawlErr
}

func newTestAnalytics(source domain.SearchDataSource) *AnalyticsService {
	return NewAnalyticsService(
		source,
		cache.NewQueryCache(time.Minute, testLogger, testMetrics),
		testAnalyticsConfig,
		testLogger,
		testMetrics,
	)
}

func dailyRows(start time.Time, clicks ...int) []domain.MetricRow {
	rows := make([]domain.MetricRow, len(clicks))
	for i, c := range clicks {
		rows[i] = domain.MetricRow{
			Keys:   []string{start.AddDate(0, 0, i).Format(domain.DateLayout)},
			Clicks: c,
		}
	}
	return rows
}

func TestDetectTrendsDirections(t *testing.T) {
	tests := []struct {
		name          string
		current       []domain.MetricRow
		previous      []domain.MetricRow
		wantKey       string
		wantChange    float64
		wantDirection string
		wantPrevious  float64
	}{
		{
			name:          "doubling is rising 100 percent",
			current:       []domain.MetricRow{{Keys: []string{"go"}, Clicks: 200}},
			previous:      []domain.MetricRow{{Keys: []string{"go"}, Clicks: 100}},
			wantKey:       "go",
			wantChange:    100,
			wantDirection: domain.DirectionRising,
			wantPrevious:  100,
		},
		{
			name:          "halving is declining 50 percent",
			current:       []domain.MetricRow{{Keys: []string{"go"}, Clicks: 50}},
			previous:      []domain.MetricRow{{Keys: []string{"go"}, Clicks: 100}},
			wantKey:       "go",
			wantChange:    -50,
			wantDirection: domain.DirectionDeclining,
			wantPrevious:  100,
		},
		{
			name:          "new key counts as 100 percent rise",
			current:       []domain.MetricRow{{Keys: []string{"go"}, Clicks: 100}},
			previous:      nil,
			wantKey:       "go",
			wantChange:    100,
			wantDirection: domain.DirectionRising,
			wantPrevious:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := detectTrends(tt.current, tt.previous, domain.MetricClicks, 10, 20)
			require.Len(t, items, 1)
			assert.Equal(t, tt.wantKey, items[0].Key)
			assert.InDelta(t, tt.wantChange, items[0].PercentChange, 1e-9)
			assert.Equal(t, tt.wantDirection, items[0].Direction)
			assert.Equal(t, tt.wantPrevious, items[0].PreviousValue)
		})
	}
}

func TestDetectTrendsFiltersAndSorts(t *testing.T) {
	current := []domain.MetricRow{
		{Keys: []string{"tiny"}, Clicks: 5},      // below min volume
		{Keys: []string{"steady"}, Clicks: 105},  // +5%, below threshold
		{Keys: []string{"small-mover"}, Clicks: 30},
		{Keys: []string{"big-mover"}, Clicks: 500},
	}
	previous := []domain.MetricRow{
		{Keys: []string{"tiny"}, Clicks: 1},
		{Keys: []string{"steady"}, Clicks: 100},
		{Keys: []string{"small-mover"}, Clicks: 10},
		{Keys: []string{"big-mover"}, Clicks: 200},
	}

	items := detectTrends(current, previous, domain.MetricClicks, 10, 20)
	require.Len(t, items, 2)

	// sorted by absolute value delta, not percent
	assert.Equal(t, "big-mover", items[0].Key)
	assert.Equal(t, "small-mover", items[1].Key)
}

func TestDetectAnomaliesFlagsSingleDrop(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clicks := make([]int, 21)
	for i := 0; i < 20; i++ {
		clicks[i] = 100
	}
	clicks[20] = 10

	anomalies := detectAnomalies(dailyRows(start, clicks...), domain.MetricClicks, 14, 0.25, 10)

	require.Len(t, anomalies, 1)
	assert.Equal(t, "2024-01-21", anomalies[0].Date)
	assert.Equal(t, domain.AnomalyDrop, anomalies[0].Kind)
	assert.Equal(t, float64(10), anomalies[0].Value)
	assert.Equal(t, float64(100), anomalies[0].BaselineValue)
	assert.InDelta(t, -90, anomalies[0].PercentChange, 1e-9)
}

func TestDetectAnomaliesFlatSeries(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clicks := make([]int, 20)
	for i := range clicks {
		clicks[i] = 100
	}

	anomalies := detectAnomalies(dailyRows(start, clicks...), domain.MetricClicks, 14, 0.25, 10)
	assert.Empty(t, anomalies)
}

func TestDetectAnomaliesSpike(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := dailyRows(start, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 300)

	anomalies := detectAnomalies(rows, domain.MetricClicks, 14, 0.25, 10)
	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.AnomalySpike, anomalies[0].Kind)
	assert.InDelta(t, 200, anomalies[0].PercentChange, 1e-9)
}

func TestDetectAnomaliesRequiresWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := dailyRows(start, 100, 10)

	anomalies := detectAnomalies(rows, domain.MetricClicks, 14, 0.25, 10)
	assert.Empty(t, anomalies)
}

func TestDetectAnomaliesSkipsLowVolumeBaseline(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// all values at or below the volume floor
	clicks := make([]int, 15)
	for i := range clicks {
		clicks[i] = 2
	}
	clicks[14] = 9

	anomalies := detectAnomalies(dailyRows(start, clicks...), domain.MetricClicks, 14, 0.25, 10)
	assert.Empty(t, anomalies)
}

func TestPercentChange(t *testing.T) {
	assert.Equal(t, float64(0), percentChange(0, 0))
	assert.Equal(t, float64(100), percentChange(50, 0))
	assert.InDelta(t, -50, percentChange(50, 100), 1e-9)
	assert.InDelta(t, 25, percentChange(125, 100), 1e-9)
}

func TestTrendServiceFetchesBothPeriods(t *testing.T) {
	var fetched []string
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			key := fmt.Sprintf("%s..%s", q.StartDate.Format(domain.DateLayout), q.EndDate.Format(domain.DateLayout))
			fetched = append(fetched, key)
			if len(fetched) == 1 {
				return []domain.MetricRow{{Keys: []string{"go"}, Clicks: 200}}, nil
			}
			return []domain.MetricRow{{Keys: []string{"go"}, Clicks: 100}}, nil
		},
	}

	svc := NewTrendService(newTestAnalytics(source), testLogger, testMetrics)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	items, err := svc.DetectTrends(context.Background(), "https://example.com/", domain.DimensionQuery, domain.MetricClicks, start, end)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.DirectionRising, items[0].Direction)

	require.Len(t, fetched, 2)
	assert.Equal(t, "2024-03-01..2024-03-07", fetched[0])
	assert.Equal(t, "2024-02-23..2024-02-29", fetched[1])
}
