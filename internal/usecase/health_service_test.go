package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
)

func newTestHealth(source domain.SearchDataSource) *HealthService {
	analytics := newTestAnalytics(source)
	trends := NewTrendService(analytics, testLogger, testMetrics)
	return NewHealthService(analytics, trends, 3, testLogger, testMetrics)
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name         string
		comparison   domain.PeriodComparison
		comparisonOK bool
		issues       []string
		want         string
	}{
		{
			name:         "steep click decline is critical",
			comparison:   domain.PeriodComparison{ClicksPercentChange: -35, CurrentClicks: 10},
			comparisonOK: true,
			issues:       []string{"clicks declined"},
			want:         domain.StatusCritical,
		},
		{
			name:         "steep impression decline is critical",
			comparison:   domain.PeriodComparison{ImpressionsPercentChange: -40, CurrentClicks: 10, CurrentImpressions: 100},
			comparisonOK: true,
			issues:       []string{"impressions declined"},
			want:         domain.StatusCritical,
		},
		{
			name:         "zero traffic is critical",
			comparison:   domain.PeriodComparison{},
			comparisonOK: true,
			want:         domain.StatusCritical,
		},
		{
			name:         "moderate decline is a warning",
			comparison:   domain.PeriodComparison{ClicksPercentChange: -20, CurrentClicks: 80, CurrentImpressions: 800},
			comparisonOK: true,
			issues:       []string{"clicks declined 20.0% week over week"},
			want:         domain.StatusWarning,
		},
		{
			name:         "unavailable comparison alone is a warning",
			comparisonOK: false,
			issues:       []string{"performance comparison unavailable"},
			want:         domain.StatusWarning,
		},
		{
			name:         "no issues is healthy",
			comparison:   domain.PeriodComparison{ClicksPercentChange: 5, CurrentClicks: 100, CurrentImpressions: 1000},
			comparisonOK: true,
			want:         domain.StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveStatus(tt.comparison, tt.comparisonOK, tt.issues))
		})
	}
}

func TestComparePeriodTotals(t *testing.T) {
	current := []domain.MetricRow{
		{Clicks: 50, Impressions: 500, Position: 4},
		{Clicks: 50, Impressions: 1500, Position: 8},
	}
	previous := []domain.MetricRow{
		{Clicks: 200, Impressions: 2000, Position: 5},
	}

	comparison := comparePeriodTotals(current, previous)

	assert.Equal(t, 100, comparison.CurrentClicks)
	assert.Equal(t, 200, comparison.PreviousClicks)
	assert.Equal(t, 2000, comparison.CurrentImpressions)
	assert.InDelta(t, -50, comparison.ClicksPercentChange, 1e-9)
	assert.InDelta(t, 0, comparison.ImpressionsPercentChange, 1e-9)
	// impression-weighted: (4*500 + 8*1500) / 2000
	assert.InDelta(t, 7, comparison.CurrentPosition, 1e-9)
	assert.InDelta(t, 2, comparison.PositionChange, 1e-9)
}

func TestComparePeriodTotalsEmpty(t *testing.T) {
	comparison := comparePeriodTotals(nil, nil)
	assert.Equal(t, 0, comparison.CurrentClicks)
	assert.Equal(t, float64(0), comparison.ClicksPercentChange)
	assert.Equal(t, float64(0), comparison.CurrentPosition)
}

func TestSummarizeSitemaps(t *testing.T) {
	sitemaps := []domain.Sitemap{
		{Path: "https://example.com/sitemap.xml", Errors: 2, Warnings: 1},
		{Path: "https://example.com/news.xml", IsPending: true},
	}

	summary := summarizeSitemaps(sitemaps)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 1, summary.Warnings)
}

func TestCollectIssuesStableOrder(t *testing.T) {
	comparison := domain.PeriodComparison{
		ClicksPercentChange:      -20,
		ImpressionsPercentChange: -18,
		PositionChange:           4,
		CurrentClicks:            10,
		CurrentImpressions:       100,
	}
	sitemaps := domain.SitemapSummary{Total: 1, Errors: 3}
	anomalies := []domain.Anomaly{
		{Date: "2024-01-21", Kind: domain.AnomalyDrop, PercentChange: -90},
		{Date: "2024-01-25", Kind: domain.AnomalySpike, PercentChange: 120},
	}

	issues := collectIssues(comparison, true, sitemaps, true, 7, true, anomalies)

	require.Len(t, issues, 6)
	assert.Contains(t, issues[0], "clicks declined 20.0%")
	assert.Contains(t, issues[1], "impressions declined 18.0%")
	assert.Contains(t, issues[2], "position worsened by 4.0")
	assert.Contains(t, issues[3], "3 sitemap errors")
	assert.Contains(t, issues[4], "7 URLs with crawl issues")
	assert.Contains(t, issues[5], "2024-01-21")
}

func TestCheckSiteHealthy(t *testing.T) {
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			if len(q.Dimensions) == 1 && q.Dimensions[0] == domain.DimensionDate {
				// flat daily series, no anomalies
				return dailyRows(q.StartDate, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100), nil
			}
			return []domain.MetricRow{{Clicks: 100, Impressions: 1000, Position: 5}}, nil
		},
		sitemaps: []domain.Sitemap{{Path: "https://example.com/sitemap.xml"}},
	}

	svc := newTestHealth(source)

	report, err := svc.CheckSite(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusHealthy, report.Status)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 1, report.Sitemaps.Total)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestCheckSiteDegradesWhenSitemapsFail(t *testing.T) {
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			if len(q.Dimensions) == 1 && q.Dimensions[0] == domain.DimensionDate {
				return dailyRows(q.StartDate, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100), nil
			}
			return []domain.MetricRow{{Clicks: 100, Impressions: 1000, Position: 5}}, nil
		},
		sitemapsErr: domain.ErrQuota,
	}

	svc := newTestHealth(source)

	report, err := svc.CheckSite(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusWarning, report.Status)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "sitemap status unavailable")
}

func TestCheckSiteWarnsOnCrawlIssues(t *testing.T) {
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			if len(q.Dimensions) == 1 && q.Dimensions[0] == domain.DimensionDate {
				return nil, nil
			}
			return []domain.MetricRow{{Clicks: 100, Impressions: 1000, Position: 5}}, nil
		},
		sitemaps:    []domain.Sitemap{{Path: "https://example.com/sitemap.xml"}},
		crawlIssues: 12,
	}

	svc := newTestHealth(source)

	report, err := svc.CheckSite(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusWarning, report.Status)
	assert.Equal(t, 12, report.CrawlIssues)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "12 URLs with crawl issues")
}

func TestCheckSiteDegradesWhenCrawlCountFails(t *testing.T) {
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			if len(q.Dimensions) == 1 && q.Dimensions[0] == domain.DimensionDate {
				return nil, nil
			}
			return []domain.MetricRow{{Clicks: 100, Impressions: 1000, Position: 5}}, nil
		},
		sitemaps: []domain.Sitemap{{Path: "https://example.com/sitemap.xml"}},
		crawlErr: domain.ErrQuota,
	}

	svc := newTestHealth(source)

	report, err := svc.CheckSite(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusWarning, report.Status)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "crawl issue status unavailable")
}

func TestCheckSiteCriticalOnCollapse(t *testing.T) {
	// the current week is queried before the prior week
	firstWeek := true
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			if len(q.Dimensions) == 1 && q.Dimensions[0] == domain.DimensionDate {
				return nil, nil
			}
			if firstWeek {
				firstWeek = false
				return []domain.MetricRow{{Clicks: 60, Impressions: 600, Position: 5}}, nil
			}
			return []domain.MetricRow{{Clicks: 100, Impressions: 1000, Position: 5}}, nil
		},
		sitemaps: []domain.Sitemap{{Path: "https://example.com/sitemap.xml"}},
	}

	svc := newTestHealth(source)

	report, err := svc.CheckSite(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCritical, report.Status)
	assert.InDelta(t, -40, report.Performance.ClicksPercentChange, 1e-9)
}

func TestCheckAllSitesSortsBySeverity(t *testing.T) {
	source := &fakeSource{
		sites: []domain.Site{
			{URL: "https://healthy.example/"},
			{URL: "https://critical.example/"},
		},
		sitemaps: []domain.Sitemap{{Path: "sitemap.xml"}},
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			if len(q.Dimensions) == 1 && q.Dimensions[0] == domain.DimensionDate {
				return nil, nil
			}
			if q.SiteURL == "https://critical.example/" {
				return nil, nil // zero traffic both weeks
			}
			return []domain.MetricRow{{Clicks: 100, Impressions: 1000, Position: 5}}, nil
		},
	}

	svc := newTestHealth(source)

	reports, err := svc.CheckAllSites(context.Background())
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, "https://critical.example/", reports[0].Site)
	assert.Equal(t, domain.StatusCritical, reports[0].Status)
	assert.Equal(t, "https://healthy.example/", reports[1].Site)
	assert.Equal(t, domain.StatusHealthy, reports[1].Status)
}

func TestCheckAllSitesListFailure(t *testing.T) {
	source := &fakeSource{sitesErr: domain.ErrAuth}

	svc := newTestHealth(source)

	_, err := svc.CheckAllSites(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
}
