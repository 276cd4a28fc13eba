package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/cache"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/config"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

// AnalyticsService is the cache-wrapped gateway to the reporting backend.
// Every other service fetches rows through it.
type AnalyticsService struct {
	source  domain.SearchDataSource
	cache   *cache.QueryCache
	cfg     config.AnalyticsConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewAnalyticsService(
	source domain.SearchDataSource,
	cache *cache.QueryCache,
	cfg config.AnalyticsConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *AnalyticsService {
	return &AnalyticsService{
		source:  source,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Query validates q and returns its rows, served from cache when possible.
// Input failures and source failures both propagate to the caller.
func (s *AnalyticsService) Query(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
	start := time.Now()

	if err := q.Validate(); err != nil {
		s.metrics.RecordAnalysisOp("query", "invalid", time.Since(start))
		return nil, err
	}
	if q.RowLimit == 0 {
		q.RowLimit = s.cfg.DefaultRowLimit
	}

	rows, err := s.cache.Get(ctx, q, func(ctx context.Context) ([]domain.MetricRow, error) {
		return s.source.FetchMetricRows(ctx, q)
	})
	if err != nil {
		s.metrics.RecordAnalysisOp("query", "failed", time.Since(start))
		return nil, fmt.Errorf("analytics query failed: %w", err)
	}

	s.metrics.RecordAnalysisOp("query", "success", time.Since(start))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"site":       q.SiteURL,
		"start_date": q.StartDate.Format(domain.DateLayout),
		"end_date":   q.EndDate.Format(domain.DateLayout),
		"dimensions": q.Dimensions,
		"rows":       len(rows),
	}).Info("Analytics query completed")

	return rows, nil
}

// ListSites returns the properties visible to the configured account.
func (s *AnalyticsService) ListSites(ctx context.Context) ([]domain.Site, error) {
	sites, err := s.source.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

// ListSitemaps returns the submitted sitemaps of one property.
func (s *AnalyticsService) ListSitemaps(ctx context.Context, siteURL string) ([]domain.Sitemap, error) {
	sitemaps, err := s.source.ListSitemaps(ctx, siteURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list sitemaps: %w", err)
	}
	return sitemaps, nil
}

// CountCrawlIssues returns the property's current crawl-problem count.
func (s *AnalyticsService) CountCrawlIssues(ctx context.Context, siteURL string) (int, error) {
	count, err := s.source.CountCrawlIssues(ctx, siteURL)
	if err != nil {
		return 0, fmt.Errorf("failed to count crawl issues: %w", err)
	}
	return count, nil
}

// DefaultWindow returns the lag-adjusted [start, end] range of the given
// length. Data for the last few days is unreliable on the reporting side,
// so windows end ReportingLagDays in the past.
func (s *AnalyticsService) DefaultWindow(days int) (time.Time, time.Time) {
	end := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -s.cfg.ReportingLagDays)
	start := end.AddDate(0, 0, -(days - 1))
	return start, end
}

// Config exposes the engine tuning shared by the sibling services.
func (s *AnalyticsService) Config() config.AnalyticsConfig {
	return s.cfg
}
