package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/scheduler"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

// Status thresholds.
const (
	criticalDeclinePercent = -30
	warningDeclinePercent  = -15
	positionWorsenedBy     = 3
	comparisonPeriodDays   = 7
)

// HealthService composes the analytical signals into per-site verdicts.
type HealthService struct {
	analytics   *AnalyticsService
	trends      *TrendService
	concurrency int
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewHealthService(
	analytics *AnalyticsService,
	trends *TrendService,
	concurrency int,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *HealthService {
	return &HealthService{
		analytics:   analytics,
		trends:      trends,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckSite builds one site's health report. Each sub-fetch is independently
// fault-tolerant: a failing signal degrades to a neutral default instead of
// aborting the check.
func (s *HealthService) CheckSite(ctx context.Context, site string) (domain.HealthReport, error) {
	opStart := time.Now()
	log := s.logger.WithContext(ctx).WithField("site", site)

	var (
		comparison   domain.PeriodComparison
		sitemaps     []domain.Sitemap
		anomalies    []domain.Anomaly
		crawlIssues  int
		comparisonOK bool
		sitemapsOK   bool
		crawlOK      bool
	)

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		var err error
		comparison, err = s.comparePeriods(ctx, site)
		if err != nil {
			log.WithError(err).Warn("Week-over-week comparison unavailable")
			return
		}
		comparisonOK = true
	}()

	go func() {
		defer wg.Done()
		var err error
		sitemaps, err = s.analytics.ListSitemaps(ctx, site)
		if err != nil {
			log.WithError(err).Warn("Sitemap listing unavailable")
			return
		}
		sitemapsOK = true
	}()

	go func() {
		defer wg.Done()
		var err error
		anomalies, err = s.trends.DetectAnomalies(ctx, site, domain.MetricClicks, 0)
		if err != nil {
			log.WithError(err).Warn("Anomaly scan unavailable")
			anomalies = nil
		}
	}()

	go func() {
		defer wg.Done()
		var err error
		crawlIssues, err = s.analytics.CountCrawlIssues(ctx, site)
		if err != nil {
			log.WithError(err).Warn("Crawl issue count unavailable")
			return
		}
		crawlOK = true
	}()

	wg.Wait()

	report := domain.HealthReport{
		Site:        site,
		Performance: comparison,
		Anomalies:   anomalies,
		CheckedAt:   time.Now().UTC(),
	}
	if sitemapsOK {
		report.Sitemaps = summarizeSitemaps(sitemaps)
	}
	if crawlOK {
		report.CrawlIssues = crawlIssues
	}

	report.Issues = collectIssues(comparison, comparisonOK, report.Sitemaps, sitemapsOK, crawlIssues, crawlOK, anomalies)
	report.Status = deriveStatus(comparison, comparisonOK, report.Issues)

	s.metrics.RecordHealthCheck(report.Status)
	s.metrics.RecordAnalysisOp("health_check", "success", time.Since(opStart))

	log.WithFields(map[string]any{
		"status": report.Status,
		"issues": len(report.Issues),
	}).Info("Site health check completed")

	return report, nil
}

// CheckAllSites fans the per-site check out across every visible property
// through the bounded scheduler and returns the reports sorted by severity.
func (s *HealthService) CheckAllSites(ctx context.Context) ([]domain.HealthReport, error) {
	sites, err := s.analytics.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites for health check: %w", err)
	}

	units := make([]scheduler.Unit[domain.HealthReport], len(sites))
	for i, site := range sites {
		siteURL := site.URL
		units[i] = func(ctx context.Context) (domain.HealthReport, error) {
			s.metrics.IncScheduledInFlight()
			defer s.metrics.DecScheduledInFlight()
			return s.CheckSite(ctx, siteURL)
		}
	}

	results := scheduler.RunAll(ctx, units, s.concurrency)

	reports := make([]domain.HealthReport, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			// partial failure never blocks the batch
			reports = append(reports, domain.HealthReport{
				Site:      sites[i].URL,
				Status:    domain.StatusWarning,
				Issues:    []string{fmt.Sprintf("health check failed: %v", res.Err)},
				CheckedAt: time.Now().UTC(),
			})
			continue
		}
		reports = append(reports, res.Value)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return domain.SeverityRank(reports[i].Status) < domain.SeverityRank(reports[j].Status)
	})

	return reports, nil
}

// comparePeriods fetches the last week and the week before it as totals.
func (s *HealthService) comparePeriods(ctx context.Context, site string) (domain.PeriodComparison, error) {
	curStart, curEnd := s.analytics.DefaultWindow(comparisonPeriodDays)
	prevEnd := curStart.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(comparisonPeriodDays - 1))

	current, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:   site,
		StartDate: curStart,
		EndDate:   curEnd,
	})
	if err != nil {
		return domain.PeriodComparison{}, err
	}

	previous, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:   site,
		StartDate: prevStart,
		EndDate:   prevEnd,
	})
	if err != nil {
		return domain.PeriodComparison{}, err
	}

	return comparePeriodTotals(current, previous), nil
}

// comparePeriodTotals sums both row sets and computes the deltas. Positions
// are impression-weighted across rows.
func comparePeriodTotals(current, previous []domain.MetricRow) domain.PeriodComparison {
	sumRows := func(rows []domain.MetricRow) (clicks, impressions int, position float64) {
		var posWeight float64
		for _, row := range rows {
			clicks += row.Clicks
			impressions += row.Impressions
			posWeight += row.Position * float64(row.Impressions)
		}
		if impressions > 0 {
			position = posWeight / float64(impressions)
		}
		return clicks, impressions, position
	}

	curClicks, curImpressions, curPosition := sumRows(current)
	prevClicks, prevImpressions, prevPosition := sumRows(previous)

	return domain.PeriodComparison{
		CurrentClicks:            curClicks,
		PreviousClicks:           prevClicks,
		CurrentImpressions:       curImpressions,
		PreviousImpressions:      prevImpressions,
		CurrentPosition:          curPosition,
		PreviousPosition:         prevPosition,
		ClicksPercentChange:      percentChange(float64(curClicks), float64(prevClicks)),
		ImpressionsPercentChange: percentChange(float64(curImpressions), float64(prevImpressions)),
		PositionChange:           curPosition - prevPosition,
	}
}

func summarizeSitemaps(sitemaps []domain.Sitemap) domain.SitemapSummary {
	summary := domain.SitemapSummary{Total: len(sitemaps)}
	for _, sm := range sitemaps {
		if sm.IsPending {
			summary.Pending++
		}
		summary.Errors += sm.Errors
		summary.Warnings += sm.Warnings
	}
	return summary
}

// collectIssues renders every observed problem as a human-readable line, in
// a stable order.
func collectIssues(comparison domain.PeriodComparison, comparisonOK bool, sitemaps domain.SitemapSummary, sitemapsOK bool, crawlIssues int, crawlOK bool, anomalies []domain.Anomaly) []string {
	var issues []string

	if comparisonOK {
		if comparison.ClicksPercentChange <= warningDeclinePercent {
			issues = append(issues, fmt.Sprintf("clicks declined %.1f%% week over week", -comparison.ClicksPercentChange))
		}
		if comparison.ImpressionsPercentChange <= warningDeclinePercent {
			issues = append(issues, fmt.Sprintf("impressions declined %.1f%% week over week", -comparison.ImpressionsPercentChange))
		}
		if comparison.PositionChange > positionWorsenedBy {
			issues = append(issues, fmt.Sprintf("average position worsened by %.1f", comparison.PositionChange))
		}
		if comparison.CurrentClicks == 0 && comparison.CurrentImpressions == 0 {
			issues = append(issues, "no clicks or impressions recorded in the current period")
		}
	} else {
		issues = append(issues, "performance comparison unavailable")
	}

	if sitemapsOK {
		if sitemaps.Total == 0 {
			issues = append(issues, "no sitemaps submitted")
		}
		if sitemaps.Errors > 0 {
			issues = append(issues, fmt.Sprintf("%d sitemap errors reported", sitemaps.Errors))
		}
	} else {
		issues = append(issues, "sitemap status unavailable")
	}

	if crawlOK {
		if crawlIssues > 0 {
			issues = append(issues, fmt.Sprintf("%d URLs with crawl issues reported", crawlIssues))
		}
	} else {
		issues = append(issues, "crawl issue status unavailable")
	}

	for _, a := range anomalies {
		if a.Kind == domain.AnomalyDrop {
			issues = append(issues, fmt.Sprintf("traffic drop detected on %s (%.0f%% below the prior day)", a.Date, -a.PercentChange))
		}
	}

	return issues
}

// deriveStatus applies the precedence order: critical conditions first,
// then any recorded issue as warning, healthy otherwise.
func deriveStatus(comparison domain.PeriodComparison, comparisonOK bool, issues []string) string {
	if comparisonOK {
		if comparison.ClicksPercentChange <= criticalDeclinePercent ||
			comparison.ImpressionsPercentChange <= criticalDeclinePercent {
			return domain.StatusCritical
		}
		if comparison.CurrentClicks == 0 && comparison.CurrentImpressions == 0 {
			return domain.StatusCritical
		}
	}
	if len(issues) > 0 {
		return domain.StatusWarning
	}
	return domain.StatusHealthy
}
