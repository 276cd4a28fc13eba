package domain

import "context"

// SearchDataSource is the reporting-backend capability the analytical core
// consumes. Implementations normalize their native rows into MetricRow.
type SearchDataSource interface {
	FetchMetricRows(ctx context.Context, query AnalyticsQuery) ([]MetricRow, error)
	ListSites(ctx context.Context) ([]Site, error)
	ListSitemaps(ctx context.Context, siteURL string) ([]Sitemap, error)
	// CountCrawlIssues reports how many URLs of the property currently carry
	// crawl problems. Backends without a crawl-issue endpoint report zero.
	CountCrawlIssues(ctx context.Context, siteURL string) (int, error)
}

// QueryMatcher classifies text against a caller-supplied pattern. It must
// never panic; an invalid pattern matches nothing (fail-closed).
type QueryMatcher interface {
	Matches(pattern, text string) bool
}
