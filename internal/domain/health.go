package domain

import "time"

// Health statuses, ordered by severity.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Site is one property the authenticated account can read.
type Site struct {
	URL             string `json:"url"`
	PermissionLevel string `json:"permission_level"`
}

// Sitemap is one submitted sitemap's reported state.
type Sitemap struct {
	Path          string    `json:"path"`
	IsPending     bool      `json:"is_pending"`
	Errors        int       `json:"errors"`
	Warnings      int       `json:"warnings"`
	LastSubmitted time.Time `json:"last_submitted,omitempty"`
}

// PeriodComparison is a week-over-week performance delta.
type PeriodComparison struct {
	CurrentClicks            int     `json:"current_clicks"`
	PreviousClicks           int     `json:"previous_clicks"`
	CurrentImpressions       int     `json:"current_impressions"`
	PreviousImpressions      int     `json:"previous_impressions"`
	CurrentPosition          float64 `json:"current_position"`
	PreviousPosition         float64 `json:"previous_position"`
	ClicksPercentChange      float64 `json:"clicks_percent_change"`
	ImpressionsPercentChange float64 `json:"impressions_percent_change"`
	PositionChange           float64 `json:"position_change"`
}

// SitemapSummary condenses a site's sitemap state for the health report.
type SitemapSummary struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// HealthReport is the composite per-site verdict. It is built fresh per
// invocation and never mutated after return.
type HealthReport struct {
	Site        string           `json:"site"`
	Status      string           `json:"status"`
	Performance PeriodComparison `json:"performance"`
	Sitemaps    SitemapSummary   `json:"sitemaps"`
	CrawlIssues int              `json:"crawl_issues"`
	Anomalies   []Anomaly        `json:"anomalies,omitempty"`
	Issues      []string         `json:"issues,omitempty"`
	CheckedAt   time.Time        `json:"checked_at"`
}

// SeverityRank orders statuses critical first for report sorting.
func SeverityRank(status string) int {
	switch status {
	case StatusCritical:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}
