package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/config"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"

	"golang.org/x/time/rate"
)

// bingStatsRow is the native Webmaster API row. Several fields are optional
// and the payload never carries a CTR; it is derived during normalization.
type bingStatsRow struct {
	Date                  string   `json:"Date,omitempty"`
	Query                 string   `json:"Query,omitempty"`
	Page                  string   `json:"Page,omitempty"`
	Clicks                *int     `json:"Clicks,omitempty"`
	Impressions           *int     `json:"Impressions,omitempty"`
	AvgImpressionPosition *float64 `json:"AvgImpressionPosition,omitempty"`
}

type bingStatsResponse struct {
	D []bingStatsRow `json:"d"`
}

type bingSitesResponse struct {
	D []struct {
		URL string `json:"Url"`
	} `json:"d"`
}

type bingSitemapsResponse struct {
	D []struct {
		URL         string `json:"Url"`
		Status      string `json:"Status"`
		LastCrawled string `json:"LastCrawled,omitempty"`
	} `json:"d"`
}

type bingCrawlIssuesResponse struct {
	D []struct {
		URL    string `json:"Url"`
		Issues int    `json:"Issues"`
	} `json:"d"`
}

// BingClient implements domain.SearchDataSource against the Bing Webmaster
// JSON API.
type BingClient struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	logger      *logger.Logger
	metrics     *metrics.Metrics
	rateLimiter *rate.Limiter
}

func NewBingClient(cfg config.ProviderConfig, logger *logger.Logger, metrics *metrics.Metrics) *BingClient {
	return &BingClient{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     cfg.BingAPIURL,
		apiKey:      cfg.BingAPIKey,
		logger:      logger,
		metrics:     metrics,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
	}
}

// FetchMetricRows pulls query or page stats and normalizes them, dropping
// rows outside the requested date range and deriving CTR from counts.
func (c *BingClient) FetchMetricRows(ctx context.Context, query domain.AnalyticsQuery) ([]domain.MetricRow, error) {
	method := "GetQueryStats"
	if len(query.Dimensions) > 0 && query.Dimensions[0] == domain.DimensionPage {
		method = "GetPageStats"
	}

	body, err := c.get(ctx, method, url.Values{"siteUrl": {query.SiteURL}})
	if err != nil {
		return nil, err
	}

	var response bingStatsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "json_parse")
		return nil, fmt.Errorf("failed to parse stats response: %w", err)
	}

	rows := make([]domain.MetricRow, 0, len(response.D))
	for _, r := range response.D {
		row, ok := normalizeBingRow(r, query)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"site":   query.SiteURL,
		"method": method,
		"rows":   len(rows),
	}).Debug("Fetched webmaster stats rows")

	return rows, nil
}

// ListSites returns the verified properties of the API key.
func (c *BingClient) ListSites(ctx context.Context) ([]domain.Site, error) {
	body, err := c.get(ctx, "GetUserSites", nil)
	if err != nil {
		return nil, err
	}

	var response bingSitesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "json_parse")
		return nil, fmt.Errorf("failed to parse sites response: %w", err)
	}

	sites := make([]domain.Site, 0, len(response.D))
	for _, entry := range response.D {
		sites = append(sites, domain.Site{URL: entry.URL, PermissionLevel: "siteOwner"})
	}
	return sites, nil
}

// ListSitemaps returns the submitted feeds of one property.
func (c *BingClient) ListSitemaps(ctx context.Context, siteURL string) ([]domain.Sitemap, error) {
	body, err := c.get(ctx, "GetFeeds", url.Values{"siteUrl": {siteURL}})
	if err != nil {
		return nil, err
	}

	var response bingSitemapsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "json_parse")
		return nil, fmt.Errorf("failed to parse feeds response: %w", err)
	}

	sitemaps := make([]domain.Sitemap, 0, len(response.D))
	for _, feed := range response.D {
		entry := domain.Sitemap{Path: feed.URL}
		switch feed.Status {
		case "Pending":
			entry.IsPending = true
		case "Error":
			entry.Errors = 1
		}
		if ts, err := time.Parse(time.RFC3339, feed.LastCrawled); err == nil {
			entry.LastSubmitted = ts
		}
		sitemaps = append(sitemaps, entry)
	}
	return sitemaps, nil
}

// CountCrawlIssues returns the number of URLs the crawler currently reports
// problems for.
func (c *BingClient) CountCrawlIssues(ctx context.Context, siteURL string) (int, error) {
	body, err := c.get(ctx, "GetCrawlIssues", url.Values{"siteUrl": {siteURL}})
	if err != nil {
		return 0, err
	}

	var response bingCrawlIssuesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "json_parse")
		return 0, fmt.Errorf("failed to parse crawl issues response: %w", err)
	}

	return len(response.D), nil
}

func (c *BingClient) get(ctx context.Context, method string, params url.Values) ([]byte, error) {
	start := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "rate_limit")
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, method, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "request_creation")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "network_error")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordExternalAPICall("bing", fmt.Sprintf("error_%d", resp.StatusCode), duration)
		return nil, classifyStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("bing", "read_body")
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.metrics.RecordExternalAPICall("bing", "success", duration)
	return body, nil
}

// normalizeBingRow builds a canonical row keyed per the requested
// dimensions, with zero defaults for absent counts and CTR derived from
// clicks over impressions. Rows outside [StartDate, EndDate] are dropped
// because the upstream endpoint does not filter by date itself.
func normalizeBingRow(r bingStatsRow, query domain.AnalyticsQuery) (domain.MetricRow, bool) {
	row := domain.MetricRow{Keys: []string{}}

	var rowDate time.Time
	if r.Date != "" {
		// dates arrive as /Date(1712102400000)/ or ISO depending on endpoint
		if ts, err := parseBingDate(r.Date); err == nil {
			rowDate = ts
		}
	}
	if !rowDate.IsZero() {
		if rowDate.Before(query.StartDate) || rowDate.After(query.EndDate) {
			return row, false
		}
	}

	for _, dim := range query.Dimensions {
		switch dim {
		case domain.DimensionDate:
			if rowDate.IsZero() {
				return row, false
			}
			row.Keys = append(row.Keys, rowDate.Format(domain.DateLayout))
		case domain.DimensionQuery:
			row.Keys = append(row.Keys, r.Query)
		case domain.DimensionPage:
			row.Keys = append(row.Keys, r.Page)
		default:
			// dimension not exposed by this backend
			return row, false
		}
	}

	if r.Clicks != nil {
		row.Clicks = *r.Clicks
	}
	if r.Impressions != nil {
		row.Impressions = *r.Impressions
	}
	if row.Impressions > 0 {
		row.CTR = float64(row.Clicks) / float64(row.Impressions)
	}
	if r.AvgImpressionPosition != nil {
		row.Position = *r.AvgImpressionPosition
	}

	return row, true
}

// parseBingDate accepts both the WCF epoch-millisecond form and ISO dates.
func parseBingDate(s string) (time.Time, error) {
	if ms, ok := wcfEpochMillis(s); ok {
		return time.UnixMilli(ms).UTC().Truncate(24 * time.Hour), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse(domain.DateLayout, s)
}

func wcfEpochMillis(s string) (int64, bool) {
	const prefix, suffix = "/Date(", ")/"
	if len(s) <= len(prefix)+len(suffix) || s[:len(prefix)] != prefix || s[len(s)-len(suffix):] != suffix {
		return 0, false
	}
	var ms int64
	if _, err := fmt.Sscanf(s[len(prefix):len(s)-len(suffix)], "%d", &ms); err != nil {
		return 0, false
	}
	return ms, true
}
