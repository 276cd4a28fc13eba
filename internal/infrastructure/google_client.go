package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/config"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"

	"golang.org/x/time/rate"
)

// googleRow is the native Search Analytics row shape.
type googleRow struct {
	Keys        []string `json:"keys"`
	Clicks      *float64 `json:"clicks,omitempty"`
	Impressions *float64 `json:"impressions,omitempty"`
	CTR         *float64 `json:"ctr,omitempty"`
	Position    *float64 `json:"position,omitempty"`
}

type googleQueryRequest struct {
	StartDate             string              `json:"startDate"`
	EndDate               string              `json:"endDate"`
	Dimensions            []string            `json:"dimensions,omitempty"`
	DimensionFilterGroups []googleFilterGroup `json:"dimensionFilterGroups,omitempty"`
	RowLimit              int                 `json:"rowLimit,omitempty"`
}

type googleFilterGroup struct {
	Filters []googleFilter `json:"filters"`
}

type googleFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type googleQueryResponse struct {
	Rows []googleRow `json:"rows"`
}

type googleSitesResponse struct {
	SiteEntry []struct {
		SiteURL         string `json:"siteUrl"`
		PermissionLevel string `json:"permissionLevel"`
	} `json:"siteEntry"`
}

type googleSitemapsResponse struct {
	Sitemap []struct {
		Path          string `json:"path"`
		IsPending     bool   `json:"isPending"`
		Errors        string `json:"errors"`
		Warnings      string `json:"warnings"`
		LastSubmitted string `json:"lastSubmitted"`
	} `json:"sitemap"`
}

// GoogleClient implements domain.SearchDataSource against the Search
// Console reporting API.
type GoogleClient struct {
	client      *http.Client
	baseURL     string
	accessToken string
	logger      *logger.Logger
	metrics     *metrics.Metrics
	rateLimiter *rate.Limiter
}

func NewGoogleClient(cfg config.ProviderConfig, logger *logger.Logger, metrics *metrics.Metrics) *GoogleClient {
	return &GoogleClient{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     cfg.GoogleAPIURL,
		accessToken: cfg.GoogleAccessToken,
		logger:      logger,
		metrics:     metrics,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
	}
}

// FetchMetricRows runs a Search Analytics query and normalizes the response
// rows into the canonical shape, with explicit zeros for absent counts.
func (c *GoogleClient) FetchMetricRows(ctx context.Context, query domain.AnalyticsQuery) ([]domain.MetricRow, error) {
	start := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure("google", "rate_limit")
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	reqBody := googleQueryRequest{
		StartDate:  query.StartDate.Format(domain.DateLayout),
		EndDate:    query.EndDate.Format(domain.DateLayout),
		Dimensions: query.Dimensions,
		RowLimit:   query.RowLimit,
	}
	if len(query.Filters) > 0 {
		group := googleFilterGroup{Filters: make([]googleFilter, len(query.Filters))}
		for i, f := range query.Filters {
			group.Filters[i] = googleFilter{
				Dimension:  f.Dimension,
				Operator:   f.Operator,
				Expression: f.Expression,
			}
		}
		reqBody.DimensionFilterGroups = []googleFilterGroup{group}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("google", "json_marshal")
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.baseURL, url.PathEscape(query.SiteURL))
	body, err := c.do(ctx, "google", http.MethodPost, endpoint, payload, start)
	if err != nil {
		return nil, err
	}

	var response googleQueryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.metrics.RecordExternalAPIFailure("google", "json_parse")
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}

	rows := make([]domain.MetricRow, 0, len(response.Rows))
	for _, r := range response.Rows {
		rows = append(rows, normalizeGoogleRow(r))
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"site":     query.SiteURL,
		"duration": time.Since(start),
		"rows":     len(rows),
	}).Debug("Fetched search analytics rows")

	return rows, nil
}

// ListSites returns the properties the token can read.
func (c *GoogleClient) ListSites(ctx context.Context) ([]domain.Site, error) {
	start := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure("google", "rate_limit")
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	body, err := c.do(ctx, "google", http.MethodGet, c.baseURL+"/sites", nil, start)
	if err != nil {
		return nil, err
	}

	var response googleSitesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.metrics.RecordExternalAPIFailure("google", "json_parse")
		return nil, fmt.Errorf("failed to parse sites response: %w", err)
	}

	sites := make([]domain.Site, 0, len(response.SiteEntry))
	for _, entry := range response.SiteEntry {
		sites = append(sites, domain.Site{
			URL:             entry.SiteURL,
			PermissionLevel: entry.PermissionLevel,
		})
	}
	return sites, nil
}

// ListSitemaps returns the submitted sitemaps of one property.
func (c *GoogleClient) ListSitemaps(ctx context.Context, siteURL string) ([]domain.Sitemap, error) {
	start := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure("google", "rate_limit")
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/sitemaps", c.baseURL, url.PathEscape(siteURL))
	body, err := c.do(ctx, "google", http.MethodGet, endpoint, nil, start)
	if err != nil {
		return nil, err
	}

	var response googleSitemapsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.metrics.RecordExternalAPIFailure("google", "json_parse")
		return nil, fmt.Errorf("failed to parse sitemaps response: %w", err)
	}

	sitemaps := make([]domain.Sitemap, 0, len(response.Sitemap))
	for _, sm := range response.Sitemap {
		entry := domain.Sitemap{
			Path:      sm.Path,
			IsPending: sm.IsPending,
			Errors:    atoiLenient(sm.Errors),
			Warnings:  atoiLenient(sm.Warnings),
		}
		if ts, err := time.Parse(time.RFC3339, sm.LastSubmitted); err == nil {
			entry.LastSubmitted = ts
		}
		sitemaps = append(sitemaps, entry)
	}
	return sitemaps, nil
}

// CountCrawlIssues reports zero: the Search Console API retired its crawl
// errors endpoint, so this backend carries no crawl signal.
func (c *GoogleClient) CountCrawlIssues(ctx context.Context, siteURL string) (int, error) {
	return 0, nil
}

// do issues one request, records call metrics, and classifies failures.
func (c *GoogleClient) do(ctx context.Context, api, method, endpoint string, payload []byte, start time.Time) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "request_creation")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "network_error")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordExternalAPICall(api, fmt.Sprintf("error_%d", resp.StatusCode), duration)
		return nil, classifyStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "read_body")
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.metrics.RecordExternalAPICall(api, "success", duration)
	return body, nil
}

// classifyStatus maps HTTP statuses onto the distinguishable error classes.
func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrAuth, status)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrQuota, status)
	case http.StatusNotFound:
		return fmt.Errorf("%w: status %d", domain.ErrNotFound, status)
	}
	return fmt.Errorf("backend returned status %d", status)
}

// normalizeGoogleRow fills explicit zeros for any absent field so the core
// never special-cases missing data.
func normalizeGoogleRow(r googleRow) domain.MetricRow {
	row := domain.MetricRow{Keys: r.Keys}
	if row.Keys == nil {
		row.Keys = []string{}
	}
	if r.Clicks != nil {
		row.Clicks = int(*r.Clicks)
	}
	if r.Impressions != nil {
		row.Impressions = int(*r.Impressions)
	}
	if r.CTR != nil {
		row.CTR = *r.CTR
	}
	if r.Position != nil {
		row.Position = *r.Position
	}
	return row
}

func atoiLenient(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
