package domain

import (
	"fmt"
	"time"
)

// Dimensions accepted by the reporting backends.
const (
	DimensionQuery            = "query"
	DimensionPage             = "page"
	DimensionDate             = "date"
	DimensionDevice           = "device"
	DimensionCountry          = "country"
	DimensionSearchAppearance = "searchAppearance"
)

// Metric names understood by the analytical core.
const (
	MetricClicks      = "clicks"
	MetricImpressions = "impressions"
	MetricCTR         = "ctr"
	MetricPosition    = "position"
)

// canonical row shape every backend is normalized into
type MetricRow struct {
	Keys        []string `json:"keys"`
	Clicks      int      `json:"clicks"`
	Impressions int      `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// Key returns the row's grouping key as a single string.
func (r MetricRow) Key() string {
	if len(r.Keys) == 0 {
		return ""
	}
	key := r.Keys[0]
	for _, k := range r.Keys[1:] {
		key += "|" + k
	}
	return key
}

// MetricValue returns the named metric of the row, 0 for unknown names.
func (r MetricRow) MetricValue(metric string) float64 {
	switch metric {
	case MetricClicks:
		return float64(r.Clicks)
	case MetricImpressions:
		return float64(r.Impressions)
	case MetricCTR:
		return r.CTR
	case MetricPosition:
		return r.Position
	}
	return 0
}

// single filter applied to a reporting dimension
type DimensionFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

// AnalyticsQuery describes one request against a reporting backend.
type AnalyticsQuery struct {
	SiteURL    string            `json:"site_url"`
	StartDate  time.Time         `json:"start_date"`
	EndDate    time.Time         `json:"end_date"`
	Dimensions []string          `json:"dimensions,omitempty"`
	Filters    []DimensionFilter `json:"filters,omitempty"`
	RowLimit   int               `json:"row_limit,omitempty"`
}

var validDimensions = map[string]bool{
	DimensionQuery:            true,
	DimensionPage:             true,
	DimensionDate:             true,
	DimensionDevice:           true,
	DimensionCountry:          true,
	DimensionSearchAppearance: true,
}

// Validate checks the query parameters and wraps every violation in ErrInvalidQuery.
func (q AnalyticsQuery) Validate() error {
	if q.SiteURL == "" {
		return fmt.Errorf("%w: site URL is required", ErrInvalidQuery)
	}
	if q.StartDate.IsZero() || q.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidQuery)
	}
	if q.EndDate.Before(q.StartDate) {
		return fmt.Errorf("%w: end date %s precedes start date %s",
			ErrInvalidQuery, q.EndDate.Format(DateLayout), q.StartDate.Format(DateLayout))
	}
	seen := make(map[string]bool, len(q.Dimensions))
	for _, d := range q.Dimensions {
		if !validDimensions[d] {
			return fmt.Errorf("%w: unknown dimension %q", ErrInvalidQuery, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: duplicate dimension %q", ErrInvalidQuery, d)
		}
		seen[d] = true
	}
	for _, f := range q.Filters {
		if !validDimensions[f.Dimension] {
			return fmt.Errorf("%w: unknown filter dimension %q", ErrInvalidQuery, f.Dimension)
		}
	}
	if q.RowLimit < 0 {
		return fmt.Errorf("%w: row limit must be non-negative", ErrInvalidQuery)
	}
	return nil
}

// DateLayout is the wire format for dates on both backends.
const DateLayout = "2006-01-02"
