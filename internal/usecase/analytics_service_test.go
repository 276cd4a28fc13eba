package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
)

func TestQueryRejectsInvalidInput(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		query domain.AnalyticsQuery
	}{
		{
			name:  "missing site",
			query: domain.AnalyticsQuery{StartDate: start, EndDate: start},
		},
		{
			name:  "missing dates",
			query: domain.AnalyticsQuery{SiteURL: "https://example.com/"},
		},
		{
			name: "inverted range",
			query: domain.AnalyticsQuery{
				SiteURL:   "https://example.com/",
				StartDate: start,
				EndDate:   start.AddDate(0, 0, -1),
			},
		},
		{
			name: "unknown dimension",
			query: domain.AnalyticsQuery{
				SiteURL:    "https://example.com/",
				StartDate:  start,
				EndDate:    start,
				Dimensions: []string{"keyword"},
			},
		},
		{
			name: "duplicate dimension",
			query: domain.AnalyticsQuery{
				SiteURL:    "https://example.com/",
				StartDate:  start,
				EndDate:    start,
				Dimensions: []string{domain.DimensionQuery, domain.DimensionQuery},
			},
		},
	}

	svc := newTestAnalytics(&fakeSource{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Query(context.Background(), tt.query)
			assert.ErrorIs(t, err, domain.ErrInvalidQuery)
		})
	}
}

func TestQueryAppliesDefaultRowLimit(t *testing.T) {
	var captured domain.AnalyticsQuery
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			captured = q
			return nil, nil
		},
	}

	svc := newTestAnalytics(source)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Query(context.Background(), domain.AnalyticsQuery{
		SiteURL:   "https://example.com/",
		StartDate: start,
		EndDate:   start,
	})
	require.NoError(t, err)
	assert.Equal(t, testAnalyticsConfig.DefaultRowLimit, captured.RowLimit)
}

func TestQueryPropagatesSourceErrors(t *testing.T) {
	source := &fakeSource{
		fetch: func(ctx context.Context, q domain.AnalyticsQuery) ([]domain.MetricRow, error) {
			return nil, domain.ErrQuota
		},
	}

	svc := newTestAnalytics(source)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Query(context.Background(), domain.AnalyticsQuery{
		SiteURL:   "https://example.com/",
		StartDate: start,
		EndDate:   start,
	})
	assert.ErrorIs(t, err, domain.ErrQuota)
}

func TestDefaultWindowAppliesReportingLag(t *testing.T) {
	svc := newTestAnalytics(&fakeSource{})

	start, end := svc.DefaultWindow(7)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	assert.Equal(t, today.AddDate(0, 0, -testAnalyticsConfig.ReportingLagDays), end)
	assert.Equal(t, end.AddDate(0, 0, -6), start)
}
