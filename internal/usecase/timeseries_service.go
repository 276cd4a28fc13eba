package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

// countMetrics are summed per bucket; rate metrics are averaged.
var countMetrics = map[string]bool{
	domain.MetricClicks:      true,
	domain.MetricImpressions: true,
}

// TimeSeriesService buckets daily rows, computes rolling averages and
// day-of-week seasonality, and projects future values by least squares.
type TimeSeriesService struct {
	analytics *AnalyticsService
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewTimeSeriesService(analytics *AnalyticsService, logger *logger.Logger, metrics *metrics.Metrics) *TimeSeriesService {
	return &TimeSeriesService{
		analytics: analytics,
		logger:    logger,
		metrics:   metrics,
	}
}

// GetInsights fetches the site's daily series for [start, end] and returns
// the aggregated points together with a forecast. metricNames defaults to
// clicks and impressions; the first name is the primary metric driving the
// trend label and seasonality.
func (s *TimeSeriesService) GetInsights(ctx context.Context, site string, metricNames []string, granularity string, start, end time.Time) (domain.TimeSeriesInsights, error) {
	opStart := time.Now()
	cfg := s.analytics.Config()

	if len(metricNames) == 0 {
		metricNames = []string{domain.MetricClicks, domain.MetricImpressions}
	}
	if granularity == "" {
		granularity = domain.GranularityDay
	}
	if granularity != domain.GranularityDay && granularity != domain.GranularityWeek {
		return domain.TimeSeriesInsights{}, fmt.Errorf("%w: unknown granularity %q", domain.ErrInvalidQuery, granularity)
	}

	rows, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{domain.DimensionDate},
	})
	if err != nil {
		s.metrics.RecordAnalysisOp("timeseries", "failed", time.Since(opStart))
		return domain.TimeSeriesInsights{}, fmt.Errorf("failed to fetch series rows: %w", err)
	}

	points := buildSeries(rows, metricNames, granularity)
	applyRollingAverages(points, metricNames, cfg.RollingWindowSize)

	primary := metricNames[0]
	strength := 0.0
	if granularity == domain.GranularityDay {
		strength = markSeasonalPeaks(points, primary)
	}

	forecast := forecastSeries(points, metricNames, primary, cfg.ForecastDays)
	forecast.SeasonalityStrength = strength

	s.metrics.RecordAnalysisOp("timeseries", "success", time.Since(opStart))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"site":        site,
		"granularity": granularity,
		"points":      len(points),
		"trend":       forecast.Trend,
	}).Info("Time series insights computed")

	return domain.TimeSeriesInsights{
		Granularity: granularity,
		Points:      points,
		Forecast:    forecast,
	}, nil
}

// buildSeries groups date-keyed rows into day or ISO-week buckets, summing
// count metrics and averaging rate metrics, sorted ascending by label.
// Weekly buckets are labeled with their Monday.
func buildSeries(rows []domain.MetricRow, metricNames []string, granularity string) []domain.TimeSeriesPoint {
	type bucket struct {
		sums  map[string]float64
		count int
	}
	buckets := make(map[string]*bucket)

	for _, row := range rows {
		date, err := time.Parse(domain.DateLayout, row.Key())
		if err != nil {
			continue
		}

		label := row.Key()
		if granularity == domain.GranularityWeek {
			label = weekStart(date).Format(domain.DateLayout)
		}

		b, ok := buckets[label]
		if !ok {
			b = &bucket{sums: make(map[string]float64, len(metricNames))}
			buckets[label] = b
		}
		for _, m := range metricNames {
			b.sums[m] += row.MetricValue(m)
		}
		b.count++
	}

	points := make([]domain.TimeSeriesPoint, 0, len(buckets))
	for label, b := range buckets {
		values := make(map[string]float64, len(metricNames))
		for _, m := range metricNames {
			if countMetrics[m] || b.count == 0 {
				values[m] = b.sums[m]
			} else {
				values[m] = b.sums[m] / float64(b.count)
			}
		}
		points = append(points, domain.TimeSeriesPoint{
			BucketLabel: label,
			Metrics:     values,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].BucketLabel < points[j].BucketLabel
	})

	return points
}

// weekStart shifts a date back to the preceding Monday, or keeps it when it
// already is one.
func weekStart(date time.Time) time.Time {
	offset := (int(date.Weekday()) + 6) % 7
	return date.AddDate(0, 0, -offset)
}

// applyRollingAverages fills each point's simple moving average over the
// trailing windowSize points, clipped at the series start.
func applyRollingAverages(points []domain.TimeSeriesPoint, metricNames []string, windowSize int) {
	if windowSize < 1 {
		windowSize = 1
	}
	for i := range points {
		lo := i - windowSize + 1
		if lo < 0 {
			lo = 0
		}
		averages := make(map[string]float64, len(metricNames))
		for _, m := range metricNames {
			var sum float64
			for j := lo; j <= i; j++ {
				sum += points[j].Metrics[m]
			}
			averages[m] = sum / float64(i-lo+1)
		}
		points[i].RollingAverages = averages
	}
}

// markSeasonalPeaks estimates how strongly the primary metric depends on the
// day of week and flags every point falling on the strongest day. Requires
// at least 14 daily points; returns the strength in [0, 1].
func markSeasonalPeaks(points []domain.TimeSeriesPoint, primary string) float64 {
	if len(points) < 14 {
		return 0
	}

	sums := make([]float64, 7)
	counts := make([]int, 7)
	for _, p := range points {
		date, err := time.Parse(domain.DateLayout, p.BucketLabel)
		if err != nil {
			continue
		}
		dow := int(date.Weekday())
		sums[dow] += p.Metrics[primary]
		counts[dow]++
	}

	var means [7]float64
	var grand float64
	observed := 0
	for d := 0; d < 7; d++ {
		if counts[d] > 0 {
			means[d] = sums[d] / float64(counts[d])
			grand += means[d]
			observed++
		}
	}
	if observed == 0 || grand == 0 {
		return 0
	}
	grand /= float64(observed)

	// variance over the observed day means only, matching the grand mean's
	// denominator; never-observed days carry no signal
	var variance float64
	peakDay := -1
	for d := 0; d < 7; d++ {
		if counts[d] == 0 {
			continue
		}
		diff := means[d] - grand
		variance += diff * diff
		if peakDay < 0 || means[d] > means[peakDay] {
			peakDay = d
		}
	}
	variance /= float64(observed)
	strength := math.Min(1, math.Sqrt(variance)/grand)

	for i, p := range points {
		date, err := time.Parse(domain.DateLayout, p.BucketLabel)
		if err != nil {
			continue
		}
		if int(date.Weekday()) == peakDay {
			points[i].IsSeasonalPeak = true
		}
	}

	return strength
}

// forecastSeries fits ordinary least squares per metric over (index, value)
// pairs and projects forecastDays future values. Series shorter than two
// points yield an empty projection for that metric. The trend label follows
// the primary metric's slope with a 0.05 dead zone.
func forecastSeries(points []domain.TimeSeriesPoint, metricNames []string, primary string, forecastDays int) domain.ForecastResult {
	result := domain.ForecastResult{
		Trend:            domain.TrendStable,
		ForecastedValues: make(map[string][]float64, len(metricNames)),
	}

	for _, m := range metricNames {
		slope, intercept, ok := leastSquares(points, m)
		if !ok {
			result.ForecastedValues[m] = nil
			continue
		}

		projected := make([]float64, 0, forecastDays)
		for i := len(points); i < len(points)+forecastDays; i++ {
			projected = append(projected, math.Round(math.Max(0, slope*float64(i)+intercept)))
		}
		result.ForecastedValues[m] = projected

		if m == primary {
			switch {
			case slope > 0.05:
				result.Trend = domain.TrendUp
			case slope < -0.05:
				result.Trend = domain.TrendDown
			}
		}
	}

	return result
}

func leastSquares(points []domain.TimeSeriesPoint, metric string) (slope, intercept float64, ok bool) {
	n := float64(len(points))
	if len(points) < 2 {
		return 0, 0, false
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range points {
		x := float64(i)
		y := p.Metrics[metric]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, true
}
