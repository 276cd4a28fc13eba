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

// TrendService compares periods per grouping key and scans ordered daily
// series for outliers.
type TrendService struct {
	analytics *AnalyticsService
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewTrendService(analytics *AnalyticsService, logger *logger.Logger, metrics *metrics.Metrics) *TrendService {
	return &TrendService{
		analytics: analytics,
		logger:    logger,
		metrics:   metrics,
	}
}

// DetectTrends compares the [start, end] period against the equal-length
// period immediately before it, per value of dimension.
func (s *TrendService) DetectTrends(ctx context.Context, site, dimension, metric string, start, end time.Time) ([]domain.TrendItem, error) {
	opStart := time.Now()

	periodLen := int(end.Sub(start).Hours()/24) + 1
	prevEnd := start.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(periodLen - 1))

	current, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{dimension},
	})
	if err != nil {
		s.metrics.RecordAnalysisOp("detect_trends", "failed", time.Since(opStart))
		return nil, fmt.Errorf("failed to fetch current period: %w", err)
	}

	previous, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  prevStart,
		EndDate:    prevEnd,
		Dimensions: []string{dimension},
	})
	if err != nil {
		s.metrics.RecordAnalysisOp("detect_trends", "failed", time.Since(opStart))
		return nil, fmt.Errorf("failed to fetch previous period: %w", err)
	}

	cfg := s.analytics.Config()
	items := detectTrends(current, previous, metric, cfg.TrendMinVolume, cfg.TrendThreshold)

	s.metrics.RecordAnalysisOp("detect_trends", "success", time.Since(opStart))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"site":      site,
		"dimension": dimension,
		"metric":    metric,
		"items":     len(items),
	}).Info("Trend detection completed")

	return items, nil
}

// DetectAnomalies scans the last windowDays of daily values of metric.
func (s *TrendService) DetectAnomalies(ctx context.Context, site, metric string, windowDays int) ([]domain.Anomaly, error) {
	opStart := time.Now()
	cfg := s.analytics.Config()

	if windowDays <= 0 {
		windowDays = cfg.AnomalyWindowDays
	}
	start, end := s.analytics.DefaultWindow(windowDays)

	rows, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{domain.DimensionDate},
	})
	if err != nil {
		s.metrics.RecordAnalysisOp("detect_anomalies", "failed", time.Since(opStart))
		return nil, fmt.Errorf("failed to fetch daily series: %w", err)
	}

	anomalies := detectAnomalies(rows, metric, cfg.AnomalyWindowDays, cfg.AnomalyThreshold, cfg.AnomalyMinVolume)

	s.metrics.RecordAnalysisOp("detect_anomalies", "success", time.Since(opStart))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"site":      site,
		"metric":    metric,
		"days":      windowDays,
		"anomalies": len(anomalies),
	}).Info("Anomaly scan completed")

	return anomalies, nil
}

// detectTrends builds a previous-period index and reports every current key
// above minVolume whose change magnitude crosses changeThreshold (percent).
// A key absent from the previous period counts as new: previous 0, +100%.
// Output is sorted by absolute value delta descending so large movers
// surface first.
func detectTrends(current, previous []domain.MetricRow, metric string, minVolume, changeThreshold float64) []domain.TrendItem {
	prevByKey := make(map[string]float64, len(previous))
	for _, row := range previous {
		prevByKey[row.Key()] += row.MetricValue(metric)
	}

	var items []domain.TrendItem
	for _, row := range current {
		value := row.MetricValue(metric)
		if value < minVolume {
			continue
		}

		prev := prevByKey[row.Key()]
		change := percentChange(value, prev)
		if math.Abs(change) < changeThreshold {
			continue
		}

		direction := domain.DirectionRising
		if change < 0 {
			direction = domain.DirectionDeclining
		}

		items = append(items, domain.TrendItem{
			Key:           row.Key(),
			CurrentValue:  value,
			PreviousValue: prev,
			PercentChange: change,
			Direction:     direction,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		di := math.Abs(items[i].CurrentValue - items[i].PreviousValue)
		dj := math.Abs(items[j].CurrentValue - items[j].PreviousValue)
		return di > dj
	})

	return items
}

// detectAnomalies slides through consecutive day pairs of a date-keyed row
// set and flags transitions whose relative change crosses threshold (a
// fraction, 0.25 means 25%). Days whose prior value is at or below minVolume
// are skipped so near-zero series do not produce noise.
func detectAnomalies(rows []domain.MetricRow, metric string, windowSize int, threshold, minVolume float64) []domain.Anomaly {
	if len(rows) < windowSize {
		return nil
	}

	series := make([]domain.MetricRow, len(rows))
	copy(series, rows)
	sort.Slice(series, func(i, j int) bool {
		return series[i].Key() < series[j].Key()
	})

	var anomalies []domain.Anomaly
	for i := 1; i < len(series); i++ {
		prev := series[i-1].MetricValue(metric)
		if prev <= minVolume {
			continue
		}

		value := series[i].MetricValue(metric)
		change := (value - prev) / prev
		if math.Abs(change) < threshold {
			continue
		}

		kind := domain.AnomalySpike
		if change < 0 {
			kind = domain.AnomalyDrop
		}

		anomalies = append(anomalies, domain.Anomaly{
			Date:          series[i].Key(),
			Metric:        metric,
			Kind:          kind,
			Value:         value,
			BaselineValue: prev,
			PercentChange: change * 100,
		})
	}

	return anomalies
}

// percentChange treats a zero baseline as +100% when the current value is
// positive, and 0% when both sides are zero.
func percentChange(current, previous float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (current - previous) / previous * 100
}
