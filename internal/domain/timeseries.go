package domain

// Aggregation granularities.
const (
	GranularityDay  = "day"
	GranularityWeek = "week"
)

// Forecast trend labels.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// TimeSeriesPoint is one aggregated bucket of an ordered series.
type TimeSeriesPoint struct {
	BucketLabel     string             `json:"bucket_label"`
	Metrics         map[string]float64 `json:"metrics"`
	RollingAverages map[string]float64 `json:"rolling_averages,omitempty"`
	IsSeasonalPeak  bool               `json:"is_seasonal_peak,omitempty"`
}

// ForecastResult is the OLS projection over a series.
type ForecastResult struct {
	Trend               string               `json:"trend"`
	ForecastedValues    map[string][]float64 `json:"forecasted_values"`
	SeasonalityStrength float64              `json:"seasonality_strength"`
}

// TimeSeriesInsights bundles the series, its forecast, and seasonality
// in the shape the insights endpoint returns.
type TimeSeriesInsights struct {
	Granularity string            `json:"granularity"`
	Points      []TimeSeriesPoint `json:"points"`
	Forecast    ForecastResult    `json:"forecast"`
}
