package domain

// Trend directions.
const (
	DirectionRising    = "rising"
	DirectionDeclining = "declining"
)

// Anomaly kinds.
const (
	AnomalyDrop  = "drop"
	AnomalySpike = "spike"
)

// TrendItem describes one grouping key's movement between two periods.
type TrendItem struct {
	Key           string  `json:"key"`
	CurrentValue  float64 `json:"current_value"`
	PreviousValue float64 `json:"previous_value"`
	PercentChange float64 `json:"percent_change"`
	Direction     string  `json:"direction"`
}

// Anomaly describes one outlier transition in an ordered daily series.
type Anomaly struct {
	Date          string  `json:"date"`
	Metric        string  `json:"metric"`
	Kind          string  `json:"kind"`
	Value         float64 `json:"value"`
	BaselineValue float64 `json:"baseline_value"`
	PercentChange float64 `json:"percent_change"`
}

// OpportunityItem is the shared shape of the ranking-opportunity findings
// (low-hanging fruit, striking distance, page-level quick wins).
type OpportunityItem struct {
	Keys            []string `json:"keys"`
	Clicks          int      `json:"clicks"`
	Impressions     int      `json:"impressions"`
	CTR             float64  `json:"ctr"`
	Position        float64  `json:"position"`
	PotentialClicks int      `json:"potential_clicks"`
}

// CannibalizationIssue reports multiple pages competing for one query.
type CannibalizationIssue struct {
	Query            string   `json:"query"`
	Pages            []string `json:"pages"`
	TotalImpressions int      `json:"total_impressions"`
	TotalClicks      int      `json:"total_clicks"`
	ConflictScore    float64  `json:"conflict_score"`
	LeadingPage      string   `json:"leading_page"`
	RunnerUpShare    float64  `json:"runner_up_share"`
}

// LowCTRItem reports a top-10 ranking underperforming its position benchmark.
type LowCTRItem struct {
	Keys        []string `json:"keys"`
	Impressions int      `json:"impressions"`
	Position    float64  `json:"position"`
	ActualCTR   float64  `json:"actual_ctr"`
	ExpectedCTR float64  `json:"expected_ctr"`
}

// LostQuery reports a key whose traffic collapsed between two adjacent periods.
type LostQuery struct {
	Key            string `json:"key"`
	PreviousClicks int    `json:"previous_clicks"`
	CurrentClicks  int    `json:"current_clicks"`
	ClicksLost     int    `json:"clicks_lost"`
}

// BrandSegment aggregates one side of the brand / non-brand split.
type BrandSegment struct {
	Queries         int     `json:"queries"`
	Clicks          int     `json:"clicks"`
	Impressions     int     `json:"impressions"`
	AveragePosition float64 `json:"average_position"`
	ClickShare      float64 `json:"click_share"`
	ImpressionShare float64 `json:"impression_share"`
}

// BrandSplit is the full segmentation result.
type BrandSplit struct {
	Pattern  string       `json:"pattern"`
	Brand    BrandSegment `json:"brand"`
	NonBrand BrandSegment `json:"non_brand"`
}

// ExternalEvent is one entry of the static calendar used for drop attribution.
type ExternalEvent struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// DropAttribution explains the most recent detected traffic drop.
type DropAttribution struct {
	Drop           *Anomaly        `json:"drop,omitempty"`
	AffectedDevice string          `json:"affected_device"`
	DeviceNote     string          `json:"device_note,omitempty"`
	PossibleCauses []ExternalEvent `json:"possible_causes,omitempty"`
}

// Recommendation priorities, highest first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Recommendation is one human-readable synthesized insight.
type Recommendation struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Priority string `json:"priority"`
}
