package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

// Tunables of the derivation passes.
const (
	// conservative achievable CTR used for potential-click estimates
	targetCTR = 0.15

	// flag a top-10 ranking when its CTR is below this share of benchmark
	lowCTRBenchmarkRatio = 0.6

	// a query is lost when current clicks fall below this share of prior
	lostQueryRatio = 0.2

	// cannibalization reporting floors
	cannibalConflictFloor  = 0.3
	cannibalRunnerUpShare  = 0.5
	cannibalMinImpressions = 50

	// device attribution: a device is disproportionately affected when it
	// retains less than half its baseline while the others hold up
	deviceDropRatio   = 0.5
	deviceRatioSpread = 0.15

	defaultWindowDays   = 28
	lostQueryNoiseFloor = 5
)

// expectedCTRByPosition is the fixed position benchmark table.
var expectedCTRByPosition = [11]float64{0, 0.30, 0.15, 0.10, 0.07, 0.05, 0.04, 0.03, 0.025, 0.02, 0.01}

// knownExternalEvents is the static calendar matched against detected drops.
var knownExternalEvents = []domain.ExternalEvent{
	{Date: "2024-03-05", Name: "March 2024 core update"},
	{Date: "2024-06-20", Name: "June 2024 spam update"},
	{Date: "2024-08-15", Name: "August 2024 core update"},
	{Date: "2024-11-11", Name: "November 2024 core update"},
	{Date: "2024-12-12", Name: "December 2024 core update"},
	{Date: "2025-03-13", Name: "March 2025 core update"},
	{Date: "2025-06-30", Name: "June 2025 core update"},
}

// InsightService derives decision-grade findings from raw metric rows.
type InsightService struct {
	analytics *AnalyticsService
	trends    *TrendService
	matcher   domain.QueryMatcher
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewInsightService(
	analytics *AnalyticsService,
	trends *TrendService,
	matcher domain.QueryMatcher,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *InsightService {
	return &InsightService{
		analytics: analytics,
		trends:    trends,
		matcher:   matcher,
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *InsightService) queryRows(ctx context.Context, site string, days int, dimensions ...string) ([]domain.MetricRow, error) {
	if days <= 0 {
		days = defaultWindowDays
	}
	start, end := s.analytics.DefaultWindow(days)
	return s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  start,
		EndDate:    end,
		Dimensions: dimensions,
	})
}

// FindLowHangingFruit lists queries ranking in positions 5-20 with meaningful
// impression volume, ranked by unrealized click potential.
func (s *InsightService) FindLowHangingFruit(ctx context.Context, site string, days, minImpressions int) ([]domain.OpportunityItem, error) {
	opStart := time.Now()

	rows, err := s.queryRows(ctx, site, days, domain.DimensionQuery)
	if err != nil {
		s.metrics.RecordAnalysisOp("low_hanging_fruit", "failed", time.Since(opStart))
		return nil, err
	}

	items := findOpportunities(rows, 5, 20, minImpressions)
	sortByPotential(items)

	s.metrics.RecordAnalysisOp("low_hanging_fruit", "success", time.Since(opStart))
	return items, nil
}

// FindStrikingDistance lists queries in positions 8-15, ranked by impressions.
func (s *InsightService) FindStrikingDistance(ctx context.Context, site string, days, minImpressions int) ([]domain.OpportunityItem, error) {
	opStart := time.Now()

	rows, err := s.queryRows(ctx, site, days, domain.DimensionQuery)
	if err != nil {
		s.metrics.RecordAnalysisOp("striking_distance", "failed", time.Since(opStart))
		return nil, err
	}

	items := findOpportunities(rows, 8, 15, minImpressions)
	sortByImpressions(items)

	s.metrics.RecordAnalysisOp("striking_distance", "success", time.Since(opStart))
	return items, nil
}

// FindQuickWins lists pages in positions 11-20, ranked by impressions.
func (s *InsightService) FindQuickWins(ctx context.Context, site string, days, minImpressions int) ([]domain.OpportunityItem, error) {
	opStart := time.Now()

	rows, err := s.queryRows(ctx, site, days, domain.DimensionPage)
	if err != nil {
		s.metrics.RecordAnalysisOp("quick_wins", "failed", time.Since(opStart))
		return nil, err
	}

	items := findOpportunities(rows, 11, 20, minImpressions)
	sortByImpressions(items)

	s.metrics.RecordAnalysisOp("quick_wins", "success", time.Since(opStart))
	return items, nil
}

// DetectCannibalization reports queries whose impressions are split across
// several competing pages.
func (s *InsightService) DetectCannibalization(ctx context.Context, site string, days int) ([]domain.CannibalizationIssue, error) {
	opStart := time.Now()

	rows, err := s.queryRows(ctx, site, days, domain.DimensionQuery, domain.DimensionPage)
	if err != nil {
		s.metrics.RecordAnalysisOp("cannibalization", "failed", time.Since(opStart))
		return nil, err
	}

	issues := detectCannibalization(rows)

	s.metrics.RecordAnalysisOp("cannibalization", "success", time.Since(opStart))
	return issues, nil
}

// FindLowCTROpportunities reports top-10 rankings underperforming the
// position benchmark table, ranked by impressions.
func (s *InsightService) FindLowCTROpportunities(ctx context.Context, site string, days, minImpressions int) ([]domain.LowCTRItem, error) {
	opStart := time.Now()

	rows, err := s.queryRows(ctx, site, days, domain.DimensionQuery)
	if err != nil {
		s.metrics.RecordAnalysisOp("low_ctr", "failed", time.Since(opStart))
		return nil, err
	}

	items := findLowCTR(rows, minImpressions)

	s.metrics.RecordAnalysisOp("low_ctr", "success", time.Since(opStart))
	return items, nil
}

// FindLostQueries compares two adjacent equal-length periods and reports
// queries whose clicks collapsed, ranked by absolute clicks lost.
func (s *InsightService) FindLostQueries(ctx context.Context, site string, periodDays int) ([]domain.LostQuery, error) {
	opStart := time.Now()

	if periodDays <= 0 {
		periodDays = defaultWindowDays
	}
	curStart, curEnd := s.analytics.DefaultWindow(periodDays)
	prevEnd := curStart.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(periodDays - 1))

	current, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  curStart,
		EndDate:    curEnd,
		Dimensions: []string{domain.DimensionQuery},
	})
	if err != nil {
		s.metrics.RecordAnalysisOp("lost_queries", "failed", time.Since(opStart))
		return nil, err
	}

	previous, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  prevStart,
		EndDate:    prevEnd,
		Dimensions: []string{domain.DimensionQuery},
	})
	if err != nil {
		s.metrics.RecordAnalysisOp("lost_queries", "failed", time.Since(opStart))
		return nil, err
	}

	lost := findLostQueries(current, previous, lostQueryNoiseFloor)

	s.metrics.RecordAnalysisOp("lost_queries", "success", time.Since(opStart))
	return lost, nil
}

// AnalyzeBrandSplit segments query traffic into brand and non-brand via the
// injected matcher.
func (s *InsightService) AnalyzeBrandSplit(ctx context.Context, site, pattern string, days int) (domain.BrandSplit, error) {
	opStart := time.Now()

	rows, err := s.queryRows(ctx, site, days, domain.DimensionQuery)
	if err != nil {
		s.metrics.RecordAnalysisOp("brand_split", "failed", time.Since(opStart))
		return domain.BrandSplit{}, err
	}

	split := brandSplit(rows, pattern, s.matcher)

	s.metrics.RecordAnalysisOp("brand_split", "success", time.Since(opStart))
	return split, nil
}

// AnalyzeDropAttribution explains the most recent click drop through device
// concentration and the external event calendar.
func (s *InsightService) AnalyzeDropAttribution(ctx context.Context, site string) (domain.DropAttribution, error) {
	opStart := time.Now()

	anomalies, err := s.trends.DetectAnomalies(ctx, site, domain.MetricClicks, 0)
	if err != nil {
		s.metrics.RecordAnalysisOp("drop_attribution", "failed", time.Since(opStart))
		return domain.DropAttribution{}, err
	}

	var drop *domain.Anomaly
	for i := len(anomalies) - 1; i >= 0; i-- {
		if anomalies[i].Kind == domain.AnomalyDrop {
			drop = &anomalies[i]
			break
		}
	}
	if drop == nil {
		s.metrics.RecordAnalysisOp("drop_attribution", "success", time.Since(opStart))
		return domain.DropAttribution{AffectedDevice: "none", DeviceNote: "no drop detected in the scan window"}, nil
	}

	attribution := domain.DropAttribution{
		Drop:           drop,
		PossibleCauses: matchExternalEvents(drop.Date, knownExternalEvents, 2),
	}

	device, note := s.attributeDevice(ctx, site, drop.Date)
	attribution.AffectedDevice = device
	attribution.DeviceNote = note

	s.metrics.RecordAnalysisOp("drop_attribution", "success", time.Since(opStart))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"site":   site,
		"date":   drop.Date,
		"device": device,
		"events": len(attribution.PossibleCauses),
	}).Info("Drop attribution completed")

	return attribution, nil
}

// attributeDevice compares the drop day's per-device clicks against each
// device's 7-day-prior daily average. A failing sub-fetch degrades to
// "unavailable" rather than failing the attribution.
func (s *InsightService) attributeDevice(ctx context.Context, site, dropDate string) (string, string) {
	date, err := time.Parse(domain.DateLayout, dropDate)
	if err != nil {
		return "unavailable", "drop date could not be parsed"
	}

	dayRows, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  date,
		EndDate:    date,
		Dimensions: []string{domain.DimensionDevice},
	})
	if err != nil {
		return "unavailable", "device breakdown not available for the drop day"
	}

	priorRows, err := s.analytics.Query(ctx, domain.AnalyticsQuery{
		SiteURL:    site,
		StartDate:  date.AddDate(0, 0, -7),
		EndDate:    date.AddDate(0, 0, -1),
		Dimensions: []string{domain.DimensionDevice},
	})
	if err != nil {
		return "unavailable", "device baseline not available"
	}

	return attributeDevice(dayRows, priorRows)
}

// GenerateRecommendations runs the low-hanging-fruit, cannibalization, and
// quick-win passes concurrently and folds the non-empty ones into a
// priority-sorted list. A failing sub-analysis is skipped, not fatal.
func (s *InsightService) GenerateRecommendations(ctx context.Context, site string) ([]domain.Recommendation, error) {
	opStart := time.Now()
	log := s.logger.WithContext(ctx)

	var (
		fruit    []domain.OpportunityItem
		issues   []domain.CannibalizationIssue
		wins     []domain.OpportunityItem
		fruitErr error
		issueErr error
		winsErr  error
	)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		fruit, fruitErr = s.FindLowHangingFruit(ctx, site, 0, cannibalMinImpressions)
		if fruitErr != nil {
			log.WithError(fruitErr).Warn("Low-hanging-fruit pass failed")
		}
	}()

	go func() {
		defer wg.Done()
		issues, issueErr = s.DetectCannibalization(ctx, site, 0)
		if issueErr != nil {
			log.WithError(issueErr).Warn("Cannibalization pass failed")
		}
	}()

	go func() {
		defer wg.Done()
		wins, winsErr = s.FindQuickWins(ctx, site, 0, cannibalMinImpressions)
		if winsErr != nil {
			log.WithError(winsErr).Warn("Quick-wins pass failed")
		}
	}()

	wg.Wait()

	if fruitErr != nil && issueErr != nil && winsErr != nil {
		s.metrics.RecordAnalysisOp("recommendations", "failed", time.Since(opStart))
		return nil, fmt.Errorf("all recommendation passes failed: %w", fruitErr)
	}

	var recs []domain.Recommendation

	if len(issues) > 0 {
		top := issues[0]
		recs = append(recs, domain.Recommendation{
			Title: "Resolve keyword cannibalization",
			Detail: fmt.Sprintf("%d queries have multiple pages competing; worst is %q split across %d pages",
				len(issues), top.Query, len(top.Pages)),
			Priority: domain.PriorityHigh,
		})
	}

	if len(fruit) > 0 {
		potential := 0
		for _, f := range fruit {
			potential += f.PotentialClicks
		}
		recs = append(recs, domain.Recommendation{
			Title: "Improve mid-ranking queries",
			Detail: fmt.Sprintf("%d queries rank in positions 5-20 with roughly %d additional clicks available",
				len(fruit), potential),
			Priority: domain.PriorityMedium,
		})
	}

	if len(wins) > 0 {
		recs = append(recs, domain.Recommendation{
			Title: "Push page-two pages onto page one",
			Detail: fmt.Sprintf("%d pages sit in positions 11-20 within striking distance of page one",
				len(wins)),
			Priority: domain.PriorityLow,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank(recs[i].Priority) < priorityRank(recs[j].Priority)
	})

	s.metrics.RecordAnalysisOp("recommendations", "success", time.Since(opStart))
	return recs, nil
}

func priorityRank(p string) int {
	switch p {
	case domain.PriorityHigh:
		return 0
	case domain.PriorityMedium:
		return 1
	default:
		return 2
	}
}

// findOpportunities filters rows to the position band and impression floor
// and estimates achievable clicks at the conservative target CTR.
func findOpportunities(rows []domain.MetricRow, minPos, maxPos float64, minImpressions int) []domain.OpportunityItem {
	var items []domain.OpportunityItem
	for _, row := range rows {
		if row.Position < minPos || row.Position > maxPos || row.Impressions < minImpressions {
			continue
		}
		potential := int(math.Round(float64(row.Impressions)*targetCTR)) - row.Clicks
		if potential < 0 {
			potential = 0
		}
		items = append(items, domain.OpportunityItem{
			Keys:            row.Keys,
			Clicks:          row.Clicks,
			Impressions:     row.Impressions,
			CTR:             row.CTR,
			Position:        row.Position,
			PotentialClicks: potential,
		})
	}
	return items
}

func sortByPotential(items []domain.OpportunityItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PotentialClicks > items[j].PotentialClicks
	})
}

func sortByImpressions(items []domain.OpportunityItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Impressions > items[j].Impressions
	})
}

// detectCannibalization groups query+page rows per query, sums duplicates
// into one entry per distinct page, and scores how evenly impressions are
// split across those pages. A query competes with itself only when at least
// two distinct pages rank for it; repeated rows for the same page are volume,
// not conflict. Concentration is the sum of squared impression shares;
// conflict is its complement, 0 when one page dominates and approaching 1
// when the split is even. Issues are ranked by total volume times conflict,
// stable for identical scores.
func detectCannibalization(rows []domain.MetricRow) []domain.CannibalizationIssue {
	type pageStat struct {
		page        string
		clicks      int
		impressions int
	}
	byQuery := make(map[string]map[string]*pageStat)
	order := make([]string, 0)

	for _, row := range rows {
		if len(row.Keys) < 2 {
			continue
		}
		query, page := row.Keys[0], row.Keys[1]
		perPage, seen := byQuery[query]
		if !seen {
			perPage = make(map[string]*pageStat)
			byQuery[query] = perPage
			order = append(order, query)
		}
		stat, ok := perPage[page]
		if !ok {
			stat = &pageStat{page: page}
			perPage[page] = stat
		}
		stat.clicks += row.Clicks
		stat.impressions += row.Impressions
	}

	var issues []domain.CannibalizationIssue
	for _, query := range order {
		perPage := byQuery[query]
		if len(perPage) < 2 {
			continue
		}

		pages := make([]pageStat, 0, len(perPage))
		for _, stat := range perPage {
			pages = append(pages, *stat)
		}

		total := 0
		totalClicks := 0
		for _, p := range pages {
			total += p.impressions
			totalClicks += p.clicks
		}
		if total < cannibalMinImpressions {
			continue
		}

		sort.Slice(pages, func(i, j int) bool {
			if pages[i].impressions != pages[j].impressions {
				return pages[i].impressions > pages[j].impressions
			}
			return pages[i].page < pages[j].page
		})

		var concentration float64
		for _, p := range pages {
			share := float64(p.impressions) / float64(total)
			concentration += share * share
		}
		conflict := 1 - concentration

		runnerUpShare := 0.0
		if pages[0].impressions > 0 {
			runnerUpShare = float64(pages[1].impressions) / float64(pages[0].impressions)
		}

		if conflict < cannibalConflictFloor && runnerUpShare < cannibalRunnerUpShare {
			continue
		}

		pageURLs := make([]string, len(pages))
		for i, p := range pages {
			pageURLs[i] = p.page
		}

		issues = append(issues, domain.CannibalizationIssue{
			Query:            query,
			Pages:            pageURLs,
			TotalImpressions: total,
			TotalClicks:      totalClicks,
			ConflictScore:    conflict,
			LeadingPage:      pages[0].page,
			RunnerUpShare:    runnerUpShare,
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		si := float64(issues[i].TotalImpressions) * issues[i].ConflictScore
		sj := float64(issues[j].TotalImpressions) * issues[j].ConflictScore
		return si > sj
	})

	return issues
}

// benchmarkCTR returns the expected CTR for a position, clamped to the
// 1-10 table range.
func benchmarkCTR(position float64) float64 {
	p := int(math.Round(position))
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return expectedCTRByPosition[p]
}

// findLowCTR flags top-10 rankings whose CTR falls below 60% of the
// position benchmark, ranked by impressions.
func findLowCTR(rows []domain.MetricRow, minImpressions int) []domain.LowCTRItem {
	var items []domain.LowCTRItem
	for _, row := range rows {
		if row.Position > 10 || row.Impressions < minImpressions {
			continue
		}
		expected := benchmarkCTR(row.Position)
		if row.CTR >= expected*lowCTRBenchmarkRatio {
			continue
		}
		items = append(items, domain.LowCTRItem{
			Keys:        row.Keys,
			Impressions: row.Impressions,
			Position:    row.Position,
			ActualCTR:   row.CTR,
			ExpectedCTR: expected,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Impressions > items[j].Impressions
	})

	return items
}

// findLostQueries flags keys above the noise floor whose current clicks are
// zero or below 20% of the prior period, ranked by absolute clicks lost.
func findLostQueries(current, previous []domain.MetricRow, noiseFloor int) []domain.LostQuery {
	currentByKey := make(map[string]int, len(current))
	for _, row := range current {
		currentByKey[row.Key()] += row.Clicks
	}

	// previous aggregates symmetrically so a key split across rows is judged
	// once, on its full total
	prevByKey := make(map[string]int, len(previous))
	order := make([]string, 0, len(previous))
	for _, row := range previous {
		if _, seen := prevByKey[row.Key()]; !seen {
			order = append(order, row.Key())
		}
		prevByKey[row.Key()] += row.Clicks
	}

	var lost []domain.LostQuery
	for _, key := range order {
		prev := prevByKey[key]
		if prev < noiseFloor {
			continue
		}
		cur := currentByKey[key]
		if cur != 0 && float64(cur) >= float64(prev)*lostQueryRatio {
			continue
		}
		lost = append(lost, domain.LostQuery{
			Key:            key,
			PreviousClicks: prev,
			CurrentClicks:  cur,
			ClicksLost:     prev - cur,
		})
	}

	sort.SliceStable(lost, func(i, j int) bool {
		return lost[i].ClicksLost > lost[j].ClicksLost
	})

	return lost
}

// brandSplit classifies each row's query via the injected matcher and
// aggregates both sides. Positions are impression-weighted.
func brandSplit(rows []domain.MetricRow, pattern string, matcher domain.QueryMatcher) domain.BrandSplit {
	var brand, nonBrand domain.BrandSegment
	var brandPosWeight, nonBrandPosWeight float64

	totalClicks := 0
	totalImpressions := 0

	for _, row := range rows {
		side := &nonBrand
		posWeight := &nonBrandPosWeight
		if matcher.Matches(pattern, row.Key()) {
			side = &brand
			posWeight = &brandPosWeight
		}
		side.Queries++
		side.Clicks += row.Clicks
		side.Impressions += row.Impressions
		*posWeight += row.Position * float64(row.Impressions)

		totalClicks += row.Clicks
		totalImpressions += row.Impressions
	}

	if brand.Impressions > 0 {
		brand.AveragePosition = brandPosWeight / float64(brand.Impressions)
	}
	if nonBrand.Impressions > 0 {
		nonBrand.AveragePosition = nonBrandPosWeight / float64(nonBrand.Impressions)
	}
	if totalClicks > 0 {
		brand.ClickShare = float64(brand.Clicks) / float64(totalClicks)
		nonBrand.ClickShare = float64(nonBrand.Clicks) / float64(totalClicks)
	}
	if totalImpressions > 0 {
		brand.ImpressionShare = float64(brand.Impressions) / float64(totalImpressions)
		nonBrand.ImpressionShare = float64(nonBrand.Impressions) / float64(totalImpressions)
	}

	return domain.BrandSplit{Pattern: pattern, Brand: brand, NonBrand: nonBrand}
}

// matchExternalEvents returns calendar entries dated within toleranceDays
// of the drop date.
func matchExternalEvents(dropDate string, calendar []domain.ExternalEvent, toleranceDays int) []domain.ExternalEvent {
	date, err := time.Parse(domain.DateLayout, dropDate)
	if err != nil {
		return nil
	}

	var matched []domain.ExternalEvent
	for _, event := range calendar {
		eventDate, err := time.Parse(domain.DateLayout, event.Date)
		if err != nil {
			continue
		}
		diff := date.Sub(eventDate).Hours() / 24
		if math.Abs(diff) <= float64(toleranceDays) {
			matched = append(matched, event)
		}
	}
	return matched
}

// attributeDevice names the device whose drop-day clicks fall furthest below
// its prior daily average while the others hold up, or reports "uniform".
func attributeDevice(dayRows, priorRows []domain.MetricRow) (string, string) {
	if len(dayRows) == 0 || len(priorRows) == 0 {
		return "unavailable", "device breakdown not exposed by the data source"
	}

	baseline := make(map[string]float64, len(priorRows))
	for _, row := range priorRows {
		baseline[row.Key()] += float64(row.Clicks) / 7
	}

	type deviceRatio struct {
		device string
		ratio  float64
	}
	var ratios []deviceRatio
	for _, row := range dayRows {
		avg := baseline[row.Key()]
		if avg <= 0 {
			continue
		}
		ratios = append(ratios, deviceRatio{device: row.Key(), ratio: float64(row.Clicks) / avg})
	}
	if len(ratios) == 0 {
		return "unavailable", "no device baseline to compare against"
	}

	sort.Slice(ratios, func(i, j int) bool { return ratios[i].ratio < ratios[j].ratio })

	worst := ratios[0]
	if worst.ratio >= deviceDropRatio {
		return "uniform", "all devices retained at least half their baseline"
	}
	if len(ratios) > 1 {
		var rest float64
		for _, r := range ratios[1:] {
			rest += r.ratio
		}
		rest /= float64(len(ratios) - 1)
		if rest-worst.ratio < deviceRatioSpread {
			return "uniform", "the decline is spread evenly across devices"
		}
	}

	return worst.device, fmt.Sprintf("%s retained only %.0f%% of its baseline clicks", worst.device, worst.ratio*100)
}
