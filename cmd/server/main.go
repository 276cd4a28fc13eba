package main

import (
	"fmt"
	"os"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/cache"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/delivery"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/domain"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/infrastructure"
	"github.com/erikmackinnon/search-console-mcp-sub000/internal/usecase"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/config"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	m := metrics.New()

	var source domain.SearchDataSource
	switch cfg.Provider.Provider {
	case "bing":
		source = infrastructure.NewBingClient(cfg.Provider, log, m)
	default:
		source = infrastructure.NewGoogleClient(cfg.Provider, log, m)
	}

	queryCache := cache.NewQueryCache(cfg.Analytics.CacheTTL, log, m)
	matcher := infrastructure.NewRegexMatcher()

	analyticsService := usecase.NewAnalyticsService(source, queryCache, cfg.Analytics, log, m)
	trendService := usecase.NewTrendService(analyticsService, log, m)
	timeSeriesService := usecase.NewTimeSeriesService(analyticsService, log, m)
	insightService := usecase.NewInsightService(analyticsService, trendService, matcher, log, m)
	healthService := usecase.NewHealthService(analyticsService, trendService, cfg.Analytics.HealthConcurrency, log, m)

	handlers := delivery.NewHTTPHandlers(
		analyticsService,
		trendService,
		timeSeriesService,
		insightService,
		healthService,
		log,
		m,
	)
	router := delivery.NewHTTPRouter(handlers, log, m, cfg.Server.RequestTimeout)

	log.WithField("port", cfg.Server.Port).WithField("provider", cfg.Provider.Provider).Info("Starting server")

	if err := router.SetupRoutes().Run(":" + cfg.Server.Port); err != nil {
		log.WithError(err).Fatal("Server terminated")
	}
}
