package delivery

import (
	"time"

	"github.com/erikmackinnon/search-console-mcp-sub000/internal/delivery/middleware"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/logger"
	"github.com/erikmackinnon/search-console-mcp-sub000/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type HTTPRouter struct {
	handlers *HTTPHandlers
	logger   *logger.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
}

func NewHTTPRouter(handlers *HTTPHandlers, logger *logger.Logger, metrics *metrics.Metrics, timeout time.Duration) *HTTPRouter {
	return &HTTPRouter{
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
		timeout:  timeout,
	}
}

func (r *HTTPRouter) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.Recovery(r.logger))
	router.Use(middleware.Metrics(r.metrics))
	router.Use(middleware.Timeout(r.timeout))

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Content-Type", "X-Request-ID"}
	config.ExposeHeaders = []string{"X-Request-ID"}

	router.Use(cors.New(config))

	// Liveness endpoint
	router.GET("/health", r.handlers.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		analytics := v1.Group("/analytics")
		{
			analytics.POST("/query", r.handlers.QueryAnalytics)
		}

		sites := v1.Group("/sites")
		{
			sites.GET("", r.handlers.ListSites)
			sites.GET("/health", r.handlers.SiteHealth)
		}

		insights := v1.Group("/insights")
		{
			insights.GET("/trends", r.handlers.DetectTrends)
			insights.GET("/anomalies", r.handlers.DetectAnomalies)
			insights.GET("/timeseries", r.handlers.TimeSeries)
			insights.GET("/drop-attribution", r.handlers.DropAttribution)
			insights.GET("/low-hanging-fruit", r.handlers.LowHangingFruit)
			insights.GET("/cannibalization", r.handlers.Cannibalization)
			insights.GET("/low-ctr", r.handlers.LowCTR)
			insights.GET("/striking-distance", r.handlers.StrikingDistance)
			insights.GET("/lost-queries", r.handlers.LostQueries)
			insights.GET("/brand-split", r.handlers.BrandSplit)
			insights.GET("/quick-wins", r.handlers.QuickWins)
			insights.GET("/recommendations", r.handlers.Recommendations)
		}
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	return router
}
