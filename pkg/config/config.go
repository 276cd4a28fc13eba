package config

import (
	"os"
	"strconv"
	"time"
)

// Application settings
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Provider  ProviderConfig
	Analytics AnalyticsConfig
}

// Server settings
type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
}

// ProviderConfig selects and configures the reporting backends.
type ProviderConfig struct {
	// Provider is "google" or "bing".
	Provider           string
	GoogleAPIURL       string
	GoogleAccessToken  string
	BingAPIURL         string
	BingAPIKey         string
	RequestTimeout     time.Duration
	RateLimitPerSecond int
	RateLimitBurst     int
}

// AnalyticsConfig tunes the intelligence engine.
type AnalyticsConfig struct {
	CacheTTL          time.Duration
	HealthConcurrency int
	ReportingLagDays  int
	AnomalyWindowDays int
	AnomalyThreshold  float64
	AnomalyMinVolume  float64
	TrendThreshold    float64
	TrendMinVolume    float64
	ForecastDays      int
	RollingWindowSize int
	DefaultRowLimit   int
}

// Logging settings
type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", "30s"),
		},
		Provider: ProviderConfig{
			Provider:           getEnv("PROVIDER", "google"),
			GoogleAPIURL:       getEnv("GOOGLE_API_URL", "https://www.googleapis.com/webmasters/v3"),
			GoogleAccessToken:  getEnv("GOOGLE_ACCESS_TOKEN", ""),
			BingAPIURL:         getEnv("BING_API_URL", "https://ssl.bing.com/webmaster/api.svc/json"),
			BingAPIKey:         getEnv("BING_API_KEY", ""),
			RequestTimeout:     getDurationEnv("PROVIDER_TIMEOUT", "30s"),
			RateLimitPerSecond: getIntEnv("RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:     getIntEnv("RATE_LIMIT_BURST", 5),
		},
		Analytics: AnalyticsConfig{
			CacheTTL:          getDurationEnv("CACHE_TTL", "5m"),
			HealthConcurrency: getIntEnv("HEALTH_CONCURRENCY", 5),
			ReportingLagDays:  getIntEnv("REPORTING_LAG_DAYS", 3),
			AnomalyWindowDays: getIntEnv("ANOMALY_WINDOW_DAYS", 14),
			AnomalyThreshold:  getFloatEnv("ANOMALY_THRESHOLD", 0.25),
			AnomalyMinVolume:  getFloatEnv("ANOMALY_MIN_VOLUME", 10),
			TrendThreshold:    getFloatEnv("TREND_THRESHOLD", 20),
			TrendMinVolume:    getFloatEnv("TREND_MIN_VOLUME", 10),
			ForecastDays:      getIntEnv("FORECAST_DAYS", 7),
			RollingWindowSize: getIntEnv("ROLLING_WINDOW_SIZE", 7),
			DefaultRowLimit:   getIntEnv("DEFAULT_ROW_LIMIT", 1000),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
