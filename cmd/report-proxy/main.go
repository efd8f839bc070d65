// report-proxy exposes a single upstream API through the resilient client:
// requests under /api/ are cached, rate-limited and retried before they
// reach the upstream tracker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/snehaldangroshiya/sprint-report/pkg/client"
	"github.com/snehaldangroshiya/sprint-report/pkg/logging"
)

func main() {
	// Configuration from environment
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	port := getEnv("PORT", "8080")
	serviceName := getEnv("SERVICE_NAME", "jira")
	baseURL := getEnv("UPSTREAM_BASE_URL", "")
	userAgent := getEnv("USER_AGENT", "sprint-report/0.1.0")
	logLevel := getEnv("LOG_LEVEL", "info")

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Pretty: os.Getenv("LOG_PRETTY") == "true",
	})

	if baseURL == "" {
		logger.Fatal().Msg("UPSTREAM_BASE_URL is required")
	}

	// Redis is optional: without it the client runs memory-only.
	var redisClient *redis.Client
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", redisURL).
				Msg("Redis unreachable, running with memory cache only")
			redisClient = nil
		} else {
			logger.Info().Str("addr", redisURL).Msg("Connected to Redis")
		}
		cancel()
	}

	cfg := client.DefaultConfig(serviceName, baseURL, userAgent)
	cfg.Redis = redisClient
	apiClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create upstream client")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(apiClient))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/", apiProxyHandler(apiClient, logger))

	addr := ":" + port
	logger.Info().
		Str("addr", addr).
		Str("service", serviceName).
		Str("upstream", baseURL).
		Msg("Starting report proxy")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports readiness based on cache-tier connectivity. A
// memory-only client is always ready.
func readyHandler(apiClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := apiClient.HealthCheck(ctx)
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, status.Error)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// apiProxyHandler forwards /api/<endpoint> to the upstream through the
// resilient client. GET responses are cached with the default TTL.
func apiProxyHandler(apiClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/api")
		if endpoint == "" || endpoint == "/" {
			http.Error(w, "missing endpoint path", http.StatusBadRequest)
			return
		}

		params := make(map[string]any)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		body, err := apiClient.Request(ctx, endpoint, client.RequestOptions{
			Method: r.Method,
			Params: params,
		}, client.CacheOptions{UseCache: true})
		if err != nil {
			writeUpstreamError(w, logger, endpoint, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to write response")
		}
	}
}

// writeUpstreamError maps classified upstream errors onto proxy responses.
func writeUpstreamError(w http.ResponseWriter, logger zerolog.Logger, endpoint string, err error) {
	status := http.StatusBadGateway

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case client.KindAuth:
			status = http.StatusBadGateway
		case client.KindRateLimit:
			status = http.StatusTooManyRequests
			if apiErr.RetryAfter > 0 {
				secs := int(apiErr.RetryAfter.Round(time.Second).Seconds())
				w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
			}
		case client.KindTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	logger.Error().Err(err).Str("endpoint", endpoint).Int("status", status).
		Msg("Upstream request failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
