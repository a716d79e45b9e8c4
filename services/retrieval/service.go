// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/cache"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/classify"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/fusion"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/lanes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/observability"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/preflight"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/provider"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the retrieval service lifecycle.
//
// Thread Safety: Implementations must be safe for concurrent use. Run()
// blocks and should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Orchestrator returns the retrieval core for embedding the service
	// in-process without HTTP.
	Orchestrator() *Orchestrator
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds retrieval service configuration options. All fields are
// optional; zero values take defaults, and missing backends degrade the
// corresponding lanes instead of failing startup.
type Config struct {
	// Port is the HTTP server port. Default: 12230
	Port int

	// WeaviateURL is the vector/keyword index URL. If empty, the vector
	// and keyword lanes are disabled.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// SearxURL is the keyless SearXNG instance for web-search fallback.
	// Default: "http://localhost:8888"
	SearxURL string

	// GraphStoreURL is the knowledge-graph store base URL. If empty, the
	// knowledge-graph lane is disabled.
	GraphStoreURL string

	// InfluxURL, InfluxOrg, InfluxBucket configure the keyed market-data
	// provider. If InfluxURL is empty, the markets lane runs on its
	// keyless fallback only.
	InfluxURL    string
	InfluxOrg    string
	InfluxBucket string

	// CredentialsPath is a JSON file holding provider API keys, watched
	// for changes so key rotation clears auth-latched breakers without a
	// restart. Empty means environment variables only.
	CredentialsPath string

	// CacheDir is the on-disk lane cache location. Empty uses the
	// in-memory LRU store.
	CacheDir string

	// RefinerBaseURL and RefinerModel configure the preflight refiner
	// endpoint (OpenAI-compatible). An empty base URL with no API key
	// disables preflight.
	RefinerBaseURL string
	RefinerModel   string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// DisableTracing skips OTLP exporter setup. Used by tests and the
	// CLI, which have no collector.
	DisableTracing bool

	// DisableMetrics skips Prometheus registration and the /metrics
	// endpoint. Used by tests and embedders that bring their own
	// registry.
	DisableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// Sufficiency is the lane early-stop item threshold.
	// Default: lanes.DefaultSufficiencyThreshold
	Sufficiency int
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use. Thread-safe after
// construction; all fields are read-only once New returns.
type service struct {
	config        Config
	router        *gin.Engine
	orchestrator  *Orchestrator
	registry      *provider.Registry
	laneCache     *cache.Cache
	credWatcher   *provider.CredentialWatcher
	tracerCleanup func(context.Context)
}

// Compile-time interface compliance.
var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a retrieval Service with the given configuration.
//
// # Description
//
// Initialization order:
//  1. Apply defaults.
//  2. OpenTelemetry tracing (unless disabled).
//  3. Prometheus metrics.
//  4. Lane cache (badger on disk, or in-memory LRU).
//  5. Provider chains per lane, against whichever backends are
//     configured; missing backends disable lanes rather than failing.
//  6. Credentials loading and the hot-refresh watcher.
//  7. Preflight refiner.
//  8. HTTP router.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run retrieval service.
//   - error: Non-nil only for failures nothing can degrade around
//     (tracer setup, unreadable cache directory).
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if !s.config.DisableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var metrics *observability.RetrievalMetrics
	if !s.config.DisableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for retrieval")
	}

	if err := s.initCache(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize lane cache: %w", err)
	}

	creds := s.loadCredentials()
	specs, err := s.buildLaneSpecs(creds)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	breakerCfg := provider.DefaultBreakerConfig()
	poolCfg := provider.DefaultPoolConfig()
	if metrics != nil {
		breakerCfg.OnStateChange = func(name string, to provider.BreakerState) {
			metrics.RecordBreakerTransition(name, to.String())
		}
		poolCfg.OnOutcome = func(name string, kind datatypes.ErrorKind) {
			metrics.RecordProviderCall(name, string(kind))
		}
		s.laneCache.SetObserver(func(lane datatypes.LaneName, hit bool) {
			metrics.RecordCacheLookup(string(lane), hit)
		})
	}
	s.registry = provider.NewRegistry(breakerCfg)
	pool := provider.NewPool(s.registry, poolCfg)
	gauge := lanes.NewGauge()
	executor := lanes.NewExecutor(pool, s.laneCache, gauge, lanes.ExecutorConfig{
		SufficiencyThreshold: s.config.Sufficiency,
	})

	var pass *preflight.Pass
	if refiner := s.buildRefiner(creds); refiner != nil {
		pass = preflight.New(refiner, gauge)
	}

	s.orchestrator = NewOrchestrator(
		classify.NewHeuristicClassifier(),
		specs,
		executor,
		pass,
		fusion.DefaultConfig(),
		metrics,
	)

	s.initCredentialWatcher(specs)
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting retrieval server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Orchestrator returns the retrieval core.
func (s *service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.SearxURL == "" {
		cfg.SearxURL = "http://localhost:8888"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.InfluxBucket == "" {
		cfg.InfluxBucket = "market_data"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing via OTLP.
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("retrieval-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initCache builds the lane cache: badger-backed when a directory is
// configured, in-memory LRU otherwise.
func (s *service) initCache() error {
	if s.config.CacheDir != "" {
		store, err := cache.NewBadgerStore(s.config.CacheDir)
		if err != nil {
			return err
		}
		s.laneCache = cache.New(store, cache.DefaultTTLPolicy())
		slog.Info("Lane cache using badger store", "dir", s.config.CacheDir)
		return nil
	}
	s.laneCache = cache.New(cache.NewMemoryStore(cache.DefaultMemoryStoreSize), cache.DefaultTTLPolicy())
	return nil
}

// loadCredentials merges the credentials file (if any) over environment
// variables. A missing or unreadable file is not fatal; keyed providers
// without keys simply report not-configured and their keyless fallbacks
// carry the lane.
func (s *service) loadCredentials() provider.Credentials {
	creds := provider.CredentialsFromEnv()
	if s.config.CredentialsPath == "" {
		return creds
	}
	fileCreds, err := provider.LoadCredentials(s.config.CredentialsPath)
	if err != nil {
		slog.Warn("credentials file unreadable, using environment only",
			"path", s.config.CredentialsPath, "error", err)
		return creds
	}
	return creds.Merge(fileCreds)
}

// buildLaneSpecs wires the provider chains for every lane whose backend
// is configured.
func (s *service) buildLaneSpecs(creds provider.Credentials) (*lanes.SpecSet, error) {
	httpClient := &http.Client{}
	var specs []lanes.LaneSpec

	// Vector and keyword lanes share the Weaviate client.
	if weaviateClient, err := s.weaviateClient(); err != nil {
		slog.Warn("Weaviate unavailable, vector and keyword lanes disabled", "error", err)
	} else if weaviateClient != nil {
		specs = append(specs,
			lanes.LaneSpec{
				Name: datatypes.LaneVector,
				Chain: provider.Chain{
					Lane: datatypes.LaneVector,
					Entries: []provider.ChainEntry{
						{Provider: provider.NewWeaviateVector(weaviateClient), Priority: 0},
					},
				},
				Activate: lanes.AlwaysActive,
			},
			lanes.LaneSpec{
				Name: datatypes.LaneKeyword,
				Chain: provider.Chain{
					Lane: datatypes.LaneKeyword,
					Entries: []provider.ChainEntry{
						{Provider: provider.NewWeaviateKeyword(weaviateClient), Priority: 0},
					},
				},
				Activate: lanes.AlwaysActive,
			},
		)
	}

	// Web lane: keyed Brave first, keyless SearXNG fallback.
	specs = append(specs, lanes.LaneSpec{
		Name: datatypes.LaneWeb,
		Chain: provider.Chain{
			Lane: datatypes.LaneWeb,
			Entries: []provider.ChainEntry{
				{Provider: provider.NewBraveSearch(creds.BraveAPIKey, httpClient), Priority: 0},
				{Provider: provider.NewSearxSearch(s.config.SearxURL, httpClient), Priority: 1},
			},
		},
		Activate: lanes.ResearchActive,
	})

	// Knowledge-graph lane.
	if s.config.GraphStoreURL != "" {
		specs = append(specs, lanes.LaneSpec{
			Name: datatypes.LaneKnowledgeGraph,
			Chain: provider.Chain{
				Lane: datatypes.LaneKnowledgeGraph,
				Entries: []provider.ChainEntry{
					{Provider: provider.NewKnowledgeGraph(s.config.GraphStoreURL, httpClient), Priority: 0},
				},
			},
			Activate: lanes.EntityActive,
		})
	}

	// News lane: keyed NewsAPI first, keyless GDELT fallback.
	specs = append(specs, lanes.LaneSpec{
		Name: datatypes.LaneNews,
		Chain: provider.Chain{
			Lane: datatypes.LaneNews,
			Entries: []provider.ChainEntry{
				{Provider: provider.NewNewsAPI(creds.NewsAPIKey, httpClient), Priority: 0},
				{Provider: provider.NewGDELT(httpClient), Priority: 1},
			},
		},
		Activate: lanes.NewsActive,
	})

	// Markets lane: keyed Influx first, keyless Yahoo fallback.
	marketEntries := []provider.ChainEntry{}
	if s.config.InfluxURL != "" && creds.InfluxToken != "" {
		influxClient := influxdb2.NewClient(s.config.InfluxURL, creds.InfluxToken)
		queryAPI := influxClient.QueryAPI(s.config.InfluxOrg)
		marketEntries = append(marketEntries, provider.ChainEntry{
			Provider: provider.NewInfluxMarkets(queryAPI, s.config.InfluxBucket),
			Priority: 0,
		})
	}
	marketEntries = append(marketEntries, provider.ChainEntry{
		Provider: provider.NewYahooChart(httpClient),
		Priority: 1,
	})
	specs = append(specs, lanes.LaneSpec{
		Name: datatypes.LaneMarkets,
		Chain: provider.Chain{
			Lane:    datatypes.LaneMarkets,
			Entries: marketEntries,
		},
		Activate: lanes.MarketsActive,
	})

	return lanes.NewSpecSet(specs...), nil
}

// weaviateClient creates the Weaviate client if a URL is configured.
func (s *service) weaviateClient() (*weaviate.Client, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return client, nil
}

// buildRefiner constructs the preflight refiner, or nil when no
// endpoint or key is configured.
func (s *service) buildRefiner(creds provider.Credentials) preflight.Refiner {
	if s.config.RefinerBaseURL == "" && creds.RefinerAPIKey == "" {
		slog.Info("Preflight refiner not configured, preflight disabled")
		return nil
	}
	return preflight.NewOpenAIRefiner(creds.RefinerAPIKey, s.config.RefinerBaseURL, s.config.RefinerModel)
}

// initCredentialWatcher hot-reloads provider keys on file change. A
// rotated key is pushed into the keyed providers and every auth-latched
// breaker is reset, since fresh configuration is the one event that can
// clear a sticky auth failure.
func (s *service) initCredentialWatcher(specs *lanes.SpecSet) {
	if s.config.CredentialsPath == "" {
		return
	}

	keyed := keyedProviders(specs)
	watcher, err := provider.WatchCredentials(s.config.CredentialsPath, func(creds provider.Credentials) {
		for _, p := range keyed {
			switch kp := p.(type) {
			case *provider.BraveSearch:
				kp.SetAPIKey(creds.BraveAPIKey)
			case *provider.NewsAPI:
				kp.SetAPIKey(creds.NewsAPIKey)
			}
		}
		s.registry.OnCredentialsRefresh()
	})
	if err != nil {
		slog.Warn("credentials watcher unavailable, key rotation requires restart",
			"path", s.config.CredentialsPath, "error", err)
		return
	}
	s.credWatcher = watcher
}

// keyedProviders collects the keyed provider instances across all lanes.
func keyedProviders(specs *lanes.SpecSet) []provider.Provider {
	var out []provider.Provider
	for _, name := range specs.Names() {
		spec, _ := specs.Get(name)
		for _, entry := range spec.Chain.Entries {
			if entry.Provider.IsKeyed() {
				out = append(out, entry.Provider)
			}
		}
	}
	return out
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("retrieval-service"))

	routes.SetupRoutes(s.router, s.orchestrator, s.registry, !s.config.DisableMetrics)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.credWatcher != nil {
		if err := s.credWatcher.Close(); err != nil {
			slog.Warn("credentials watcher close error", "error", err)
		}
	}
	if s.laneCache != nil {
		if err := s.laneCache.Close(); err != nil {
			slog.Warn("lane cache close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
