package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-verifier/infrastructure/cache"
	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/infrastructure/middleware"
	"github.com/ahrav/go-verifier/infrastructure/stages"
	"github.com/ahrav/go-verifier/infrastructure/storage"
	"github.com/ahrav/go-verifier/internal/application"
	"github.com/ahrav/go-verifier/internal/config"
	"github.com/ahrav/go-verifier/internal/ports"
	"github.com/ahrav/go-verifier/internal/telemetry"
)

const (
	tracerName = "github.com/ahrav/go-verifier"

	cacheCleanupInterval = 10 * time.Minute
	shutdownTimeout      = 5 * time.Second
)

// runtime owns everything a run needs and releases it in Close.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *middleware.PrometheusMetrics
	telemetry *telemetry.Provider
	store     ports.ReportStore
	stages    ports.Stages
	server    *http.Server
}

// build assembles a runtime from cfg. On error everything opened so far is
// closed again.
func (a *app) build(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: newLogger(a.errOut, cfg.Log)}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.New(ctx, telemetryConfig(cfg), cfg.TracesDir)
	if err != nil {
		return nil, fmt.Errorf("start telemetry: %w", err)
	}
	rt.telemetry = tp
	otel.SetTracerProvider(tp.TracerProvider())
	if tp.TraceFile != "" {
		rt.logger.Info("writing traces", "file", tp.TraceFile)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = middleware.NewPrometheusMetrics(reg)
	if cfg.MetricsAddr != "" {
		if rt.server, err = serveMetrics(cfg.MetricsAddr, reg, rt.logger); err != nil {
			return nil, err
		}
	}

	rt.store, err = storage.Open(ctx, cfg.ResultsDir, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("open results store: %w", err)
	}

	tracer := tp.TracerProvider().Tracer(tracerName)
	client, err := a.newClient(cfg, middlewareChain(cfg, tracer, rt.metrics, rt.logger))
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	var prompts *stages.Prompts
	if cfg.LLM.PromptsFile != "" {
		if prompts, err = stages.LoadPromptsFile(cfg.LLM.PromptsFile); err != nil {
			return nil, err
		}
	}
	rt.stages, err = stages.New(client, stages.Config{
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		CachingEnabled: cfg.Caching.PromptCaching(),
		CacheTools:     cfg.Caching.ToolCaching(),
		Prompts:        prompts,
		Logger:         rt.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create stages: %w", err)
	}
	return rt, nil
}

// pipeline returns a pipeline over the runtime's stages and store. The
// metrics and tracing observers are always attached after observers.
func (rt *runtime) pipeline(observers ...ports.PipelineObserver) (*application.Pipeline, error) {
	pcfg := rt.cfg.Pipeline
	pcfg.CachingEnabled = rt.cfg.Caching.Enabled
	observers = append(observers,
		middleware.NewMetricsObserver(rt.metrics),
		middleware.NewOTelObserver(),
	)
	return application.New(rt.stages, rt.store, pcfg,
		application.WithLogger(rt.logger),
		application.WithObservers(observers...),
	)
}

// Close flushes traces and releases the store and metrics endpoint.
func (rt *runtime) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if rt.server != nil {
		errs = append(errs, rt.server.Shutdown(ctx))
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// middlewareChain assembles the LLM middleware, outermost first: tracing,
// metrics, response cache, budget, retry, circuit breaker, rate limit and
// per-attempt timeout. Cache hits never reach the budget.
func middlewareChain(cfg *config.Config, tracer trace.Tracer, metrics *middleware.PrometheusMetrics, logger *slog.Logger) []llm.Middleware {
	provider := cfg.LLM.Provider
	chain := []llm.Middleware{
		llm.TracingMiddleware(tracer, provider),
		llm.MetricsMiddleware(metrics, provider),
	}
	if cfg.Caching.Enabled && cfg.Caching.ResponseCache {
		store := cache.NewMemoryCache(cfg.Caching.ResponseTTL, cacheCleanupInterval)
		chain = append(chain, llm.ResponseCacheMiddleware(store, cfg.Caching.ResponseTTL, logger))
	}
	chain = append(chain,
		middleware.BudgetMiddleware(cfg.Budget,
			middleware.WithBudgetMetrics(metrics),
			middleware.WithBudgetObserver(middleware.NewOTelBudgetObserver(tracer, metrics)),
		),
		llm.RetryMiddleware(llm.RetryConfig{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			BaseDelay:     cfg.Retry.BaseDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			JitterPercent: llm.DefaultJitterPercent,
			Logger:        logger,
		}),
	)
	if cfg.CircuitBreaker.MaxFailures > 0 {
		chain = append(chain, llm.CircuitBreakerMiddlewareWithMetrics(
			cfg.CircuitBreaker.MaxFailures, cfg.CircuitBreaker.Cooldown, metrics.CircuitBreaker(provider)))
	}
	if cfg.RateLimit.RPS > 0 {
		burst := max(cfg.RateLimit.Burst, 1)
		chain = append(chain, llm.RateLimitMiddleware(rate.Limit(cfg.RateLimit.RPS), burst))
	}
	if cfg.LLM.Timeout > 0 {
		chain = append(chain, llm.TimeoutMiddleware(cfg.LLM.Timeout))
	}
	return chain
}

// registryClient resolves the configured model through the provider
// registry. API keys come from the provider's environment variable.
func registryClient(cfg *config.Config, chain []llm.Middleware) (ports.LLMClient, error) {
	providers := make(map[string]llm.ProviderConfig, len(llm.DefaultProviders))
	for name, pc := range llm.DefaultProviders {
		if name == cfg.LLM.Provider && cfg.LLM.BaseURL != "" {
			pc.BaseURL = cfg.LLM.BaseURL
		}
		providers[name] = pc
	}

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:         providers,
		DefaultProvider:   cfg.LLM.Provider,
		DefaultTimeout:    cfg.LLM.Timeout,
		DefaultMiddleware: chain,
		Region:            cfg.AWS.Region,
		Profile:           cfg.AWS.Profile,
	})
	if err != nil {
		return nil, err
	}
	return registry.GetClient(cfg.LLM.Spec())
}

// telemetryConfig switches to the OTLP exporter when Arize credentials are
// given without an explicit exporter.
func telemetryConfig(cfg *config.Config) config.TelemetryConfig {
	tc := cfg.Telemetry
	if tc.Exporter == config.ExporterNone && tc.SpaceID != "" && tc.APIKey != "" {
		tc.Exporter = config.ExporterOTLP
	}
	return tc
}

// serveMetrics exposes reg on addr/metrics until the server is shut down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}
