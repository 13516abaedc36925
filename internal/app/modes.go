package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foresightmarkets/foresight/internal/aggregate"
	"github.com/foresightmarkets/foresight/internal/analyst"
	"github.com/foresightmarkets/foresight/internal/arbitrage"
	"github.com/foresightmarkets/foresight/internal/calibration"
	"github.com/foresightmarkets/foresight/internal/news"
	"github.com/foresightmarkets/foresight/internal/noise"
	"github.com/foresightmarkets/foresight/internal/notify"
	"github.com/foresightmarkets/foresight/internal/pipeline"
	"github.com/foresightmarkets/foresight/internal/platform/openai"
	"github.com/foresightmarkets/foresight/internal/platform/websearch"
	"github.com/foresightmarkets/foresight/internal/sentiment"
	"github.com/foresightmarkets/foresight/internal/server"
	"github.com/foresightmarkets/foresight/internal/server/handler"
	"github.com/foresightmarkets/foresight/internal/server/ws"
	"github.com/foresightmarkets/foresight/internal/service"
	"github.com/foresightmarkets/foresight/internal/similarity"
	"github.com/foresightmarkets/foresight/internal/synthesis"
)

// runtime holds the constructed services and long-running workers that the
// modes pick from. Everything is built eagerly; a mode simply decides which
// Run loops to start.
type runtime struct {
	marketSvc *service.MarketService
	tradeSvc  *service.TradeService
	intelSvc  *service.IntelService

	monitor   *arbitrage.Monitor
	scheduler *pipeline.Scheduler
	listener  *notify.Listener
	hub       *ws.Hub
	server    *server.Server
}

// buildRuntime wires the prediction pipeline, services, workers, and HTTP
// layer on top of the shared dependencies.
func (a *App) buildRuntime(deps *Dependencies) *runtime {
	logger := a.logger

	// LLM client: one shared instance serves completions and embeddings.
	llm := openai.New(openai.Config{
		APIKey:          a.cfg.OpenAI.APIKey,
		BaseURL:         a.cfg.OpenAI.BaseURL,
		CompletionModel: a.cfg.OpenAI.CompletionModel,
		EmbeddingModel:  a.cfg.OpenAI.EmbeddingModel,
	}, logger)

	// Evidence pipeline.
	searchTimeout := a.cfg.Websearch.Timeout.Duration
	newsAgg := news.NewAggregator(
		websearch.NewGoogleNewsClient(searchTimeout, logger),
		llm,
		news.Defaults(),
		logger,
	)
	sentAgg := sentiment.NewAggregator(llm, noise.NewFilter(noise.Defaults()), sentiment.Defaults(), logger)
	simEngine := similarity.NewEngine(llm, deps.EmbeddingStore, similarity.Config{
		MinSimilarity: a.cfg.Synthesis.MinSimilarity,
		MaxResults:    a.cfg.Synthesis.MaxSimilar,
	}, logger)
	collector := aggregate.NewAggregator(
		newsAgg,
		sentAgg,
		simEngine,
		websearch.NewRedditClient(searchTimeout, logger),
		aggregate.Defaults(),
		logger,
	)
	synth := synthesis.NewSynthesizer(llm, analyst.NewOrchestrator(logger), synthesis.Config{
		MaxTokens:         a.cfg.Synthesis.MaxTokens,
		Temperature:       float32(a.cfg.Synthesis.Temperature),
		CompletionTimeout: a.cfg.Synthesis.CompletionTimeout.Duration,
	}, logger)
	tracker := calibration.NewTracker(deps.CalibrationStore, logger)

	// Services.
	marketSvc := service.NewMarketService(service.MarketServiceDeps{
		Markets:    deps.MarketStore,
		Tx:         deps.TxStore,
		Votes:      deps.VoteStore,
		Locks:      deps.LockManager,
		Bus:        deps.SignalBus,
		Audit:      deps.AuditStore,
		Cache:      deps.PredictionCache,
		Tracker:    tracker,
		Similarity: simEngine,
		Archiver:   deps.Archiver,
		Logger:     logger,
	})
	tradeSvc := service.NewTradeService(service.TradeServiceDeps{
		Tx:       deps.TxStore,
		Trades:   deps.TradeStore,
		Balances: deps.BalanceStore,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Logger:   logger,
	})
	intelSvc := service.NewIntelService(service.IntelServiceDeps{
		Markets:     deps.MarketStore,
		Predictions: deps.PredictionStore,
		Cache:       deps.PredictionCache,
		Collector:   collector,
		Synthesizer: synth,
		Tracker:     tracker,
		Similarity:  simEngine,
		Bus:         deps.SignalBus,
		CacheTTL:    a.cfg.Synthesis.CacheTTL.Duration,
		Logger:      logger,
	})

	// Divergence monitor.
	detector := arbitrage.NewDetector(arbitrage.Thresholds{
		AIMarket:    a.cfg.Arbitrage.AIMarketThreshold,
		CrowdAI:     a.cfg.Arbitrage.CrowdAIThreshold,
		CrowdMarket: a.cfg.Arbitrage.CrowdMarketThreshold,
		ThreeWay:    a.cfg.Arbitrage.ThreeWayThreshold,
	})
	monitor := arbitrage.NewMonitor(arbitrage.MonitorConfig{
		Detector:    detector,
		Markets:     deps.MarketStore,
		Votes:       deps.VoteStore,
		Predictions: deps.PredictionStore,
		Bus:         deps.SignalBus,
		Logger:      logger,
	})

	// Analysis scheduler.
	scheduler := pipeline.NewScheduler(intelSvc, deps.MarketStore, pipeline.Config{
		LightweightInterval: a.cfg.Pipeline.LightweightInterval.Duration,
		DailyCheckInterval:  a.cfg.Pipeline.DailyCheckInterval.Duration,
		DailyEvery:          a.cfg.Pipeline.DailyEvery.Duration,
		CloseWindow:         a.cfg.Pipeline.CloseWindow.Duration,
		MaxConcurrent:       a.cfg.Pipeline.MaxConcurrent,
	}, logger)

	listener := notify.NewListener(deps.SignalBus, deps.Notifier, logger)

	// HTTP + WebSocket layer.
	hub := ws.NewHub(deps.SignalBus, logger)
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Markets: handler.NewMarketHandler(marketSvc, logger),
		Trades:  handler.NewTradeHandler(tradeSvc, logger),
		Intel:   handler.NewIntelHandler(intelSvc, monitor, logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, logger)

	return &runtime{
		marketSvc: marketSvc,
		tradeSvc:  tradeSvc,
		intelSvc:  intelSvc,
		monitor:   monitor,
		scheduler: scheduler,
		listener:  listener,
		hub:       hub,
		server:    srv,
	}
}

// startHTTPServer starts the API server and the WebSocket hub, plus a watcher
// goroutine that drains in-flight requests once the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, rt *runtime) {
	g.Go(func() error {
		return rt.hub.Run(ctx)
	})
	g.Go(func() error {
		return rt.server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.server.Shutdown(shutCtx)
	})
}

// startAnalysis starts the background workers: the analysis scheduler, the
// divergence monitor, and the notification listener.
func (a *App) startAnalysis(ctx context.Context, g *errgroup.Group, rt *runtime) {
	if a.cfg.Pipeline.Enabled {
		g.Go(func() error {
			return rt.scheduler.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "analysis scheduler disabled")
	}
	if a.cfg.Arbitrage.Enabled {
		g.Go(func() error {
			return rt.monitor.Run(ctx)
		})
	}
	g.Go(func() error {
		return rt.listener.Run(ctx)
	})
}

// ServeMode runs the HTTP API and WebSocket hub only. Predictions are still
// produced on demand through the analyze endpoint, but no background sweeps,
// divergence monitoring, or notifications run.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	rt := a.buildRuntime(deps)
	a.startHTTPServer(ctx, g, rt)

	return g.Wait()
}

// AnalyzeMode runs the background analysis workers without the HTTP API:
// scheduled sweeps, the divergence monitor, and notifications.
func (a *App) AnalyzeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting analyze mode")

	g, ctx := errgroup.WithContext(ctx)
	rt := a.buildRuntime(deps)
	a.startAnalysis(ctx, g, rt)

	return g.Wait()
}

// FullMode runs everything: the HTTP API, WebSocket hub, analysis scheduler,
// divergence monitor, and notification listener.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	rt := a.buildRuntime(deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, rt)
	} else {
		a.logger.InfoContext(ctx, "HTTP server disabled",
			slog.Int("port", a.cfg.Server.Port),
		)
	}
	a.startAnalysis(ctx, g, rt)

	return g.Wait()
}
