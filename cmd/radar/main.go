package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"sourceradar/internal/client/github"
	"sourceradar/internal/config"
	cronrunner "sourceradar/internal/cron"
	"sourceradar/internal/db"
	"sourceradar/internal/events"
	"sourceradar/internal/handler"
	"sourceradar/internal/logger"
	"sourceradar/internal/models"
	"sourceradar/internal/pipeline"
	gormrepository "sourceradar/internal/repository/gorm"
	"sourceradar/internal/scorer"
	"sourceradar/internal/service"
	"sourceradar/internal/worker"

	_ "sourceradar/docs"
)

func main() {
	cfgPath := os.Getenv("SR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SR_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}
	seedThresholds(context.Background(), store, logger)

	relevance := scorer.New(store, logger)
	pool := worker.NewPool(store, &worker.MetadataAnalyzer{}, worker.Options{
		Workers:      cfg.Workers.Count,
		QueueDepth:   cfg.Workers.QueueDepth,
		JobTimeout:   cfg.Workers.JobTimeout,
		MaxHighBurst: cfg.Workers.MaxHighBurst,
	}, logger)
	admission := pipeline.NewController(store, relevance, pool, cfg.Pipeline.ShedDepth, logger)
	hub := events.NewHub(store, admission, logger)

	githubHTTP := &http.Client{Timeout: cfg.GitHub.Timeout}
	githubClient := github.NewClient(githubHTTP, cfg.GitHub.BaseURL, cfg.GitHub.Token)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)

	(&handler.WebhookHandler{Hub: hub}).Register(engine)
	(&handler.EvaluateHandler{Scorer: relevance}).Register(engine)
	(&handler.JobHandler{Repo: store, Pool: pool}).Register(engine)
	(&handler.PatternHandler{Repo: store}).Register(engine)
	(&handler.ThresholdHandler{Repo: store}).Register(engine)
	(&handler.ScoringModelHandler{Repo: store}).Register(engine)
	(&handler.DiscoveryHandler{Repo: store}).Register(engine)
	(&handler.PipelineHandler{Repo: store, Pool: pool}).Register(engine)
	(&handler.SettingsHandler{Repo: store, Settings: settingsSvc}).Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scanner.Enabled {
		hub.Register(&events.PatternScanCollector{
			Repo:      store,
			Client:    githubClient,
			Logger:    logger,
			Interval:  cfg.Scanner.Interval,
			PageLimit: cfg.Scanner.PageLimit,
			MaxPages:  cfg.Scanner.MaxPages,
			Resume:    cfg.Scanner.Resume,
			Enabled: func(ctx context.Context) bool {
				return settingsSvc.IsEnabled(ctx, service.FeaturePatternScan, true)
			},
		})
	}
	if cfg.Firehose.Enabled && settingsSvc.IsEnabled(ctx, service.FeatureFirehose, false) {
		hub.Register(&events.FirehoseCollector{
			URL:    cfg.Firehose.URL,
			Logger: logger,
		})
	}

	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("event hub stopped", zap.Error(err))
		}
	}()
	if n, err := pool.ReclaimInterrupted(ctx); err != nil {
		logger.Warn("reclaim of interrupted jobs failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("reclaimed interrupted jobs", zap.Int("count", n))
	}
	if settingsSvc.IsEnabled(ctx, service.FeatureWorkerPool, true) {
		go func() {
			if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("worker pool stopped", zap.Error(err))
			}
		}()
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		registerCrons(cronRunner, cfg, store, settingsSvc, pool, logger)
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// seedThresholds installs the default threshold configuration on a fresh
// database so scoring has something to compare against from the first event.
func seedThresholds(ctx context.Context, store *gormrepository.Store, logger *zap.Logger) {
	existing, err := store.GetThresholds(ctx)
	if err != nil {
		logger.Warn("threshold lookup failed during seed", zap.Error(err))
		return
	}
	if existing != nil {
		return
	}
	defaults := models.DefaultThresholds()
	if err := store.SaveThresholds(ctx, &defaults); err != nil {
		logger.Warn("threshold seed failed", zap.Error(err))
		return
	}
	logger.Info("seeded default thresholds",
		zap.String("minimum", defaults.MinimumScore.String()),
		zap.String("auto_collect", defaults.AutoCollectScore.String()),
		zap.String("priority", defaults.PriorityScore.String()))
}

func registerCrons(runner *cronrunner.Runner, cfg config.Config, store *gormrepository.Store, settingsSvc *service.SystemSettingsService, pool *worker.Pool, logger *zap.Logger) {
	// Requeue sweep: pending jobs flagged for auto-dispatch that were shed
	// (or refused by a full lane) get another chance to enter the queue.
	_, err := runner.Add(cfg.Cron.RequeueSweep, func(ctx context.Context) {
		if !settingsSvc.IsEnabled(ctx, service.FeatureRequeueSweep, true) {
			return
		}
		ids, priorities, err := store.ListDispatchableJobIDs(ctx, 64)
		if err != nil {
			logger.Warn("requeue sweep failed", zap.Error(err))
			return
		}
		requeued := 0
		for i, id := range ids {
			if pool.Dispatch(id, priorities[i]) {
				requeued++
			}
		}
		if requeued > 0 {
			logger.Info("requeue sweep", zap.Int("dispatched", requeued))
		}
	})
	if err != nil {
		logger.Warn("cron register requeue sweep failed", zap.Error(err))
	}

	_, err = runner.Add(cfg.Cron.EventCleanup, func(ctx context.Context) {
		if !settingsSvc.IsEnabled(ctx, service.FeatureEventCleanup, true) {
			return
		}
		retention := cfg.Pipeline.EventRetention
		if retention <= 0 {
			return
		}
		removed, err := store.DeleteDiscoveryEventsBefore(ctx, time.Now().UTC().Add(-retention))
		if err != nil {
			logger.Warn("event cleanup failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("event cleanup", zap.Int64("removed", removed))
		}
	})
	if err != nil {
		logger.Warn("cron register event cleanup failed", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
