package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/expflow/config"
	"github.com/BaSui01/expflow/experiment"
	"github.com/BaSui01/expflow/internal/cache"
	"github.com/BaSui01/expflow/internal/database"
	"github.com/BaSui01/expflow/internal/metrics"
	"github.com/BaSui01/expflow/internal/server"
	"github.com/BaSui01/expflow/internal/telemetry"
	"github.com/BaSui01/expflow/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 expflow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	// 基础设施
	pool       *database.PoolManager
	cacheMgr   *cache.Manager
	collector  *metrics.Collector
	otel       *telemetry.Providers
	httpServer *server.Manager

	// 领域服务
	service  *experiment.Service
	handlers *Handlers
	sink     *store.AsyncSink

	// 配置热重载
	reloader *config.Reloader

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 指标收集器
	s.collector = metrics.NewCollector("expflow", s.logger)

	// 2. 存储层
	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 报告缓存（可选）
	if err := s.initCache(); err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}

	// 4. 实验服务
	s.initService()

	// 5. 配置热重载
	if err := s.initReloader(); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}

	// 6. HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("all components started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("database", s.cfg.Database.Driver),
		zap.Bool("report_cache", s.cacheMgr != nil),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 打开数据库并准备聚合存储
func (s *Server) initStorage() error {
	dbCfg := database.Config{
		Driver: s.cfg.Database.Driver,
		DSN:    s.cfg.Database.DSN(),
		Pool: database.PoolConfig{
			MaxIdleConns:    s.cfg.Database.MaxIdleConns,
			MaxOpenConns:    s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
		},
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return err
	}

	pool, err := database.NewPoolManager(db, dbCfg.Pool, s.collector.RecordDBConnections, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	// sqlite 走自迁移;postgres/mysql 由 expflow migrate 管理版本化 schema
	if s.cfg.Database.Driver == database.DriverSQLite {
		if err := store.InitTables(db); err != nil {
			return fmt.Errorf("failed to migrate store tables: %w", err)
		}
		if err := experiment.InitCatalogTables(db); err != nil {
			return fmt.Errorf("failed to migrate catalog tables: %w", err)
		}
	}
	return nil
}

// initCache 连接 Redis 报告缓存;未启用时报告每次现算
func (s *Server) initCache() error {
	if !s.cfg.Redis.Enabled {
		s.logger.Info("report cache disabled")
		return nil
	}

	mgr, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
		ReportTTL:    s.cfg.Redis.ReportTTL,
	}, s.logger)
	if err != nil {
		// 缓存不可用不阻塞启动,只是没有读侧加速
		s.logger.Warn("report cache unavailable, serving reports uncached", zap.Error(err))
		return nil
	}
	s.cacheMgr = mgr
	return nil
}

// initService 组装实验服务门面
func (s *Server) initService() {
	db := s.pool.DB()
	st := store.NewGormStore(db, s.logger)
	catalog := experiment.NewGormCatalog(db)
	// 事件走有界分发池,下游慢或积压时丢事件而不是拖慢请求
	s.sink = store.NewAsyncSink(store.NewLogSink(s.logger), store.DefaultAsyncSinkConfig(), s.logger)

	opts := []experiment.ServiceOption{
		experiment.WithMetrics(s.collector),
	}
	if s.cacheMgr != nil {
		opts = append(opts, experiment.WithReportCache(cache.NewReportCache(s.cacheMgr, s.logger)))
	}

	s.service = experiment.NewService(catalog, st, s.cfg.Experiment.Service(), s.sink, s.logger, opts...)
	s.handlers = NewHandlers(s.service, s.checkDependencies, s.logger)
}

// checkDependencies 就绪探针:数据库必须可达,缓存可选
func (s *Server) checkDependencies(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if s.cacheMgr != nil {
		if err := s.cacheMgr.Ping(ctx); err != nil {
			// 缓存挂了不算不健康,报告退化为现算
			s.logger.Warn("report cache ping failed", zap.Error(err))
		}
	}
	return nil
}

// initReloader 初始化配置热重载
func (s *Server) initReloader() error {
	s.reloader = config.NewReloader(s.cfg, s.configPath,
		config.WithReloaderLogger(s.logger),
		config.WithReloadValidate(func(newConfig *config.Config) error {
			return newConfig.Validate()
		}),
	)

	// 引擎开关跟随新配置;需要重启的字段只提示
	s.reloader.OnReload(func(oldConfig, newConfig *config.Config) {
		s.cfg = newConfig
		s.service.UpdateConfig(newConfig.Experiment.Service())
	})

	if err := s.reloader.Start(context.Background()); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	s.handlers.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpServer = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpServer.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpServer.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpServer != nil {
		s.httpServer.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.reloader != nil {
		if err := s.reloader.Stop(); err != nil {
			s.logger.Error("config reloader shutdown error", zap.Error(err))
		}
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.sink != nil {
		// HTTP 已停,排空剩余事件
		s.sink.Close()
	}

	if s.cacheMgr != nil {
		if err := s.cacheMgr.Close(); err != nil {
			s.logger.Error("cache shutdown error", zap.Error(err))
		}
	}

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database shutdown error", zap.Error(err))
		}
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("graceful shutdown completed")
}
