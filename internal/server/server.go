package server

import (
	"context"
	"net/http"
	"time"

	"github.com/agentforge/tokengate/internal/agent"
	"github.com/agentforge/tokengate/internal/campaign"
	campaigndomain "github.com/agentforge/tokengate/internal/campaign/domain"
	"github.com/agentforge/tokengate/internal/catalog"
	catalogdomain "github.com/agentforge/tokengate/internal/catalog/domain"
	"github.com/agentforge/tokengate/internal/config"
	"github.com/agentforge/tokengate/internal/execution"
	executiondomain "github.com/agentforge/tokengate/internal/execution/domain"
	"github.com/agentforge/tokengate/internal/observability"
	obsmiddleware "github.com/agentforge/tokengate/internal/observability/logger"
	obsmetrics "github.com/agentforge/tokengate/internal/observability/metrics"
	"github.com/agentforge/tokengate/internal/ratelimit"
	"github.com/agentforge/tokengate/internal/usagelog"
	usagelogdomain "github.com/agentforge/tokengate/internal/usagelog/domain"
	"github.com/agentforge/tokengate/internal/wallet"
	walletdomain "github.com/agentforge/tokengate/internal/wallet/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	catalog.Module,
	wallet.Module,
	usagelog.Module,
	execution.Module,
	agent.Module,
	campaign.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	catalogSvc     catalogdomain.Service
	walletSvc      walletdomain.Service
	usageLogSvc    usagelogdomain.Service
	executionSvc   executiondomain.Service
	campaignSvc    campaigndomain.Service
	invoker        *agent.Invoker
	executeLimiter *ratelimit.ExecuteLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	CatalogSvc     catalogdomain.Service
	WalletSvc      walletdomain.Service
	UsageLogSvc    usagelogdomain.Service
	ExecutionSvc   executiondomain.Service
	CampaignSvc    campaigndomain.Service
	Invoker        *agent.Invoker
	ExecuteLimiter *ratelimit.ExecuteLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		catalogSvc:     p.CatalogSvc,
		walletSvc:      p.WalletSvc,
		usageLogSvc:    p.UsageLogSvc,
		executionSvc:   p.ExecutionSvc,
		campaignSvc:    p.CampaignSvc,
		invoker:        p.Invoker,
		executeLimiter: p.ExecuteLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.UserRequired())

	api.GET("/operations", s.ListOperations)
	api.GET("/balance", s.GetBalance)
	api.POST("/agents/:code/execute", s.ExecuteAgent)
	api.GET("/usage-logs", s.ListUsageLogs)
	api.POST("/campaigns", s.CreateCampaign)
	api.GET("/campaigns", s.ListCampaigns)
	api.POST("/campaigns/:id/attach", s.AttachCampaign)
}
