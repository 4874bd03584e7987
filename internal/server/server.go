package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/agentgate/internal/activity"
	activitydomain "github.com/smallbiznis/agentgate/internal/activity/domain"
	"github.com/smallbiznis/agentgate/internal/apikey"
	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	"github.com/smallbiznis/agentgate/internal/clock"
	"github.com/smallbiznis/agentgate/internal/config"
	"github.com/smallbiznis/agentgate/internal/observability"
	obsmiddleware "github.com/smallbiznis/agentgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/agentgate/internal/observability/tracing"
	"github.com/smallbiznis/agentgate/internal/ratelimit"
	"github.com/smallbiznis/agentgate/internal/registration"
	registrationdomain "github.com/smallbiznis/agentgate/internal/registration/domain"
	"github.com/smallbiznis/agentgate/internal/socialproof"
	"github.com/smallbiznis/agentgate/internal/store"
	"github.com/smallbiznis/agentgate/internal/walletauth"
	"github.com/smallbiznis/agentgate/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultMaxRequestBodyBytes = 16 << 10

var Module = fx.Module("http.server",
	clock.Module,
	store.Module,
	fx.Provide(registerGin),
	ratelimit.Module,
	walletauth.Module,
	webhook.Module,
	socialproof.Module,
	apikey.Module,
	registration.Module,
	activity.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	registrationSvc registrationdomain.Service
	apiKeySvc       apikeydomain.Service
	activitySvc     activitydomain.Service
	limiter         *ratelimit.Limiter
	walletAuth      *walletauth.Authenticator
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	RegistrationSvc registrationdomain.Service
	APIKeySvc       apikeydomain.Service
	ActivitySvc     activitydomain.Service
	Limiter         *ratelimit.Limiter
	WalletAuth      *walletauth.Authenticator
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		registrationSvc: p.RegistrationSvc,
		apiKeySvc:       p.APIKeySvc,
		activitySvc:     p.ActivitySvc,
		limiter:         p.Limiter,
		walletAuth:      p.WalletAuth,
	}

	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.BodyLimit())

	agents := v1.Group("/agents")
	agents.POST("/register",
		s.RateLimit(config.ScopeRegistrationIP, clientIP),
		s.RegisterAgent,
	)
	agents.GET("/claims/:claim_id",
		s.RateLimit(config.ScopeVerifyIP, clientIP),
		s.GetClaim,
	)
	agents.POST("/claims/:claim_id/verify",
		s.RateLimit(config.ScopeVerifyIP, clientIP),
		s.RateLimit(config.ScopeVerifyClaim, claimIDParam),
		s.OptionalWalletAuth(),
		s.VerifyClaim,
	)

	owner := v1.Group("/owner", s.WalletAuthRequired())
	owner.GET("/registrations", s.ListOwnerRegistrations)
	owner.DELETE("/registrations/:claim_id", s.ConsumeSignature(), s.RevokeRegistration)
	owner.GET("/keys", s.ListAPIKeys)
	owner.POST("/keys",
		s.ConsumeSignature(),
		s.RateLimit(config.ScopeKeygenWallet, walletIdentifier),
		s.CreateAPIKey,
	)
	owner.DELETE("/keys/:key_id", s.ConsumeSignature(), s.RevokeAPIKey)
	owner.GET("/activity", s.ListOwnerActivity)

	agent := v1.Group("/agent", s.APIKeyRequired())
	agent.GET("/me", s.GetAgentIdentity)
	agent.POST("/activity", s.LogAgentActivity)
	agent.POST("/feed", s.LogAgentFeed)

	v1.GET("/feed", s.RateLimit(config.ScopeFeed, clientIP), s.ListFeed)
	v1.GET("/stats", s.RateLimit(config.ScopeStats, clientIP), s.GetStats)
}
