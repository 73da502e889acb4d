package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/classifieds/internal/billingevent"
	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
	"github.com/smallbiznis/classifieds/internal/config"
	"github.com/smallbiznis/classifieds/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/classifieds/internal/entitlement/domain"
	"github.com/smallbiznis/classifieds/internal/listing"
	listingdomain "github.com/smallbiznis/classifieds/internal/listing/domain"
	"github.com/smallbiznis/classifieds/internal/observability"
	obslogger "github.com/smallbiznis/classifieds/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/classifieds/internal/observability/metrics"
	obstracing "github.com/smallbiznis/classifieds/internal/observability/tracing"
	billingprovider "github.com/smallbiznis/classifieds/internal/providers/billing"
	"github.com/smallbiznis/classifieds/internal/ratelimit"
	"github.com/smallbiznis/classifieds/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	tier.Module,
	billingprovider.Module,
	ratelimit.Module,
	subscription.Module,
	listing.Module,
	billingevent.Module,
	entitlement.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.RequestLogger(obslogger.RequestLogConfig{
		Debug:    obsCfg.Debug(),
		Classify: classifyErrorForLog,
	}))
	r.Use(obstracing.ServerSpans())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
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
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	catalog         *tier.Catalog
	billingEventSvc billingeventdomain.Service
	subscriptionSvc subscriptiondomain.Service
	entitlementSvc  entitlementdomain.Service
	listingSvc      listingdomain.Service
	apiLimiter      *ratelimit.APILimiter
	obsMetrics      *obsmetrics.Metrics
	billingMetrics  *obsmetrics.BillingMetrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Catalog         *tier.Catalog
	BillingEventSvc billingeventdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	EntitlementSvc  entitlementdomain.Service
	ListingSvc      listingdomain.Service
	APILimiter      *ratelimit.APILimiter      `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
	BillingMetrics  *obsmetrics.BillingMetrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		catalog:         p.Catalog,
		billingEventSvc: p.BillingEventSvc,
		subscriptionSvc: p.SubscriptionSvc,
		entitlementSvc:  p.EntitlementSvc,
		listingSvc:      p.ListingSvc,
		apiLimiter:      p.APILimiter,
		obsMetrics:      p.ObsMetrics,
		billingMetrics:  p.BillingMetrics,
	}

	svc.RegisterPublicRoutes()
	svc.RegisterWebhookRoutes()
	svc.RegisterSubscriptionRoutes()
	svc.RegisterListingRoutes()
	svc.RegisterAPIRoutes()

	return svc
}

func (s *Server) RegisterPublicRoutes() {
	s.engine.GET("/tiers", s.ListTiers)
}

func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}

func (s *Server) RegisterSubscriptionRoutes() {
	group := s.engine.Group("/subscription", s.AuthRequired())
	group.GET("", s.GetSubscription)
	group.POST("/checkout", s.CreateCheckout)
	group.POST("/change", s.ChangeTier)
	group.POST("/cancel", s.CancelSubscription)
}

func (s *Server) RegisterListingRoutes() {
	group := s.engine.Group("/listings", s.AuthRequired())
	group.GET("", s.ListListings)
	group.POST("", s.RequireListingCapacity(), s.CreateListing)
	group.POST("/:id/archive", s.ArchiveListing)
	group.POST("/:id/images", s.InjectImageCeiling(), s.AddListingImage)
}

// RegisterAPIRoutes mounts the programmatic API. Every route is behind the API access gate.
func (s *Server) RegisterAPIRoutes() {
	group := s.engine.Group("/api/v1", s.AuthRequired(), s.RequireAPIAccess(), s.APIRateLimit())
	group.GET("/entitlements", s.GetEntitlements)
	group.GET("/listings", s.ListListings)
	group.POST("/listings", s.RequireListingCapacity(), s.CreateListing)
}
