package router

import (
	"net/http"
	"time"

	"doodles/config"
	"doodles/internal/auth"
	"doodles/internal/events"
	"doodles/internal/handler"
	"doodles/internal/metrics"
	"doodles/internal/middleware"
	"doodles/internal/repository"
	"doodles/internal/service"
	"doodles/pkg/payment"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps are the clients constructed once at startup and shared by every handler.
type Deps struct {
	Config    *config.Config
	Store     *repository.Store
	Gateway   service.Gateway
	Payments  payment.Provider
	Publisher events.Publisher
	Limiter   middleware.Limiter
	Verifier  *auth.Verifier
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Log       *logrus.Logger
}

func Setup(d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(d.Metrics.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Services
	generationSvc := service.NewGenerationService(d.Store, d.Gateway, d.Publisher, d.Metrics, d.Log, cfg.Generation)
	reconcileSvc := service.NewReconcileService(d.Store, service.PipelineOutputsFromConfig(cfg.Pipeline), d.Publisher, d.Metrics, d.Log, cfg.Generation)
	doodleSvc := service.NewDoodleService(d.Store, reconcileSvc)
	paymentSvc := service.NewPaymentService(d.Store, d.Payments, cfg.Server.Env, d.Publisher, d.Metrics, d.Log)

	// Handlers
	doodleHandler := handler.NewDoodleHandler(generationSvc, doodleSvc, d.Log)
	creditsHandler := handler.NewCreditsHandler(paymentSvc, d.Log)
	checkoutHandler := handler.NewCheckoutHandler(paymentSvc, d.Log)
	pipelineWebhookHandler := handler.NewPipelineWebhookHandler(reconcileSvc, d.Metrics, d.Log)
	stripeWebhookHandler := handler.NewStripeWebhookHandler(paymentSvc, cfg.Stripe.WebhookSecret, d.Metrics, d.Log)

	r.GET("/healthz", healthz(d.Store))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		// Webhooks are not rate limited: the pipeline and Stripe retry on 429.
		api.POST("/webhooks/pipeline", pipelineWebhookHandler.Handle)
		api.POST("/webhooks/stripe", stripeWebhookHandler.Handle)

		public := api.Group("", middleware.RateLimit(d.Limiter, d.Log))
		public.GET("/doodles", doodleHandler.List)
		public.GET("/doodles/:id", doodleHandler.Get)
		public.GET("/doodles/:id/status", doodleHandler.Status)
		public.GET("/doodles/:id/similar", doodleHandler.Similar)

		authed := public.Group("", middleware.AuthRequired(d.Verifier))
		authed.POST("/doodles", doodleHandler.Create)
		authed.POST("/doodles/:id/generate-3d", doodleHandler.Generate3D)
		authed.GET("/user-credits", creditsHandler.Get)
		authed.POST("/checkout", checkoutHandler.Create)
	}
	return r
}

func healthz(store *repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := store.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
