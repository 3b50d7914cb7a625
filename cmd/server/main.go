package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doodles/config"
	"doodles/internal/auth"
	"doodles/internal/database"
	"doodles/internal/events"
	"doodles/internal/logger"
	"doodles/internal/metrics"
	"doodles/internal/middleware"
	"doodles/internal/repository"
	"doodles/internal/router"
	"doodles/pkg/payment"
	"doodles/pkg/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79/client"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Log.Level)

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("database")
	}
	if err := database.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	gateway := pipeline.NewClient(pipeline.Config{
		APIKey:    cfg.Pipeline.APIKey,
		PublicURL: cfg.Server.PublicURL,
		Timeout:   cfg.Pipeline.Timeout,
		Sketch: pipeline.Endpoint{
			RunsURL:   cfg.Pipeline.SketchRunsURL,
			ID:        cfg.Pipeline.SketchID,
			InputNode: cfg.Pipeline.SketchInputNode,
		},
		Model: pipeline.Endpoint{
			RunsURL:   cfg.Pipeline.ModelRunsURL,
			ID:        cfg.Pipeline.ModelID,
			InputNode: cfg.Pipeline.ModelInputNode,
		},
	}, log)
	if cfg.Pipeline.APIKey == "" {
		log.Warn("LIGHTBOX_API_KEY not set, generation requests will fail")
	}

	var payments payment.Provider
	if cfg.Stripe.SecretKey != "" {
		payments = payment.NewStripeProvider(client.New(cfg.Stripe.SecretKey, nil), cfg.Stripe.FrontendURL)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, checkout returns the success URL without charging")
		payments = &payment.StubProvider{FrontendURL: cfg.Stripe.FrontendURL}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Broker.URL != "" {
		p, err := events.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Exchange, log)
		if err != nil {
			log.WithError(err).Fatal("amqp")
		}
		publisher = p
	}
	defer publisher.Close()

	var limiter middleware.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = middleware.NewRedisRateLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	} else {
		limiter = middleware.NewInMemoryRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	verifier, err := auth.NewVerifier(&cfg.JWT)
	if err != nil {
		log.WithError(err).Fatal("jwt verifier")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := router.Setup(router.Deps{
		Config:    cfg,
		Store:     repository.NewStore(db),
		Gateway:   gateway,
		Payments:  payments,
		Publisher: publisher,
		Limiter:   limiter,
		Verifier:  verifier,
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		Log:       log,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Server.Port, "env": cfg.Server.Env}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown")
		return
	}
	log.Info("server stopped")
}
