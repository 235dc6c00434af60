package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/catalog"
	"github.com/medreza/honcho-rewards/pkg/config"
	"github.com/medreza/honcho-rewards/pkg/coupon"
	"github.com/medreza/honcho-rewards/pkg/database"
	"github.com/medreza/honcho-rewards/pkg/events"
	"github.com/medreza/honcho-rewards/pkg/handlers"
	"github.com/medreza/honcho-rewards/pkg/identity"
	"github.com/medreza/honcho-rewards/pkg/logger"
	"github.com/medreza/honcho-rewards/pkg/loyalty"
	"github.com/medreza/honcho-rewards/pkg/play"
	"github.com/medreza/honcho-rewards/pkg/referral"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	var store repository.Store
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := database.InitDB(ctx, cfg.Store.PostgresURL, log)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer pool.Close()
		store = repository.NewPostgresStore(pool)
	case "memory":
		log.Warn("Using in-memory store, state is lost on exit")
		store = repository.NewMemoryStore()
	}

	if cfg.SeedFile != "" {
		c, err := catalog.Load(cfg.SeedFile)
		if err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
		if err := c.Apply(ctx, store, log); err != nil {
			log.Fatalf("Failed to seed catalog: %v", err)
		}
	}

	pub, history, closeEvents := setupEvents(ctx, cfg.Events, log)
	defer closeEvents()

	resolver, err := identity.NewResolver(cfg.Auth.Mode, cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to set up identity: %v", err)
	}
	if cfg.Auth.ServiceToken == "" {
		log.Warn("SERVICE_TOKEN is empty, internal routes are unauthenticated")
	}

	coupons := coupon.NewService(store, log,
		coupon.WithPublisher(pub),
		coupon.WithValidity(cfg.Coupon.Validity),
	)
	loyaltySvc := loyalty.NewService(store, cfg.Loyalty.Tiers, log, loyalty.WithPublisher(pub))
	plays := play.NewService(store, coupons, log, play.WithPublisher(pub))
	referrals := referral.NewService(store, loyaltySvc, log,
		referral.WithPublisher(pub),
		referral.WithReward(cfg.Referral.Reward),
		referral.WithCodeTTL(cfg.Referral.CodeTTL),
	)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.RouterConfig{
		Plays:        plays,
		Coupons:      coupons,
		Loyalty:      loyaltySvc,
		Referrals:    referrals,
		Identity:     resolver,
		ServiceToken: cfg.Auth.ServiceToken,
		PlayLimiter:  handlers.NewPlayLimiter(cfg.RateLimit.PlaysPerSecond, cfg.RateLimit.Burst, log),
		History:      history,
		Log:          log,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting service on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start service: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Service forced to shutdown: %v", err)
	}

	log.Info("Service exited")
}

// setupEvents builds the configured publisher. The returned history is nil
// unless the MongoDB audit sink is enabled.
func setupEvents(ctx context.Context, cfg config.EventsConfig, log *logrus.Logger) (events.Publisher, handlers.EventHistory, func()) {
	var (
		pubs    []events.Publisher
		history handlers.EventHistory
		closers []func()
	)

	if cfg.Driver == "amqp" || cfg.Driver == "both" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		pubs = append(pubs, amqpPub)
		closers = append(closers, func() {
			if err := amqpPub.Close(); err != nil {
				log.WithError(err).Warn("Failed to close RabbitMQ publisher")
			}
		})
	}

	if cfg.Driver == "mongo" || cfg.Driver == "both" {
		sink, err := events.NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		pubs = append(pubs, sink)
		history = sink
		closers = append(closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sink.Close(closeCtx); err != nil {
				log.WithError(err).Warn("Failed to close MongoDB sink")
			}
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(pubs) == 0 {
		return events.Nop, nil, closeAll
	}
	return events.Multi(pubs...), history, closeAll
}
