package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/config"
	"github.com/lascruzadas/carpool/internal/database"
	"github.com/lascruzadas/carpool/internal/handler"
	"github.com/lascruzadas/carpool/internal/logger"
	"github.com/lascruzadas/carpool/internal/middleware"
	"github.com/lascruzadas/carpool/internal/queue"
	"github.com/lascruzadas/carpool/internal/repository"
	"github.com/lascruzadas/carpool/internal/router"
	"github.com/lascruzadas/carpool/internal/service"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatal(err)
	}
	policy, err := service.ParseReleasePolicy(cfg.ReleasePolicy)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DSN())
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("migrate database")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	events := repository.NewEventRepo(db)
	rides := repository.NewRideRepo(db)

	var points service.PointsLedger = users
	if cfg.PointsTransport == config.PointsAMQP {
		points = queue.NewPublisher(cfg.RabbitMQURL, log)
		consumer := queue.NewConsumer(cfg.RabbitMQURL, users, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("points consumer stopped")
			}
		}()
	}

	coord := service.NewCoordinator(service.Deps{
		Rides:  rides,
		Queue:  repository.NewQueueRepo(db),
		Users:  users,
		Events: events,
		Points: points,
	}, service.Options{
		ReleasePolicy:         policy,
		FirstFreeSeatAttempts: cfg.FirstFreeSeatAttempts,
		MaxSeatsPerRide:       cfg.MaxSeatsPerRide,
		FeedWindow:            cfg.FeedWindow,
		Log:                   log,
	})
	reconciler := service.NewReconciler(rides, cfg.ReconcileInterval, log)
	go reconciler.Run(ctx)

	var rdb *redis.Client
	if cfg.RateLimit.Enabled || cfg.Cache.Enabled {
		rdb, err = config.NewRedisClient(cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("redis unavailable: local rate limiting, no response cache")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(log))

	rideH := handler.NewRideHandler(coord, log)
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, log), cfg.JWTSecret)
	router.RegisterPublic(e, rideH, middleware.NewRedisCache(cfg.Cache, rdb, log))
	router.RegisterRides(e, rideH, handler.NewQueueHandler(coord, log), cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, rdb, log))
	router.RegisterAdmin(e, handler.NewAdminHandler(reconciler, log), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.WithFields(logrus.Fields{
		"addr":           addr,
		"env":            cfg.Env,
		"release_policy": policy,
		"points":         cfg.PointsTransport,
	}).Info("listening")

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}
