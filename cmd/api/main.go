package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ml-server/internal/dispatch"
	"ml-server/internal/executors"
	"ml-server/internal/middleware"
	"ml-server/internal/replication"
	"ml-server/internal/routers"
	"ml-server/internal/shared"
	"ml-server/internal/state"
	"ml-server/internal/stream"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	addr := flag.String("addr", shared.DefaultAddr, "Listen address")
	debug := flag.Bool("debug", false, "Debug enabled")
	adminAPIKey := flag.String("admin-api-key", "", "Admin api key, admin routes are disabled when empty")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key, metrics are public when empty")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for replicating model updates")
	redisChannel := flag.String("redis-channel", shared.DefaultRedisChannel, "Redis pub/sub channel for model updates")
	maxInflight := flag.Int("stream-max-inflight", shared.StreamMaxInflight, "Max inference requests computed at once per stream connection")
	readLimit := flag.Int64("stream-read-limit", shared.StreamReadLimit, "Max stream message size in bytes")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional redis replication of admin updates
	var opts []dispatch.Option
	var syncer *replication.Syncer
	if *redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
		defer func() {
			_ = redisClient.Close()
		}()

		origin, _ := nanoid.Generate(shared.RequestIDAlphabet, shared.ConnectionIDLength)
		origin = shared.GetEnv("HOSTNAME", "replica") + "-" + origin
		syncer = replication.New(redisClient, *redisChannel, origin, log)
		opts = append(opts, dispatch.WithPublisher(syncer))
	}

	st := state.New(log, executors.DefaultSource, opts...)
	if syncer != nil {
		go func() {
			if err := syncer.Run(ctx, st.Dispatcher); err != nil {
				log.Errorw("Model update replication stopped", "error", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "ML Server is running")
	})
	metricsRoute := []echo.MiddlewareFunc{}
	if *metricsAPIKey != "" {
		metricsRoute = append(metricsRoute, middleware.RequireKey(*metricsAPIKey))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), metricsRoute...)

	base := e.Group("")
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	base.Use(emw.BodyLimit(shared.MaxRequestBodyBytes))

	routers.RegisterRoutes(base, st, routers.RouterConfig{
		AdminAPIKey: *adminAPIKey,
		Stream: stream.Config{
			MaxInflight: *maxInflight,
			ReadLimit:   *readLimit,
		},
	})
	if *adminAPIKey == "" {
		log.Warn("No admin api key set, admin routes and stream model updates are disabled")
	}

	go func() {
		log.Infow("ML Server listening", "addr", *addr)
		if err := e.Start(*addr); err != nil && err != http.ErrServerClosed {
			log.Fatalw("shutting down the server", "error", err)
		}
	}()
	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()

	st.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Failed graceful shutdown", "error", err)
	}
}
