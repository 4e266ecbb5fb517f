package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"orianna/internal/engine"
	"orianna/internal/handler"
	"orianna/internal/repo"
	"orianna/internal/service"
	"orianna/internal/utils/cache"
	"orianna/pkg/database/client"
	rabbit "orianna/pkg/rabbit/pkg"
	redispkg "orianna/pkg/redis/pkg"
)

func startHTTP(logger *zap.Logger) {
	dbConfig := client.ReadConfig()
	drv, err := client.Open("mysql_orianna", dbConfig)
	if err != nil {
		logger.Fatal("Failed to initialize SQL driver", zap.Error(err))
	}
	defer func() {
		if err := drv.Close(); err != nil {
			logger.Error("can not close SQL driver", zap.Error(err))
		}
	}()

	if err := repo.Migrate(context.Background(), drv); err != nil {
		logger.Fatal("can not init database schema", zap.Error(err))
	}
	repository := repo.New(drv)

	var sessionCache cache.Cache = cache.Dummy{}
	if redisConfig := redispkg.ReadConfig(); redisConfig != nil {
		redisClient, err := redispkg.New(redisConfig)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		sessionCache = cache.New(redisClient)
	}

	broker := rabbit.New(rabbit.ReadConfig())
	provider := service.NewProvider(logger)

	eng := engine.New(repository, provider, sessionCache, broker, logger)
	eng.Start()
	defer eng.Shutdown()

	sweeper := engine.NewSweeper(eng, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("Failed to start evaluation sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	// External scoring results arrive over the broker.
	go func() {
		if err := broker.Consume(context.Background(), eng.ReceiveEvaluation); err != nil {
			logger.Error("Broker consumer stopped", zap.Error(err))
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	handler.New(eng, logger).Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/statusz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"worker_pool": eng.PoolMetrics()})
	})

	srv := &http.Server{
		Addr:    viper.GetString("server.host") + ":" + viper.GetString("server.port"),
		Handler: r,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
