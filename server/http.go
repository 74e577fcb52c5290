package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"transcode-service/config"
	"transcode-service/constant"
	jobHandler "transcode-service/handler"
	"transcode-service/pkg/cache"
	"transcode-service/pkg/rabbitmq"
	"transcode-service/repository"
	"transcode-service/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
	}

	repo, err := repository.NewRepo(cfg.DB)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRepo")
	}

	statusCache := cache.StatusCache(cache.NewNop())
	if cfg.Cache != nil {
		statusCache = cache.NewRedisCache(cfg.Cache, time.Duration(cfg.Transcode.StatusCacheTTLSec)*time.Second)
	}

	var publisher service.ArtifactPublisher
	if cfg.Storage != nil && cfg.PublishBucket != "" {
		publisher = service.NewMinioPublisher(cfg.Storage, cfg.PublishBucket)
	}

	encoder := service.NewFFmpegEncoder(cfg.Transcode.FfmpegPath, cfg.Transcode.SegmentSeconds)
	dispatcher := rabbitmq.NewPublisher(conn, cfg.Queue)
	transcodeService := service.NewService(repo, dispatcher, encoder, statusCache, publisher, cfg)

	serviceDeps := jobHandler.ServiceDependencies{
		TranscodeService: transcodeService,
	}

	// Execute never runs on the request path; the consumer pool is the
	// only execution context for encodes.
	transcodeConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, jobHandler.JobHandler)
	go func() {
		if err := transcodeConsumer.Consume(ctx, serviceDeps); err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("transcode consumer error")
		}
	}()

	r := gin.Default()
	addHealth(r)
	jobHandler.NewHttp(transcodeService, cfg).Register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
