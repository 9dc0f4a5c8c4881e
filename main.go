package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/autsav/backgroundRemover/internal/config"
	"github.com/autsav/backgroundRemover/internal/controller"
	"github.com/autsav/backgroundRemover/internal/falclient"
	"github.com/autsav/backgroundRemover/internal/gateway"
	"github.com/autsav/backgroundRemover/internal/handlers"
	"github.com/autsav/backgroundRemover/internal/httpclient"
	"github.com/autsav/backgroundRemover/internal/logging"
	"github.com/autsav/backgroundRemover/internal/repository"
	"github.com/autsav/backgroundRemover/internal/session"
	"github.com/autsav/backgroundRemover/internal/storage"
	"github.com/autsav/backgroundRemover/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cfg.Fal.Key == "" {
		logger.Warn("FAL_KEY is not set, background removal requests will fail")
	}

	recorder := initRecorder(ctx, cfg, logger)
	uploader := initUploader(ctx, cfg, logger)

	model := falclient.New(falclient.Options{
		QueueURL:     cfg.Fal.QueueURL,
		Credential:   cfg.Fal.Key,
		Timeout:      cfg.Model.Timeout,
		PollInterval: cfg.Model.PollInterval,
	}, logger)

	gw := gateway.New(gateway.Settings{
		Credential:          cfg.Fal.Key,
		Endpoint:            cfg.Model.Endpoint,
		Model:               cfg.Model.Variant,
		OperatingResolution: cfg.Model.OperatingResolution,
		OutputFormat:        cfg.Model.OutputFormat,
	}, uploader, model, logger)

	uc := usecase.NewRemovalUseCase(gw, recorder, cfg.Model.Variant, logger)

	policy, err := controller.ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		logger.Fatal("invalid error policy", zap.Error(err))
	}
	sessions := session.NewManager(initSessionStore(ctx, cfg, logger), uc, controller.Options{
		Policy:  policy,
		Fetcher: controller.NewHTTPFetcher(httpclient.NewHTTPClient(), ""),
	}, cfg.Session.TTL, logger)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go sessions.Run(janitorCtx, time.Minute)

	secret := cfg.Session.Secret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("SESSION_SECRET is not set, sessions will not survive a restart")
	}
	signer := session.NewTokenSigner(secret, cfg.Session.TTL)

	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.RequestLogger(logger))

	handlers.RegisterRoutes(r, uc, sessions, signer, logger, handlers.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		SessionTTL:     cfg.Session.TTL,
		SecureCookie:   cfg.Session.SecureCookie,
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("background remover listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initRecorder(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) usecase.ProcessingRecorder {
	if cfg.DatabaseDSN == "" {
		zapLogger.Info("DATABASE_DSN is not set, processing audit log disabled")
		return usecase.NopRecorder{}
	}

	db := initDatabase(ctx, cfg.DatabaseDSN, zapLogger)
	repo := repository.NewProcessingRepository(db, zapLogger)
	if err := repo.AutoMigrate(ctx); err != nil {
		zapLogger.Fatal("auto migrate failed", zap.Error(err))
	}
	return repo
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initUploader(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) storage.Uploader {
	if cfg.Storage.Backend != config.StorageS3 {
		return storage.NewFalUploader(cfg.Fal.StorageURL, cfg.Fal.Key, httpclient.NewHTTPClient(), zapLogger)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		zapLogger.Fatal("failed to load AWS config", zap.Error(err))
	}
	return storage.NewS3Uploader(s3.NewFromConfig(awsCfg), storage.S3Options{
		Bucket:        cfg.Storage.S3Bucket,
		Prefix:        cfg.Storage.S3Prefix,
		PresignTTL:    cfg.Storage.S3PresignTTL,
		PublicBaseURL: cfg.Storage.S3PublicBase,
	}, zapLogger)
}

func initSessionStore(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) session.Store {
	if cfg.Session.Store != config.SessionStoreRedis {
		return session.NewMemoryStore()
	}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return session.NewRedisStore(session.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, zapLogger)))
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
