package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/infra/config"
	"github.com/anonvid/anonvid-processing-service/internal/infra/email"
	"github.com/anonvid/anonvid-processing-service/internal/infra/metrics"
	miniostorage "github.com/anonvid/anonvid-processing-service/internal/infra/minio"
	"github.com/anonvid/anonvid-processing-service/internal/infra/rabbitmq"
	"github.com/anonvid/anonvid-processing-service/internal/infra/render"
	"github.com/anonvid/anonvid-processing-service/internal/infra/tracing"
	"github.com/anonvid/anonvid-processing-service/internal/infra/transform"
	"github.com/anonvid/anonvid-processing-service/internal/infra/voice"
	"github.com/anonvid/anonvid-processing-service/internal/usecase"
	"github.com/anonvid/anonvid-processing-service/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting anonvid-processing-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     cfg.MinIOEndpoint,
		AccessKey:    cfg.MinIOAccessKey,
		SecretKey:    cfg.MinIOSecretKey,
		UseSSL:       cfg.MinIOUseSSL,
		UploadBucket: cfg.MinIOUploadBucket,
		ResultBucket: cfg.MinIOResultBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	progressPub := rabbitmq.NewProgressPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Remote gateways and the local renderer
	transformGW := transform.New(transform.Config{
		UploadBaseURL:   cfg.TransformUploadURL,
		DeliveryBaseURL: cfg.TransformDeliveryURL,
		CloudName:       cfg.TransformCloudName,
		UploadPreset:    cfg.TransformPreset,
		APIKey:          cfg.TransformAPIKey,
		APISecret:       cfg.TransformAPISecret,
		Timeout:         cfg.TransformTimeout,
	}, log)

	voiceGW := voice.New(voice.Config{
		BaseURL:       cfg.VoiceAPIURL,
		APIKey:        cfg.VoiceAPIKey,
		Timeout:       cfg.VoiceTimeout,
		DefaultVoice:  cfg.DefaultVoice,
		FallbackVoice: cfg.FallbackVoice,
	}, log)

	renderer := render.New(render.Config{TempDir: cfg.TempDir}, log)

	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use cases
	pipeline := usecase.NewAnonymizeVideoUseCase(transformGW, voiceGW, renderer, log)
	uc := usecase.NewProcessJobUseCase(
		pipeline, storage,
		statusPub, progressPub, dlqPub, notifier,
		log,
		usecase.ProcessJobConfig{
			TempDir:    cfg.TempDir,
			MaxRetries: cfg.MaxRetries,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           cfg.RabbitMQURL,
		Queue:         cfg.RabbitMQJobsQueue,
		Exchange:      cfg.RabbitMQExchange,
		DLQ:           cfg.RabbitMQDLQ,
		StatusQueue:   cfg.RabbitMQStatus,
		ProgressQueue: cfg.RabbitMQProgress,
		Prefetch:      cfg.RabbitMQPrefetch,
		WorkerCount:   cfg.WorkerCount,
		BaseDelayMs:   cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("anonvid-processing-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("anonvid-processing-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
