package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/shortsplit/internal/bot"
	"github.com/your-org/shortsplit/internal/chunkstore"
	"github.com/your-org/shortsplit/internal/delivery"
	"github.com/your-org/shortsplit/internal/events"
	"github.com/your-org/shortsplit/internal/ffmpeg"
	"github.com/your-org/shortsplit/internal/ingestion"
	"github.com/your-org/shortsplit/internal/janitor"
	"github.com/your-org/shortsplit/internal/pipeline"
	"github.com/your-org/shortsplit/internal/segment"
	"github.com/your-org/shortsplit/internal/transcode"
	"github.com/your-org/shortsplit/internal/verify"
	"github.com/your-org/shortsplit/pkg/config"
	"github.com/your-org/shortsplit/pkg/kafka"
	"github.com/your-org/shortsplit/pkg/logger"
	"github.com/your-org/shortsplit/pkg/storage/objectstore"
	"github.com/your-org/shortsplit/pkg/tracing"
)

const startupMessage = "✅ Bot is online and ready to process videos!"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogEncoding)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	exec := ffmpeg.ExecRunner{}
	bins := ffmpeg.Binaries{FFmpeg: cfg.Toolchain.FFmpegBin, FFprobe: cfg.Toolchain.FFprobeBin}
	if err := ffmpeg.CheckAvailable(ctx, exec, bins); err != nil {
		logr.Fatal("ffmpeg toolchain unavailable", zap.Error(err))
	}

	publisher, err := newPublisher(cfg, logr)
	if err != nil {
		logr.Fatal("init event publisher", zap.Error(err))
	}

	var store objectstore.Client
	if cfg.Storage.Provider != "" {
		store, err = objectstore.New(objectstore.Config{
			Provider:  cfg.Storage.Provider,
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			logr.Fatal("init object store", zap.Error(err))
		}
	}

	sessions, closeSessions, err := newSessionRegistry(ctx, cfg)
	if err != nil {
		logr.Fatal("init upload sessions", zap.Error(err))
	}

	chunks, err := chunkstore.New(sessions, chunkstore.Options{
		StagingDir:    cfg.Upload.StagingDir,
		OutputDir:     cfg.Upload.OutputDir,
		MaxChunkBytes: cfg.Upload.MaxChunkBytes,
		Logger:        logr,
	})
	if err != nil {
		logr.Fatal("init chunk store", zap.Error(err))
	}

	invoker, err := newInvoker(cfg, exec, bins.FFmpeg, logr)
	if err != nil {
		logr.Fatal("init encoder", zap.Error(err))
	}
	prober := ffmpeg.NewProber(exec, bins.FFprobe)

	var (
		base     delivery.Transport
		telegram *delivery.Telegram
	)
	switch cfg.Delivery.Transport {
	case "telegram":
		telegram, err = delivery.NewTelegram(delivery.TelegramConfig{
			Token:       cfg.Telegram.Token,
			Endpoint:    cfg.Telegram.APIEndpoint,
			RatePerSec:  cfg.Telegram.RatePerSec,
			CallTimeout: cfg.Delivery.CallTimeout,
		})
		if err != nil {
			logr.Fatal("connect telegram", zap.Error(err))
		}
		base = telegram
	case "objectstore":
		base = delivery.NewObjectStore(store)
	}
	transport := delivery.NewRetrying(base, cfg.Delivery.MaxAttempts, cfg.Delivery.Backoff, cfg.Delivery.CallTimeout, logr)

	runner := pipeline.NewRunner(pipeline.Params{
		Prober:    prober,
		Encoder:   invoker,
		Verifier:  verify.NewVerifier(prober, invoker, cfg.Verify.AcceptDrift, cfg.Verify.RegenerateDrift, logr),
		Transport: transport,
		Publisher: publisher,
		Planner:   segment.NewPlanner(cfg.Segment.SliceLength, cfg.Segment.MinViable),
		WorkDir:   cfg.App.WorkDir,
		Pacing:    cfg.Delivery.Pacing,
		Logger:    logr,
	})

	gate := delivery.NewGate()
	go func() {
		if err := delivery.Announce(ctx, transport, cfg.Delivery.Recipient, startupMessage, gate); err != nil {
			logr.Error("transport not ready, uploads stay disabled", zap.Error(err))
			return
		}
		logr.Info("transport ready", zap.String("transport", cfg.Delivery.Transport))
	}()

	var webhook http.Handler
	if telegram != nil && cfg.Telegram.Mode != "direct" {
		listener := bot.NewListener(bot.Params{
			API:         telegram.Bot(),
			Replies:     transport,
			Runs:        runner,
			DownloadDir: cfg.App.WorkDir,
			Logger:      logr,
		})
		switch cfg.Telegram.Mode {
		case "webhook":
			if err := bot.RegisterWebhook(telegram.Bot(), cfg.Telegram.WebhookURL); err != nil {
				logr.Fatal("register webhook", zap.Error(err))
			}
			webhook = listener.WebhookHandler()
		case "polling":
			go func() {
				if err := listener.Poll(ctx, telegram.Bot()); err != nil {
					logr.Error("polling stopped", zap.Error(err))
				}
			}()
		}
	}

	var archive objectstore.Client
	if cfg.Upload.ArchiveSources {
		archive = store
	}
	service := ingestion.NewService(ingestion.Params{
		Chunks:    chunks,
		Runs:      runner,
		Archive:   archive,
		Publisher: publisher,
		Recipient: cfg.Delivery.Recipient,
		Logger:    logr,
	})

	handler := ingestion.NewHTTPHandler(service, logr, ingestion.HandlerOptions{
		Gate:          gate,
		Webhook:       webhook,
		MaxChunkBytes: cfg.Upload.MaxChunkBytes,
		FormMemBytes:  cfg.Upload.MultipartMemBytes,
		Timeout:       cfg.HTTP.RequestTimeout,
	})

	sweeper, err := janitor.New(janitor.Params{
		Schedule:  cfg.Janitor.Schedule,
		Uploads:   chunks,
		Runs:      runner.Registry(),
		UploadTTL: cfg.Upload.SessionTTL,
		Logger:    logr,
	})
	if err != nil {
		logr.Fatal("init janitor", zap.Error(err))
	}
	sweeper.Start()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		sweeper.Stop(shutdownCtx)
		if err := runner.Close(shutdownCtx); err != nil {
			logr.Error("runs still active at shutdown", zap.Error(err))
		}
		if err := publisher.Close(shutdownCtx); err != nil {
			logr.Error("event publisher shutdown failed", zap.Error(err))
		}
		if store != nil {
			if err := store.Close(); err != nil {
				logr.Error("object store shutdown failed", zap.Error(err))
			}
		}
		if err := closeSessions(); err != nil {
			logr.Error("session registry shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("splitter starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("transport", cfg.Delivery.Transport),
		zap.String("telegram_mode", cfg.Telegram.Mode),
		zap.String("encoder", invoker.Profile().Name()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}
	<-drained
	logr.Info("splitter stopped")
}

func newPublisher(cfg *config.Config, logr *zap.Logger) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Nop{}, nil
	}
	evLog := logger.Component(logr, "events")
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.EventsTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
		Async:        true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				evLog.Warn("event batch dropped", zap.Int("records", len(messages)), zap.Error(err))
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return events.NewKafkaPublisher(producer, cfg.App.Name), nil
}

func newSessionRegistry(ctx context.Context, cfg *config.Config) (chunkstore.Registry, func() error, error) {
	if cfg.Upload.SessionBackend != "redis" {
		return chunkstore.NewMemoryRegistry(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, nil, err
	}
	return chunkstore.NewRedisRegistry(client, cfg.Redis.KeyPrefix, cfg.Upload.SessionTTL), client.Close, nil
}

func newInvoker(cfg *config.Config, runner ffmpeg.Runner, bin string, logr *zap.Logger) (*transcode.Invoker, error) {
	font := transcode.ResolveFont(cfg.Render.FontPaths, cfg.Render.FontFallback)
	style, err := transcode.NewFrameStyle(cfg.Render.ColorScheme, font)
	if err != nil {
		return nil, err
	}
	style.Width = cfg.Render.Width
	style.Height = cfg.Render.Height
	style.TopBarFraction = cfg.Render.TopBarFraction
	style.BottomBarFraction = cfg.Render.BottomBarFraction
	style.LabelFormat = cfg.Render.LabelFormat
	style.FontSize = cfg.Render.FontSize

	profile, err := transcode.SelectProfile(cfg.Encoder.Profile,
		transcode.HardwareProfile{
			Codec:       cfg.Encoder.HardwareCodec,
			Preset:      cfg.Encoder.HardwarePreset,
			RateControl: cfg.Encoder.RateControl,
			CQ:          cfg.Encoder.CQ,
		},
		transcode.SoftwareProfile{
			Codec:          cfg.Encoder.SoftwareCodec,
			Preset:         cfg.Encoder.SoftwarePreset,
			CRF:            cfg.Encoder.CRF,
			DefaultBitRate: cfg.Encoder.DefaultBitRate,
			MaxRateFactor:  cfg.Encoder.MaxRateFactor,
			BufSizeFactor:  cfg.Encoder.BufSizeFactor,
		},
	)
	if err != nil {
		return nil, err
	}
	if font.File == "" {
		logr.Warn("no font file found, using fontconfig family", zap.String("family", font.Family))
	}

	return transcode.NewInvoker(transcode.Params{
		Runner:  runner,
		Binary:  bin,
		Style:   style,
		Profile: profile,
		Audio:   transcode.AudioProfile{Codec: cfg.Encoder.AudioCodec, BitRate: cfg.Encoder.AudioBitRate},
		Logger:  logr,
	}), nil
}
