package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures the full runtime configuration for the shortsplit service.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Upload    UploadConfig
	Segment   SegmentConfig
	Render    RenderConfig
	Encoder   EncoderConfig
	Verify    VerifyConfig
	Delivery  DeliveryConfig
	Telegram  TelegramConfig
	Storage   StorageConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Tracing   TracingConfig
	Janitor   JanitorConfig
	Toolchain ToolchainConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"shortsplit"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"APP_LOG_ENCODING" envDefault:"json"`
	WorkDir     string `env:"APP_WORK_DIR" envDefault:"."`
}

type HTTPConfig struct {
	Addr           string        `env:"HTTP_ADDR" envDefault:":5000"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"2m"`
}

type UploadConfig struct {
	StagingDir        string        `env:"UPLOAD_STAGING_DIR" envDefault:"chunks"`
	OutputDir         string        `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxChunkBytes     int64         `env:"UPLOAD_MAX_CHUNK_BYTES" envDefault:"10485760"`
	MultipartMemBytes int64         `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"8388608"`
	SessionBackend    string        `env:"UPLOAD_SESSION_BACKEND" envDefault:"memory"`
	SessionTTL        time.Duration `env:"UPLOAD_SESSION_TTL" envDefault:"24h"`
	ArchiveSources    bool          `env:"UPLOAD_ARCHIVE_SOURCES" envDefault:"false"`
}

type SegmentConfig struct {
	SliceLength time.Duration `env:"SEGMENT_SLICE_LENGTH" envDefault:"15s"`
	MinViable   time.Duration `env:"SEGMENT_MIN_VIABLE" envDefault:"100ms"`
}

type RenderConfig struct {
	Width             int      `env:"RENDER_WIDTH" envDefault:"1080"`
	Height            int      `env:"RENDER_HEIGHT" envDefault:"1920"`
	TopBarFraction    float64  `env:"RENDER_TOP_BAR_FRACTION" envDefault:"0.2"`
	BottomBarFraction float64  `env:"RENDER_BOTTOM_BAR_FRACTION" envDefault:"0.2"`
	ColorScheme       string   `env:"RENDER_COLOR_SCHEME" envDefault:"dark"`
	LabelFormat       string   `env:"RENDER_LABEL_FORMAT" envDefault:"Part %d"`
	FontSize          int      `env:"RENDER_FONT_SIZE" envDefault:"80"`
	FontPaths         []string `env:"RENDER_FONT_PATHS" envSeparator:"," envDefault:"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf,/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf,/usr/share/fonts/truetype/freefont/FreeSansBold.ttf"`
	FontFallback      string   `env:"RENDER_FONT_FALLBACK" envDefault:"Sans"`
}

type EncoderConfig struct {
	Profile        string  `env:"ENCODER_PROFILE" envDefault:"software"`
	SoftwareCodec  string  `env:"ENCODER_SOFTWARE_CODEC" envDefault:"libx264"`
	SoftwarePreset string  `env:"ENCODER_SOFTWARE_PRESET" envDefault:"slow"`
	CRF            int     `env:"ENCODER_CRF" envDefault:"18"`
	DefaultBitRate int64   `env:"ENCODER_DEFAULT_BIT_RATE" envDefault:"8000000"`
	MaxRateFactor  float64 `env:"ENCODER_MAX_RATE_FACTOR" envDefault:"1.5"`
	BufSizeFactor  float64 `env:"ENCODER_BUF_SIZE_FACTOR" envDefault:"2"`
	HardwareCodec  string  `env:"ENCODER_HARDWARE_CODEC" envDefault:"h264_nvenc"`
	HardwarePreset string  `env:"ENCODER_HARDWARE_PRESET" envDefault:"fast"`
	RateControl    string  `env:"ENCODER_RATE_CONTROL" envDefault:"vbr"`
	CQ             int     `env:"ENCODER_CQ" envDefault:"20"`
	AudioCodec     string  `env:"ENCODER_AUDIO_CODEC" envDefault:"aac"`
	AudioBitRate   string  `env:"ENCODER_AUDIO_BIT_RATE" envDefault:"320k"`
}

type VerifyConfig struct {
	AcceptDrift     time.Duration `env:"VERIFY_ACCEPT_DRIFT" envDefault:"100ms"`
	RegenerateDrift time.Duration `env:"VERIFY_REGENERATE_DRIFT" envDefault:"1s"`
}

type DeliveryConfig struct {
	Transport   string        `env:"DELIVERY_TRANSPORT" envDefault:"telegram"`
	Recipient   string        `env:"DELIVERY_RECIPIENT"`
	MaxAttempts int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"3"`
	Backoff     time.Duration `env:"DELIVERY_BACKOFF" envDefault:"2s"`
	Pacing      time.Duration `env:"DELIVERY_PACING" envDefault:"1s"`
	CallTimeout time.Duration `env:"DELIVERY_CALL_TIMEOUT" envDefault:"10m"`
}

type TelegramConfig struct {
	Token       string  `env:"TELEGRAM_BOT_TOKEN"`
	Mode        string  `env:"TELEGRAM_MODE" envDefault:"direct"`
	WebhookURL  string  `env:"WEBHOOK_URL"`
	APIEndpoint string  `env:"TELEGRAM_API_ENDPOINT" envDefault:"https://api.telegram.org/bot%s/%s"`
	RatePerSec  float64 `env:"TELEGRAM_RATE_PER_SEC" envDefault:"20"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"shortsplit"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	EventsTopic      string        `env:"KAFKA_EVENTS_TOPIC" envDefault:"shortsplit.events"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"shortsplit"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=shortsplit"`
}

type JanitorConfig struct {
	Schedule string `env:"JANITOR_SCHEDULE" envDefault:"@every 10m"`
}

type ToolchainConfig struct {
	FFmpegBin  string `env:"FFMPEG_BIN" envDefault:"ffmpeg"`
	FFprobeBin string `env:"FFPROBE_BIN" envDefault:"ffprobe"`
}

// Load reads an optional .env file and parses environment variables into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Segment.SliceLength <= 0:
		return errors.New("SEGMENT_SLICE_LENGTH must be positive")
	case c.Segment.MinViable < 0:
		return errors.New("SEGMENT_MIN_VIABLE must not be negative")
	case c.Render.Width <= 0 || c.Render.Height <= 0:
		return errors.New("RENDER_WIDTH and RENDER_HEIGHT must be positive")
	case c.Render.TopBarFraction < 0 || c.Render.BottomBarFraction < 0 ||
		c.Render.TopBarFraction+c.Render.BottomBarFraction >= 1:
		return errors.New("bar fractions must be non-negative and leave room for the middle band")
	case c.Verify.AcceptDrift > c.Verify.RegenerateDrift:
		return errors.New("VERIFY_ACCEPT_DRIFT must not exceed VERIFY_REGENERATE_DRIFT")
	case c.Delivery.MaxAttempts < 1:
		return errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1")
	case c.Upload.MaxChunkBytes <= 0:
		return errors.New("UPLOAD_MAX_CHUNK_BYTES must be positive")
	}
	if c.Delivery.Recipient == "" {
		return errors.New("DELIVERY_RECIPIENT is required")
	}
	switch c.Delivery.Transport {
	case "telegram":
		if c.Telegram.Token == "" {
			return errors.New("TELEGRAM_BOT_TOKEN is required for the telegram transport")
		}
		switch c.Telegram.Mode {
		case "direct", "polling":
		case "webhook":
			if c.Telegram.WebhookURL == "" {
				return errors.New("WEBHOOK_URL is required in webhook mode")
			}
		default:
			return fmt.Errorf("unsupported TELEGRAM_MODE: %s", c.Telegram.Mode)
		}
	case "objectstore":
		if c.Storage.Provider == "" {
			return errors.New("STORAGE_PROVIDER is required for the objectstore transport")
		}
	default:
		return fmt.Errorf("unsupported DELIVERY_TRANSPORT: %s", c.Delivery.Transport)
	}
	return nil
}
