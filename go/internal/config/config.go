package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/pregao/go/internal/dbconfig"
	"github.com/mcdev12/pregao/go/internal/dispute/lot"
)

// PathEnv names the variable pointing at an optional YAML config file.
const PathEnv = "PREGAO_CONFIG_PATH"

type Config struct {
	Env      string          `yaml:"env" env:"PREGAO_ENV" env-default:"local"`
	HTTP     HTTP            `yaml:"http"`
	Database dbconfig.Config `yaml:"database"`
	Dispute  Dispute         `yaml:"dispute"`
	Auth     Auth            `yaml:"auth"`
	Broker   Broker          `yaml:"broker"`
	Outbox   Outbox          `yaml:"outbox"`
	Log      Log             `yaml:"log"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Dispute holds the room rules. Durations are whole seconds on the wire.
type Dispute struct {
	InitialDuration   time.Duration `yaml:"initial_duration" env:"DISPUTE_INITIAL_DURATION" env-default:"10m"`
	ExtensionDuration time.Duration `yaml:"extension_duration" env:"DISPUTE_EXTENSION_DURATION" env-default:"2m"`
	TiebreakDuration  time.Duration `yaml:"tiebreak_duration" env:"DISPUTE_TIEBREAK_DURATION" env-default:"1m"`
	RandomMaxDuration time.Duration `yaml:"random_max_duration" env:"DISPUTE_RANDOM_MAX_DURATION" env-default:"30m"`
	CancelWindow      time.Duration `yaml:"cancel_window" env:"DISPUTE_CANCEL_WINDOW" env-default:"10s"`
	ShortlistSize     int           `yaml:"shortlist_size" env:"DISPUTE_SHORTLIST_SIZE" env-default:"3"`
	FinalOfferMargin  string        `yaml:"final_offer_margin" env:"DISPUTE_FINAL_OFFER_MARGIN" env-default:"0.10"`
	TickInterval      time.Duration `yaml:"tick_interval" env:"DISPUTE_TICK_INTERVAL" env-default:"1s"`
	SchedulerWorkers  int           `yaml:"scheduler_workers" env:"DISPUTE_SCHEDULER_WORKERS" env-default:"4"`
	DispatchQueueSize int           `yaml:"dispatch_queue_size" env:"DISPUTE_DISPATCH_QUEUE_SIZE" env-default:"1024"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-required:"true"`
	Issuer    string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"pregao"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"8h"`
}

type Broker struct {
	Kind            string        `yaml:"kind" env:"BROKER_KIND" env-default:"nats"`
	NATSURL         string        `yaml:"nats_url" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
	StreamName      string        `yaml:"stream_name" env:"NATS_STREAM_NAME" env-default:"DISPUTE_EVENTS"`
	SubjectPrefix   string        `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"dispute.events"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" env:"NATS_DUPLICATE_WINDOW" env-default:"2h"`
	KafkaBrokers    []string      `yaml:"kafka_brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	KafkaTopic      string        `yaml:"kafka_topic" env:"KAFKA_TOPIC" env-default:"dispute-events"`
}

type Outbox struct {
	NotifyChannel    string        `yaml:"notify_channel" env:"OUTBOX_NOTIFY_CHANNEL" env-default:"dispute_outbox_events"`
	FallbackInterval time.Duration `yaml:"fallback_interval" env:"OUTBOX_FALLBACK_INTERVAL" env-default:"30s"`
	PingInterval     time.Duration `yaml:"ping_interval" env:"OUTBOX_PING_INTERVAL" env-default:"90s"`
	BatchSize        int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"100"`
	MaxRetries       int           `yaml:"max_retries" env:"OUTBOX_MAX_RETRIES" env-default:"5"`
	RetryDelay       time.Duration `yaml:"retry_delay" env:"OUTBOX_RETRY_DELAY" env-default:"200ms"`
	MetricsAddr      string        `yaml:"metrics_addr" env:"OUTBOX_METRICS_ADDR" env-default:":9091"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads .env (if present), then the YAML file named by PREGAO_CONFIG_PATH
// (if set), then environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg Config
	if path := os.Getenv(PathEnv); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that exits the process on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	return cfg
}

func (c *Config) validate() error {
	if _, err := c.Dispute.Policy(); err != nil {
		return err
	}
	switch c.Broker.Kind {
	case "nats", "kafka", "log":
	default:
		return fmt.Errorf("unknown broker kind %q", c.Broker.Kind)
	}
	return nil
}

// Policy converts the dispute section into lot rules.
func (d Dispute) Policy() (lot.Policy, error) {
	margin, err := decimal.NewFromString(d.FinalOfferMargin)
	if err != nil {
		return lot.Policy{}, fmt.Errorf("invalid final offer margin %q: %w", d.FinalOfferMargin, err)
	}
	if margin.IsNegative() {
		return lot.Policy{}, fmt.Errorf("final offer margin must not be negative")
	}
	p := lot.Policy{
		InitialSeconds:   int(d.InitialDuration / time.Second),
		ExtensionSeconds: int(d.ExtensionDuration / time.Second),
		TiebreakSeconds:  int(d.TiebreakDuration / time.Second),
		RandomMaxSeconds: int(d.RandomMaxDuration / time.Second),
		CancelWindow:     d.CancelWindow,
		ShortlistSize:    d.ShortlistSize,
		FinalOfferMargin: margin,
	}
	if p.InitialSeconds <= 0 || p.ExtensionSeconds <= 0 || p.TiebreakSeconds <= 0 || p.RandomMaxSeconds <= 0 {
		return lot.Policy{}, fmt.Errorf("dispute durations must be at least one second")
	}
	if p.ShortlistSize <= 0 {
		return lot.Policy{}, fmt.Errorf("shortlist size must be positive")
	}
	return p, nil
}

// SetupLogger configures the global zerolog logger: console output for local
// runs, JSON otherwise.
func (c *Config) SetupLogger() {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Env == "local" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}
