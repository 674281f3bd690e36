// Package config loads server settings from defaults, an optional YAML file,
// an optional .env file, the environment and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every server setting.
type Config struct {
	HTTPAddr string
	OpsAddr  string
	DSN      string
	JWTKey   string

	MongoURI      string
	MongoDatabase string
	MaxCSVSize    int64

	RedisURL string // empty disables the licence cache
	CacheTTL time.Duration

	KafkaBrokers []string // empty disables purge and email events
	PurgeTopic   string
	EmailTopic   string
	EventTimeout time.Duration

	Workers             int
	QueueSize           int
	ContextParallelism  int
	MaxErrors           int
	MaxErrorsInResponse int

	SuccessTemplate string
	FailureTemplate string

	ShutdownTimeout time.Duration
	Dev             bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		OpsAddr:             ":9090",
		MongoURI:            "mongodb://localhost:27017",
		MongoDatabase:       "phv_register",
		MaxCSVSize:          50 << 20,
		CacheTTL:            10 * time.Minute,
		PurgeTopic:          "phv.compliance.purge",
		EmailTopic:          "phv.email.send",
		EventTimeout:        10 * time.Second,
		Workers:             4,
		QueueSize:           64,
		ContextParallelism:  4,
		MaxErrors:           1000,
		MaxErrorsInResponse: 100,
		ShutdownTimeout:     15 * time.Second,
	}
}

type fileConfig struct {
	Server struct {
		HTTPAddr        string `yaml:"http_addr"`
		OpsAddr         string `yaml:"ops_addr"`
		JWTKey          string `yaml:"jwt_key"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		Dev             bool   `yaml:"dev"`
	} `yaml:"server"`
	Dependencies struct {
		PostgresDSN   string   `yaml:"postgres_dsn"`
		MongoURI      string   `yaml:"mongo_uri"`
		MongoDatabase string   `yaml:"mongo_database"`
		RedisURL      string   `yaml:"redis_url"`
		CacheTTL      string   `yaml:"cache_ttl"`
		KafkaBrokers  []string `yaml:"kafka_brokers"`
		PurgeTopic    string   `yaml:"purge_topic"`
		EmailTopic    string   `yaml:"email_topic"`
	} `yaml:"dependencies"`
	Jobs struct {
		Workers             int    `yaml:"workers"`
		QueueSize           int    `yaml:"queue_size"`
		ContextParallelism  int    `yaml:"context_parallelism"`
		MaxErrors           int    `yaml:"max_errors"`
		MaxErrorsInResponse int    `yaml:"max_errors_in_response"`
		MaxCSVSize          int64  `yaml:"max_csv_size"`
		SuccessTemplate     string `yaml:"success_template"`
		FailureTemplate     string `yaml:"failure_template"`
	} `yaml:"jobs"`
}

// Load builds the configuration for the given command-line arguments (without the program name).
func Load(args []string) (Config, error) {
	cfg := Default()
	var configPath, envFile string

	fsFlags := flag.NewFlagSet("phv-register", flag.ContinueOnError)
	fsFlags.StringVar(&configPath, "config", "", "YAML config file")
	fsFlags.StringVar(&envFile, "env-file", ".env", "dotenv file, ignored when missing")
	fsFlags.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	fsFlags.StringVar(&cfg.OpsAddr, "ops-addr", cfg.OpsAddr, "gRPC health listen address")
	fsFlags.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN")
	fsFlags.StringVar(&cfg.JWTKey, "jwt-key", cfg.JWTKey, "HS256 verification key (required)")
	fsFlags.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB URI of the upload store")
	fsFlags.StringVar(&cfg.MongoDatabase, "mongo-db", cfg.MongoDatabase, "MongoDB database of the upload store")
	fsFlags.Int64Var(&cfg.MaxCSVSize, "max-csv-size", cfg.MaxCSVSize, "max uploaded CSV size in bytes")
	fsFlags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL of the licence cache")
	fsFlags.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "licence cache TTL")
	fsFlags.Var((*listValue)(&cfg.KafkaBrokers), "kafka-brokers", "comma separated Kafka brokers")
	fsFlags.StringVar(&cfg.PurgeTopic, "purge-topic", cfg.PurgeTopic, "compliance purge topic")
	fsFlags.StringVar(&cfg.EmailTopic, "email-topic", cfg.EmailTopic, "email notification topic")
	fsFlags.DurationVar(&cfg.EventTimeout, "event-timeout", cfg.EventTimeout, "timeout of background event delivery")
	fsFlags.IntVar(&cfg.Workers, "workers", cfg.Workers, "register job workers")
	fsFlags.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "pending register job queue size")
	fsFlags.IntVar(&cfg.ContextParallelism, "context-parallelism", cfg.ContextParallelism, "parallel licensing authority loads")
	fsFlags.IntVar(&cfg.MaxErrors, "max-errors", cfg.MaxErrors, "max errors persisted per job")
	fsFlags.IntVar(&cfg.MaxErrorsInResponse, "max-errors-response", cfg.MaxErrorsInResponse, "max errors returned for a job")
	fsFlags.StringVar(&cfg.SuccessTemplate, "success-template", cfg.SuccessTemplate, "email template of successful jobs")
	fsFlags.StringVar(&cfg.FailureTemplate, "failure-template", cfg.FailureTemplate, "email template of failed jobs")
	fsFlags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	fsFlags.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging and gRPC reflection")
	if err := fsFlags.Parse(args); err != nil {
		return Config{}, err
	}

	// Flags win over everything, so remember what was set and replay it last.
	explicit := map[string]string{}
	fsFlags.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })
	if _, ok := explicit["config"]; !ok {
		configPath = os.Getenv("PHV_CONFIG")
	}

	if configPath != "" {
		if err := applyFile(&cfg, configPath); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	for name, v := range explicit {
		if err := fsFlags.Set(name, v); err != nil {
			return Config{}, fmt.Errorf("flag -%s: %w", name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks mandatory and numeric settings.
func (c Config) Validate() error {
	switch {
	case c.DSN == "":
		return errors.New("missing postgres dsn (-dsn or PHV_DSN)")
	case c.JWTKey == "":
		return errors.New("missing jwt key (-jwt-key or PHV_JWT_KEY)")
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.QueueSize < 0:
		return fmt.Errorf("queue size must not be negative, got %d", c.QueueSize)
	case c.ContextParallelism <= 0:
		return fmt.Errorf("context parallelism must be positive, got %d", c.ContextParallelism)
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.HTTPAddr, f.Server.HTTPAddr)
	setString(&cfg.OpsAddr, f.Server.OpsAddr)
	setString(&cfg.JWTKey, f.Server.JWTKey)
	cfg.Dev = cfg.Dev || f.Server.Dev
	setString(&cfg.DSN, f.Dependencies.PostgresDSN)
	setString(&cfg.MongoURI, f.Dependencies.MongoURI)
	setString(&cfg.MongoDatabase, f.Dependencies.MongoDatabase)
	setString(&cfg.RedisURL, f.Dependencies.RedisURL)
	setString(&cfg.PurgeTopic, f.Dependencies.PurgeTopic)
	setString(&cfg.EmailTopic, f.Dependencies.EmailTopic)
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	setString(&cfg.SuccessTemplate, f.Jobs.SuccessTemplate)
	setString(&cfg.FailureTemplate, f.Jobs.FailureTemplate)
	setInt(&cfg.Workers, f.Jobs.Workers)
	setInt(&cfg.QueueSize, f.Jobs.QueueSize)
	setInt(&cfg.ContextParallelism, f.Jobs.ContextParallelism)
	setInt(&cfg.MaxErrors, f.Jobs.MaxErrors)
	setInt(&cfg.MaxErrorsInResponse, f.Jobs.MaxErrorsInResponse)
	if f.Jobs.MaxCSVSize > 0 {
		cfg.MaxCSVSize = f.Jobs.MaxCSVSize
	}

	for _, d := range []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&cfg.ShutdownTimeout, f.Server.ShutdownTimeout, "server.shutdown_timeout"},
		{&cfg.CacheTTL, f.Dependencies.CacheTTL, "dependencies.cache_ttl"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = envOrDefault("PHV_HTTP_ADDR", cfg.HTTPAddr)
	cfg.OpsAddr = envOrDefault("PHV_OPS_ADDR", cfg.OpsAddr)
	cfg.DSN = envOrDefault("PHV_DSN", envOrDefault("DATABASE_URL", cfg.DSN))
	cfg.JWTKey = envOrDefault("PHV_JWT_KEY", cfg.JWTKey)
	cfg.MongoURI = envOrDefault("PHV_MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = envOrDefault("PHV_MONGO_DB", cfg.MongoDatabase)
	cfg.RedisURL = envOrDefault("PHV_REDIS_URL", cfg.RedisURL)
	cfg.PurgeTopic = envOrDefault("PHV_PURGE_TOPIC", cfg.PurgeTopic)
	cfg.EmailTopic = envOrDefault("PHV_EMAIL_TOPIC", cfg.EmailTopic)
	cfg.SuccessTemplate = envOrDefault("PHV_SUCCESS_TEMPLATE", cfg.SuccessTemplate)
	cfg.FailureTemplate = envOrDefault("PHV_FAILURE_TEMPLATE", cfg.FailureTemplate)
	if v := os.Getenv("PHV_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = trimNonEmpty(strings.Split(v, ","))
	}

	var err error
	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Workers, "PHV_WORKERS"},
		{&cfg.QueueSize, "PHV_QUEUE_SIZE"},
		{&cfg.ContextParallelism, "PHV_CONTEXT_PARALLELISM"},
		{&cfg.MaxErrors, "PHV_MAX_ERRORS"},
		{&cfg.MaxErrorsInResponse, "PHV_MAX_ERRORS_RESPONSE"},
	}
	for _, i := range ints {
		if *i.dst, err = envInt(i.key, *i.dst); err != nil {
			return err
		}
	}
	if v := os.Getenv("PHV_MAX_CSV_SIZE"); v != "" {
		if cfg.MaxCSVSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("PHV_MAX_CSV_SIZE: %w", err)
		}
	}
	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.CacheTTL, "PHV_CACHE_TTL"},
		{&cfg.EventTimeout, "PHV_EVENT_TIMEOUT"},
		{&cfg.ShutdownTimeout, "PHV_SHUTDOWN_TIMEOUT"},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			if *d.dst, err = time.ParseDuration(v); err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
		}
	}
	if v := os.Getenv("PHV_DEV"); v != "" {
		if cfg.Dev, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("PHV_DEV: %w", err)
		}
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// listValue is a comma separated flag.
type listValue []string

func (l *listValue) String() string { return strings.Join(*l, ",") }

func (l *listValue) Set(v string) error {
	*l = trimNonEmpty(strings.Split(v, ","))
	return nil
}
