package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file named by CONFIG_FILE, and individual environment variables.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Node         NodeConfig         `yaml:"node"`
	Naming       NamingConfig       `yaml:"naming"`
	Carte        CarteConfig        `yaml:"carte"`
	Verification VerificationConfig `yaml:"verification"`
	Storage      StorageConfig      `yaml:"storage"`
	Log          LogConfig          `yaml:"log"`
	Auth         AuthConfig         `yaml:"auth"`
}

type ServerConfig struct {
	Port              string        `yaml:"port" validate:"required,numeric"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// TrustedProxies lists the CIDRs whose X-Real-IP/X-Forwarded-For headers
	// are believed. Headers from any other peer are ignored.
	TrustedProxies []string `yaml:"trusted_proxies" validate:"dive,cidr"`
}

// NodeConfig identifies this search node on the federation.
type NodeConfig struct {
	Name string `yaml:"name" validate:"required"`
}

type NamingConfig struct {
	URL string `yaml:"url" validate:"required,url"`

	SuccessTTL      time.Duration `yaml:"success_ttl" validate:"gt=0"`
	ErrorTTL        time.Duration `yaml:"error_ttl" validate:"gt=0"`
	BlockingTimeout time.Duration `yaml:"blocking_timeout" validate:"gt=0"`
	PurgeInterval   time.Duration `yaml:"purge_interval" validate:"gt=0"`
	RefreshWorkers  int           `yaml:"refresh_workers" validate:"min=1,max=256"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`

	// Circuit breaker around the naming service client.
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures" validate:"min=1"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" validate:"gt=0"`
}

// CarteConfig configures carte authentication. NodeName is copied from
// NodeConfig.Name when loading.
type CarteConfig struct {
	NodeName string        `yaml:"-"`
	Grace    time.Duration `yaml:"grace" validate:"gt=0"`
}

type VerificationConfig struct {
	MaxReplyDepth int           `yaml:"max_reply_depth" validate:"min=1"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory postgres badger"`
	DatabaseURL string `yaml:"database_url" validate:"required_if=Backend postgres"`
	BadgerDir   string `yaml:"badger_dir" validate:"required_if=Backend badger"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// AuthConfig selects how inbound requests are authenticated. Dev mode trusts
// X-Debug-Owner headers and must never be used in production.
type AuthConfig struct {
	Mode     string `yaml:"mode" validate:"oneof=carte dev"`
	DevOwner string `yaml:"dev_owner"`
}

// Default returns the configuration used when nothing overrides it. Node.Name
// and Naming.URL have no defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              "8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Naming: NamingConfig{
			SuccessTTL:         6 * time.Hour,
			ErrorTTL:           time.Minute,
			BlockingTimeout:    30 * time.Second,
			PurgeInterval:      time.Minute,
			RefreshWorkers:     8,
			RequestTimeout:     10 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Carte: CarteConfig{
			Grace: 120 * time.Second,
		},
		Verification: VerificationConfig{
			MaxReplyDepth: 64,
			FetchTimeout:  20 * time.Second,
		},
		Storage: StorageConfig{Backend: "memory"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Auth:    AuthConfig{Mode: "carte", DevOwner: "dev_0"},
	}
}

// LoadFromEnv builds and validates the configuration.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Carte.NodeName = cfg.Node.Name

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	stringEnv("PORT", &cfg.Server.Port)
	stringEnv("NODE_NAME", &cfg.Node.Name)
	stringEnv("NAMING_URL", &cfg.Naming.URL)
	stringEnv("STORAGE_BACKEND", &cfg.Storage.Backend)
	stringEnv("DATABASE_URL", &cfg.Storage.DatabaseURL)
	stringEnv("BADGER_DIR", &cfg.Storage.BadgerDir)
	stringEnv("LOG_LEVEL", &cfg.Log.Level)
	stringEnv("LOG_FORMAT", &cfg.Log.Format)
	stringEnv("AUTH_MODE", &cfg.Auth.Mode)
	stringEnv("DEV_OWNER", &cfg.Auth.DevOwner)
	listEnv("TRUSTED_PROXIES", &cfg.Server.TrustedProxies)

	errs = append(errs,
		durationEnv("NAMING_SUCCESS_TTL", "6h", &cfg.Naming.SuccessTTL),
		durationEnv("NAMING_ERROR_TTL", "1m", &cfg.Naming.ErrorTTL),
		durationEnv("NAMING_BLOCKING_TIMEOUT", "30s", &cfg.Naming.BlockingTimeout),
		durationEnv("NAMING_PURGE_INTERVAL", "1m", &cfg.Naming.PurgeInterval),
		durationEnv("NAMING_REQUEST_TIMEOUT", "10s", &cfg.Naming.RequestTimeout),
		durationEnv("NAMING_BREAKER_OPEN_TIMEOUT", "30s", &cfg.Naming.BreakerOpenTimeout),
		durationEnv("CARTE_GRACE", "120s", &cfg.Carte.Grace),
		durationEnv("VERIFY_FETCH_TIMEOUT", "20s", &cfg.Verification.FetchTimeout),
		intEnv("NAMING_REFRESH_WORKERS", &cfg.Naming.RefreshWorkers),
		intEnv("VERIFY_MAX_REPLY_DEPTH", &cfg.Verification.MaxReplyDepth),
	)

	if v := os.Getenv("NAMING_BREAKER_MAX_FAILURES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("NAMING_BREAKER_MAX_FAILURES must be a positive integer: %w", err))
		} else {
			cfg.Naming.BreakerMaxFailures = uint32(n)
		}
	}

	return errors.Join(errs...)
}

func stringEnv(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// listEnv reads a comma-separated list, dropping empty items.
func listEnv(name string, dst *[]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func durationEnv(name, example string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a duration (e.g. %s): %w", name, example, err)
	}
	*dst = d
	return nil
}

func intEnv(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", name, err)
	}
	*dst = n
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
}
