// Package config provides layered configuration loading for the blockvault
// service. It merges Defaults -> Environment Variables, then validates.
//
// Environment variables use the BLOCKVAULT_ prefix followed by the upper-cased
// koanf key, e.g. BLOCKVAULT_DATA_DIR or BLOCKVAULT_MAX_BYTES=256KiB.
//
// The block encryption key override (ORION_BLOCK_ENCRYPTION_KEY) is not part
// of Config; the key provider reads it directly on every resolution.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/hengadev/errsx"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is prepended to every configuration environment variable.
const EnvPrefix = "BLOCKVAULT_"

// Config holds the merged runtime configuration.
type Config struct {
	Addr         string        `koanf:"addr" validate:"required,ip_port"`
	DataDir      string        `koanf:"data_dir" validate:"data_dir"`
	Driver       string        `koanf:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL  string        `koanf:"database_url" validate:"required_if=Driver postgres"`
	MaxBytes     int64         `koanf:"max_bytes" validate:"gt=0"`
	MetricsToken string        `koanf:"metrics_token"`
	MetricsFlush time.Duration `koanf:"metrics_flush" validate:"gt=0"`
}

// DefaultAppConfig is the lowest configuration layer.
var DefaultAppConfig = Config{
	Addr:         ":8080",
	DataDir:      "data",
	Driver:       "sqlite",
	MaxBytes:     1 << 20, // 1 MiB
	MetricsFlush: 10 * time.Second,
}

// SQLiteDSN returns the DSN for the block database inside DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, "blockvault.db") + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate"
}

// MetricsDSN returns the DSN for the metrics database inside DataDir.
func (c *Config) MetricsDSN() string {
	return "file:" + filepath.Join(c.DataDir, "metrics.db") + "?_journal_mode=WAL&_busy_timeout=5000"
}

// DSN returns the block database DSN for the configured driver.
func (c *Config) DSN() string {
	if c.Driver == "postgres" {
		return c.DatabaseURL
	}
	return c.SQLiteDSN()
}

// loader steps are package variables so tests can inject failures.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("data_dir", validDataDir)
	}
)

// Load merges defaults and environment and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToByteSize(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, describe(err)
	}
	return &cfg, nil
}

// describe turns validator output into one error keyed by koanf field name.
func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var errs errsx.Map
	for _, fe := range verrs {
		key := fieldKey(fe.StructField())
		errs.Set(key, fmt.Errorf("%s failed %q validation", key, fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %w", errs.AsError())
}

func fieldKey(structField string) string {
	switch structField {
	case "Addr":
		return "addr"
	case "DataDir":
		return "data_dir"
	case "Driver":
		return "driver"
	case "DatabaseURL":
		return "database_url"
	case "MaxBytes":
		return "max_bytes"
	case "MetricsFlush":
		return "metrics_flush"
	}
	return structField
}

// validIPPort accepts "host:port" where host is empty or a literal IP and
// port is in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n > 0 && n <= 65535
}

// validDataDir rejects empty paths, the filesystem root, the working
// directory itself, and any path with a parent segment.
func validDataDir(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}

// ParseSize converts a human-friendly size string into a byte count.
// Accepts plain integers (bytes) or IEC/human suffixes: KiB/MiB/GiB (case-insensitive) or K/M/G.
// Examples: "131072" => 131072, "128KiB" => 131072, "1MiB" => 1048576, "2G" => 2147483648.
func ParseSize(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	upper := strings.ToUpper(s)
	if n, ok, err := parseSizeWithSuffix(upper, orig); ok {
		return n, err
	}
	n, err := parsePositiveInt(upper)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", orig, err)
	}
	return n, nil
}

// parsePositiveInt parses a base-10 int64 and rejects negatives.
func parsePositiveInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative not allowed")
	}
	return n, nil
}

// parseSizeWithSuffix attempts to parse well-known size suffixes. It returns (value, true, nil)
// on success; (0, false, nil) if no suffix matched; or (0, true, error) if a suffix matched but parsing failed.
func parseSizeWithSuffix(upper, orig string) (int64, bool, error) {
	type unit struct {
		suffix string
		mult   int64
	}
	units := []unit{
		{"KIB", 1024}, {"MIB", 1024 * 1024}, {"GIB", 1024 * 1024 * 1024},
		{"K", 1024}, {"M", 1024 * 1024}, {"G", 1024 * 1024 * 1024},
	}
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			numPart := strings.TrimSpace(upper[:len(upper)-len(u.suffix)])
			if numPart == "" {
				return 0, true, fmt.Errorf("parse size %q: missing number", orig)
			}
			n, err := parsePositiveInt(numPart)
			if err != nil {
				return 0, true, fmt.Errorf("parse size %q: %w", orig, err)
			}
			return n * u.mult, true, nil
		}
	}
	return 0, false, nil
}
