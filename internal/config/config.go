// Package config provides runtime configuration values for a pipeline run.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every load or validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	MaxProducers      = 9
	MaxBufferCapacity = 30
)

// Config holds the knobs of a single run.
type Config struct {
	Producers      int    `mapstructure:"producers" validate:"min=1,max=9"`
	BufferCapacity int    `mapstructure:"buffer" validate:"min=1,max=30"`
	InventoryIn    string `mapstructure:"inventory_in" validate:"required"`
	InventoryOut   string `mapstructure:"inventory_out" validate:"required"`
	OrdersDir      string `mapstructure:"orders_dir" validate:"required"`
	OrdersPrefix   string `mapstructure:"orders_prefix" validate:"required"`
	LogPath        string `mapstructure:"log_path" validate:"required"`
	LogLevel       string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	StatusAddr     string `mapstructure:"status_addr" validate:"omitempty,hostname_port"`
	OtelEndpoint   string `mapstructure:"otel_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("producers", 1)
	v.SetDefault("buffer", 10)
	v.SetDefault("inventory_in", "inventory.old")
	v.SetDefault("inventory_out", "inventory.new")
	v.SetDefault("orders_dir", ".")
	v.SetDefault("orders_prefix", "orders")
	v.SetDefault("log_path", "log")
	v.SetDefault("log_level", "info")
	v.SetDefault("status_addr", "")
	v.SetDefault("otel_endpoint", "")
}

// NewFlagSet declares the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.IntP("producers", "p", 1, fmt.Sprintf("number of producers (1-%d)", MaxProducers))
	fs.IntP("buffer", "b", 10, fmt.Sprintf("bounded buffer capacity (1-%d)", MaxBufferCapacity))
	fs.String("inventory-in", "inventory.old", "inventory file read at start")
	fs.String("inventory-out", "inventory.new", "inventory file written at end")
	fs.String("orders-dir", ".", "directory holding the order files")
	fs.String("orders-prefix", "orders", "order file prefix, producer n reads <prefix><n>")
	fs.String("log", "log", "transaction log, appended to")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("status-addr", "", "serve run status on this address (disabled when empty)")
	fs.String("otel-endpoint", "", "OTLP/HTTP endpoint for traces (disabled when empty)")
	return fs
}

var flagKeys = map[string]string{
	"producers":     "producers",
	"buffer":        "buffer",
	"inventory-in":  "inventory_in",
	"inventory-out": "inventory_out",
	"orders-dir":    "orders_dir",
	"orders-prefix": "orders_prefix",
	"log":           "log_path",
	"log-level":     "log_level",
	"status-addr":   "status_addr",
	"otel-endpoint": "otel_endpoint",
}

// Load collects configuration from defaults, ORDERS_* environment variables
// and args, in increasing precedence, then validates it.
func Load(args []string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	fs := NewFlagSet("order-pipeline")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return Config{}, fmt.Errorf("%w: bind %s: %v", ErrInvalidConfig, flagName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field bounds.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
