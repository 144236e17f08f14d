// Package config loads the invocation core's configuration with viper,
// binding the same flag/env/file precedence the teacher's cobra commands
// use, and unmarshals it into a typed Config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/serverless-fanout/invoker/internal/dispatch"
	"github.com/serverless-fanout/invoker/internal/job"
)

// Constants carried unchanged from spec.md §6. Pool-sizing values are
// owned by internal/dispatch (the package that actually consumes them)
// and re-exported here under their spec names.
const (
	RemoteInvokerMemory    = 2048
	InvokerProcesses       = dispatch.InvokerProcesses
	MaxConcurrentPerWorker = dispatch.MaxConcurrentPerWorker
	MonitorPollInterval    = time.Second
	QuotaBackoffMax        = dispatch.QuotaBackoffMax
	ExecutionTimeoutGuard  = job.ExecutionTimeoutGuard
)

// Lithops holds the worker-pool and monitoring-mode knobs, named after
// spec.md §6's `lithops.*` config section.
type Lithops struct {
	Workers         int  `mapstructure:"workers"`
	RabbitMQMonitor bool `mapstructure:"rabbitmq_monitor"`
}

// Serverless holds the default runtime selection knobs, spec.md §6's
// `serverless.*` section.
type Serverless struct {
	Runtime        string        `mapstructure:"runtime"`
	RuntimeMemory  int           `mapstructure:"runtime_memory"`
	RuntimeTimeout time.Duration `mapstructure:"runtime_timeout"`
	RemoteInvoker  bool          `mapstructure:"remote_invoker"`

	// RuntimeVersion is this process's local interpreter/ABI version
	// string (spec.md §4.1 step 4). Left empty, the runtime selector
	// skips the compatibility check entirely.
	RuntimeVersion string `mapstructure:"runtime_version"`
}

// RabbitMQ keeps spec.md §6's key name for config-surface continuity, even
// though internal/bus speaks NATS rather than AMQP underneath (see
// DESIGN.md). AMQPURL is read as the bus connection URL.
type RabbitMQ struct {
	AMQPURL string `mapstructure:"amqp_url"`
}

// Config is the unmarshal target for the whole invoker configuration tree.
type Config struct {
	Lithops    Lithops    `mapstructure:"lithops"`
	Serverless Serverless `mapstructure:"serverless"`
	RabbitMQ   RabbitMQ   `mapstructure:"rabbitmq"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("lithops.workers", 100)
	v.SetDefault("lithops.rabbitmq_monitor", false)
	v.SetDefault("serverless.runtime", "")
	v.SetDefault("serverless.runtime_memory", 256)
	v.SetDefault("serverless.runtime_timeout", 600*time.Second)
	v.SetDefault("serverless.remote_invoker", false)
	v.SetDefault("serverless.runtime_version", "")
	v.SetDefault("rabbitmq.amqp_url", "")
}

// flagBindings maps the cmd/invokerctl flag names that shadow a config key
// to that key's dotted viper path. Flags not named here (backend/store
// selection, credentials, ...) have no config-file equivalent and are read
// by the caller directly off the flag set instead.
var flagBindings = map[string]string{
	"workers":          "lithops.workers",
	"rabbitmq-monitor": "lithops.rabbitmq_monitor",
	"runtime-version":  "serverless.runtime_version",
}

// BindFlags wires the subset of flags in flagBindings that are present in
// flags into v, so e.g. --workers, when set on the command line, takes
// precedence over both an INVOKER_-prefixed env var and lithops.workers
// read from the config file, per viper's standard precedence order; an
// unset flag does not override either. Flags absent from the
// set (cobra builds one FlagSet per subcommand) are skipped rather than
// erroring, so BindFlags can be called with any subcommand's flags.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flagName, key := range flagBindings {
		f := flags.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", flagName, err)
		}
	}
	return nil
}

// Load reads configFile (if non-empty) plus INVOKER_-prefixed environment
// overrides into a new Config, following the teacher's viper setup in its
// cobra command constructors.
func Load(configFile string) (*Config, error) {
	return load(configFile, nil)
}

// LoadWithFlags is Load plus BindFlags(flags): it lets cmd/invokerctl pass
// its own FlagSet so flags like --workers participate in viper's
// file/env/flag precedence instead of being applied as a manual override
// after the fact.
func LoadWithFlags(configFile string, flags *pflag.FlagSet) (*Config, error) {
	return load(configFile, flags)
}

func load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	if flags != nil {
		if err := BindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("INVOKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
