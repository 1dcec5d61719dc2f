// Package config loads the runtime configuration document.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sandbox configures the isolation host defaults.
type Sandbox struct {
	MemoryLimitMB int    `mapstructure:"memory_limit_mb"`
	DefaultFuel   uint64 `mapstructure:"default_fuel"`
	CallTimeoutMS uint64 `mapstructure:"call_timeout_ms"`
}

// Pool configures per-plugin instance pool defaults.
type Pool struct {
	MinInstances  int    `mapstructure:"min_instances"`
	MaxInstances  int    `mapstructure:"max_instances"`
	WaitTimeoutMS uint64 `mapstructure:"wait_timeout_ms"`
	IdleTimeoutMS uint64 `mapstructure:"idle_timeout_ms"`
}

// Workflow configures the executor.
type Workflow struct {
	MaxConcurrentNodes int    `mapstructure:"max_concurrent_nodes"`
	CheckpointDir      string `mapstructure:"checkpoint_dir"`
}

// Runtime is the full runtime configuration.
type Runtime struct {
	ShutdownTimeoutMS uint64   `mapstructure:"shutdown_timeout_ms"`
	AuditBufferSize   int      `mapstructure:"audit_buffer_size"`
	MailboxCapacity   int      `mapstructure:"mailbox_capacity"`
	Sandbox           Sandbox  `mapstructure:"sandbox"`
	Pool              Pool     `mapstructure:"pool"`
	Workflow          Workflow `mapstructure:"workflow"`
}

// ShutdownTimeout returns the shutdown deadline as a duration.
func (r *Runtime) ShutdownTimeout() time.Duration {
	return time.Duration(r.ShutdownTimeoutMS) * time.Millisecond
}

// Default returns the built-in configuration.
func Default() *Runtime {
	return &Runtime{
		ShutdownTimeoutMS: 30_000,
		AuditBufferSize:   4096,
		MailboxCapacity:   256,
		Sandbox: Sandbox{
			MemoryLimitMB: 256,
			DefaultFuel:   0,
			CallTimeoutMS: 30_000,
		},
		Pool: Pool{
			MinInstances:  1,
			MaxInstances:  10,
			WaitTimeoutMS: 100,
			IdleTimeoutMS: 60_000,
		},
		Workflow: Workflow{
			MaxConcurrentNodes: 4,
		},
	}
}

// Load reads the configuration from path, or from the default location
// (~/.caplet/config.yaml) when path is empty. A missing default file
// yields the defaults; a missing explicit path or a malformed file is an
// error.
func Load(path string) (*Runtime, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CAPLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".caplet"))
			v.SetConfigName("config")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && (errors.As(err, &notFound) || os.IsNotExist(err)) {
			// No config file is fine; defaults apply.
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Runtime) {
	v.SetDefault("shutdown_timeout_ms", cfg.ShutdownTimeoutMS)
	v.SetDefault("audit_buffer_size", cfg.AuditBufferSize)
	v.SetDefault("mailbox_capacity", cfg.MailboxCapacity)
	v.SetDefault("sandbox.memory_limit_mb", cfg.Sandbox.MemoryLimitMB)
	v.SetDefault("sandbox.default_fuel", cfg.Sandbox.DefaultFuel)
	v.SetDefault("sandbox.call_timeout_ms", cfg.Sandbox.CallTimeoutMS)
	v.SetDefault("pool.min_instances", cfg.Pool.MinInstances)
	v.SetDefault("pool.max_instances", cfg.Pool.MaxInstances)
	v.SetDefault("pool.wait_timeout_ms", cfg.Pool.WaitTimeoutMS)
	v.SetDefault("pool.idle_timeout_ms", cfg.Pool.IdleTimeoutMS)
	v.SetDefault("workflow.max_concurrent_nodes", cfg.Workflow.MaxConcurrentNodes)
	v.SetDefault("workflow.checkpoint_dir", cfg.Workflow.CheckpointDir)
}
