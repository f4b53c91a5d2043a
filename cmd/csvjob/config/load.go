package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	BackendLocal = "local"
	BackendEtcd  = "etcd"
)

func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("csvjob")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/csvjob/")
	}

	v.SetEnvPrefix("CSVJOB") // env vars like CSVJOB_RUNTIME__BACKEND
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))

	v.SetDefault("runtime.backend", BackendLocal)
	v.SetDefault("runtime.etcd.prefix", "/csvjob")
	v.SetDefault("runtime.etcd.dial_timeout", "5s")
	v.SetDefault("output.success_marker", true)

	v.BindEnv("runtime.etcd.endpoints")
	v.BindEnv("runtime.etcd.username")
	v.BindEnv("runtime.etcd.password")
	v.BindEnv("secrets.cluster_key")
	v.BindEnv("output.chunk_records")
	v.BindEnv("output.chunk_bytes")
	v.BindEnv("output.compression")
	v.BindEnv("step.column")
	v.BindEnv("step.min")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Runtime.Backend = strings.ToLower(cfg.Runtime.Backend)
	switch cfg.Runtime.Backend {
	case BackendLocal:
	case BackendEtcd:
		if len(cfg.Runtime.Etcd.Endpoints) == 0 {
			return nil, fmt.Errorf("runtime.etcd.endpoints is required for the etcd backend")
		}
	default:
		return nil, fmt.Errorf("unknown runtime backend %q", cfg.Runtime.Backend)
	}
	if cfg.Secrets.ClusterKey != "" && len(cfg.Runtime.Etcd.Endpoints) == 0 {
		return nil, fmt.Errorf("secrets.cluster_key requires runtime.etcd.endpoints")
	}

	return &cfg, nil
}
