package config

import (
	"time"

	"github.com/chtzvt/csvjob/internal/job"
)

type Config struct {
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Secrets SecretsConfig `mapstructure:"secrets"`

	// Store options by URI scheme, e.g. storage.s3.region
	Storage map[string]map[string]interface{} `mapstructure:"storage"`

	Output OutputConfig `mapstructure:"output"`
	Step   StepConfig   `mapstructure:"step"`
}

type RuntimeConfig struct {
	Backend string     `mapstructure:"backend"` // local or etcd
	Etcd    EtcdConfig `mapstructure:"etcd"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type SecretsConfig struct {
	ClusterKey string `mapstructure:"cluster_key"`
}

type OutputConfig struct {
	ChunkRecords  int    `mapstructure:"chunk_records"`
	ChunkBytes    int64  `mapstructure:"chunk_bytes"`
	Compression   string `mapstructure:"compression"`
	SuccessMarker bool   `mapstructure:"success_marker"`
}

type StepConfig struct {
	Column string `mapstructure:"column"`
	Min    *int64 `mapstructure:"min"`
}

// ApplyTo fills options the job spec leaves unset from the config.
func (c *Config) ApplyTo(spec *job.Spec) {
	out := &spec.Options.Output
	if out.ChunkRecords == 0 {
		out.ChunkRecords = c.Output.ChunkRecords
	}
	if out.ChunkBytes == 0 {
		out.ChunkBytes = c.Output.ChunkBytes
	}
	if out.Compression == "" {
		out.Compression = c.Output.Compression
	}
	if out.SuccessMarker == nil {
		marker := c.Output.SuccessMarker
		out.SuccessMarker = &marker
	}

	opts := spec.Options.StepOptions
	if _, ok := opts["column"]; !ok && c.Step.Column != "" {
		opts["column"] = c.Step.Column
	}
	if _, ok := opts["min"]; !ok && c.Step.Min != nil {
		opts["min"] = *c.Step.Min
	}
}
