// Package config loads and validates the pipeline configuration from YAML
// files and IPRISK_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/riskforge/iprisk/pkg/calibrate"
	"github.com/riskforge/iprisk/pkg/explain"
)

// Source types the CLI can construct.
const (
	SourceCSV  = "csv"
	SourcePCAP = "pcap"
)

// Config is the full configuration surface of a run.
type Config struct {
	Model struct {
		// Contamination is the expected fraction of anomalous rows, in (0,1).
		Contamination float64
		Seed          int64
		// Workers bounds model parallelism; -1 means all cores.
		Workers    int
		Trees      int
		SampleSize int `mapstructure:"sample_size"`
	}

	Features struct {
		// Columns to keep from the raw table; empty means all.
		Columns []string
	}

	Calibration struct {
		Method string
	}

	Evidence struct {
		TopK  int `mapstructure:"top_k"`
		Style string
	}

	Source struct {
		Type      string
		Path      string
		ClientAPI struct {
			URL     string
			Auth    string
			Exclude []string
			Timeout time.Duration
		} `mapstructure:"client_api"`
	}

	Output struct {
		Path string
		// Full emits every row with its anomaly flag instead of only the
		// flagged ones.
		Full bool
	}

	Logging struct {
		Level  string
		Format string
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("model.contamination", 0.02)
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.workers", -1)
	v.SetDefault("model.trees", 100)
	v.SetDefault("model.sample_size", 256)
	v.SetDefault("calibration.method", string(calibrate.SeverityRanking))
	v.SetDefault("evidence.top_k", explain.DefaultTopK)
	v.SetDefault("evidence.style", string(explain.StyleLabeled))
	v.SetDefault("source.type", SourceCSV)
	v.SetDefault("source.path", "features.csv")
	v.SetDefault("output.path", "flagged_ips.csv")
	v.SetDefault("output.full", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetEnvPrefix("IPRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the documented value ranges.
func (c *Config) Validate() error {
	if c.Model.Contamination <= 0 || c.Model.Contamination >= 1 {
		return errors.Errorf("model.contamination must be in (0,1), got %g", c.Model.Contamination)
	}
	if c.Model.Trees < 1 {
		return errors.Errorf("model.trees must be >= 1, got %d", c.Model.Trees)
	}
	if c.Model.SampleSize < 1 {
		return errors.Errorf("model.sample_size must be >= 1, got %d", c.Model.SampleSize)
	}
	if c.Evidence.TopK < 1 {
		return errors.Errorf("evidence.top_k must be >= 1, got %d", c.Evidence.TopK)
	}
	if _, err := calibrate.ParseMethod(c.Calibration.Method); err != nil {
		return err
	}
	if _, err := explain.ParseStyle(c.Evidence.Style); err != nil {
		return err
	}
	switch c.Source.Type {
	case SourceCSV, SourcePCAP:
	default:
		return errors.Errorf("source.type must be %q or %q, got %q", SourceCSV, SourcePCAP, c.Source.Type)
	}
	if c.Source.Path == "" {
		return errors.New("source.path must not be empty")
	}
	return nil
}
