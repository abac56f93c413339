package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.02, cfg.Model.Contamination)
	assert.Equal(t, int64(42), cfg.Model.Seed)
	assert.Equal(t, -1, cfg.Model.Workers)
	assert.Equal(t, 100, cfg.Model.Trees)
	assert.Equal(t, 256, cfg.Model.SampleSize)
	assert.Equal(t, "severity_ranking", cfg.Calibration.Method)
	assert.Equal(t, 3, cfg.Evidence.TopK)
	assert.Equal(t, "labeled", cfg.Evidence.Style)
	assert.Equal(t, SourceCSV, cfg.Source.Type)
	assert.False(t, cfg.Output.Full)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model:
  contamination: 0.1
  seed: 7
calibration:
  method: sigmoid_centered
evidence:
  top_k: 5
  style: plain
source:
  type: pcap
  path: traffic.pcap
output:
  full: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.Model.Contamination)
	assert.Equal(t, int64(7), cfg.Model.Seed)
	assert.Equal(t, "sigmoid_centered", cfg.Calibration.Method)
	assert.Equal(t, 5, cfg.Evidence.TopK)
	assert.Equal(t, "plain", cfg.Evidence.Style)
	assert.Equal(t, SourcePCAP, cfg.Source.Type)
	assert.Equal(t, "traffic.pcap", cfg.Source.Path)
	assert.True(t, cfg.Output.Full)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.Model.Trees)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"contamination zero", func(c *Config) { c.Model.Contamination = 0 }},
		{"contamination one", func(c *Config) { c.Model.Contamination = 1 }},
		{"no trees", func(c *Config) { c.Model.Trees = 0 }},
		{"no sample size", func(c *Config) { c.Model.SampleSize = 0 }},
		{"top_k zero", func(c *Config) { c.Evidence.TopK = 0 }},
		{"unknown method", func(c *Config) { c.Calibration.Method = "magic" }},
		{"unknown style", func(c *Config) { c.Evidence.Style = "fancy" }},
		{"unknown source type", func(c *Config) { c.Source.Type = "bigquery" }},
		{"empty source path", func(c *Config) { c.Source.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
