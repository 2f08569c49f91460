package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vit-classifier/internal/checkpoint"
	"vit-classifier/internal/dataset"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Model.NumClasses)
	assert.Equal(t, 3, cfg.Model.Channels)
	assert.Equal(t, float32(0.001), cfg.Optimizer.LearningRate)
	assert.Equal(t, float32(0.0001), cfg.Optimizer.WeightDecay)
	assert.Equal(t, 256, cfg.Train.BatchSize)
	assert.Equal(t, 100, cfg.Train.Epochs)
	assert.Equal(t, 0.1, cfg.Train.ValidationSplit)
	assert.False(t, cfg.Checkpoint.SaveBest)
	assert.False(t, cfg.Checkpoint.RestoreBest)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data:
  source: synthetic
  input_shape: [16, 16, 1]
model:
  image_size: 24
  patch_size: 4
  transformer_layers: 2
training:
  epochs: 3
checkpoint:
  dtype: bf16
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := Default()
	want.Data.Source = dataset.SourceSynthetic
	want.Data.InputShape = []int{16, 16, 1}
	want.Model.ImageSize = 24
	want.Model.PatchSize = 4
	want.Model.Layers = 2
	want.Model.Channels = 1
	want.Train.Epochs = 3
	want.Checkpoint.DType = checkpoint.DTypeBF16
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("training:\n  steps: 10\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "steps")
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	seed := int64(0)
	yes := true
	cfg.ApplyOverrides(Overrides{
		Dataset:         dataset.SourceWebDataset,
		DataDir:         "/data",
		Epochs:          5,
		Seed:            &seed,
		SaveBest:        &yes,
		RestoreBest:     &yes,
		CheckpointDType: checkpoint.DTypeF16,
		Debug:           true,
	})

	assert.Equal(t, dataset.SourceWebDataset, cfg.Data.Source)
	assert.Equal(t, "/data", cfg.Data.DataDir)
	assert.Equal(t, 5, cfg.Train.Epochs)
	assert.Equal(t, 256, cfg.Train.BatchSize, "zero overrides are ignored")
	assert.Equal(t, int64(0), cfg.Train.Seed, "explicit zero seed wins")
	assert.True(t, cfg.Checkpoint.SaveBest)
	assert.True(t, cfg.Checkpoint.RestoreBest)
	assert.Equal(t, checkpoint.DTypeF16, cfg.Checkpoint.DType)
	assert.True(t, cfg.Debug)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	cases := []struct {
		value        string
		debug, trace bool
		wantErr      bool
	}{
		{"", false, false, false},
		{"1", true, false, false},
		{"true", true, false, false},
		{"0", false, false, false},
		{"2", true, true, false},
		{"loud", false, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv(DebugEnv, tc.value)
			cfg := Default()
			err := cfg.ApplyEnv()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.debug, cfg.Debug)
			assert.Equal(t, tc.trace, cfg.Trace)
		})
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown source":       func(c *Config) { c.Data.Source = "imagenet" },
		"webdataset needs dir": func(c *Config) { c.Data.Source = dataset.SourceWebDataset },
		"bad input shape":      func(c *Config) { c.Data.InputShape = []int{32, 32} },
		"bad channels":         func(c *Config) { c.Data.InputShape = []int{32, 32, 4} },
		"indivisible patches":  func(c *Config) { c.Model.PatchSize = 7 },
		"zero epochs":          func(c *Config) { c.Train.Epochs = 0 },
		"zero batch":           func(c *Config) { c.Train.BatchSize = -1 },
		"zero workers":         func(c *Config) { c.Train.Workers = 0 },
		"validation split":     func(c *Config) { c.Train.ValidationSplit = 1 },
		"learning rate":        func(c *Config) { c.Optimizer.LearningRate = 0 },
		"dtype":                func(c *Config) { c.Checkpoint.DType = "f64" },
		"restore without save": func(c *Config) { c.Checkpoint.RestoreBest = true },
		"no synthetic samples": func(c *Config) { c.Data.Source = dataset.SourceSynthetic; c.Data.SyntheticTest = 0 },
		"missing output dir":   func(c *Config) { c.Output.ImageDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDefaultsLogEvery(t *testing.T) {
	cfg := Default()
	cfg.Train.LogEvery = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Train.LogEvery)
}
