// Package config holds the knobs for a training run.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vit-classifier/internal/augment"
	"vit-classifier/internal/checkpoint"
	"vit-classifier/internal/dataset"
	"vit-classifier/internal/model"
	"vit-classifier/internal/optim"
)

// DebugEnv names the environment variable that enables debug logging.
// "1" or "true" selects debug, "2" selects trace.
const DebugEnv = "VIT_DEBUG"

type DataConfig struct {
	Source   string `yaml:"source"`
	DataDir  string `yaml:"data_dir"`
	CacheDir string `yaml:"cache_dir"`
	// InputShape is height, width, channels of the stored images.
	InputShape     []int `yaml:"input_shape"`
	SyntheticTrain int   `yaml:"synthetic_train"`
	SyntheticTest  int   `yaml:"synthetic_test"`
}

type AugmentConfig struct {
	FlipProbability float64 `yaml:"flip_probability"`
	RotationFactor  float64 `yaml:"rotation_factor"`
	ZoomHeight      float64 `yaml:"zoom_height"`
	ZoomWidth       float64 `yaml:"zoom_width"`
}

type TrainConfig struct {
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	ValidationSplit float64 `yaml:"validation_split"`
	Workers         int     `yaml:"workers"`
	Seed            int64   `yaml:"seed"`
	LogEvery        int     `yaml:"log_every"`
}

type CheckpointConfig struct {
	SaveBest    bool   `yaml:"save_best"`
	RestoreBest bool   `yaml:"restore_best"`
	DType       string `yaml:"dtype"`
}

type OutputConfig struct {
	ImageDir    string `yaml:"image_dir"`
	ModelDir    string `yaml:"model_dir"`
	SaveHistory bool   `yaml:"save_history"`
}

// Config captures the runtime knobs for a training run.
type Config struct {
	Data       DataConfig        `yaml:"data"`
	Model      model.Options     `yaml:"model"`
	Augment    AugmentConfig     `yaml:"augmentation"`
	Optimizer  optim.AdamWConfig `yaml:"optimizer"`
	Train      TrainConfig       `yaml:"training"`
	Checkpoint CheckpointConfig  `yaml:"checkpoint"`
	Output     OutputConfig      `yaml:"output"`
	Debug      bool              `yaml:"debug"`
	Trace      bool              `yaml:"trace"`
}

// Default returns the CIFAR-100 tutorial settings.
func Default() *Config {
	aug := augment.DefaultOptions(72)
	return &Config{
		Data: DataConfig{
			Source:         dataset.SourceCIFAR100,
			InputShape:     []int{32, 32, 3},
			SyntheticTrain: 512,
			SyntheticTest:  128,
		},
		Model: model.DefaultOptions(),
		Augment: AugmentConfig{
			FlipProbability: aug.FlipProbability,
			RotationFactor:  aug.RotationFactor,
			ZoomHeight:      aug.ZoomHeight,
			ZoomWidth:       aug.ZoomWidth,
		},
		Optimizer: optim.DefaultAdamWConfig(),
		Train: TrainConfig{
			Epochs:          100,
			BatchSize:       256,
			ValidationSplit: 0.1,
			Workers:         4,
			Seed:            42,
			LogEvery:        50,
		},
		Checkpoint: CheckpointConfig{DType: checkpoint.DTypeF32},
		Output:     OutputConfig{ImageDir: "images", ModelDir: "models"},
	}
}

// Overrides captures CLI supplied values. Nil pointers and zero values
// leave the config untouched.
type Overrides struct {
	Dataset         string
	DataDir         string
	ImageDir        string
	ModelDir        string
	Epochs          int
	BatchSize       int
	Workers         int
	Seed            *int64
	SaveBest        *bool
	RestoreBest     *bool
	SaveHistory     *bool
	CheckpointDType string
	Debug           bool
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any set override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Dataset != "" {
		c.Data.Source = o.Dataset
	}
	if o.DataDir != "" {
		c.Data.DataDir = o.DataDir
	}
	if o.ImageDir != "" {
		c.Output.ImageDir = o.ImageDir
	}
	if o.ModelDir != "" {
		c.Output.ModelDir = o.ModelDir
	}
	if o.Epochs > 0 {
		c.Train.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Train.BatchSize = o.BatchSize
	}
	if o.Workers > 0 {
		c.Train.Workers = o.Workers
	}
	if o.Seed != nil {
		c.Train.Seed = *o.Seed
	}
	if o.SaveBest != nil {
		c.Checkpoint.SaveBest = *o.SaveBest
	}
	if o.RestoreBest != nil {
		c.Checkpoint.RestoreBest = *o.RestoreBest
	}
	if o.SaveHistory != nil {
		c.Output.SaveHistory = *o.SaveHistory
	}
	if o.CheckpointDType != "" {
		c.Checkpoint.DType = o.CheckpointDType
	}
	if o.Debug {
		c.Debug = true
	}
}

// ApplyEnv reads DebugEnv.
func (c *Config) ApplyEnv() error {
	v, ok := os.LookupEnv(DebugEnv)
	if !ok || v == "" {
		return nil
	}
	if v == "2" {
		c.Debug, c.Trace = true, true
		return nil
	}
	debug, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", DebugEnv, err)
	}
	c.Debug = c.Debug || debug
	return nil
}

// Validate verifies the config is runnable and fills derived fields.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch c.Data.Source {
	case dataset.SourceCIFAR100, dataset.SourceSynthetic:
	case dataset.SourceWebDataset:
		if c.Data.DataDir == "" {
			errs = append(errs, errors.New("data.data_dir is required for webdataset"))
		}
	default:
		errs = append(errs, fmt.Errorf("data.source must be one of %s (got %q)",
			strings.Join([]string{dataset.SourceCIFAR100, dataset.SourceWebDataset, dataset.SourceSynthetic}, ", "), c.Data.Source))
	}
	if len(c.Data.InputShape) != 3 || c.Data.InputShape[0] <= 0 || c.Data.InputShape[1] <= 0 {
		errs = append(errs, fmt.Errorf("data.input_shape must be [height, width, channels] (got %v)", c.Data.InputShape))
	} else {
		if ch := c.Data.InputShape[2]; ch != 1 && ch != 3 {
			errs = append(errs, fmt.Errorf("data.input_shape channels must be 1 or 3 (got %d)", ch))
		}
		c.Model.Channels = c.Data.InputShape[2]
	}
	if c.Data.Source == dataset.SourceSynthetic && (c.Data.SyntheticTrain <= 0 || c.Data.SyntheticTest <= 0) {
		errs = append(errs, errors.New("data.synthetic_train and data.synthetic_test must be > 0"))
	}

	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}

	if c.Train.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("training.epochs must be > 0 (got %d)", c.Train.Epochs))
	}
	if c.Train.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("training.batch_size must be > 0 (got %d)", c.Train.BatchSize))
	}
	if c.Train.Workers <= 0 {
		errs = append(errs, fmt.Errorf("training.workers must be > 0 (got %d)", c.Train.Workers))
	}
	if v := c.Train.ValidationSplit; v < 0 || v >= 1 {
		errs = append(errs, fmt.Errorf("training.validation_split must be in [0, 1) (got %v)", v))
	}
	if c.Train.LogEvery <= 0 {
		c.Train.LogEvery = 50
	}

	if c.Optimizer.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.learning_rate must be > 0 (got %v)", c.Optimizer.LearningRate))
	}
	if c.Optimizer.WeightDecay < 0 {
		errs = append(errs, fmt.Errorf("optimizer.weight_decay must be >= 0 (got %v)", c.Optimizer.WeightDecay))
	}

	switch c.Checkpoint.DType {
	case checkpoint.DTypeF32, checkpoint.DTypeF16, checkpoint.DTypeBF16:
	default:
		errs = append(errs, fmt.Errorf("checkpoint.dtype must be f32, f16 or bf16 (got %q)", c.Checkpoint.DType))
	}
	if c.Checkpoint.RestoreBest && !c.Checkpoint.SaveBest {
		errs = append(errs, errors.New("checkpoint.restore_best requires checkpoint.save_best"))
	}

	if c.Output.ImageDir == "" || c.Output.ModelDir == "" {
		errs = append(errs, errors.New("output.image_dir and output.model_dir must be set"))
	}
	return errors.Join(errs...)
}

// AugmentOptions converts the augmentation section for the pipeline.
func (c *Config) AugmentOptions() augment.Options {
	return augment.Options{
		ImageSize:       c.Model.ImageSize,
		FlipProbability: c.Augment.FlipProbability,
		RotationFactor:  c.Augment.RotationFactor,
		ZoomHeight:      c.Augment.ZoomHeight,
		ZoomWidth:       c.Augment.ZoomWidth,
	}
}
