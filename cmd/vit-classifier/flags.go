package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vit-classifier/internal/config"
)

type flags struct {
	configPath  string
	imageDir    string
	modelDir    string
	dataset     string
	dataDir     string
	epochs      int
	batchSize   int
	workers     int
	seed        int64
	saveBest    bool
	restoreBest bool
	saveHistory bool
	dtype       string
	debug       bool
}

func (f *flags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "Path to YAML config")
	fs.StringVar(&f.imageDir, "image-dir", "./images", "Directory for illustration images")
	fs.StringVar(&f.modelDir, "model-dir", "./models", "Directory for checkpoints and history")
	fs.StringVar(&f.dataset, "dataset", "", "Dataset source: cifar100, webdataset or synthetic")
	fs.StringVar(&f.dataDir, "data-dir", "", "Root of train/ and test/ shard directories for webdataset")
	fs.IntVar(&f.epochs, "epochs", 0, "Number of training epochs")
	fs.IntVar(&f.batchSize, "batch-size", 0, "Batch size")
	fs.IntVar(&f.workers, "workers", 0, "Goroutines per batch")
	fs.Int64Var(&f.seed, "seed", 0, "PRNG seed")
	fs.BoolVar(&f.saveBest, "save-best", false, "Save weights whenever val_accuracy improves")
	fs.BoolVar(&f.restoreBest, "restore-best", false, "Evaluate the best checkpoint instead of the final weights")
	fs.BoolVar(&f.saveHistory, "save-history", false, "Write history.csv into the model directory")
	fs.StringVar(&f.dtype, "checkpoint-dtype", "", "Checkpoint tensor type: f32, f16 or bf16")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
}

// config loads the file named by --config, or the defaults, and applies
// flags that were set explicitly, then the environment.
func (f *flags) config(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	o := config.Overrides{
		Dataset:         f.dataset,
		DataDir:         f.dataDir,
		Epochs:          f.epochs,
		BatchSize:       f.batchSize,
		Workers:         f.workers,
		CheckpointDType: f.dtype,
		Debug:           f.debug,
	}
	changed := cmd.Flags().Changed
	if changed("image-dir") || f.configPath == "" {
		o.ImageDir = f.imageDir
	}
	if changed("model-dir") || f.configPath == "" {
		o.ModelDir = f.modelDir
	}
	if changed("seed") {
		o.Seed = &f.seed
	}
	if changed("save-best") {
		o.SaveBest = &f.saveBest
	}
	if changed("restore-best") {
		o.RestoreBest = &f.restoreBest
	}
	if changed("save-history") {
		o.SaveHistory = &f.saveHistory
	}
	cfg.ApplyOverrides(o)

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
