package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"vit-classifier/internal/config"
	"vit-classifier/internal/dataset"
	"vit-classifier/internal/logutil"
	"vit-classifier/internal/plot"
	"vit-classifier/internal/trainer"
)

const (
	sampleImageFile  = "vit_classification_image.jpeg"
	patchGridFile    = "vit_classification_patches.jpeg"
	modelDiagramFile = "vit_classifier.png"
	checkpointFile   = "checkpoint"
	historyFile      = "history.csv"
)

func shape(n int, dims ...int) string {
	s := fmt.Sprintf("(%d", n)
	for _, d := range dims {
		s += fmt.Sprintf(", %d", d)
	}
	return s + ")"
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	slog.SetDefault(logutil.NewLogger(stderr, logutil.Level(cfg.Debug, cfg.Trace)))

	for _, dir := range []string{cfg.Output.ImageDir, cfg.Output.ModelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	in := cfg.Data.InputShape
	ds, err := dataset.Load(ctx, dataset.Options{
		Source:         cfg.Data.Source,
		DataDir:        cfg.Data.DataDir,
		CacheDir:       cfg.Data.CacheDir,
		Height:         in[0],
		Width:          in[1],
		Channels:       in[2],
		NumClasses:     cfg.Model.NumClasses,
		SyntheticTrain: cfg.Data.SyntheticTrain,
		SyntheticTest:  cfg.Data.SyntheticTest,
		Seed:           cfg.Train.Seed,
	})
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if ds.Train.Len() == 0 || ds.Test.Len() == 0 {
		return fmt.Errorf("dataset %s has an empty split", cfg.Data.Source)
	}
	first := ds.Train.Images[0]
	if first.Height != in[0] || first.Width != in[1] || first.Channels != in[2] {
		return fmt.Errorf("dataset images are %dx%dx%d, data.input_shape is %v", first.Height, first.Width, first.Channels, in)
	}
	fmt.Fprintf(stdout, "x_train shape: %s - y_train shape: %s\n", shape(ds.Train.Len(), in...), shape(ds.Train.Len(), 1))
	fmt.Fprintf(stdout, "x_test shape: %s - y_test shape: %s\n", shape(ds.Test.Len(), in...), shape(ds.Test.Len(), 1))

	if err := illustrate(cfg, ds, stdout); err != nil {
		return err
	}

	rc := trainer.RunConfig{
		Model:           cfg.Model,
		Augment:         cfg.AugmentOptions(),
		Optimizer:       cfg.Optimizer,
		Epochs:          cfg.Train.Epochs,
		BatchSize:       cfg.Train.BatchSize,
		ValidationSplit: cfg.Train.ValidationSplit,
		Workers:         cfg.Train.Workers,
		Seed:            cfg.Train.Seed,
		LogEvery:        cfg.Train.LogEvery,
		CheckpointDType: cfg.Checkpoint.DType,
		RestoreBest:     cfg.Checkpoint.RestoreBest,
		Progress:        stderr,
	}
	if cfg.Checkpoint.SaveBest {
		rc.CheckpointPath = filepath.Join(cfg.Output.ModelDir, checkpointFile)
	}

	e, err := trainer.NewExperiment(rc, ds.Train)
	if err != nil {
		return err
	}
	clf := e.Model()
	clf.Summary(stdout)
	if err := plot.ModelDiagram(filepath.Join(cfg.Output.ImageDir, modelDiagramFile), clf.Graph()); err != nil {
		return fmt.Errorf("plot model: %w", err)
	}
	slog.Info("starting run", "run", e.RunID(), "params", humanize.Comma(int64(clf.Params().Count())), "dataset", cfg.Data.Source)

	res, err := e.Run(ctx, ds)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Test accuracy: %.2f%%\n", res.Test.Accuracy*100)
	fmt.Fprintf(stdout, "Test top 5 accuracy: %.2f%%\n", res.Test.TopKAccuracy*100)
	res.History.Render(stdout)
	if best, ok := res.History.Best(); ok {
		slog.Info("best epoch", "epoch", best.Epoch, "val_accuracy", fmt.Sprintf("%.4f", best.ValAccuracy))
	}

	if cfg.Output.SaveHistory {
		path := filepath.Join(cfg.Output.ModelDir, historyFile)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := res.History.WriteCSV(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		slog.Info("wrote history", "path", path)
	}
	if cfg.Checkpoint.SaveBest && !res.Restored {
		slog.Info("best weights left on disk; final weights were evaluated", "path", rc.CheckpointPath)
	}
	return nil
}

// illustrate writes a random training image and its patch grid, and prints
// the patch statistics.
func illustrate(cfg *config.Config, ds *dataset.Dataset, stdout io.Writer) error {
	o := cfg.Model
	rng := rand.New(rand.NewSource(cfg.Train.Seed))
	i := rng.Intn(ds.Train.Len())
	img := ds.Train.Images[i]
	slog.Info("sample image", "index", i, "class", className(ds, ds.Train.Labels[i]))

	if err := plot.SampleImage(filepath.Join(cfg.Output.ImageDir, sampleImageFile), img, 4); err != nil {
		return fmt.Errorf("plot image: %w", err)
	}

	fmt.Fprintf(stdout, "Image size: %d X %d\n", o.ImageSize, o.ImageSize)
	fmt.Fprintf(stdout, "Patch size: %d X %d\n", o.PatchSize, o.PatchSize)
	fmt.Fprintf(stdout, "Patches per image: %d\n", o.NumPatches())
	fmt.Fprintf(stdout, "Elements per patch: %d\n", o.PatchDim())

	if err := plot.PatchGrid(filepath.Join(cfg.Output.ImageDir, patchGridFile), img, o.ImageSize, o.PatchSize, 4, 2); err != nil {
		return fmt.Errorf("plot patches: %w", err)
	}
	return nil
}

func className(ds *dataset.Dataset, label int) string {
	if label >= 0 && label < len(ds.ClassNames) {
		return ds.ClassNames[label]
	}
	return fmt.Sprint(label)
}
