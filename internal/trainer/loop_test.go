package trainer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vit-classifier/internal/augment"
	"vit-classifier/internal/checkpoint"
	"vit-classifier/internal/dataset"
	"vit-classifier/internal/model"
	"vit-classifier/internal/optim"
)

func tinyConfig() RunConfig {
	return RunConfig{
		Model: model.Options{
			ImageSize:        8,
			PatchSize:        4,
			Channels:         3,
			ProjectionDim:    8,
			NumHeads:         2,
			Layers:           1,
			TransformerUnits: []int{16, 8},
			HeadUnits:        []int{12},
			NumClasses:       4,
			AttentionDropout: 0.1,
			EncoderDropout:   0.1,
			HeadDropout:      0.5,
			Epsilon:          1e-6,
		},
		Augment:         augment.DefaultOptions(8),
		Optimizer:       optim.DefaultAdamWConfig(),
		Epochs:          1,
		BatchSize:       8,
		ValidationSplit: 0.1,
		Workers:         2,
		Seed:            1,
	}
}

func tinyDataset() *dataset.Dataset {
	return dataset.Synthetic(dataset.SyntheticOptions{Train: 40, Test: 16, Size: 6, Channels: 3, NumClasses: 4, Seed: 3})
}

func TestRunEndToEnd(t *testing.T) {
	res, err := Run(context.Background(), tinyConfig(), tinyDataset())
	require.NoError(t, err)

	require.Len(t, res.History.Epochs, 1)
	assert.Equal(t, 16, res.Test.Samples)
	assert.GreaterOrEqual(t, res.Test.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Test.Accuracy, 1.0)
	assert.GreaterOrEqual(t, res.Test.TopKAccuracy, res.Test.Accuracy)
	assert.Greater(t, res.Test.Loss, 0.0)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.Restored)
}

func TestFitIsDeterministic(t *testing.T) {
	cfg := tinyConfig()
	cfg.Epochs = 2
	ds := tinyDataset()

	run := func() ([]float64, [][]float32) {
		e, err := NewExperiment(cfg, ds.Train)
		require.NoError(t, err)
		h, err := e.Fit(context.Background(), ds.Train)
		require.NoError(t, err)

		var losses []float64
		for _, row := range h.Epochs {
			losses = append(losses, row.Loss, row.ValLoss)
		}
		var weights [][]float32
		for _, p := range e.Model().Params().Params() {
			weights = append(weights, append([]float32(nil), p.Data...))
		}
		return losses, weights
	}

	lossA, weightsA := run()
	lossB, weightsB := run()
	assert.Equal(t, lossA, lossB)
	assert.Equal(t, weightsA, weightsB)
}

func TestFitUpdatesWeights(t *testing.T) {
	cfg := tinyConfig()
	ds := tinyDataset()
	e, err := NewExperiment(cfg, ds.Train)
	require.NoError(t, err)

	p := e.Model().Params().Params()[0]
	before := append([]float32(nil), p.Data...)
	_, err = e.Fit(context.Background(), ds.Train)
	require.NoError(t, err)
	assert.NotEqual(t, before, p.Data)
	assert.Equal(t, 5, e.opt.Steps(), "36 training samples in batches of 8")
}

func TestEvaluateCountsEverySample(t *testing.T) {
	cfg := tinyConfig()
	cfg.Workers = 3
	ds := tinyDataset()
	e, err := NewExperiment(cfg, ds.Train)
	require.NoError(t, err)

	res, err := e.Evaluate(context.Background(), ds.Test)
	require.NoError(t, err)
	assert.Equal(t, 16, res.Samples)
	assert.Equal(t, 1.0, res.TopKAccuracy, "top-5 over 4 classes always hits")

	again, err := e.Evaluate(context.Background(), ds.Test)
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestSaveAndRestoreBest(t *testing.T) {
	cfg := tinyConfig()
	cfg.Epochs = 2
	cfg.ValidationSplit = 0.2
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "models", "checkpoint")
	cfg.RestoreBest = true

	res, err := Run(context.Background(), cfg, tinyDataset())
	require.NoError(t, err)
	assert.True(t, res.Restored)
	_, err = os.Stat(cfg.CheckpointPath)
	assert.NoError(t, err)
}

func TestRestoreIgnoresCheckpointFromEarlierRun(t *testing.T) {
	cfg := tinyConfig()
	cfg.ValidationSplit = 0
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "checkpoint")
	cfg.RestoreBest = true

	other, err := model.New(cfg.Model, 999)
	require.NoError(t, err)
	require.NoError(t, checkpoint.Save(cfg.CheckpointPath, other.Params(), checkpoint.DTypeF32,
		checkpoint.Metadata{RunID: "previous-run", Epoch: 7, Monitor: MonitorMetric, Value: 0.9}))

	ds := tinyDataset()
	e, err := NewExperiment(cfg, ds.Train)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, res.Restored)

	stale := other.Params().Params()[0].Data
	assert.NotEqual(t, stale, e.Model().Params().Params()[0].Data)
}

func TestNoValidationSkipsCheckpoint(t *testing.T) {
	cfg := tinyConfig()
	cfg.ValidationSplit = 0
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "checkpoint")

	res, err := Run(context.Background(), cfg, tinyDataset())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.History.Epochs[0].ValLoss)
	_, err = os.Stat(cfg.CheckpointPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLabelOutOfRange(t *testing.T) {
	ds := tinyDataset()
	ds.Train.Labels[0] = 9

	_, err := Run(context.Background(), tinyConfig(), ds)
	assert.ErrorContains(t, err, "label 9 out of range")
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, tinyConfig(), tinyDataset())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunConfigValidation(t *testing.T) {
	cfg := tinyConfig()
	cfg.Epochs = 0
	_, err := NewExperiment(cfg, tinyDataset().Train)
	assert.Error(t, err)

	cfg = tinyConfig()
	cfg.RestoreBest = true
	_, err = NewExperiment(cfg, tinyDataset().Train)
	assert.Error(t, err)
}
