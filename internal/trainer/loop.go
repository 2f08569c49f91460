// Package trainer fits the classifier and evaluates it.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vit-classifier/internal/augment"
	"vit-classifier/internal/checkpoint"
	"vit-classifier/internal/dataset"
	"vit-classifier/internal/logutil"
	"vit-classifier/internal/metrics"
	"vit-classifier/internal/model"
	"vit-classifier/internal/nn"
	"vit-classifier/internal/optim"
	"vit-classifier/internal/patch"
	"vit-classifier/internal/progress"
)

// TopK is the k of the top-k accuracy metric.
const TopK = 5

// MonitorMetric is the history column the best checkpoint tracks.
const MonitorMetric = "val_accuracy"

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Model     model.Options
	Augment   augment.Options
	Optimizer optim.AdamWConfig

	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Workers         int
	Seed            int64
	LogEvery        int

	// CheckpointPath enables saving the weights of the epoch with the best
	// validation accuracy. Empty disables it.
	CheckpointPath  string
	CheckpointDType string
	// RestoreBest reloads the best checkpoint before the test evaluation.
	RestoreBest bool

	// Progress receives a per-epoch progress bar when it is a terminal.
	Progress io.Writer
}

func (c *RunConfig) validate() error {
	if c.Epochs <= 0 {
		return errors.New("trainer: epochs must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("trainer: batch size must be > 0")
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.RestoreBest && c.CheckpointPath == "" {
		return errors.New("trainer: restoring the best checkpoint requires a checkpoint path")
	}
	if c.CheckpointDType == "" {
		c.CheckpointDType = checkpoint.DTypeF32
	}
	return nil
}

// EvalResult is the outcome of one pass over a split.
type EvalResult struct {
	Samples      int
	Loss         float64
	Accuracy     float64
	TopKAccuracy float64
}

// Result is everything a run produces.
type Result struct {
	RunID   string
	History *metrics.History
	Test    EvalResult
	// Restored is set when the best checkpoint was loaded before testing.
	Restored bool
}

// Experiment owns the model, the input pipeline and the optimizer for one
// run.
type Experiment struct {
	cfg      RunConfig
	runID    string
	clf      *model.Classifier
	model    model.Model
	pipeline *augment.Pipeline
	opt      *optim.AdamW
	grads    []*nn.Grads
	step     int
	// saved is set once Fit has written a checkpoint in this run.
	saved bool
}

// NewExperiment builds the model and adapts input normalization on the
// training images.
func NewExperiment(cfg RunConfig, train dataset.Split) (*Experiment, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	clf, err := model.New(cfg.Model, cfg.Seed)
	if err != nil {
		return nil, err
	}
	norm, err := augment.Adapt(train.Images)
	if err != nil {
		return nil, err
	}

	e := &Experiment{
		cfg:      cfg,
		runID:    uuid.NewString(),
		clf:      clf,
		model:    clf,
		pipeline: augment.NewPipeline(cfg.Augment, norm),
		opt:      optim.NewAdamW(cfg.Optimizer, clf.Params()),
		grads:    make([]*nn.Grads, cfg.Workers),
	}
	for i := range e.grads {
		e.grads[i] = nn.NewGrads(clf.Params())
	}
	return e, nil
}

// Model returns the classifier being trained.
func (e *Experiment) Model() *model.Classifier { return e.clf }

// RunID identifies the run in logs and checkpoint metadata.
func (e *Experiment) RunID() string { return e.runID }

// sampleOutcome is the per-sample contribution to a batch.
type sampleOutcome struct {
	loss    float32
	correct bool
	inTopK  bool
}

// forward prepares one image and runs it through the model. When tape
// carries gradients, the loss gradient scaled by scale is propagated back.
func (e *Experiment) forward(tape *nn.Tape, img dataset.Image, label int, scale float32) (sampleOutcome, error) {
	o := e.cfg.Model
	if label < 0 || label >= o.NumClasses {
		return sampleOutcome{}, fmt.Errorf("label %d out of range [0, %d)", label, o.NumClasses)
	}
	if img.Channels != o.Channels {
		return sampleOutcome{}, fmt.Errorf("image has %d channels, model expects %d", img.Channels, o.Channels)
	}
	pix := e.pipeline.Apply(img, tape.RNG, tape.Training)
	seq, err := patch.Extract(pix, o.ImageSize, o.Channels, o.PatchSize)
	if err != nil {
		return sampleOutcome{}, err
	}

	logits, backward := e.model.Forward(tape, nn.FromSlice(seq.Count, seq.Dim, seq.Data))
	loss, dlogits := nn.SparseCrossEntropy(logits, label)
	out := sampleOutcome{
		loss:    loss,
		correct: nn.Argmax(logits) == label,
		inTopK:  nn.InTopK(logits, label, TopK),
	}
	if tape.Grads != nil {
		for i := range dlogits {
			dlogits[i] *= scale
		}
		backward(dlogits)
	}
	return out, nil
}

// workerSeed derives a distinct, reproducible stream per step and worker.
func workerSeed(seed int64, step, worker int) int64 {
	return seed ^ int64(step)*0x9E3779B1 ^ int64(worker+1)*0x85EBCA77
}

// trainStep runs one optimizer step on the samples named by idx. Sample i
// of the batch is handled by worker i % Workers.
func (e *Experiment) trainStep(ctx context.Context, split dataset.Split, idx []int) ([]sampleOutcome, error) {
	e.step++
	outcomes := make([]sampleOutcome, len(idx))
	scale := 1 / float32(len(idx))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for w := 0; w < e.cfg.Workers && w < len(idx); w++ {
		tape := &nn.Tape{
			Training: true,
			RNG:      rand.New(rand.NewSource(workerSeed(e.cfg.Seed, e.step, w))),
			Grads:    e.grads[w],
		}
		g.Go(func() error {
			for i := w; i < len(idx); i += e.cfg.Workers {
				j := idx[i]
				out, err := e.forward(tape, split.Images[j], split.Labels[j], scale)
				if err != nil {
					return fmt.Errorf("sample %d: %w", j, err)
				}
				outcomes[i] = out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := e.grads[0]
	for _, other := range e.grads[1:] {
		total.Accumulate(other)
		other.Zero()
	}
	err := e.opt.Step(total)
	total.Zero()
	return outcomes, err
}

// Evaluate runs one inference pass over split.
func (e *Experiment) Evaluate(ctx context.Context, split dataset.Split) (EvalResult, error) {
	if split.Len() == 0 {
		return EvalResult{}, nil
	}
	outcomes := make([]sampleOutcome, split.Len())
	workers := e.cfg.Workers

	for from := 0; from < split.Len(); from += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return EvalResult{}, err
		}
		to := min(from+e.cfg.BatchSize, split.Len())

		var g errgroup.Group
		g.SetLimit(workers)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				tape := &nn.Tape{}
				for i := from + w; i < to; i += workers {
					out, err := e.forward(tape, split.Images[i], split.Labels[i], 0)
					if err != nil {
						return fmt.Errorf("sample %d: %w", i, err)
					}
					outcomes[i] = out
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return EvalResult{}, err
		}
	}

	var w metrics.Window
	for _, o := range outcomes {
		w.Record(1, float64(o.loss), btoi(o.correct), btoi(o.inTopK), 0)
	}
	snap := w.Snapshot()
	return EvalResult{Samples: snap.Samples, Loss: snap.Loss, Accuracy: snap.Accuracy, TopKAccuracy: snap.TopKAccuracy}, nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Fit trains for the configured number of epochs. The last
// ValidationSplit of train is held out before any shuffling and evaluated
// after every epoch.
func (e *Experiment) Fit(ctx context.Context, train dataset.Split) (*metrics.History, error) {
	fitSplit, valSplit, err := dataset.SplitValidation(train, e.cfg.ValidationSplit)
	if err != nil {
		return nil, err
	}
	sampler, err := dataset.NewSampler(dataset.SamplerOptions{
		Size:      fitSplit.Len(),
		BatchSize: e.cfg.BatchSize,
		Shuffle:   true,
		Seed:      e.cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("fitting", "run", e.runID, "train", fitSplit.Len(), "validation", valSplit.Len(), "batches", sampler.Batches(), "workers", e.cfg.Workers)

	history := &metrics.History{}
	best := -1.0
	e.saved = false
	for epoch := 1; epoch <= e.cfg.Epochs; epoch++ {
		started := time.Now()
		var epochWindow, logWindow metrics.Window

		var bar *progress.Bar
		if e.cfg.Progress != nil {
			bar = progress.NewBar(e.cfg.Progress, fmt.Sprintf("Epoch %d/%d", epoch, e.cfg.Epochs), sampler.Batches())
		}

		for b, idx := range sampler.Epoch() {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			computeStart := time.Now()
			outcomes, err := e.trainStep(ctx, fitSplit, idx)
			if err != nil {
				return history, fmt.Errorf("epoch %d batch %d: %w", epoch, b+1, err)
			}
			computeTime := time.Since(computeStart)

			var loss float64
			var correct, topK int
			for _, o := range outcomes {
				loss += float64(o.loss)
				correct += btoi(o.correct)
				topK += btoi(o.inTopK)
			}
			loss /= float64(len(outcomes))
			epochWindow.Record(len(idx), loss, correct, topK, computeTime)
			logWindow.Record(len(idx), loss, correct, topK, computeTime)
			logutil.Trace("batch", "epoch", epoch, "batch", b+1, "loss", loss)

			if e.step%e.cfg.LogEvery == 0 {
				samples := logWindow.Samples()
				snap := logWindow.Snapshot()
				slog.Debug("training",
					"step", e.opt.Steps(),
					"samples", samples,
					"images_per_sec", fmt.Sprintf("%.1f", snap.ImagesPerSec),
					"compute_ms", fmt.Sprintf("%.2f", snap.AvgComputeMS),
					"loss", fmt.Sprintf("%.4f", snap.Loss),
				)
			}
			if bar != nil {
				bar.Set(b+1, fmt.Sprintf("loss=%.4f", loss))
			}
		}
		if bar != nil {
			bar.Done()
		}

		snap := epochWindow.Snapshot()
		val, err := e.Evaluate(ctx, valSplit)
		if err != nil {
			return history, fmt.Errorf("epoch %d validation: %w", epoch, err)
		}
		row := metrics.Epoch{
			Epoch:           epoch,
			Loss:            snap.Loss,
			Accuracy:        snap.Accuracy,
			TopKAccuracy:    snap.TopKAccuracy,
			ValLoss:         val.Loss,
			ValAccuracy:     val.Accuracy,
			ValTopKAccuracy: val.TopKAccuracy,
			Duration:        time.Since(started),
		}
		history.Append(row)
		slog.Info("epoch",
			"epoch", epoch,
			"loss", fmt.Sprintf("%.4f", row.Loss),
			"accuracy", fmt.Sprintf("%.4f", row.Accuracy),
			"top5_accuracy", fmt.Sprintf("%.4f", row.TopKAccuracy),
			"val_loss", fmt.Sprintf("%.4f", row.ValLoss),
			"val_accuracy", fmt.Sprintf("%.4f", row.ValAccuracy),
			"val_top5_accuracy", fmt.Sprintf("%.4f", row.ValTopKAccuracy),
			"duration", row.Duration.Round(time.Millisecond),
		)

		if e.cfg.CheckpointPath == "" {
			continue
		}
		if valSplit.Len() == 0 {
			slog.Warn("best checkpoint needs a validation split; skipping", "monitor", MonitorMetric)
			continue
		}
		if row.ValAccuracy > best {
			slog.Info("val_accuracy improved; saving checkpoint", "from", best, "to", row.ValAccuracy, "path", e.cfg.CheckpointPath)
			best = row.ValAccuracy
			meta := checkpoint.Metadata{RunID: e.runID, Epoch: epoch, Monitor: MonitorMetric, Value: best}
			if err := checkpoint.Save(e.cfg.CheckpointPath, e.model.Params(), e.cfg.CheckpointDType, meta); err != nil {
				return history, fmt.Errorf("save checkpoint: %w", err)
			}
			e.saved = true
		}
	}
	return history, nil
}

// restoreBest loads the checkpoint written by this run's Fit. Files left by
// other runs are never loaded.
func (e *Experiment) restoreBest() error {
	if !e.saved {
		slog.Warn("no checkpoint saved by this run; evaluating final weights", "path", e.cfg.CheckpointPath)
		return nil
	}
	meta, err := checkpoint.Load(e.cfg.CheckpointPath, e.model.Params())
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checkpoint saved by this run is gone: %w", err)
	}
	if err != nil {
		return err
	}
	if meta.RunID != e.runID {
		return fmt.Errorf("checkpoint %s was overwritten by run %s", e.cfg.CheckpointPath, meta.RunID)
	}
	slog.Info("restored best checkpoint", "epoch", meta.Epoch, MonitorMetric, meta.Value)
	return nil
}

// Run builds an experiment, fits it on ds.Train and evaluates on ds.Test.
func Run(ctx context.Context, cfg RunConfig, ds *dataset.Dataset) (*Result, error) {
	e, err := NewExperiment(cfg, ds.Train)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, ds)
}

// Run fits on ds.Train, optionally restores the best checkpoint, and
// evaluates on ds.Test.
func (e *Experiment) Run(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	history, err := e.Fit(ctx, ds.Train)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: e.runID, History: history}
	if e.cfg.RestoreBest {
		if err := e.restoreBest(); err != nil {
			return nil, err
		}
		res.Restored = e.saved
	}

	if res.Test, err = e.Evaluate(ctx, ds.Test); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return res, nil
}
