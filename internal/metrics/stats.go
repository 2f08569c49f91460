// Package metrics accumulates per-batch and per-epoch training statistics.
package metrics

import "time"

// Window accumulates loss, accuracy and timing across multiple batches.
type Window struct {
	samples  int
	loss     float64
	correct  int
	topK     int
	compute  time.Duration
	steps    int
	lastLoss float64
}

// Record adds one batch to the window. loss is the batch mean; correct and
// topK count samples whose label was the argmax or within the top k.
func (w *Window) Record(batchSize int, loss float64, correct, topK int, computeTime time.Duration) {
	w.samples += batchSize
	w.loss += loss * float64(batchSize)
	w.correct += correct
	w.topK += topK
	w.compute += computeTime
	w.steps++
	w.lastLoss = loss
}

// Samples returns the number of samples recorded since the last snapshot.
func (w *Window) Samples() int { return w.samples }

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Samples: w.samples, LastLoss: w.lastLoss}
	if w.compute > 0 {
		snap.ImagesPerSec = float64(w.samples) / w.compute.Seconds()
	}
	if w.steps > 0 {
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	if w.samples > 0 {
		snap.Loss = w.loss / float64(w.samples)
		snap.Accuracy = float64(w.correct) / float64(w.samples)
		snap.TopKAccuracy = float64(w.topK) / float64(w.samples)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Samples      int
	Loss         float64
	Accuracy     float64
	TopKAccuracy float64
	ImagesPerSec float64
	AvgComputeMS float64
	LastLoss     float64
}
