package metrics

import (
	"bytes"
	"encoding/csv"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 1.2, 10, 30, 30*time.Millisecond)
	w.Record(64, 0.8, 20, 40, 30*time.Millisecond)
	assert.Equal(t, 128, w.Samples())
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.steps != 0 {
		t.Fatalf("window was not reset")
	}
	assert.Equal(t, 0.8, snap.LastLoss)
	assert.InDelta(t, 1.0, snap.Loss, 1e-9)
	assert.InDelta(t, 30.0/128, snap.Accuracy, 1e-9)
	assert.InDelta(t, 70.0/128, snap.TopKAccuracy, 1e-9)
	assert.Equal(t, 128, snap.Samples)
}

func TestWindowWeightsShortBatches(t *testing.T) {
	var w Window
	w.Record(3, 2, 0, 0, 0)
	w.Record(1, 6, 0, 0, 0)
	assert.InDelta(t, 3.0, w.Snapshot().Loss, 1e-9)
}

func TestEmptySnapshot(t *testing.T) {
	var w Window
	assert.Equal(t, Snapshot{}, w.Snapshot())
}

func TestHistoryBest(t *testing.T) {
	var h History
	_, ok := h.Best()
	assert.False(t, ok)

	h.Append(Epoch{Epoch: 1, ValAccuracy: 0.1})
	h.Append(Epoch{Epoch: 2, ValAccuracy: 0.3})
	h.Append(Epoch{Epoch: 3, ValAccuracy: 0.3})
	best, ok := h.Best()
	require.True(t, ok)
	assert.Equal(t, 2, best.Epoch)
}

func TestHistoryCSV(t *testing.T) {
	var h History
	h.Append(Epoch{Epoch: 1, Loss: 4.5, Accuracy: 0.25, ValAccuracy: 0.5, Duration: 1500 * time.Millisecond})

	var buf bytes.Buffer
	require.NoError(t, h.WriteCSV(&buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "val_accuracy", rows[0][5])
	assert.Equal(t, []string{"1", "4.5000", "0.2500", "0.0000", "0.0000", "0.5000", "0.0000", "1.5"}, rows[1])
}

func TestHistoryRender(t *testing.T) {
	var h History
	h.Append(Epoch{Epoch: 7, Loss: 1})
	var buf bytes.Buffer
	h.Render(&buf)
	assert.Contains(t, buf.String(), "1.0000")
	assert.Contains(t, buf.String(), "7")
}
