package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Epoch is one row of training history.
type Epoch struct {
	Epoch           int
	Loss            float64
	Accuracy        float64
	TopKAccuracy    float64
	ValLoss         float64
	ValAccuracy     float64
	ValTopKAccuracy float64
	Duration        time.Duration
}

// History is the append-only record of a training run.
type History struct {
	Epochs []Epoch
}

func (h *History) Append(e Epoch) { h.Epochs = append(h.Epochs, e) }

// Best returns the epoch with the highest validation accuracy. The earliest
// epoch wins ties.
func (h *History) Best() (Epoch, bool) {
	if len(h.Epochs) == 0 {
		return Epoch{}, false
	}
	best := h.Epochs[0]
	for _, e := range h.Epochs[1:] {
		if e.ValAccuracy > best.ValAccuracy {
			best = e
		}
	}
	return best, true
}

var columns = []string{"epoch", "loss", "accuracy", "top5_accuracy", "val_loss", "val_accuracy", "val_top5_accuracy", "seconds"}

func (e Epoch) record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	return []string{
		strconv.Itoa(e.Epoch),
		f(e.Loss), f(e.Accuracy), f(e.TopKAccuracy),
		f(e.ValLoss), f(e.ValAccuracy), f(e.ValTopKAccuracy),
		strconv.FormatFloat(e.Duration.Seconds(), 'f', 1, 64),
	}
}

// WriteCSV writes a header and one row per epoch.
func (h *History) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, e := range h.Epochs {
		if err := cw.Write(e.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Render prints the history as a table.
func (h *History) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("  ")
	for _, e := range h.Epochs {
		table.Append(e.record())
	}
	table.Render()
}
