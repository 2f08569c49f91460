package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarString(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "Epoch 1/3", 4)
	b.Set(2, "loss=1.2345")

	s := b.String()
	assert.True(t, strings.HasPrefix(s, "Epoch 1/3  50% ▕"), s)
	assert.Contains(t, s, "2/4 loss=1.2345")
	assert.Zero(t, buf.Len(), "non-terminal writers get no output")
}

func TestBarClampsToMax(t *testing.T) {
	b := NewBar(&bytes.Buffer{}, "", 3)
	b.Set(10, "")
	assert.Contains(t, b.String(), "100% ")
	assert.Contains(t, b.String(), "3/3")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1m30s", formatDuration(90*time.Second))
	assert.Equal(t, "2h5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "99h+", formatDuration(120*time.Hour))
}
