package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamShardPairsEntries(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "shard-000000.tar")
	writeShard(t, shard, []shardEntry{
		{key: "000001", ext: ".png", image: solidPNG(t, 8, color.RGBA{255, 0, 0, 255}), label: 3},
		{key: "000002", ext: ".png", image: solidPNG(t, 16, color.RGBA{0, 0, 255, 255}), label: 7},
	})

	samples, errs := StreamShard(context.Background(), shard, ShardOptions{Size: 4, Channels: 3, PendingCap: 4})
	var got []Sample
	for s := range samples {
		got = append(got, s)
	}
	require.NoError(t, <-errs)

	require.Len(t, got, 2)
	assert.Equal(t, "000001", got[0].Key)
	assert.Equal(t, 3, got[0].Label)
	assert.Equal(t, 7, got[1].Label)

	img := got[1].Image
	assert.Equal(t, 4, img.Height)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, uint8(0), img.At(2, 2, 0))
	assert.Equal(t, uint8(255), img.At(2, 2, 2))
}

func TestStreamShardIncompletePair(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "shard-000000.tar")
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(tw, "lonely.cls", []byte("1"))
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(shard, buf.Bytes(), 0o644))

	samples, errs := StreamShard(context.Background(), shard, ShardOptions{Size: 4, Channels: 3})
	for range samples {
	}
	assert.ErrorContains(t, <-errs, "incomplete")
}

func TestStreamShardPendingOverflow(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "shard-000000.tar")
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for i := 0; i < 3; i++ {
		addTarEntry(tw, strconv.Itoa(i)+".cls", []byte("0"))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(shard, buf.Bytes(), 0o644))

	samples, errs := StreamShard(context.Background(), shard, ShardOptions{Size: 4, Channels: 3, PendingCap: 2})
	for range samples {
	}
	assert.ErrorIs(t, <-errs, ErrPendingOverflow)
}

func TestLoadWebDataset(t *testing.T) {
	root := t.TempDir()
	red := solidPNG(t, 8, color.RGBA{255, 0, 0, 255})
	writeShard(t, filepath.Join(root, "train", "shard-000000.tar"), []shardEntry{
		{key: "a", ext: ".png", image: red, label: 0},
		{key: "b", ext: ".png", image: red, label: 4},
	})
	writeShard(t, filepath.Join(root, "train", "shard-000001.tar"), []shardEntry{
		{key: "c", ext: ".png", image: red, label: 2},
	})
	writeShard(t, filepath.Join(root, "test", "shard-000000.tar"), []shardEntry{
		{key: "d", ext: ".png", image: red, label: 1},
	})

	ds, err := LoadWebDataset(context.Background(), root, 6, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 2}, ds.Train.Labels)
	assert.Equal(t, []int{1}, ds.Test.Labels)
	assert.Len(t, ds.ClassNames, 5)
	assert.Equal(t, 1, ds.Train.Images[0].Channels)
	assert.Len(t, ds.Train.Images[0].Pix, 36)
}

func TestLoadWebDatasetMissingSplit(t *testing.T) {
	root := t.TempDir()
	writeShard(t, filepath.Join(root, "train", "shard-000000.tar"), []shardEntry{
		{key: "a", ext: ".png", image: solidPNG(t, 4, color.RGBA{A: 255}), label: 0},
	})

	_, err := LoadWebDataset(context.Background(), root, 4, 3)
	assert.ErrorContains(t, err, "no shards")
}

type shardEntry struct {
	key   string
	ext   string
	image []byte
	label int
}

func writeShard(t *testing.T, path string, entries []shardEntry) {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		addTarEntry(tw, e.key+e.ext, e.image)
		addTarEntry(tw, e.key+".cls", []byte(strconv.Itoa(e.label)))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func solidPNG(t *testing.T, size int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func addTarEntry(tw *tar.Writer, name string, data []byte) {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		panic(err)
	}
	if _, err := tw.Write(data); err != nil {
		panic(err)
	}
}
