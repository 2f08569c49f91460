package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample is one decoded record from a WebDataset shard.
type Sample struct {
	Key   string
	Image Image
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// ShardOptions controls how shard members are decoded.
type ShardOptions struct {
	Size       int
	Channels   int
	PendingCap int
}

// StreamShard streams decoded samples from the shard at path. Images are
// resized to opts.Size and paired with the integer label in the matching
// .cls member.
func StreamShard(ctx context.Context, path string, opts ShardOptions) (<-chan Sample, <-chan error) {
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar: %w", err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, ext)

			part := pending[key]
			if part == nil {
				part = &partial{}
			}

			switch ext {
			case ".jpg", ".jpeg", ".png":
				data, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read image %s: %w", name, err)
					return
				}
				img, _, err := image.Decode(bytes.NewReader(data))
				if err != nil {
					errCh <- fmt.Errorf("decode image %s: %w", name, err)
					return
				}
				decoded := FromImage(img, opts.Size, opts.Channels)
				part.image = &decoded
			case ".cls":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read label %s: %w", name, err)
					return
				}
				label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
				if err != nil {
					errCh <- fmt.Errorf("parse label %s: %w", name, err)
					return
				}
				part.label = &label
			default:
				continue
			}

			if !part.ready() {
				pending[key] = part
				if len(pending) > opts.PendingCap {
					errCh <- ErrPendingOverflow
					return
				}
				continue
			}
			delete(pending, key)

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Sample{Key: key, Image: *part.image, Label: *part.label}:
			}
		}

		if len(pending) > 0 {
			errCh <- fmt.Errorf("%d samples incomplete", len(pending))
		}
	}()

	return out, errCh
}

type partial struct {
	image *Image
	label *int
}

func (p *partial) ready() bool {
	return p.image != nil && p.label != nil
}

// ReadShards drains every shard in order into one split. Samples inside a
// shard keep their archive order.
func ReadShards(ctx context.Context, shards []string, opts ShardOptions) (Split, error) {
	var split Split
	for _, shard := range shards {
		samples, errs := StreamShard(ctx, shard, opts)
		for samples != nil || errs != nil {
			select {
			case s, ok := <-samples:
				if !ok {
					samples = nil
					continue
				}
				split.Images = append(split.Images, s.Image)
				split.Labels = append(split.Labels, s.Label)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil {
					return Split{}, fmt.Errorf("%s: %w", shard, err)
				}
			}
		}
	}
	return split, nil
}

// LoadWebDataset reads root/train and root/test shard directories.
func LoadWebDataset(ctx context.Context, root string, size, channels int) (*Dataset, error) {
	if root == "" {
		return nil, errors.New("webdataset: data dir is required")
	}
	byRoot, err := DiscoverByRoot([]string{filepath.Join(root, "train"), filepath.Join(root, "test")})
	if err != nil {
		return nil, err
	}

	opts := ShardOptions{Size: size, Channels: channels}
	ds := &Dataset{}
	for _, part := range []struct {
		dir   string
		split *Split
	}{
		{filepath.Join(root, "train"), &ds.Train},
		{filepath.Join(root, "test"), &ds.Test},
	} {
		shards := byRoot[part.dir]
		if len(shards) == 0 {
			return nil, fmt.Errorf("webdataset: no shards discovered under %s", part.dir)
		}
		if *part.split, err = ReadShards(ctx, shards, opts); err != nil {
			return nil, err
		}
	}

	ds.ClassNames = classNames(ds.Train.Labels, ds.Test.Labels)
	return ds, nil
}

func classNames(labels ...[]int) []string {
	maxLabel := -1
	for _, ls := range labels {
		for _, l := range ls {
			maxLabel = max(maxLabel, l)
		}
	}
	names := make([]string, maxLabel+1)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names
}
