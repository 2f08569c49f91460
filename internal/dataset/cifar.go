package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
)

// CIFAR100URL is the binary distribution of CIFAR-100.
const CIFAR100URL = "https://www.cs.toronto.edu/~kriz/cifar-100-binary.tar.gz"

const (
	cifarSide     = 32
	cifarChannels = 3
	cifarPixels   = cifarSide * cifarSide * cifarChannels
	// coarse label, fine label, pixels
	cifarRecord = 2 + cifarPixels
)

// LoadCIFAR100 downloads the archive into cacheDir unless it is already
// there and decodes the train and test splits with fine labels.
func LoadCIFAR100(ctx context.Context, cacheDir, url string) (*Dataset, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	archive := filepath.Join(cacheDir, filepath.Base(url))
	if _, err := os.Stat(archive); errors.Is(err, os.ErrNotExist) {
		if err := download(ctx, url, archive); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	f, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	return ReadCIFAR100(ctx, f)
}

// ReadCIFAR100 decodes a cifar-100-binary.tar.gz stream.
func ReadCIFAR100(ctx context.Context, r io.Reader) (*Dataset, error) {
	zr, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	ds := &Dataset{}
	var sawTrain, sawTest bool
	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}

		switch filepath.Base(hdr.Name) {
		case "train.bin":
			if ds.Train, err = readCIFARRecords(tr); err != nil {
				return nil, fmt.Errorf("train.bin: %w", err)
			}
			sawTrain = true
		case "test.bin":
			if ds.Test, err = readCIFARRecords(tr); err != nil {
				return nil, fmt.Errorf("test.bin: %w", err)
			}
			sawTest = true
		case "fine_label_names.txt":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read label names: %w", err)
			}
			for _, line := range strings.Split(string(payload), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					ds.ClassNames = append(ds.ClassNames, line)
				}
			}
		}
	}

	if !sawTrain || !sawTest {
		return nil, errors.New("cifar100: archive is missing train.bin or test.bin")
	}
	return ds, nil
}

// readCIFARRecords converts channel-planar records into HWC images.
func readCIFARRecords(r io.Reader) (Split, error) {
	var split Split
	br := bufio.NewReaderSize(r, 1<<20)
	rec := make([]byte, cifarRecord)
	for {
		_, err := io.ReadFull(br, rec)
		if errors.Is(err, io.EOF) {
			return split, nil
		}
		if err != nil {
			return Split{}, fmt.Errorf("record %d: %w", split.Len(), err)
		}

		img := NewImage(cifarSide, cifarSide, cifarChannels)
		plane := cifarSide * cifarSide
		for c := 0; c < cifarChannels; c++ {
			for i := 0; i < plane; i++ {
				img.Pix[i*cifarChannels+c] = rec[2+c*plane+i]
			}
		}
		split.Images = append(split.Images, img)
		split.Labels = append(split.Labels, int(rec[1]))
	}
}

func download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	slog.Info("downloading dataset", "url", url, "size", humanize.Bytes(uint64(max(resp.ContentLength, 0))))

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	slog.Info("dataset downloaded", "path", dst, "bytes", humanize.Bytes(uint64(n)))
	return nil
}
