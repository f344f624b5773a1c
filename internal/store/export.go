package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// exportRow is the Parquet layout for exported samples.
type exportRow struct {
	Address      string  `parquet:"address,zstd"`
	TimestampMs  int64   `parquet:"timestamp_ms"`
	UploadKbps   float64 `parquet:"upload_kbps"`
	DownloadKbps float64 `parquet:"download_kbps"`
}

// ExportWindow writes all samples for address within the last windowHours to
// a Parquet file at path and returns the number of rows written. An empty
// window still produces a valid (empty) file.
func (s *Store) ExportWindow(ctx context.Context, address string, windowHours int, path string) (int, error) {
	samples, err := s.History(ctx, address, windowHours)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}

	writer := parquet.NewGenericWriter[exportRow](f,
		parquet.Compression(&parquet.Zstd))

	rows := make([]exportRow, len(samples))
	for i, sample := range samples {
		rows[i] = exportRow{
			Address:      address,
			TimestampMs:  sample.TimestampMs,
			UploadKbps:   sample.UploadKbps,
			DownloadKbps: sample.DownloadKbps,
		}
	}

	written := 0
	if len(rows) > 0 {
		written, err = writer.Write(rows)
		if err != nil {
			writer.Close()
			f.Close()
			os.Remove(path)
			return 0, fmt.Errorf("write export rows: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("close export writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("close export file: %w", err)
	}

	log.Info("window exported", "address", address, "rows", written, "path", path)
	return written, nil
}
