// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// OpenDump returns the decompressed datastore dump of rec.
func OpenDump(rec Record) (io.ReadCloser, error) {
	f, err := os.Open(rec.Path(DumpFile))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open dump: %w", err)
	}
	return &dumpReader{dec: dec, f: f}, nil
}

type dumpReader struct {
	dec *zstd.Decoder
	f   *os.File
}

func (d *dumpReader) Read(p []byte) (int, error) { return d.dec.Read(p) }

func (d *dumpReader) Close() error {
	d.dec.Close()
	return d.f.Close()
}

// OpenCacheSnapshot returns the cache RDB file and its size.
func OpenCacheSnapshot(rec Record) (io.ReadCloser, int64, error) {
	f, err := os.Open(rec.Path(CacheFile))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// RestoreFiles copies config trees and extracts assets back to the host paths
// recorded in the manifest.
func RestoreFiles(rec Record) error {
	for key, dst := range rec.Manifest.ConfigRoots {
		if err := copyTree(filepath.Join(rec.Path(ConfigDir), key), dst); err != nil {
			return fmt.Errorf("restore config %s: %w", dst, err)
		}
	}
	if len(rec.Manifest.AssetRoots) == 0 {
		return nil
	}
	f, err := os.Open(rec.Path(AssetsFile))
	if err != nil {
		return fmt.Errorf("open assets: %w", err)
	}
	defer f.Close()
	return extractAssetArchive(f, rec.Manifest.AssetRoots)
}
