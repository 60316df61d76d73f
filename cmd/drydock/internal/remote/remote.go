// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote replicates backup directories to object storage.
//
// Two backends are provided: Google Cloud Storage and S3 (including
// S3-compatible endpoints). Both upload every regular file of a backup
// directory under <prefix>/<backup-id>/<relative-path>.
package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// Uploader replicates a local directory.
type Uploader interface {
	// Name identifies the backend in logs ("gcs", "s3").
	Name() string

	// UploadDir uploads every regular file below localDir and returns the
	// object keys written.
	UploadDir(ctx context.Context, localDir, prefix string) ([]string, error)

	// Close releases the client.
	Close() error
}

// putFunc writes one object.
type putFunc func(ctx context.Context, key string, body io.Reader, size int64) error

// uploadDir walks localDir in lexical order and calls put for each file.
//
// Marker files starting with "." (such as .incomplete) are skipped.
func uploadDir(ctx context.Context, localDir, prefix string, put putFunc) ([]string, error) {
	if localDir == "" {
		return nil, fmt.Errorf("local directory is required")
	}
	info, err := os.Stat(localDir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", localDir)
	}

	var files []string
	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && d.Name()[0] != '.' {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", localDir, err)
	}
	sort.Strings(files)

	keys := make([]string, 0, len(files))
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return keys, err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if err := uploadFile(ctx, p, key, put); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func uploadFile(ctx context.Context, localPath, key string, put putFunc) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	return put(ctx, key, f, info.Size())
}
