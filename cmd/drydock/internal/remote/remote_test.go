// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ============================================================================
// uploadDir Tests
// ============================================================================

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestUploadDir_KeepsRelativePaths(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"manifest.json":     "{}",
		"config/nginx.conf": "server {}",
		"datastore.sql.zst": "dump",
		".incomplete":       "",
	})

	got := map[string]string{}
	put := func(_ context.Context, key string, body io.Reader, size int64) error {
		data, _ := io.ReadAll(body)
		if int64(len(data)) != size {
			t.Errorf("size mismatch for %s: %d vs %d", key, len(data), size)
		}
		got[key] = string(data)
		return nil
	}

	keys, err := uploadDir(context.Background(), dir, "drydock/20261019T120000Z", put)
	if err != nil {
		t.Fatalf("uploadDir: %v", err)
	}
	want := []string{
		"drydock/20261019T120000Z/config/nginx.conf",
		"drydock/20261019T120000Z/datastore.sql.zst",
		"drydock/20261019T120000Z/manifest.json",
	}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}
	if got["drydock/20261019T120000Z/config/nginx.conf"] != "server {}" {
		t.Errorf("unexpected content: %v", got)
	}
}

func TestUploadDir_Errors(t *testing.T) {
	noop := func(context.Context, string, io.Reader, int64) error { return nil }

	if _, err := uploadDir(context.Background(), "", "p", noop); err == nil {
		t.Error("empty path should fail")
	}
	if _, err := uploadDir(context.Background(), "/nonexistent/directory/path", "p", noop); err == nil {
		t.Error("missing directory should fail")
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0644)
	if _, err := uploadDir(context.Background(), file, "p", noop); err == nil {
		t.Error("file instead of directory should fail")
	}

	dir := writeTree(t, map[string]string{"a": "1", "b": "2"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	keys, err := uploadDir(ctx, dir, "p", noop)
	if err == nil || len(keys) != 0 {
		t.Errorf("cancelled context should stop before the first upload, got %v %v", keys, err)
	}
}

func TestUploadFile_NonExistentLocalFile(t *testing.T) {
	put := func(context.Context, string, io.Reader, int64) error { return nil }
	err := uploadFile(context.Background(), "/nonexistent/file/path.txt", "dest/path.txt", put)
	if err == nil {
		t.Fatal("uploadFile with non-existent local file should return error")
	}
	if !strings.Contains(err.Error(), "failed to open the local file") {
		t.Errorf("Error should mention failed to open file, got: %v", err)
	}
}

// ============================================================================
// Constructor Tests
// ============================================================================

func TestNewGCS_NonExistentSAKeyPath(t *testing.T) {
	_, err := NewGCS(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: "/nonexistent/path/to/key.json"})
	if err == nil {
		t.Fatal("NewGCS with non-existent SA key should return error")
	}
	if !strings.Contains(err.Error(), "service account key not found") {
		t.Errorf("Error should mention SA key not found, got: %v", err)
	}
}

func TestNewGCS_InvalidCredentialsFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "invalid_key.json")
	if err := os.WriteFile(keyPath, []byte("not valid json"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewGCS(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: keyPath})
	if err == nil {
		t.Fatal("NewGCS with invalid credentials file should return error")
	}
}

func TestNewGCS_RequiresBucket(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.json")
	os.WriteFile(keyPath, []byte("{}"), 0644)
	if _, err := NewGCS(context.Background(), GCSConfig{CredentialsFile: keyPath}); err == nil {
		t.Fatal("missing bucket should fail")
	}
}

func TestNewS3(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{}); err == nil {
		t.Fatal("missing bucket should fail")
	}

	u, err := NewS3(context.Background(), S3Config{
		Bucket:    "backups",
		Endpoint:  "http://127.0.0.1:9000",
		PathStyle: true,
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	if u.Name() != "s3" || u.bucket != "backups" {
		t.Errorf("unexpected uploader: %+v", u)
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
