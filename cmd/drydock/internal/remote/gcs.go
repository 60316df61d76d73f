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
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	ProjectID string
	Bucket    string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// GCS uploads to a Google Cloud Storage bucket.
type GCS struct {
	storageClient *storage.Client
	ProjectID     string
	BucketName    string
}

// NewGCS creates a GCS uploader.
func NewGCS(ctx context.Context, config GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		if _, err := os.Stat(config.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", config.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{storageClient: storageClient, ProjectID: config.ProjectID, BucketName: config.Bucket}, nil
}

// Name implements Uploader.
func (c *GCS) Name() string { return "gcs" }

// UploadDir implements Uploader.
func (c *GCS) UploadDir(ctx context.Context, localDir, prefix string) ([]string, error) {
	return uploadDir(ctx, localDir, prefix, c.put)
}

func (c *GCS) put(ctx context.Context, key string, body io.Reader, _ int64) error {
	writer := c.storageClient.Bucket(c.BucketName).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy to GCS object gs://%s/%s: %w", c.BucketName, key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return nil
}

// Close implements Uploader.
func (c *GCS) Close() error {
	if c.storageClient == nil {
		return nil
	}
	return c.storageClient.Close()
}
