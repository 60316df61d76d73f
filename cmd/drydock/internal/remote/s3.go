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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket string
	Region string

	// Endpoint targets an S3-compatible service. Empty uses AWS.
	Endpoint  string
	PathStyle bool

	// AccessKey and SecretKey are optional; without them the default
	// credential chain (env, shared config, instance role) is used.
	AccessKey string
	SecretKey string
}

// S3 uploads to an S3 bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 creates an S3 uploader.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Name implements Uploader.
func (u *S3) Name() string { return "s3" }

// UploadDir implements Uploader.
func (u *S3) UploadDir(ctx context.Context, localDir, prefix string) ([]string, error) {
	return uploadDir(ctx, localDir, prefix, u.put)
}

func (u *S3) put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// Close implements Uploader.
func (u *S3) Close() error { return nil }

var (
	_ Uploader = (*S3)(nil)
	_ Uploader = (*GCS)(nil)
)
