// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package archive copies expiring log entries to S3 before the retention
// sweeper deletes them. Each call writes one gzip-compressed JSON Lines object.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sentinel/internal/models"
)

// Archiver stores a set of entries belonging to one service.
type Archiver interface {
	Archive(ctx context.Context, orgID, serviceID string, entries []models.LogEntry) (string, error)
}

// ObjectPutter is the subset of *s3.Client used here.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes archives under a bucket and key prefix.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver parses rawURL and returns an archiver that uploads through client.
//
// Both virtual-hosted (https://bucket.s3.region.amazonaws.com/prefix/) and
// path-style (https://s3.region.amazonaws.com/bucket/prefix/ or s3://bucket/prefix)
// URLs are accepted.
func NewS3Archiver(client ObjectPutter, rawURL string) (*S3Archiver, error) {
	bucket, prefix, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}, nil
}

// NewS3ArchiverFromConfig builds the S3 client from awsCfg.
func NewS3ArchiverFromConfig(awsCfg aws.Config, endpoint, rawURL string) (*S3Archiver, error) {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Archiver(client, rawURL)
}

// ParseURL splits an S3 URL into bucket and key prefix.
func ParseURL(rawURL string) (bucket, prefix string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid archive URL: %w", err)
	}

	switch {
	case u.Scheme == "s3":
		bucket = u.Host
		prefix = strings.Trim(u.Path, "/")
	case strings.Contains(u.Host, ".s3.") || strings.Contains(u.Host, ".s3-"):
		bucket = strings.Split(u.Host, ".")[0]
		prefix = strings.Trim(u.Path, "/")
	default:
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		bucket = parts[0]
		if len(parts) > 1 {
			prefix = parts[1]
		}
	}

	if bucket == "" {
		return "", "", fmt.Errorf("could not parse bucket name from URL: %s", rawURL)
	}
	return bucket, prefix, nil
}

// Bucket returns the target bucket.
func (a *S3Archiver) Bucket() string { return a.bucket }

// Archive uploads entries and returns the object key. An empty slice is a no-op.
func (a *S3Archiver) Archive(ctx context.Context, orgID, serviceID string, entries []models.LogEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	if orgID == "" || serviceID == "" {
		return "", errors.New("archive: org and service are required")
	}

	body, err := encode(entries)
	if err != nil {
		return "", err
	}

	now := a.now().UTC()
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s-%s.jsonl.gz",
		path(a.prefix, orgID, serviceID),
		now.Year(), now.Month(), now.Day(),
		now.Format("20060102T150405Z"),
		uuid.NewString(),
	)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func path(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

func encode(entries []models.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(gz)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", entries[i].ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
