// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package streamtable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrFetchFailed indicates the artifact could not be downloaded.
var ErrFetchFailed = errors.New("stream table fetch failed")

// Source retrieves the raw bytes of a stream table artifact.
type Source interface {
	Fetch(ctx context.Context, v Variant) ([]byte, error)
}

// HTTPSource downloads artifacts from a web server that serves them by
// object name under BaseURL.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource returns an HTTPSource with a client sized for large
// downloads.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, v Variant) ([]byte, error) {
	u, err := url.JoinPath(s.BaseURL, v.ObjectName())
	if err != nil {
		return nil, fmt.Errorf("%w: bad base URL %q: %v", ErrFetchFailed, s.BaseURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrFetchFailed, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrFetchFailed, u, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrFetchFailed, u, err)
	}
	return body, nil
}

// FileSource reads artifacts from a local directory.
type FileSource struct {
	Dir string
}

// Fetch implements Source.
func (s FileSource) Fetch(ctx context.Context, v Variant) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, v.ObjectName())
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return data, nil
}

// GCSSource reads artifacts from a Google Cloud Storage bucket.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSource creates a GCS-backed source.
//
// Description:
//
//	Uses the service account key at credentialsPath when given, otherwise
//	Application Default Credentials. Objects are read from
//	gs://bucket/prefix/<object name>.
//
// Inputs:
//
//	ctx - Context for client creation.
//	bucket - Bucket name.
//	prefix - Object prefix, may be empty.
//	credentialsPath - Path to a service account key, may be empty.
//
// Outputs:
//
//	*GCSSource - The source. Caller must Close it.
//	error - Non-nil if the key is missing or the client cannot be created.
func NewGCSSource(ctx context.Context, bucket, prefix, credentialsPath string) (*GCSSource, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsPath)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Fetch implements Source.
func (s *GCSSource) Fetch(ctx context.Context, v Variant) ([]byte, error) {
	name := v.ObjectName()
	if s.prefix != "" {
		name = s.prefix + "/" + name
	}
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gs://%s/%s: %v", ErrFetchFailed, s.bucket, name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read gs://%s/%s: %v", ErrFetchFailed, s.bucket, name, err)
	}
	return data, nil
}

// Close releases the storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}
