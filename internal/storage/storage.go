// Package storage archives call artifacts (the NDJSON event log and a
// plain-text transcript) to Supabase Storage once a call ends. Recording
// raw audio is out of scope; only the text-level record of the call is
// archived.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// Config names the bucket archived artifacts land in.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Archiver uploads one call artifact, keyed by object name.
type Archiver interface {
	Archive(ctx context.Context, key, contentType string, body []byte) error
}

// Store is the Supabase-backed Archiver.
type Store struct {
	client *supabase.Client
	bucket string
}

// New constructs a Store, failing instead of panicking if Supabase rejects
// the configuration so callers can fall back to running without archival.
func New(cfg Config) (*Store, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: create supabase client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Archive uploads body under key, overwriting any prior object with the
// same name (calls are archived exactly once, but retries must be safe).
func (s *Store) Archive(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return nil
}
