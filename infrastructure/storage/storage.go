// Package storage persists verification reports. Three backends implement
// ports.ReportStore: a local directory, a Google Cloud Storage bucket and
// an embedded BadgerDB. All of them store the same UTF-8 JSON documents
// under the same keys, so a report can be moved between backends by
// copying bytes.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

// Location schemes understood by Open.
const (
	SchemeGCS    = "gs://"
	SchemeBadger = "badger://"

	// BadgerInMemory as a badger path opens a store without disk files.
	BadgerInMemory = ":memory:"
)

const (
	reportExt    = ".json"
	errorSuffix  = "_error"
	contentType  = "application/json"
	cacheControl = "no-cache, no-store, must-revalidate"
)

// ResultKey is the key a successful report for sessionID is stored under.
func ResultKey(sessionID string) string { return sessionID + reportExt }

// ErrorKey is the key an error report for sessionID is stored under.
func ErrorKey(sessionID string) string { return sessionID + errorSuffix + reportExt }

// IsErrorKey reports whether key names an error report.
func IsErrorKey(key string) bool { return strings.HasSuffix(key, errorSuffix+reportExt) }

// loadKey maps a session id or key onto the key of a successful report.
func loadKey(ref string) string {
	if strings.HasSuffix(ref, reportExt) {
		return ref
	}
	return ResultKey(ref)
}

// Open selects a backend from location: "gs://bucket/prefix" opens a
// GCSStore, "badger://path" a BadgerStore, and anything else is a
// directory for a FileStore.
func Open(ctx context.Context, location string, logger *slog.Logger) (ports.ReportStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch {
	case strings.HasPrefix(location, SchemeGCS):
		bucket, prefix, err := parseGCSLocation(location)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(ctx, bucket, prefix, logger)
	case strings.HasPrefix(location, SchemeBadger):
		path := strings.TrimPrefix(location, SchemeBadger)
		cfg := DefaultBadgerConfig(path)
		if path == BadgerInMemory {
			cfg = InMemoryBadgerConfig()
		}
		cfg.Logger = logger
		return NewBadgerStore(cfg)
	default:
		return NewFileStore(location, logger)
	}
}

// encodeReport renders v as indented JSON with HTML escaping off, so
// non-ASCII and markup characters are written as-is.
func encodeReport(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeResult(data []byte) (*domain.VerificationResult, error) {
	var result domain.VerificationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &result, nil
}
