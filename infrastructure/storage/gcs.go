package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

const backendGCS = "gcs"

var _ ports.ReportStore = (*GCSStore)(nil)

// GCSStore keeps reports as objects in a Cloud Storage bucket, under an
// optional object name prefix. Credentials come from the environment's
// application default credentials unless client options say otherwise.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSStore connects to bucket. prefix may be empty.
func NewGCSStore(ctx context.Context, bucket, prefix string, logger *slog.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("GCS bucket name cannot be empty")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}, nil
}

// parseGCSLocation splits "gs://bucket/some/prefix" into its parts.
func parseGCSLocation(location string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(location, SchemeGCS)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid GCS location %q: missing bucket", location)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func (s *GCSStore) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *GCSStore) uri(key string) string {
	return SchemeGCS + s.bucket + "/" + s.objectName(key)
}

// SaveResult uploads {sessionID}.json and returns its gs:// URI.
func (s *GCSStore) SaveResult(ctx context.Context, sessionID string, result *domain.VerificationResult) (string, error) {
	return s.save(ctx, ResultKey(sessionID), result)
}

// SaveError uploads {sessionID}_error.json and returns its gs:// URI.
func (s *GCSStore) SaveError(ctx context.Context, sessionID string, report *domain.ErrorReport) (string, error) {
	return s.save(ctx, ErrorKey(sessionID), report)
}

func (s *GCSStore) save(ctx context.Context, key string, v any) (string, error) {
	data, err := encodeReport(v)
	if err != nil {
		return "", ports.NewStoreError(backendGCS, key, "save", err)
	}

	w := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", ports.NewStoreError(backendGCS, key, "save", fmt.Errorf("write object: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", ports.NewStoreError(backendGCS, key, "save", fmt.Errorf("close GCS writer: %w", err))
	}

	uri := s.uri(key)
	s.logger.DebugContext(ctx, "report uploaded", "uri", uri, "bytes", len(data))
	return uri, nil
}

// Load downloads the successful report for sessionID.
func (s *GCSStore) Load(ctx context.Context, sessionID string) (*domain.VerificationResult, error) {
	key := loadKey(sessionID)
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ports.NewStoreError(backendGCS, key, "load", ports.ErrReportNotFound)
	}
	if err != nil {
		return nil, ports.NewStoreError(backendGCS, key, "load", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ports.NewStoreError(backendGCS, key, "load", err)
	}
	result, err := decodeResult(data)
	if err != nil {
		return nil, ports.NewStoreError(backendGCS, key, "load", err)
	}
	return result, nil
}

// List returns the report keys under the prefix, sorted.
func (s *GCSStore) List(ctx context.Context) ([]string, error) {
	var query *storage.Query
	if s.prefix != "" {
		query = &storage.Query{Prefix: s.prefix + "/"}
	}

	keys := []string{}
	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, ports.NewStoreError(backendGCS, "", "list", err)
		}
		key := path.Base(attrs.Name)
		if strings.HasSuffix(key, reportExt) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Location returns the gs:// URI of the prefix.
func (s *GCSStore) Location() string {
	if s.prefix == "" {
		return SchemeGCS + s.bucket
	}
	return SchemeGCS + s.bucket + "/" + s.prefix
}

// Close releases the storage client.
func (s *GCSStore) Close() error { return s.client.Close() }
