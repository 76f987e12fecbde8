package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

const backendFile = "file"

// ErrInvalidKey is returned for keys that do not name a single file inside
// the results directory.
var ErrInvalidKey = errors.New("invalid report key")

var _ ports.ReportStore = (*FileStore)(nil)

// FileStore keeps reports as files in a local directory. The directory is
// created on the first write. Writes go to a temporary file that is then
// renamed, so readers never observe a partial report.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("results directory cannot be empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileStore{dir: filepath.Clean(dir), logger: logger}, nil
}

// SaveResult writes {sessionID}.json and returns its path.
func (s *FileStore) SaveResult(ctx context.Context, sessionID string, result *domain.VerificationResult) (string, error) {
	return s.save(ctx, ResultKey(sessionID), result)
}

// SaveError writes {sessionID}_error.json and returns its path.
func (s *FileStore) SaveError(ctx context.Context, sessionID string, report *domain.ErrorReport) (string, error) {
	return s.save(ctx, ErrorKey(sessionID), report)
}

func (s *FileStore) save(ctx context.Context, key string, v any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ports.NewStoreError(backendFile, key, "save", err)
	}
	if !isLocalKey(key) {
		return "", ports.NewStoreError(backendFile, key, "save", ErrInvalidKey)
	}
	data, err := encodeReport(v)
	if err != nil {
		return "", ports.NewStoreError(backendFile, key, "save", err)
	}
	path := filepath.Join(s.dir, key)
	if err := writeFileAtomic(s.dir, path, data); err != nil {
		return "", ports.NewStoreError(backendFile, key, "save", err)
	}
	s.logger.DebugContext(ctx, "report written", "path", path, "bytes", len(data))
	return path, nil
}

func writeFileAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Load reads the successful report for sessionID. A ref ending in .json
// is used as the key unchanged.
func (s *FileStore) Load(ctx context.Context, sessionID string) (*domain.VerificationResult, error) {
	key := loadKey(sessionID)
	if err := ctx.Err(); err != nil {
		return nil, ports.NewStoreError(backendFile, key, "load", err)
	}
	if !isLocalKey(key) {
		return nil, ports.NewStoreError(backendFile, key, "load", ErrInvalidKey)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ports.NewStoreError(backendFile, key, "load", ports.ErrReportNotFound)
	}
	if err != nil {
		return nil, ports.NewStoreError(backendFile, key, "load", err)
	}
	result, err := decodeResult(data)
	if err != nil {
		return nil, ports.NewStoreError(backendFile, key, "load", err)
	}
	return result, nil
}

// isLocalKey reports whether key is one path element that stays inside the
// store directory.
func isLocalKey(key string) bool {
	return filepath.IsLocal(key) && !strings.ContainsAny(key, `/\`)
}

// List returns the names of all report files, sorted. A missing directory
// holds no reports.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ports.NewStoreError(backendFile, "", "list", err)
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, ports.NewStoreError(backendFile, "", "list", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), reportExt) {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Location returns the results directory.
func (s *FileStore) Location() string { return s.dir }

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
