package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

const backendBadger = "badger"

var _ ports.ReportStore = (*BadgerStore)(nil)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in RAM only.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable settings for a database at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns settings for a throwaway in-memory database.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps reports in an embedded BadgerDB, keyed by the same
// file names the FileStore uses.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
}

// NewBadgerStore opens the database described by cfg. The caller must call
// Close when done.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, cfg: cfg, logger: logger}, nil
}

// SaveResult stores {sessionID}.json.
func (s *BadgerStore) SaveResult(ctx context.Context, sessionID string, result *domain.VerificationResult) (string, error) {
	return s.save(ctx, ResultKey(sessionID), result)
}

// SaveError stores {sessionID}_error.json.
func (s *BadgerStore) SaveError(ctx context.Context, sessionID string, report *domain.ErrorReport) (string, error) {
	return s.save(ctx, ErrorKey(sessionID), report)
}

func (s *BadgerStore) save(ctx context.Context, key string, v any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ports.NewStoreError(backendBadger, key, "save", err)
	}
	data, err := encodeReport(v)
	if err != nil {
		return "", ports.NewStoreError(backendBadger, key, "save", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return "", ports.NewStoreError(backendBadger, key, "save", err)
	}
	s.logger.DebugContext(ctx, "report stored", "key", key, "bytes", len(data))
	return s.Location() + "/" + key, nil
}

// Load reads the successful report for sessionID.
func (s *BadgerStore) Load(ctx context.Context, sessionID string) (*domain.VerificationResult, error) {
	key := loadKey(sessionID)
	if err := ctx.Err(); err != nil {
		return nil, ports.NewStoreError(backendBadger, key, "load", err)
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ports.NewStoreError(backendBadger, key, "load", ports.ErrReportNotFound)
	}
	if err != nil {
		return nil, ports.NewStoreError(backendBadger, key, "load", err)
	}

	result, err := decodeResult(data)
	if err != nil {
		return nil, ports.NewStoreError(backendBadger, key, "load", err)
	}
	return result, nil
}

// List returns every stored key in byte order.
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ports.NewStoreError(backendBadger, "", "list", err)
	}
	keys := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, ports.NewStoreError(backendBadger, "", "list", err)
	}
	return keys, nil
}

// Location returns the badger:// form of the database path.
func (s *BadgerStore) Location() string {
	if s.cfg.InMemory {
		return SchemeBadger + BadgerInMemory
	}
	return SchemeBadger + s.cfg.Path
}

// Close closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }
