package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

func sampleResult(sessionID string) *domain.VerificationResult {
	result := domain.AssembleResult(domain.ResultInput{
		SessionID:   sessionID,
		TargetName:  "proposal.txt",
		SourceNames: []string{"rfp.txt"},
		Claims: []domain.VerifiedClaim{{
			Claim: domain.ExtractedClaim{
				ClaimID:   "claim-1",
				ClaimText: "Der Durchsatz beträgt 500 Anfragen/s <p95>",
				Category:  "Leistung",
			},
			Judgment:  domain.Judgment{Verdict: domain.VerdictSupported, Confidence: 88, Rationale: "ok"},
			Citations: []domain.Citation{{DocID: "rfp.txt", Version: 1, Page: 2, Span: "§4"}},
		}},
		CreatedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Elapsed:        3 * time.Second,
		CachingEnabled: true,
	})
	return &result
}

// storeFactories returns one constructor per backend that runs without
// network access.
func storeFactories(t *testing.T) map[string]func() ports.ReportStore {
	return map[string]func() ports.ReportStore{
		"file": func() ports.ReportStore {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "results"), nil)
			require.NoError(t, err)
			return s
		},
		"badger": func() ports.ReportStore {
			s, err := NewBadgerStore(InMemoryBadgerConfig())
			require.NoError(t, err)
			return s
		},
	}
}

func TestReportStores(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("round trip", func(t *testing.T) {
				store := newStore()
				defer store.Close()
				original := sampleResult("sess-2025-03-01-abcd1234")

				loc, err := store.SaveResult(ctx, "sess-2025-03-01-abcd1234", original)
				require.NoError(t, err)
				assert.True(t, strings.HasSuffix(loc, "sess-2025-03-01-abcd1234.json"), loc)

				loaded, err := store.Load(ctx, "sess-2025-03-01-abcd1234")
				require.NoError(t, err)
				assert.Equal(t, original.ClaimCount(), loaded.ClaimCount())
				assert.Equal(t, original.VerdictCounts(), loaded.VerdictCounts())
				assert.Equal(t, "Der Durchsatz beträgt 500 Anfragen/s <p95>", loaded.Blocks[0].Claims[0].Details.ClaimText)

				byKey, err := store.Load(ctx, "sess-2025-03-01-abcd1234.json")
				require.NoError(t, err)
				assert.Equal(t, loaded.DocumentID, byKey.DocumentID)
			})

			t.Run("error report key", func(t *testing.T) {
				store := newStore()
				defer store.Close()

				loc, err := store.SaveError(ctx, "sess-x", &domain.ErrorReport{
					DocumentID: "sess-x",
					Error:      "Claim extraction failed: throttled",
					Timestamp:  time.Now().UTC(),
				})
				require.NoError(t, err)
				assert.True(t, strings.HasSuffix(loc, "sess-x_error.json"), loc)

				_, err = store.Load(ctx, "sess-x")
				assert.ErrorIs(t, err, ports.ErrReportNotFound)
			})

			t.Run("last write wins", func(t *testing.T) {
				store := newStore()
				defer store.Close()

				first := sampleResult("sess-1")
				second := sampleResult("sess-1")
				second.Title = "replaced"

				_, err := store.SaveResult(ctx, "sess-1", first)
				require.NoError(t, err)
				_, err = store.SaveResult(ctx, "sess-1", second)
				require.NoError(t, err)

				loaded, err := store.Load(ctx, "sess-1")
				require.NoError(t, err)
				assert.Equal(t, "replaced", loaded.Title)
			})

			t.Run("list is sorted", func(t *testing.T) {
				store := newStore()
				defer store.Close()

				keys, err := store.List(ctx)
				require.NoError(t, err)
				assert.Empty(t, keys)

				for _, id := range []string{"sess-c", "sess-a"} {
					_, err := store.SaveResult(ctx, id, sampleResult(id))
					require.NoError(t, err)
				}
				_, err = store.SaveError(ctx, "sess-b", &domain.ErrorReport{DocumentID: "sess-b", Error: "x"})
				require.NoError(t, err)

				keys, err = store.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"sess-a.json", "sess-b_error.json", "sess-c.json"}, keys)
			})

			t.Run("missing report", func(t *testing.T) {
				store := newStore()
				defer store.Close()

				_, err := store.Load(ctx, "nope")

				var storeErr *ports.StoreError
				require.ErrorAs(t, err, &storeErr)
				assert.Equal(t, "nope.json", storeErr.Key)
				assert.ErrorIs(t, err, ports.ErrReportNotFound)
			})

			t.Run("canceled context", func(t *testing.T) {
				store := newStore()
				defer store.Close()
				cctx, cancel := context.WithCancel(ctx)
				cancel()

				_, err := store.SaveResult(cctx, "sess", sampleResult("sess"))
				assert.ErrorIs(t, err, context.Canceled)
			})
		})
	}
}

func TestFileStore_Encoding(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "results")
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	path, err := store.SaveResult(context.Background(), "sess-enc", sampleResult("sess-enc"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sess-enc.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "{\n  \"document_id\": \"sess-enc\""), "two-space indent")
	assert.Contains(t, text, "beträgt", "non-ASCII is not escaped")
	assert.Contains(t, text, "<p95>", "HTML is not escaped")
	assert.Contains(t, text, "§4")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_ListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	missing, err := NewFileStore(filepath.Join(dir, "absent"), nil)
	require.NoError(t, err)
	keys, err = missing.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileStore_RejectsKeysOutsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "results")
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"../escape", "nested/run", "/abs/run", `..\escape`} {
		t.Run(id, func(t *testing.T) {
			_, err := store.SaveResult(ctx, id, sampleResult("sess-x"))
			assert.ErrorIs(t, err, ErrInvalidKey)

			_, err = store.SaveError(ctx, id, &domain.ErrorReport{})
			assert.ErrorIs(t, err, ErrInvalidKey)

			_, err = store.Load(ctx, id)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}

	_, err = os.Stat(filepath.Join(root, "escape.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewFileStore_EmptyDir(t *testing.T) {
	_, err := NewFileStore("  ", nil)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("plain path", func(t *testing.T) {
		dir := t.TempDir()
		store, err := Open(ctx, dir, nil)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &FileStore{}, store)
		assert.Equal(t, dir, store.Location())
	})

	t.Run("badger in memory", func(t *testing.T) {
		store, err := Open(ctx, "badger://:memory:", nil)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &BadgerStore{}, store)
		assert.Equal(t, "badger://:memory:", store.Location())
	})

	t.Run("badger on disk", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		store, err := Open(ctx, "badger://"+dir, nil)
		require.NoError(t, err)
		defer store.Close()

		loc, err := store.SaveResult(ctx, "sess-1", sampleResult("sess-1"))
		require.NoError(t, err)
		assert.Equal(t, "badger://"+dir+"/sess-1.json", loc)
	})

	t.Run("gcs without bucket", func(t *testing.T) {
		_, err := Open(ctx, "gs://", nil)
		assert.ErrorContains(t, err, "missing bucket")
	})
}

func TestParseGCSLocation(t *testing.T) {
	tests := []struct {
		location   string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{location: "gs://reports", wantBucket: "reports"},
		{location: "gs://reports/", wantBucket: "reports"},
		{location: "gs://reports/team/verifier/", wantBucket: "reports", wantPrefix: "team/verifier"},
		{location: "gs:///prefix", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			bucket, prefix, err := parseGCSLocation(tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestGCSStore_Naming(t *testing.T) {
	withPrefix := &GCSStore{bucket: "reports", prefix: "team"}
	assert.Equal(t, "team/sess-1.json", withPrefix.objectName(ResultKey("sess-1")))
	assert.Equal(t, "gs://reports/team/sess-1_error.json", withPrefix.uri(ErrorKey("sess-1")))
	assert.Equal(t, "gs://reports/team", withPrefix.Location())

	bare := &GCSStore{bucket: "reports"}
	assert.Equal(t, "sess-1.json", bare.objectName(ResultKey("sess-1")))
	assert.Equal(t, "gs://reports", bare.Location())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "sess-1.json", ResultKey("sess-1"))
	assert.Equal(t, "sess-1_error.json", ErrorKey("sess-1"))
	assert.True(t, IsErrorKey("sess-1_error.json"))
	assert.False(t, IsErrorKey("sess-1.json"))
	assert.Equal(t, "a.json", loadKey("a"))
	assert.Equal(t, "a.json", loadKey("a.json"))
}
