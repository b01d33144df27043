package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/model"
)

func TestLocalStore_UpsertPrependsAndOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewLocalStore(NewMemoryKV())

	first := sampleRecord()
	require.NoError(t, s.Upsert(ctx, "t1", "p1", first, testNow))

	second := sampleRecord()
	second.Title = "Retaining wall"
	second.LastEditedAt = testNow.Add(time.Hour)
	require.NoError(t, s.Upsert(ctx, "t2", "p1", second, testNow.Add(time.Hour)))

	got, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].ID)
	assert.Equal(t, "t1", got[1].ID)

	edited := first
	edited.Title = "Bridge deck v2"
	edited.LastEditedAt = testNow.Add(2 * time.Hour)
	require.NoError(t, s.Upsert(ctx, "t1", "p1", edited, testNow.Add(2*time.Hour)))

	got, err = s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Bridge deck v2", got[1].Title)
	assert.True(t, got[1].UpdatedAt.Equal(testNow.Add(2*time.Hour)))

	d, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.StorageLocal, d.Storage)
	assert.Equal(t, "Bridge deck v2", d.Tender.Title)
}

func TestLocalStore_PreservesStoredAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewLocalStore(kv)

	rec := sampleRecord()
	require.NoError(t, s.Upsert(ctx, "t1", "p1", rec, testNow))
	rec.CreatedAt = testNow.Add(24 * time.Hour)
	require.NoError(t, s.Upsert(ctx, "t1", "p1", rec, testNow.Add(24*time.Hour)))

	raw, ok, err := kv.Get(ctx, TenderCacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	var entries []cacheEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.True(t, entries[0].StoredAt.Equal(testNow))
}

func TestLocalStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := NewLocalStore(NewMemoryKV())
	d, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestLocalStore_CorruptCacheReadsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, TenderCacheKey, []byte("{not json")))
	s := NewLocalStore(kv)

	got, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Upsert(ctx, "t1", "p1", sampleRecord(), testNow))
	got, err = s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLocalStore_DropsMalformedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := NewMemoryKV()

	good, err := json.Marshal(cacheEntry{ID: "t1", ProjectID: "p1", Tender: ptr(sampleRecord()), StoredAt: testNow, UpdatedAt: testNow})
	require.NoError(t, err)
	raw := `[42, {"id": "t0"}, ` + string(good) + `]`
	require.NoError(t, kv.Set(ctx, TenderCacheKey, []byte(raw)))

	got, err := NewLocalStore(kv).List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
}

func TestLocalStore_ProjectFilterAndSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewLocalStore(NewMemoryKV())

	require.NoError(t, s.Upsert(ctx, "t1", "p1", sampleRecord(), testNow))
	require.NoError(t, s.Upsert(ctx, "t2", "p2", sampleRecord(), testNow))

	got, err := s.List(ctx, ListFilter{ProjectID: "p2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ID)

	lines, err := s.SearchLines(ctx, SuggestionQuery{Query: "CEMENT", ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "t1:l1", lines[0].ID)
	assert.Equal(t, "t1", lines[0].TenderID)
	require.NotNil(t, lines[0].Amount)
	assert.InDelta(t, 8500, *lines[0].Amount, 1e-9)
	assert.Equal(t, model.StorageLocal, lines[0].Storage)

	none, err := s.SearchLines(ctx, SuggestionQuery{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocalStore_OverSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tenders.db")

	kv, err := NewSQLiteKV(ctx, path)
	require.NoError(t, err)
	require.NoError(t, NewLocalStore(kv).Upsert(ctx, "t1", "p1", sampleRecord(), testNow))
	require.NoError(t, kv.Close())

	kv, err = NewSQLiteKV(ctx, path)
	require.NoError(t, err)
	defer kv.Close() //nolint:errcheck

	d, err := NewLocalStore(kv).Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Len(t, d.Tender.Lines, 3)
	assert.Equal(t, model.ServiceModeNorms, d.Tender.Lines[2].Mode())
}

func ptr[T any](v T) *T { return &v }
