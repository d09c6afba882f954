package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "state", "editlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEvent(item string, ts time.Time, editor string, offset int64) domain.ItemUpdateEvent {
	return domain.ItemUpdateEvent{
		ItemID:       item,
		EventTime:    ts,
		Editor:       editor,
		Action:       domain.ActionUpdateItem,
		SourcePath:   "/dspace/log/dspace.log",
		SourceOffset: offset,
		LineHash:     "hash",
	}
}

func testRecord(offset int64) domain.LogFileRecord {
	return domain.LogFileRecord{
		Parser:    "dspace_item_edits",
		Identity:  domain.FileIdentity{Device: 2049, Inode: 131},
		Path:      "/dspace/log/dspace.log",
		Offset:    offset,
		SizeSeen:  offset,
		UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBoltStore_GetFileRecord_Missing(t *testing.T) {
	s := newTestBoltStore(t)

	rec, err := s.GetFileRecord(context.Background(), "dspace_item_edits", domain.FileIdentity{Device: 1, Inode: 2})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBoltStore_CommitFile_StoresRecordAndEvents(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := &domain.FileBatch{
		Record: testRecord(400),
		Events: []domain.ItemUpdateEvent{
			testEvent("1234", ts, "a@x.org", 0),
			testEvent("5678", ts, "b@x.org", 200),
		},
	}

	inserted, err := s.CommitFile(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	rec, err := s.GetFileRecord(ctx, "dspace_item_edits", batch.Record.Identity)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(400), rec.Offset)
	assert.Equal(t, "/dspace/log/dspace.log", rec.Path)
	assert.True(t, rec.UpdatedAt.Equal(batch.Record.UpdatedAt))

	n, err := s.CountEvents(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBoltStore_CommitFile_DeduplicatesByItemAndTime(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Same item updated twice in the same second, then once a second later
	batch := &domain.FileBatch{
		Record: testRecord(300),
		Events: []domain.ItemUpdateEvent{
			testEvent("1234", ts, "a@x.org", 0),
			testEvent("1234", ts.Add(400*time.Millisecond), "a@x.org", 100),
			testEvent("1234", ts.Add(time.Second), "a@x.org", 200),
		},
	}

	inserted, err := s.CommitFile(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	// Replaying the same lines inserts nothing new
	inserted, err = s.CommitFile(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, inserted)

	n, err := s.CountEvents(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBoltStore_CommitFile_CanceledContext(t *testing.T) {
	s := newTestBoltStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CommitFile(ctx, &domain.FileBatch{Record: testRecord(10)})
	require.Error(t, err)

	rec, err := s.GetFileRecord(context.Background(), "dspace_item_edits", testRecord(0).Identity)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBoltStore_ListFileRecords_ScopedByParser(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	a := testRecord(10)
	b := testRecord(20)
	b.Identity.Inode = 999
	other := testRecord(30)
	other.Parser = "other_parser"

	for _, rec := range []domain.LogFileRecord{a, b, other} {
		_, err := s.CommitFile(ctx, &domain.FileBatch{Record: rec})
		require.NoError(t, err)
	}

	records, err := s.ListFileRecords(ctx, "dspace_item_edits")
	require.NoError(t, err)
	require.Len(t, records, 2)

	offsets := []int64{records[0].Offset, records[1].Offset}
	assert.ElementsMatch(t, []int64{10, 20}, offsets)

	records, err = s.ListFileRecords(ctx, "other_parser")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(30), records[0].Offset)
}

func TestBoltStore_Counts(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	jan := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 3, 9, 30, 0, 0, time.UTC)

	_, err := s.CommitFile(ctx, &domain.FileBatch{
		Record: testRecord(500),
		Events: []domain.ItemUpdateEvent{
			testEvent("1", jan, "a@x.org", 0),
			testEvent("2", jan.Add(time.Hour), "b@x.org", 100),
			testEvent("3", feb, "a@x.org", 200),
			testEvent("4", feb.Add(time.Minute), "a@x.org", 300),
			testEvent("5", feb.Add(2*time.Minute), "", 400),
		},
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query EventQuery
		want  int64
	}{
		{"all", EventQuery{}, 5},
		{"from february", EventQuery{From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}, 3},
		{"to is exclusive", EventQuery{To: feb}, 2},
		{"editor", EventQuery{Editor: "a@x.org"}, 3},
		{"window and editor", EventQuery{From: feb, To: feb.Add(time.Minute), Editor: "a@x.org"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.CountEvents(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	byEditor, err := s.CountByEditor(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{Key: "a@x.org", Count: 3},
		{Key: "", Count: 1},
		{Key: "b@x.org", Count: 1},
	}, byEditor)

	byMonth, err := s.CountByMonth(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{Key: "2024-01", Count: 2},
		{Key: "2024-02", Count: 3},
	}, byMonth)
}

func TestBoltStore_Ping(t *testing.T) {
	s := newTestBoltStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestBoltBackend_LockThenOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "editlog.db")
	ctx := context.Background()

	first := NewBoltBackend(path)
	second := NewBoltBackend(path)
	assert.Equal(t, "bolt", first.Name())

	ok, err := first.Locker().TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Locker().TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := first.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	require.NoError(t, first.Locker().Release(ctx))

	ok, err = second.Locker().TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Locker().Release(ctx))
}
