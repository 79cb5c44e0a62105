package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Log_WritesEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)
	defer w.Close()

	ts := time.Date(2026, 2, 8, 14, 30, 0, 0, time.UTC)

	require.NoError(t, w.Log(Entry{
		Timestamp: ts,
		Run:       "20260208T143000",
		Type:      TypeRepair,
		Source:    "packs/faithful.zip",
		Dest:      "packs/repaired/faithful.zip",
		Hash:      "abc123",
	}))
	require.NoError(t, w.Log(Entry{
		Timestamp: ts,
		Run:       "20260208T143000",
		Type:      TypeEntry,
		Source:    "packs/faithful.zip",
		Name:      "pack.mcmeta",
		Method:    "deflate",
		OldCRC:    0,
		NewCRC:    0x352441c2,
		NewSize:   3,
	}))
	require.NoError(t, w.Log(Entry{
		Timestamp: ts,
		Run:       "20260208T143000",
		Type:      TypeRepair,
		Source:    "packs/faithful.zip",
		Dest:      "packs/repaired/faithful.zip",
		DestHash:  "def456",
		Success:   true,
		Entries:   1,
		Changed:   1,
	}))

	entries, err := NewReader(path).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, TypeRepair, entries[0].Type)
	assert.Equal(t, "abc123", entries[0].Hash)
	assert.False(t, entries[0].Success)

	assert.Equal(t, "pack.mcmeta", entries[1].Name)
	assert.Equal(t, uint32(0x352441c2), entries[1].NewCRC)

	assert.True(t, entries[2].Success)
	assert.Equal(t, 1, entries[2].Changed)
	assert.Equal(t, "def456", entries[2].DestHash)
}

func TestWriter_Log_SetsTimestampWhenZero(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)
	defer w.Close()

	before := time.Now().UTC()
	require.NoError(t, w.Log(Entry{Type: TypeVerify, Source: "a.zip", Success: true}))
	after := time.Now().UTC()

	entries, err := NewReader(path).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.False(t, entries[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.False(t, entries[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestReader_Entries_EmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	entries, err := NewReader(path).Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReader_Entries_NonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := NewReader(filepath.Join(t.TempDir(), "missing.jsonl")).Entries()
	require.Error(t, err)
}

func TestReader_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []Entry
		wantErr bool
	}{
		{
			name: "confirmed",
			entries: []Entry{
				{Run: "r1", Type: TypeRepair, Source: "a.zip"},
				{Run: "r1", Type: TypeRepair, Source: "a.zip", Success: true},
			},
		},
		{
			name: "failed repairs are not pending",
			entries: []Entry{
				{Run: "r1", Type: TypeRepair, Source: "a.zip"},
				{Run: "r1", Type: TypeRepair, Source: "a.zip", Error: "zip: unsupported: spanned archive"},
			},
		},
		{
			name: "interrupted",
			entries: []Entry{
				{Run: "r1", Type: TypeRepair, Source: "a.zip"},
				{Run: "r1", Type: TypeRepair, Source: "a.zip", Success: true},
				{Run: "r1", Type: TypeRepair, Source: "b.zip"},
			},
			wantErr: true,
		},
		{
			name: "same source in a later run",
			entries: []Entry{
				{Run: "r1", Type: TypeRepair, Source: "a.zip"},
				{Run: "r2", Type: TypeRepair, Source: "a.zip", Success: true},
			},
			wantErr: true,
		},
		{
			name: "entry lines are ignored",
			entries: []Entry{
				{Run: "r1", Type: TypeEntry, Source: "a.zip", Name: "x"},
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "test.jsonl")
			w, err := NewWriter(path)
			require.NoError(t, err)
			for _, e := range tc.entries {
				require.NoError(t, w.Log(e))
			}
			require.NoError(t, w.Close())

			err = NewReader(path).Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrPartialWrite)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestReader_Entries_CorruptedLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.jsonl")
	content := "{\"type\":\"repair\",\"src\":\"ok.zip\",\"ok\":true}\nnot-json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	entries, err := NewReader(path).Entries()
	require.Error(t, err, "should fail on corrupted line")
	assert.Contains(t, err.Error(), "line 2")
	require.Len(t, entries, 1)
	assert.Equal(t, TypeRepair, entries[0].Type)
}

func TestWriter_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "concurrent.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)
	defer w.Close()

	const numWriters = 10
	const entriesPerWriter = 20

	done := make(chan struct{})
	for i := 0; i < numWriters; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < entriesPerWriter; j++ {
				_ = w.Log(Entry{Type: TypeEntry, Source: "pack.zip"})
			}
		}()
	}

	for i := 0; i < numWriters; i++ {
		<-done
	}

	entries, err := NewReader(path).Entries()
	require.NoError(t, err)
	assert.Len(t, entries, numWriters*entriesPerWriter)
}
