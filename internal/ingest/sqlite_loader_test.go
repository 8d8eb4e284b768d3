package ingest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func createTestDB(t *testing.T, records []string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("CREATE TABLE results (id TEXT PRIMARY KEY, record TEXT NOT NULL)")
	require.NoError(t, err)

	for i, rec := range records {
		_, err = db.Exec("INSERT INTO results (id, record) VALUES (?, ?)",
			fmt.Sprintf("r%03d", i), rec)
		require.NoError(t, err)
	}
	return dbPath
}

func TestStreamSQLite(t *testing.T) {
	t.Run("pages", func(t *testing.T) {
		var recs []string
		for i := range 7 {
			recs = append(recs, fmt.Sprintf(`{"n":%d}`, i))
		}
		dbPath := createTestDB(t, recs)

		var sizes []int
		var seen []any
		err := StreamSQLite(dbPath, 3, func(page []any) error {
			sizes = append(sizes, len(page))
			for _, p := range page {
				seen = append(seen, p.(map[string]any)["n"])
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{3, 3, 1}, sizes)
		assert.Equal(t, []any{int64(0), int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)}, seen)
	})

	t.Run("exact multiple of the page size", func(t *testing.T) {
		dbPath := createTestDB(t, []string{`{"n":1}`, `{"n":2}`})
		calls := 0
		require.NoError(t, StreamSQLite(dbPath, 2, func([]any) error { calls++; return nil }))
		assert.Equal(t, 1, calls)
	})

	t.Run("empty database", func(t *testing.T) {
		dbPath := createTestDB(t, nil)
		calls := 0
		require.NoError(t, StreamSQLite(dbPath, 10, func([]any) error { calls++; return nil }))
		assert.Zero(t, calls)
	})

	t.Run("nested structures preserved", func(t *testing.T) {
		dbPath := createTestDB(t, []string{
			`{"item":{"cve":{"id":"CVE-2024-0001","descriptions":[{"lang":"en","value":"test desc"}]}}}`,
		})
		var got []any
		require.NoError(t, StreamSQLite(dbPath, 10, func(page []any) error {
			got = append(got, page...)
			return nil
		}))
		require.Len(t, got, 1)
		cve := got[0].(map[string]any)["item"].(map[string]any)["cve"].(map[string]any)
		assert.Equal(t, "CVE-2024-0001", cve["id"])
		descs := cve["descriptions"].([]any)
		assert.Equal(t, "test desc", descs[0].(map[string]any)["value"])
	})

	t.Run("malformed record", func(t *testing.T) {
		dbPath := createTestDB(t, []string{`{"n":`})
		err := StreamSQLite(dbPath, 10, func([]any) error { return nil })
		assert.ErrorContains(t, err, "r000")
	})

	t.Run("missing table", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "empty.db")
		err := StreamSQLite(dbPath, 10, func([]any) error { return nil })
		assert.Error(t, err)
	})
}

func TestLoader_SQLite(t *testing.T) {
	dbPath := createTestDB(t, []string{
		`{"data":[{"id":1},{"id":2}]}`,
		`{"data":[{"id":3}]}`,
		`{"data":[]}`,
	})
	dir, name := filepath.Split(dbPath)

	l, err := NewLoader(osfs.New(dir), "$.data[*]", 2)
	require.NoError(t, err)
	batches := collect(t, l, name)
	// One batch per page; the empty third record contributes nothing.
	assert.Equal(t, [][]any{
		{map[string]any{"id": int64(1)}, map[string]any{"id": int64(2)}},
		{map[string]any{"id": int64(3)}},
	}, batches)
}

func TestStreamSQLite_Integration(t *testing.T) {
	kevDB := os.Getenv("JSONTAB_TEST_KEV_DB")
	if kevDB == "" {
		t.Skip("JSONTAB_TEST_KEV_DB not set")
	}
	if _, err := os.Stat(kevDB); os.IsNotExist(err) {
		t.Skip("KEV database not found at " + kevDB)
	}

	total := 0
	require.NoError(t, StreamSQLite(kevDB, 500, func(page []any) error {
		total += len(page)
		return nil
	}))
	assert.Greater(t, total, 1000, "KEV should have >1000 records")
}
