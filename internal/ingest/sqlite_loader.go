package ingest

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"
)

// StreamSQLite reads the JSON records of the results(id, record) table in
// rowid order and calls fn once per page of at most pageSize records. Only
// one page is alive at a time.
func StreamSQLite(dbPath string, pageSize int, fn func(page []any) error) error {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	after := int64(math.MinInt64)
	for {
		page, last, err := readPage(db, after, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		after = last
	}
}

func readPage(db *sql.DB, after int64, limit int) ([]any, int64, error) {
	rows, err := db.Query("SELECT rowid, id, record FROM results WHERE rowid > ? ORDER BY rowid LIMIT ?", after, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var (
		page []any
		last int64
	)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&last, &id, &raw); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}
		parsed, err := oj.ParseString(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("parse record %s: %w", id, err)
		}
		page = append(page, parsed)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}
	return page, last, nil
}
