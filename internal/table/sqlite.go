package table

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const attributesTable = "_jsontab_attributes"

// SQLiteSink writes every output table into one SQLite database. Columns are
// TEXT; rows are inserted with INSERT OR REPLACE so a declared primary key
// deduplicates re-sent records. Inserts are batched into transactions.
type SQLiteSink struct {
	db        *sql.DB
	tx        *sql.Tx
	stmts     map[string]*sql.Stmt
	tables    []*sqliteTable
	names     map[string]bool
	batchSize int
	count     int
	mu        sync.Mutex
}

// NewSQLiteSink opens (or creates) the database at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Bulk insert tuning
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS ` + attributesTable + ` (
		table_name TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (table_name, key)
	) WITHOUT ROWID;
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteSink{
		db:        db,
		stmts:     make(map[string]*sql.Stmt),
		names:     make(map[string]bool),
		batchSize: 10000,
	}
	if err := s.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) beginTx() error {
	var err error
	s.tx, err = s.db.Begin()
	return err
}

func (s *SQLiteSink) commitTx() error {
	for name, st := range s.stmts {
		_ = st.Close()
		delete(s.stmts, name)
	}
	return s.tx.Commit()
}

func (s *SQLiteSink) Create(name string, header []string) (Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[name] {
		return nil, fmt.Errorf("table %q already exists", name)
	}
	t := &sqliteTable{sink: s, name: name, header: append([]string(nil), header...)}
	s.names[name] = true
	s.tables = append(s.tables, t)
	return t, nil
}

// Close creates tables that never received a row, commits and closes the
// database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tables {
		if err := t.ensureCreated(); err != nil {
			_ = s.tx.Rollback()
			_ = s.db.Close()
			return err
		}
	}
	if err := s.commitTx(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// insert runs with s.mu held.
func (s *SQLiteSink) insert(t *sqliteTable, args []any) error {
	st, ok := s.stmts[t.name]
	if !ok {
		cols := make([]string, len(t.header))
		marks := make([]string, len(t.header))
		for i, h := range t.header {
			cols[i] = quoteIdent(h)
			marks[i] = "?"
		}
		var err error
		st, err = s.tx.Prepare(fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
			quoteIdent(t.name), strings.Join(cols, ", "), strings.Join(marks, ", ")))
		if err != nil {
			return fmt.Errorf("prepare insert into %s: %w", t.name, err)
		}
		s.stmts[t.name] = st
	}
	if _, err := st.Exec(args...); err != nil {
		return fmt.Errorf("insert into %s: %w", t.name, err)
	}

	s.count++
	if s.count >= s.batchSize {
		if err := s.commitTx(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if err := s.beginTx(); err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		s.count = 0
	}
	return nil
}

type sqliteTable struct {
	sink       *SQLiteSink
	name       string
	header     []string
	primaryKey []string
	created    bool
}

func (t *sqliteTable) Name() string     { return t.name }
func (t *sqliteTable) Header() []string { return append([]string(nil), t.header...) }

// ensureCreated issues the DDL on first use so a primary key set after
// Create is still part of the table definition.
func (t *sqliteTable) ensureCreated() error {
	if t.created {
		return nil
	}
	defs := make([]string, 0, len(t.header)+1)
	for _, h := range t.header {
		defs = append(defs, quoteIdent(h)+" TEXT")
	}
	if len(t.primaryKey) > 0 {
		pk := make([]string, len(t.primaryKey))
		for i, c := range t.primaryKey {
			pk[i] = quoteIdent(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(t.name), strings.Join(defs, ", "))
	if _, err := t.sink.tx.Exec(ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.name, err)
	}
	t.created = true
	return nil
}

func (t *sqliteTable) WriteRow(row Row) error {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	if err := checkRow(t.name, t.header, row); err != nil {
		return err
	}
	if err := t.ensureCreated(); err != nil {
		return err
	}
	args := make([]any, len(t.header))
	for i, h := range t.header {
		v := row[h]
		if v != nil {
			if _, ok := v.(string); !ok {
				return fmt.Errorf("table %q: column %q: unexpected cell value of type %T", t.name, h, v)
			}
		}
		args[i] = v
	}
	return t.sink.insert(t, args)
}

func (t *sqliteTable) SetPrimaryKey(columns []string) error {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	if t.created {
		return fmt.Errorf("table %q: primary key must be set before rows are written", t.name)
	}
	for _, c := range columns {
		if !slices.Contains(t.header, c) {
			return fmt.Errorf("table %q: primary key column %q not in header", t.name, c)
		}
	}
	t.primaryKey = append([]string(nil), columns...)
	return nil
}

func (t *sqliteTable) AddAttributes(attrs map[string]string) error {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	for k, v := range attrs {
		if _, err := t.sink.tx.Exec(
			"INSERT OR REPLACE INTO "+attributesTable+" (table_name, key, value) VALUES (?, ?, ?)",
			t.name, k, v,
		); err != nil {
			return fmt.Errorf("store attribute %s of %s: %w", k, t.name, err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
