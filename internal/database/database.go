package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so that stored timestamps sort lexically in
// chronological order (next_run <= ? comparisons rely on it).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the database connection and provides the ledger store operations.
type DB struct {
	conn    *sql.DB
	dialect dialect
}

type dialect struct {
	driver     string
	lockSuffix string
	numbered   bool // $1, $2 placeholders instead of ?
	schema     []string
}

var sqliteDialect = dialect{
	driver: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			balance TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recognitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			giver_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			message TEXT NOT NULL,
			tags TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recurring_bonuses (
			id TEXT PRIMARY KEY,
			giver_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			cadence TEXT NOT NULL,
			next_run TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rewards (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			points_required TEXT NOT NULL,
			requires_approval INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS redemption_requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			reward_id TEXT NOT NULL,
			status TEXT NOT NULL,
			points_required TEXT NOT NULL,
			created_at TEXT NOT NULL,
			approved_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			admin_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL REFERENCES organizations(id),
			name TEXT NOT NULL,
			chat_id TEXT NOT NULL UNIQUE,
			public INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			recognition_id TEXT NOT NULL REFERENCES recognitions(id),
			user_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	},
}

var postgresDialect = dialect{
	driver:     "postgres",
	lockSuffix: " FOR UPDATE",
	numbered:   true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			balance NUMERIC(18,2) NOT NULL CHECK (balance >= 0),
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recognitions (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			giver_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			message TEXT NOT NULL,
			tags TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recurring_bonuses (
			id TEXT PRIMARY KEY,
			giver_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			cadence TEXT NOT NULL,
			next_run TEXT NOT NULL,
			active BOOLEAN NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rewards (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			points_required NUMERIC(18,2) NOT NULL,
			requires_approval BOOLEAN NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS redemption_requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			reward_id TEXT NOT NULL,
			status TEXT NOT NULL,
			points_required NUMERIC(18,2) NOT NULL,
			created_at TEXT NOT NULL,
			approved_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			admin_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL REFERENCES organizations(id),
			name TEXT NOT NULL,
			chat_id TEXT NOT NULL UNIQUE,
			public BOOLEAN NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			recognition_id TEXT NOT NULL REFERENCES recognitions(id),
			user_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	},
}

var commonIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
	`CREATE INDEX IF NOT EXISTS idx_recognitions_scope ON recognitions(scope)`,
	`CREATE INDEX IF NOT EXISTS idx_recognitions_giver ON recognitions(giver_id)`,
	`CREATE INDEX IF NOT EXISTS idx_recognitions_receiver ON recognitions(receiver_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bonuses_due ON recurring_bonuses(active, next_run)`,
	`CREATE INDEX IF NOT EXISTS idx_bonuses_giver ON recurring_bonuses(giver_id)`,
	`CREATE INDEX IF NOT EXISTS idx_redemptions_status ON redemption_requests(status)`,
	`CREATE INDEX IF NOT EXISTS idx_redemptions_user ON redemption_requests(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_recognition ON comments(recognition_id)`,
}

// NewDB opens a SQLite ledger at dbPath and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	return Open("sqlite3", dbPath)
}

// Open connects to the given driver ("sqlite3" or "postgres") and
// initializes the schema.
//
// SQLite write transactions start with BEGIN IMMEDIATE over a single pooled
// connection, so writers serialize. Postgres transactions lock the touched
// user rows with SELECT ... FOR UPDATE.
func Open(driver, dsn string) (*DB, error) {
	var d dialect
	switch driver {
	case "sqlite3", "sqlite", "":
		d = sqliteDialect
		dsn = sqliteDSN(dsn)
	case "postgres":
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.driver == "sqlite3" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{conn: conn, dialect: d}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=1&_txlock=immediate&_busy_timeout=5000"
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the name of the SQL driver in use.
func (db *DB) Driver() string {
	return db.dialect.driver
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := append(append([]string{}, db.dialect.schema...), commonIndexes...)

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.dialect.rebind(query), args...)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.queryOn(ctx, db.conn, query, args...)
}

func (db *DB) queryOn(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.dialect.rebind(query), args...)
}

// withTx runs fn inside a single database transaction. Any error from fn
// rolls back everything fn did.
func (db *DB) withTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, dialect: db.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// readSnapshot runs fn in a read-only transaction so that every query fn
// makes sees the same committed state.
func (db *DB) readSnapshot(ctx context.Context, fn func(querier) error) error {
	var opts *sql.TxOptions
	if db.dialect.driver == postgresDialect.driver {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	sqlTx, err := db.conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// serializeTags converts a slice of tags to a JSON string.
func serializeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return strings.Join(tags, ",")
	}
	return string(data)
}

// deserializeTags converts a serialized tag list back to a slice.
func deserializeTags(serialized string) []string {
	if serialized == "" || serialized == "[]" {
		return []string{}
	}

	var result []string
	if err := json.Unmarshal([]byte(serialized), &result); err == nil {
		return result
	}

	return strings.Split(serialized, ",")
}
