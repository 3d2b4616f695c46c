package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"postflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS posts (
  seq INTEGER PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  content TEXT NOT NULL,
  scheduled_time TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('scheduled','posted','failed')) DEFAULT 'scheduled',
  created_at DATETIME NOT NULL,
  posted_at DATETIME,
  published_id TEXT,
  error TEXT,
  simulated INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status, seq);
`
	_, err := db.Exec(schema)
	return err
}

// OpenSQLite opens (creating if needed) a database file and ensures the
// posts schema.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// SQLiteStore keeps the snapshot in the posts table. Every Save replaces
// the table contents inside one transaction.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	timeout time.Duration
}

func NewSQLiteStore(db *sql.DB, path string) *SQLiteStore {
	return &SQLiteStore{db: db, path: path, timeout: 10 * time.Second}
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Load() ([]domain.Post, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT id,content,scheduled_time,status,created_at,posted_at,published_id,error,simulated
FROM posts ORDER BY seq ASC`)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			p        domain.Post
			status   string
			postedAt sql.NullTime
			pubID    sql.NullString
			errStr   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Content, &p.ScheduledTime, &status, &p.CreatedAt, &postedAt, &pubID, &errStr, &p.Simulated); err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
		}
		p.Status = domain.Status(status)
		if postedAt.Valid {
			t := postedAt.Time
			p.PostedAt = &t
		}
		p.PublishedID = pubID.String
		p.Error = errStr.String
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return posts, nil
}

func (s *SQLiteStore) Save(posts []domain.Post) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO posts (seq,id,content,scheduled_time,status,created_at,posted_at,published_id,error,simulated)
VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	defer stmt.Close()

	for i, p := range posts {
		var postedAt sql.NullTime
		if p.PostedAt != nil {
			postedAt = sql.NullTime{Time: *p.PostedAt, Valid: true}
		}
		_, err = stmt.ExecContext(ctx, i+1, p.ID, p.Content, p.ScheduledTime, string(p.Status), p.CreatedAt,
			postedAt, nullString(p.PublishedID), nullString(p.Error), p.Simulated)
		if err != nil {
			return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("insert %s: %w", p.ID, err)}
		}
	}

	if err = tx.Commit(); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
