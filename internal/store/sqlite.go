package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal is the on-disk journal. It is single-writer: one supervisor
// per application directory holds the instance lock.
type SQLiteJournal struct {
	db     *sql.DB
	retain int
}

// NewSQLiteJournal opens or creates the journal at dbPath. retain > 0 prunes
// older rows on every write.
func NewSQLiteJournal(dbPath string, retain int) (*SQLiteJournal, error) {
	// WAL lets the CLI read history while the daemon writes
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	j := &SQLiteJournal{db: db, retain: retain}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session TEXT NOT NULL,
		at DATETIME NOT NULL,
		running BOOLEAN NOT NULL,
		pid INTEGER,
		ownership TEXT,
		source TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions(at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record inserts t, assigning an ID and timestamp when missing.
func (j *SQLiteJournal) Record(ctx context.Context, t Transition) error {
	fill(&t)
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions (id, session, at, running, pid, ownership, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Session, t.At, t.Running, t.PID, t.Ownership, t.Source)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	if j.retain > 0 {
		if _, err := j.Prune(ctx, j.retain); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the newest transitions first. limit <= 0 returns all.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session, at, running, pid, ownership, source
		FROM transitions ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var pid sql.NullInt64
		var ownership sql.NullString
		if err := rows.Scan(&t.ID, &t.Session, &t.At, &t.Running, &pid, &ownership, &t.Source); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.PID = int(pid.Int64)
		t.Ownership = ownership.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes everything but the newest retain rows.
func (j *SQLiteJournal) Prune(ctx context.Context, retain int) (int64, error) {
	if retain < 0 {
		return 0, nil
	}
	res, err := j.db.ExecContext(ctx, `
		DELETE FROM transitions WHERE seq NOT IN (
			SELECT seq FROM transitions ORDER BY seq DESC LIMIT ?
		)
	`, retain)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transitions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
