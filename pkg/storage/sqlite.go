package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/qight/pkg/envelope"
)

// SQLiteStore keeps queues in an in-memory SQLite database.
//
// The database lives only as long as the store: every store opens a private
// shared-cache memory database, and restarts start empty. All access goes
// through one connection, so statements are serialised by database/sql.
type SQLiteStore struct {
	db          *sql.DB
	maxQueueLen int
}

// NewSQLiteStore opens a private in-memory database and creates the schema
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:qight-%s?mode=memory&cache=shared", uuid.NewString())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	// A memory database disappears with its last connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:          db,
		maxQueueLen: opts.MaxQueueLen,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS envelopes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient TEXT NOT NULL, -- queue key, may differ from env_recipient
		id TEXT NOT NULL,
		env_recipient TEXT NOT NULL,
		sender TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		ttl INTEGER NOT NULL,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	);

	-- Queue reads are by recipient in append order
	CREATE INDEX IF NOT EXISTS idx_envelopes_recipient ON envelopes(recipient, seq);

	-- Index for expiration cleanup
	CREATE INDEX IF NOT EXISTS idx_envelopes_expires ON envelopes(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(recipient string, env *envelope.Envelope) error {
	if env == nil {
		return ErrNilEnvelope
	}

	payload := env.Payload
	if payload == nil {
		payload = []byte{}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return s.wrap("begin append", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO envelopes (recipient, id, env_recipient, sender, created_at, ttl, payload, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recipient, env.ID, env.Recipient, env.Sender, int64(env.CreatedAt), int64(env.TTL), payload, expiresColumn(env))
	if err != nil {
		return s.wrap("append envelope", err)
	}

	if s.maxQueueLen > 0 {
		_, err = tx.Exec(`
			DELETE FROM envelopes
			WHERE recipient = ? AND seq NOT IN (
				SELECT seq FROM envelopes WHERE recipient = ? ORDER BY seq DESC LIMIT ?
			)`, recipient, recipient, s.maxQueueLen)
		if err != nil {
			return s.wrap("trim queue", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("commit append", err)
	}
	return nil
}

func (s *SQLiteStore) Snapshot(recipient string) ([]*envelope.Envelope, error) {
	rows, err := s.db.Query(`
		SELECT id, sender, env_recipient, created_at, ttl, payload
		FROM envelopes
		WHERE recipient = ?
		ORDER BY seq ASC`, recipient)
	if err != nil {
		return nil, s.wrap("query queue", err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

func (s *SQLiteStore) Drain(recipient string) ([]*envelope.Envelope, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, s.wrap("begin drain", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, sender, env_recipient, created_at, ttl, payload
		FROM envelopes
		WHERE recipient = ?
		ORDER BY seq ASC`, recipient)
	if err != nil {
		return nil, s.wrap("query queue", err)
	}
	envs, err := scanEnvelopes(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM envelopes WHERE recipient = ?`, recipient); err != nil {
		return nil, s.wrap("delete queue", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.wrap("commit drain", err)
	}
	return envs, nil
}

func (s *SQLiteStore) PurgeExpired(now time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM envelopes WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, s.wrap("purge expired", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, s.wrap("purge expired", err)
	}
	return int(count), nil
}

func (s *SQLiteStore) Stats() (Stats, error) {
	rows, err := s.db.Query(`SELECT recipient, COUNT(*) FROM envelopes GROUP BY recipient`)
	if err != nil {
		return Stats{}, s.wrap("query stats", err)
	}
	defer rows.Close()

	stats := Stats{ByRecipient: make(map[string]int)}
	for rows.Next() {
		var recipient string
		var count int
		if err := rows.Scan(&recipient, &count); err != nil {
			return Stats{}, s.wrap("scan stats", err)
		}
		stats.ByRecipient[recipient] = count
		stats.Envelopes += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, s.wrap("scan stats", err)
	}

	stats.Recipients = len(stats.ByRecipient)
	return stats, nil
}

// Close closes the database, dropping every queue
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) wrap(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed" {
		return fmt.Errorf("%s: %w", op, ErrStoreClosed)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func scanEnvelopes(rows *sql.Rows) ([]*envelope.Envelope, error) {
	envs := []*envelope.Envelope{}
	for rows.Next() {
		var (
			e         envelope.Envelope
			createdAt int64
			ttl       int64
		)
		if err := rows.Scan(&e.ID, &e.Sender, &e.Recipient, &createdAt, &ttl, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan envelope: %w", err)
		}
		e.CreatedAt = uint64(createdAt)
		e.TTL = uint32(ttl)
		envs = append(envs, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read envelopes: %w", err)
	}
	return envs, nil
}

// expiresColumn clamps the expiry instant into SQLite's signed range.
// created_at is stored bit-for-bit, so it may read back negative in SQL.
func expiresColumn(e *envelope.Envelope) int64 {
	at := e.ExpiresAt()
	if at > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(at)
}
