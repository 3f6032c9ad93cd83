package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"
	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	driver      string
	placeholder func(n int) string
}

var (
	sqliteDialect = dialect{
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

func (d dialect) placeholders(start, count int) string {
	list := make([]string, count)
	for i := range list {
		list[i] = d.placeholder(start + i)
	}
	return strings.Join(list, ", ")
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS conversation (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	preview    TEXT NOT NULL,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	deleted_ts BIGINT
);
CREATE INDEX IF NOT EXISTS idx_conversation_owner ON conversation (owner_id, created_ts);
CREATE TABLE IF NOT EXISTS message (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	sender          TEXT NOT NULL,
	text            TEXT NOT NULL,
	created_ts      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_conversation ON message (conversation_id, seq);
`

// SQLStore persists conversations in two tables: conversation and message.
// Timestamps are stored as unix nanoseconds.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     Clock
}

// NewSQLiteStore opens a SQLite database file.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}
	// SQLite: single connection is optimal with WAL
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return newSQLStore(db, sqliteDialect, opts)
}

// sqlitePragmas are appended to every SQLite DSN.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for the pragma syntax.
const sqlitePragmas = "_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"

// sqliteDSN appends the pragmas, keeping any query the caller already set.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return strings.TrimRight(dsn, "&") + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// NewPostgresStore connects to PostgreSQL.
func NewPostgresStore(dsn string, opts ...Option) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	return newSQLStore(db, postgresDialect, opts)
}

func newSQLStore(db *sql.DB, d dialect, opts []Option) (*SQLStore, error) {
	for _, stmt := range strings.Split(sqlSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "failed to migrate schema")
		}
	}
	s := applyOptions(opts)
	return &SQLStore{db: db, dialect: d, now: s.now}, nil
}

// Create inserts the conversation row and its messages in one transaction.
func (s *SQLStore) Create(ctx context.Context, ownerID string, initial []Message) (*Conversation, error) {
	conv, err := newConversation(ownerID, initial, s.now())
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt := `INSERT INTO conversation (id, owner_id, title, preview, created_ts, updated_ts)
			VALUES (` + s.dialect.placeholders(1, 6) + `)`
		if _, err := tx.ExecContext(ctx, stmt,
			conv.ID, conv.OwnerID, conv.Title, conv.Preview, conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
		); err != nil {
			return errors.Wrap(err, "failed to create conversation")
		}
		return s.insertMessages(ctx, tx, conv.ID, 0, conv.Messages)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Append inserts messages and refreshes the preview in one transaction.
func (s *SQLStore) Append(ctx context.Context, id string, messages []Message, owns OwnerPredicate) (*Conversation, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	var out *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		conv, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if owns != nil && !owns(conv) {
			return notFound(id)
		}

		seq := len(conv.Messages)
		appendMessages(conv, messages, s.now())
		if err := s.insertMessages(ctx, tx, id, seq, messages); err != nil {
			return err
		}
		stmt := `UPDATE conversation SET preview = ` + s.dialect.placeholder(1) +
			`, updated_ts = ` + s.dialect.placeholder(2) + ` WHERE id = ` + s.dialect.placeholder(3)
		if _, err := tx.ExecContext(ctx, stmt, conv.Preview, conv.UpdatedAt.UnixNano(), id); err != nil {
			return errors.Wrap(err, "failed to update conversation")
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get loads a conversation and its messages.
func (s *SQLStore) Get(ctx context.Context, id string) (*Conversation, error) {
	return s.get(ctx, s.db, id)
}

// ListByOwner lists an owner's conversations with their messages.
func (s *SQLStore) ListByOwner(ctx context.Context, ownerID string, includeDeleted bool) ([]*Conversation, error) {
	where := []string{"owner_id = " + s.dialect.placeholder(1)}
	if !includeDeleted {
		where = append(where, "deleted_ts IS NULL")
	}
	query := `SELECT id FROM conversation WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan conversation id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "failed to iterate conversations")
	}
	rows.Close()

	list := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.get(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		list = append(list, conv)
	}
	return list, nil
}

// SoftDelete sets deleted_ts unless already set.
func (s *SQLStore) SoftDelete(ctx context.Context, id string) error {
	now := s.now().UnixNano()
	stmt := `UPDATE conversation SET deleted_ts = ` + s.dialect.placeholder(1) +
		`, updated_ts = ` + s.dialect.placeholder(2) +
		` WHERE id = ` + s.dialect.placeholder(3) + ` AND deleted_ts IS NULL`
	result, err := s.db.ExecContext(ctx, stmt, now, now, id)
	if err != nil {
		return errors.Wrap(err, "failed to soft delete conversation")
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}
	// Nothing updated: either already deleted (no-op) or absent.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// Restore clears deleted_ts.
func (s *SQLStore) Restore(ctx context.Context, id string) (*Conversation, error) {
	var out *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		conv, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := clearDeleted(conv, s.now()); err != nil {
			return err
		}
		stmt := `UPDATE conversation SET deleted_ts = NULL, updated_ts = ` + s.dialect.placeholder(1) +
			` WHERE id = ` + s.dialect.placeholder(2)
		if _, err := tx.ExecContext(ctx, stmt, conv.UpdatedAt.UnixNano(), id); err != nil {
			return errors.Wrap(err, "failed to restore conversation")
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeExpired deletes expired conversations and their messages.
func (s *SQLStore) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention).UnixNano()
	purged := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		expiredIDs := `SELECT id FROM conversation WHERE deleted_ts IS NOT NULL AND deleted_ts < ` + s.dialect.placeholder(1)
		if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE conversation_id IN (`+expiredIDs+`)`, cutoff); err != nil {
			return errors.Wrap(err, "failed to purge messages")
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM conversation WHERE deleted_ts IS NOT NULL AND deleted_ts < `+s.dialect.placeholder(1), cutoff)
		if err != nil {
			return errors.Wrap(err, "failed to purge conversations")
		}
		rows, _ := result.RowsAffected()
		purged = int(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) get(ctx context.Context, q querier, id string) (*Conversation, error) {
	conv := &Conversation{}
	var createdTs, updatedTs int64
	var deletedTs sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT id, owner_id, title, preview, created_ts, updated_ts, deleted_ts FROM conversation WHERE id = `+s.dialect.placeholder(1), id,
	).Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Preview, &createdTs, &updatedTs, &deletedTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, errors.Wrap(err, "failed to get conversation")
	}
	conv.CreatedAt = time.Unix(0, createdTs)
	conv.UpdatedAt = time.Unix(0, updatedTs)
	if deletedTs.Valid {
		deletedAt := time.Unix(0, deletedTs.Int64)
		conv.DeletedAt = &deletedAt
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, sender, text, created_ts FROM message WHERE conversation_id = `+s.dialect.placeholder(1)+` ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	conv.Messages = make([]Message, 0)
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		m.Timestamp = time.Unix(0, ts)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}
	return conv, nil
}

func (s *SQLStore) insertMessages(ctx context.Context, tx *sql.Tx, conversationID string, seq int, msgs []Message) error {
	stmt := `INSERT INTO message (id, conversation_id, seq, sender, text, created_ts) VALUES (` + s.dialect.placeholders(1, 6) + `)`
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx, stmt, m.ID, conversationID, seq+i, string(m.Sender), m.Text, m.Timestamp.UnixNano()); err != nil {
			return errors.Wrap(err, "failed to insert message")
		}
	}
	return nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
