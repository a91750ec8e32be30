package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/vector"
)

// SQLiteStore keeps messages in a local SQLite file. Filters run in SQL; ranking is a
// scan over the filtered rows, so it suits single-user corpora rather than large ones.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, logger: logger}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		create_time REAL,
		update_time REAL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_role ON messages(role);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	`
	_, err := db.Exec(schema)
	return err
}

// RankBySimilarity filters in SQL on a dedicated connection, then scores rows in process.
func (s *SQLiteStore) RankBySimilarity(ctx context.Context, q Query) ([]Candidate, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, storeErr(ctx, err, "acquire sqlite connection")
	}
	defer conn.Close()

	where := []string{"embedding IS NOT NULL"}
	var args []any
	if q.Filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, q.Filter.Role)
	}
	if q.Filter.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, q.Filter.ConversationID)
	}
	query := `SELECT message_id, conversation_id, role, text, embedding, create_time, update_time
		FROM messages WHERE ` + strings.Join(where, " AND ")

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(ctx, err, "query messages")
	}
	defer rows.Close()

	r := newRanker(q, s.logger)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storeErr(ctx, err, "scan message")
		}
		r.offer(msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, err, "iterate messages")
	}
	return r.result(), nil
}

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	var m models.Message
	var blob []byte
	var created, updated sql.NullFloat64
	if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Role, &m.Text, &blob, &created, &updated); err != nil {
		return nil, err
	}
	if blob != nil {
		emb, err := vector.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.MessageID, err)
		}
		m.Embedding = emb
	}
	if created.Valid {
		m.CreateTime = &created.Float64
	}
	if updated.Valid {
		m.UpdateTime = &updated.Float64
	}
	return &m, nil
}

// Stats counts messages, embedded messages and roles.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	st := models.NewStats()
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(embedding) FROM messages`,
	).Scan(&st.TotalMessages, &st.MessagesWithEmbeddings)
	if err != nil {
		return nil, storeErr(ctx, err, "count messages")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM messages GROUP BY role`)
	if err != nil {
		return nil, storeErr(ctx, err, "count roles")
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var n int64
		if err := rows.Scan(&role, &n); err != nil {
			return nil, storeErr(ctx, err, "scan role count")
		}
		st.RoleDistribution[role] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, err, "iterate role counts")
	}
	return st, nil
}

// UpsertMessages inserts or replaces messages in one transaction.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, role, text, embedding, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			role = excluded.role,
			text = excluded.text,
			embedding = excluded.embedding,
			create_time = excluded.create_time,
			update_time = excluded.update_time`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		var blob any
		if m.Embedding != nil {
			blob = vector.Encode(m.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, m.MessageID, m.ConversationID, m.Role, m.Text, blob, m.CreateTime, m.UpdateTime); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.MessageID, err)
		}
	}
	return tx.Commit()
}

// DeleteAll removes every message.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	return err
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DiskUsageBytes returns the size of the database file and its WAL side files.
// Missing files contribute 0.
func (s *SQLiteStore) DiskUsageBytes() (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// storeErr classifies a failed round-trip. Context cancellation passes through unchanged
// so callers do not retry abandoned requests.
func storeErr(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return apperr.Wrap(apperr.StoreUnavailable, err, "%s", op)
}
