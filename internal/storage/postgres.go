package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/vector"
)

// PostgresConfig configures a pgvector-backed store.
type PostgresConfig struct {
	DSN            string
	Schema         string
	Table          string
	MaxConns       int32
	ConnectTimeout time.Duration
	// Dimensions is the embedder's output size; the embedding column must agree.
	Dimensions int
}

func (c PostgresConfig) table() string {
	if c.Schema == "" {
		return pgx.Identifier{c.Table}.Sanitize()
	}
	return pgx.Identifier{c.Schema, c.Table}.Sanitize()
}

// PostgresStore ranks messages with pgvector distance operators so that the HNSW
// indexes created by MigratePostgres serve the nearest-neighbour scan.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	dims   int
	logger *zap.Logger
}

// NewPostgresStore opens a connection pool, verifies connectivity and checks that the
// embedding column's declared dimension matches cfg.Dimensions.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
			return err
		}
		// Filtered HNSW scans stop after ef_search candidates unless iterative scans
		// (pgvector 0.8+) are on; older servers reject the setting and keep exact filtering
		// only for sequential scans.
		if _, err := conn.Exec(ctx, "SET hnsw.iterative_scan = strict_order"); err != nil {
			logger.Debug("hnsw iterative scan not available", zap.Error(err))
		}
		return nil
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, errors.Wrap(err, "create pool"), "connect to postgres")
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.StoreUnavailable, errors.Wrap(err, "ping"), "connect to postgres")
	}

	s := &PostgresStore{pool: pool, table: cfg.table(), dims: cfg.Dimensions, logger: logger}
	if err := s.checkDimensions(connectCtx, cfg); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// checkDimensions compares the column's vector(N) type modifier with the embedder. An
// unconstrained column is accepted; rows of other sizes are then excluded per query.
func (s *PostgresStore) checkDimensions(ctx context.Context, cfg PostgresConfig) error {
	var declared int
	err := s.pool.QueryRow(ctx,
		`SELECT a.atttypmod FROM pg_attribute a
		 WHERE a.attrelid = $1::regclass AND a.attname = 'embedding' AND NOT a.attisdropped`,
		s.table,
	).Scan(&declared)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, errors.Wrapf(err, "inspect %s", s.table), "inspect embedding column")
	}
	if declared > 0 && cfg.Dimensions > 0 && declared != cfg.Dimensions {
		return apperr.New(apperr.DimensionMismatch,
			"%s.embedding is vector(%d) but the embedder produces %d dimensions", s.table, declared, cfg.Dimensions)
	}
	if declared <= 0 && cfg.Dimensions > 0 {
		var skewed int64
		err := s.pool.QueryRow(ctx,
			`SELECT count(*) FROM `+s.table+` WHERE embedding IS NOT NULL AND vector_dims(embedding) <> $1`,
			cfg.Dimensions,
		).Scan(&skewed)
		if err == nil && skewed > 0 {
			s.logger.Warn("stored embeddings with mismatched dimension will be excluded from search",
				zap.Int64("count", skewed), zap.Int("expected", cfg.Dimensions))
		}
	}
	return nil
}

// distanceSQL returns the ORDER BY expression and the selected raw score for metric.
// pgvector's <#> is the negated inner product, so the selected score flips it back.
func distanceSQL(metric vector.Metric) (order, score string) {
	switch metric {
	case vector.MetricL2:
		return "embedding <-> $1", "embedding <-> $1"
	case vector.MetricInnerProduct:
		return "embedding <#> $1", "(embedding <#> $1) * -1"
	default:
		return "embedding <=> $1", "embedding <=> $1"
	}
}

// buildRankQuery renders the ranking statement. Filters go in the WHERE clause so they
// restrict the candidate set before LIMIT. The ORDER BY is the bare distance operator so
// an HNSW index scan can serve it; the message_id tie-break is applied after the fetch.
func buildRankQuery(table string, q Query) (string, []any) {
	order, score := distanceSQL(q.Metric)
	args := []any{pgvector.NewVector(q.Vector), len(q.Vector)}
	where := []string{"embedding IS NOT NULL", "vector_dims(embedding) = $2"}
	argIdx := 3
	if q.Filter.Role != "" {
		where = append(where, fmt.Sprintf("role = $%d", argIdx))
		args = append(args, q.Filter.Role)
		argIdx++
	}
	if q.Filter.ConversationID != "" {
		where = append(where, fmt.Sprintf("conversation_id = $%d", argIdx))
		args = append(args, q.Filter.ConversationID)
		argIdx++
	}
	args = append(args, q.Limit+rankFetchAhead)
	sql := fmt.Sprintf(`SELECT message_id, COALESCE(conversation_id, ''), COALESCE(role, ''), COALESCE(text, ''),
		create_time, update_time, %s AS distance
		FROM %s
		WHERE %s
		ORDER BY %s
		LIMIT $%d`, score, table, strings.Join(where, " AND "), order, argIdx)
	return sql, args
}

// RankBySimilarity acquires one pooled connection for the query and releases it on return.
func (s *PostgresStore) RankBySimilarity(ctx context.Context, q Query) ([]Candidate, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, pgErr(ctx, err, "acquire connection")
	}
	defer conn.Release()

	sql, args := buildRankQuery(s.table, q)
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, pgErr(ctx, err, "rank by similarity")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var m models.Message
		var c Candidate
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Role, &m.Text, &m.CreateTime, &m.UpdateTime, &c.Distance); err != nil {
			return nil, pgErr(ctx, err, "scan candidate")
		}
		c.Message = &m
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr(ctx, err, "iterate candidates")
	}
	return rankCandidates(out, q.Metric, q.Limit), nil
}

// Stats runs the three aggregate queries concurrently on separate pooled connections.
func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	st := models.NewStats()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pool.QueryRow(gctx, `SELECT count(*) FROM `+s.table).Scan(&st.TotalMessages)
	})
	g.Go(func() error {
		return s.pool.QueryRow(gctx, `SELECT count(*) FROM `+s.table+` WHERE embedding IS NOT NULL`).Scan(&st.MessagesWithEmbeddings)
	})
	roles := make(map[string]int64)
	g.Go(func() error {
		rows, err := s.pool.Query(gctx, `SELECT COALESCE(role, ''), count(*) FROM `+s.table+` GROUP BY 1 ORDER BY 2 DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var role string
			var n int64
			if err := rows.Scan(&role, &n); err != nil {
				return err
			}
			roles[role] = n
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, pgErr(ctx, err, "collect stats")
	}
	st.RoleDistribution = roles
	return st, nil
}

// UpsertMessages writes msgs in a single transaction using a pipelined batch.
func (s *PostgresStore) UpsertMessages(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	sql := `INSERT INTO ` + s.table + ` (message_id, conversation_id, role, text, embedding, create_time, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			role = EXCLUDED.role,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			create_time = EXCLUDED.create_time,
			update_time = EXCLUDED.update_time`
	batch := &pgx.Batch{}
	for _, m := range msgs {
		var emb any
		if m.Embedding != nil {
			if s.dims > 0 && len(m.Embedding) != s.dims {
				return apperr.New(apperr.DimensionMismatch,
					"message %s has %d dimensions, store expects %d", m.MessageID, len(m.Embedding), s.dims)
			}
			emb = pgvector.NewVector(m.Embedding)
		}
		batch.Queue(sql, m.MessageID, m.ConversationID, m.Role, m.Text, emb, m.CreateTime, m.UpdateTime)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert messages")
	}
	return errors.Wrap(tx.Commit(ctx), "commit upsert")
}

// DeleteAll truncates the table.
func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE `+s.table)
	return errors.Wrap(err, "truncate")
}

// Ping checks a pooled connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return pgErr(ctx, s.pool.Ping(ctx), "ping")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgErr(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return apperr.Wrap(apperr.StoreUnavailable, errors.Wrap(err, op), "postgres %s", op)
}

// MigratePostgres creates the vector extension, the messages table and one HNSW index per
// metric. It uses a plain connection because the pool's type registration needs the
// extension to exist already.
func MigratePostgres(ctx context.Context, cfg PostgresConfig) error {
	if cfg.Dimensions <= 0 {
		return fmt.Errorf("migrate: dimensions must be positive")
	}
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, errors.Wrap(err, "connect"), "migrate postgres")
	}
	defer conn.Close(ctx)

	table := cfg.table()
	base := cfg.Table
	stmts := []string{`CREATE EXTENSION IF NOT EXISTS vector`}
	if cfg.Schema != "" {
		stmts = append(stmts, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{cfg.Schema}.Sanitize())
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT,
			role TEXT,
			text TEXT,
			embedding vector(%d),
			create_time DOUBLE PRECISION,
			update_time DOUBLE PRECISION
		)`, table, cfg.Dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{base + "_embedding_cosine_idx"}.Sanitize(), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_l2_ops)`,
			pgx.Identifier{base + "_embedding_l2_idx"}.Sanitize(), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_ip_ops)`,
			pgx.Identifier{base + "_embedding_ip_idx"}.Sanitize(), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (role)`,
			pgx.Identifier{base + "_role_idx"}.Sanitize(), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (conversation_id)`,
			pgx.Identifier{base + "_conversation_idx"}.Sanitize(), table),
	)
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %s", strings.SplitN(strings.TrimSpace(stmt), "\n", 2)[0])
		}
	}
	return nil
}
