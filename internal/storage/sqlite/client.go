package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

// connectionParams are applied by the driver to every pooled connection.
const connectionParams = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

func dataSourceName(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + connectionParams
	}
	return dbPath + "?" + connectionParams
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already opened handle.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		case_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		status TEXT NOT NULL,
		intent TEXT,
		confidence REAL,
		vector_results_count INTEGER,
		graph_results_count INTEGER,
		review_id TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT,
		section_id TEXT,
		score REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS review_items (
		id TEXT PRIMARY KEY,
		question_hash TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		user_id TEXT,
		case_id TEXT,
		confidence REAL NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		reviewer TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_review_status ON review_items(status, priority);
	CREATE INDEX IF NOT EXISTS idx_review_user ON review_items(user_id);
	CREATE INDEX IF NOT EXISTS idx_review_question ON review_items(question_hash);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		review_id TEXT NOT NULL,
		reviewer TEXT NOT NULL,
		decision TEXT NOT NULL,
		corrected_answer TEXT,
		corrected_intent TEXT,
		comments TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (review_id) REFERENCES review_items(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_review ON feedback(review_id);

	CREATE TABLE IF NOT EXISTS answer_overrides (
		question_hash TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		review_id TEXT,
		created_by TEXT,
		created_at INTEGER NOT NULL
	);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_history (id, user_id, case_id, query_text, response, status, intent, confidence,
			vector_results_count, graph_results_count, review_id, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.UserID,
		record.CaseID,
		record.QueryText,
		record.Response,
		record.Status,
		record.Intent,
		record.Confidence,
		record.VectorResultsCount,
		record.GraphResultsCount,
		record.ReviewID,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, source := range sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO query_sources (query_id, source_type, source_id, section_id, score) VALUES (?, ?, ?, ?, ?)`,
			record.ID,
			source.SourceType,
			source.SourceID,
			source.SectionID,
			source.Score,
		)
		if err != nil {
			return fmt.Errorf("failed to insert query source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.Int("sources", len(sources)),
	)
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, case_id, query_text, response, status, intent, confidence, review_id, latency_ms, created_at
		FROM query_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64

		if err := rows.Scan(&r.ID, &r.CaseID, &r.QueryText, &r.Response, &r.Status, &r.Intent,
			&r.Confidence, &r.ReviewID, &r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.UserID = userID
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query history: %w", err)
	}

	return records, nil
}

// CreateReviewItem is idempotent on the item ID so retried writes do not
// duplicate rows.
func (c *Client) CreateReviewItem(ctx context.Context, item *models.ReviewItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal review metadata: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO review_items (id, question_hash, question, answer, user_id, case_id, confidence,
			priority, status, reason, reviewer, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		item.ID,
		item.QuestionHash,
		item.Question,
		item.Answer,
		item.UserID,
		item.CaseID,
		item.Confidence,
		string(item.Priority),
		string(item.Status),
		item.Reason,
		item.Reviewer,
		string(metadata),
		item.CreatedAt.Unix(),
		item.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review item: %w", err)
	}

	logger.Debug("Review item stored", zap.String("review_id", item.ID))
	return nil
}

const reviewColumns = `id, question_hash, question, answer, user_id, case_id, confidence, priority, status,
	reason, reviewer, metadata, created_at, updated_at`

func (c *Client) GetReviewItem(ctx context.Context, id string) (*models.ReviewItem, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM review_items WHERE id = ?`, id)

	item, err := scanReviewItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review %s: %w", id, domain.ErrReviewNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review item: %w", err)
	}
	return item, nil
}

func (c *Client) ListReviewItems(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + reviewColumns + ` FROM review_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	defer rows.Close()

	var items []models.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review items: %w", err)
	}

	return items, nil
}

// UpdateReviewItem applies the patch only if the stored status still equals
// patch.From. It reports ErrInvalidTransition when another writer got there
// first and ErrReviewNotFound when the item does not exist.
func (c *Client) UpdateReviewItem(ctx context.Context, id string, patch models.ReviewPatch) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE review_items
		SET status = ?, reviewer = COALESCE(NULLIF(?, ''), reviewer), updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(patch.To),
		patch.Reviewer,
		patch.UpdatedAt.Unix(),
		id,
		string(patch.From),
	)
	if err != nil {
		return fmt.Errorf("failed to update review item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists int
		err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM review_items WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check review item: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("review %s: %w", id, domain.ErrReviewNotFound)
		}
		return fmt.Errorf("review %s is no longer %s: %w", id, patch.From, domain.ErrInvalidTransition)
	}

	return nil
}

func (c *Client) InsertFeedback(ctx context.Context, feedback *models.Feedback) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO feedback (id, review_id, reviewer, decision, corrected_answer, corrected_intent, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		feedback.ID,
		feedback.ReviewID,
		feedback.Reviewer,
		string(feedback.Decision),
		feedback.CorrectedAnswer,
		feedback.CorrectedIntent,
		feedback.Comments,
		feedback.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("review_id", feedback.ReviewID),
		zap.String("decision", string(feedback.Decision)),
	)
	return nil
}

func (c *Client) PutOverride(ctx context.Context, override *models.AnswerOverride) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO answer_overrides (question_hash, question, answer, review_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(question_hash) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			review_id = excluded.review_id,
			created_by = excluded.created_by,
			created_at = excluded.created_at
	`,
		override.QuestionHash,
		override.Question,
		override.Answer,
		override.ReviewID,
		override.CreatedBy,
		override.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store override: %w", err)
	}
	return nil
}

func (c *Client) GetOverride(ctx context.Context, questionHash string) (*models.AnswerOverride, bool, error) {
	var o models.AnswerOverride
	var createdAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT question_hash, question, answer, review_id, created_by, created_at
		FROM answer_overrides WHERE question_hash = ?
	`, questionHash).Scan(&o.QuestionHash, &o.Question, &o.Answer, &o.ReviewID, &o.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get override: %w", err)
	}

	o.CreatedAt = time.Unix(createdAt, 0)
	return &o, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReviewItem(row rowScanner) (*models.ReviewItem, error) {
	var (
		item                 models.ReviewItem
		priority, status     string
		metadata             sql.NullString
		answer, reason       sql.NullString
		userID, caseID       sql.NullString
		reviewer             sql.NullString
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&item.ID,
		&item.QuestionHash,
		&item.Question,
		&answer,
		&userID,
		&caseID,
		&item.Confidence,
		&priority,
		&status,
		&reason,
		&reviewer,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Answer = answer.String
	item.UserID = userID.String
	item.CaseID = caseID.String
	item.Reason = reason.String
	item.Reviewer = reviewer.String
	item.Priority = models.ReviewPriority(priority)
	item.Status = models.ReviewStatus(status)
	item.CreatedAt = time.Unix(createdAt, 0)
	item.UpdatedAt = time.Unix(updatedAt, 0)

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &item.Metadata); err != nil {
			logger.Warn("Review metadata unreadable", zap.String("review_id", item.ID), zap.Error(err))
		}
	}

	return &item, nil
}
