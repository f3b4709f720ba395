package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	domain "github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/internal/storage/models"
	"github.com/resumemate/backend/pkg/logger"
)

var ErrUnknownTurn = errors.New("unknown turn")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		question_hash TEXT NOT NULL,
		question_text TEXT NOT NULL,
		language TEXT,
		answer TEXT,
		status TEXT NOT NULL,
		category TEXT,
		action TEXT,
		confidence REAL,
		revisions INTEGER DEFAULT 0,
		cached INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_status ON turns(status);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);

	CREATE TABLE IF NOT EXISTS turn_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		FOREIGN KEY (turn_id) REFERENCES turns(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_turn ON turn_sources(turn_id);

	CREATE TABLE IF NOT EXISTS contact_submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		original_question TEXT,
		name TEXT,
		email TEXT,
		phone TEXT,
		line_id TEXT,
		telegram TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_created ON contact_submissions(created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (turn_id) REFERENCES turns(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_turn ON feedback(turn_id);

	CREATE TABLE IF NOT EXISTS resume_chunks (
		id TEXT PRIMARY KEY,
		section TEXT,
		source TEXT,
		language TEXT,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertTurn writes a turn and its ranked sources in one transaction.
func (c *Client) InsertTurn(ctx context.Context, record *models.TurnRecord, sources []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin turn insert: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO turns (id, session_id, question_hash, question_text, language, answer, status,
			category, action, confidence, revisions, cached, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.QuestionHash,
		record.QuestionText,
		record.Language,
		record.Answer,
		record.Status,
		record.Category,
		record.Action,
		record.Confidence,
		record.Revisions,
		boolInt(record.Cached),
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	for i, docID := range sources {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turn_sources (turn_id, doc_id, position) VALUES (?, ?, ?)`,
			record.ID, docID, i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert turn source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	logger.Debug("Turn recorded",
		zap.String("turn_id", record.ID),
		zap.String("question_hash", record.QuestionHash),
		zap.String("status", record.Status),
	)
	return nil
}

func (c *Client) GetTurn(ctx context.Context, id string) (*models.TurnRecord, []models.TurnSource, error) {
	query := `
		SELECT id, session_id, question_hash, question_text, language, answer, status, category,
			action, confidence, revisions, cached, latency_ms, created_at
		FROM turns WHERE id = ?
	`
	var r models.TurnRecord
	var cached int
	var createdAt int64
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.SessionID, &r.QuestionHash, &r.QuestionText, &r.Language, &r.Answer, &r.Status,
		&r.Category, &r.Action, &r.Confidence, &r.Revisions, &cached, &r.LatencyMS, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrUnknownTurn
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get turn: %w", err)
	}
	r.Cached = cached == 1
	r.CreatedAt = time.Unix(createdAt, 0)

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, turn_id, doc_id, position FROM turn_sources WHERE turn_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get turn sources: %w", err)
	}
	defer rows.Close()

	var sources []models.TurnSource
	for rows.Next() {
		var s models.TurnSource
		if err := rows.Scan(&s.ID, &s.TurnID, &s.DocID, &s.Rank); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sources = append(sources, s)
	}
	return &r, sources, rows.Err()
}

func (c *Client) GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]models.TurnRecord, error) {
	query := `
		SELECT id, question_text, answer, status, confidence, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get session turns: %w", err)
	}
	defer rows.Close()

	var records []models.TurnRecord
	for rows.Next() {
		var r models.TurnRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QuestionText, &r.Answer, &r.Status, &r.Confidence, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.SessionID = sessionID
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

// SaveContact appends a submission and sets its id. The table is never
// updated in place.
func (c *Client) SaveContact(ctx context.Context, sub *domain.ContactSubmission) error {
	query := `
		INSERT INTO contact_submissions (session_id, original_question, name, email, phone, line_id, telegram, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	res, err := c.db.ExecContext(ctx, query,
		sub.SessionID,
		sub.OriginalQuestion,
		sub.Contact.Name,
		sub.Contact.Email,
		sub.Contact.Phone,
		sub.Contact.LineID,
		sub.Contact.Telegram,
		sub.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read contact id: %w", err)
	}
	sub.ID = id
	return nil
}

func (c *Client) ListContacts(ctx context.Context, limit int) ([]domain.ContactSubmission, error) {
	query := `
		SELECT id, session_id, original_question, name, email, phone, line_id, telegram, created_at
		FROM contact_submissions
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var subs []domain.ContactSubmission
	for rows.Next() {
		var s domain.ContactSubmission
		var createdAt int64
		err := rows.Scan(&s.ID, &s.SessionID, &s.OriginalQuestion, &s.Contact.Name, &s.Contact.Email,
			&s.Contact.Phone, &s.Contact.LineID, &s.Contact.Telegram, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (c *Client) StoreFeedback(ctx context.Context, feedback *models.Feedback) error {
	var exists int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM turns WHERE id = ?`, feedback.TurnID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownTurn
	}
	if err != nil {
		return fmt.Errorf("failed to look up turn: %w", err)
	}

	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now()
	}
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO feedback (turn_id, helpful, comment, created_at) VALUES (?, ?, ?, ?)`,
		feedback.TurnID,
		boolInt(feedback.Helpful),
		feedback.Comment,
		feedback.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	feedback.ID, _ = res.LastInsertId()

	logger.Info("Feedback stored",
		zap.String("turn_id", feedback.TurnID),
		zap.Bool("helpful", feedback.Helpful),
	)

	return nil
}

func (c *Client) UpsertChunk(ctx context.Context, chunk *models.ResumeChunk) error {
	query := `
		INSERT INTO resume_chunks (id, section, source, language, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			section = excluded.section,
			source = excluded.source,
			language = excluded.language,
			text = excluded.text
	`
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, query,
		chunk.ID,
		chunk.Section,
		chunk.Source,
		chunk.Language,
		chunk.Text,
		chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

func (c *Client) Stats(ctx context.Context) (models.Stats, error) {
	var s models.Stats
	query := `
		SELECT
			(SELECT COUNT(*) FROM turns),
			(SELECT COUNT(*) FROM turns WHERE status = ?),
			(SELECT COUNT(*) FROM contact_submissions),
			(SELECT COUNT(*) FROM resume_chunks)
	`
	err := c.db.QueryRowContext(ctx, query, string(domain.StatusEscalate)).
		Scan(&s.Turns, &s.Escalations, &s.Contacts, &s.Chunks)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
