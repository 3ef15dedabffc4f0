package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vitafit/internal/models"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    telegram_id INTEGER UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    phase TEXT NOT NULL DEFAULT 'ACTIVE',
    last_menstrual_date TEXT,
    due_date TEXT,
    baby_birth_date TEXT,
    goals TEXT NOT NULL DEFAULT '[]',
    restrictions TEXT NOT NULL DEFAULT '[]',
    is_breastfeeding INTEGER NOT NULL DEFAULT 0,
    exercise_level TEXT NOT NULL DEFAULT '',
    premium INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    content TEXT NOT NULL,
    importance INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at);

CREATE TABLE IF NOT EXISTS generation_results (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    task TEXT NOT NULL,
    schema_version INTEGER NOT NULL,
    payload TEXT NOT NULL,
    missing TEXT NOT NULL DEFAULT '[]',
    model TEXT NOT NULL DEFAULT '',
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_user_task_created ON generation_results(user_id, task, created_at);

CREATE TABLE IF NOT EXISTS payments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    amount INTEGER NOT NULL,
    currency TEXT NOT NULL,
    stripe_session_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// SQLiteDB is a single-file store for local development and tests.
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteDB{db: db, now: time.Now}, nil
}

func (s *SQLiteDB) Close() {
	s.db.Close()
}

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteDB) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}

func parseDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeList(items []string) (string, error) {
	data, err := json.Marshal(nonNil(items))
	return string(data), err
}

func decodeList(v string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(v), &items); err != nil {
		return nil, err
	}
	return items, nil
}

const sqliteProfileColumns = `id, telegram_id, name, phase, last_menstrual_date, due_date, baby_birth_date,
        goals, restrictions, is_breastfeeding, exercise_level, premium, updated_at`

func scanSQLiteProfile(row *sql.Row) (*models.UserProfile, error) {
	var (
		p                models.UserProfile
		telegramID       sql.NullInt64
		phase            string
		lmp, due, birth  sql.NullString
		goals, restricts string
		updatedAt        string
	)
	err := row.Scan(
		&p.UserID, &telegramID, &p.Name, &phase, &lmp, &due, &birth,
		&goals, &restricts, &p.Breastfeeding, &p.ExerciseLevel, &p.Premium, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	p.Phase = models.Phase(phase)
	if telegramID.Valid {
		id := telegramID.Int64
		p.TelegramID = &id
	}
	if p.LastMenstrualDate, err = parseDate(lmp); err != nil {
		return nil, fmt.Errorf("failed to parse last_menstrual_date: %w", err)
	}
	if p.DueDate, err = parseDate(due); err != nil {
		return nil, fmt.Errorf("failed to parse due_date: %w", err)
	}
	if p.BabyBirthDate, err = parseDate(birth); err != nil {
		return nil, fmt.Errorf("failed to parse baby_birth_date: %w", err)
	}
	if p.Goals, err = decodeList(goals); err != nil {
		return nil, fmt.Errorf("failed to parse goals: %w", err)
	}
	if p.Restrictions, err = decodeList(restricts); err != nil {
		return nil, fmt.Errorf("failed to parse restrictions: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &p, nil
}

func (s *SQLiteDB) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `SELECT ` + sqliteProfileColumns + ` FROM users WHERE id = ?`
	return scanSQLiteProfile(s.db.QueryRowContext(ctx, query, userID))
}

func (s *SQLiteDB) GetProfileByTelegramID(ctx context.Context, telegramID int64) (*models.UserProfile, error) {
	query := `SELECT ` + sqliteProfileColumns + ` FROM users WHERE telegram_id = ?`
	return scanSQLiteProfile(s.db.QueryRowContext(ctx, query, telegramID))
}

func (s *SQLiteDB) UpsertProfile(ctx context.Context, p *models.UserProfile) error {
	goals, err := encodeList(p.Goals)
	if err != nil {
		return fmt.Errorf("failed to encode goals: %w", err)
	}
	restrictions, err := encodeList(p.Restrictions)
	if err != nil {
		return fmt.Errorf("failed to encode restrictions: %w", err)
	}
	var telegramID any
	if p.TelegramID != nil {
		telegramID = *p.TelegramID
	}
	now := s.timestamp()

	query := `
        INSERT INTO users (id, telegram_id, name, phase, last_menstrual_date, due_date, baby_birth_date,
                           goals, restrictions, is_breastfeeding, exercise_level, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE
        SET telegram_id = excluded.telegram_id, name = excluded.name, phase = excluded.phase,
            last_menstrual_date = excluded.last_menstrual_date, due_date = excluded.due_date,
            baby_birth_date = excluded.baby_birth_date, goals = excluded.goals,
            restrictions = excluded.restrictions, is_breastfeeding = excluded.is_breastfeeding,
            exercise_level = excluded.exercise_level, updated_at = excluded.updated_at
    `
	_, err = s.db.ExecContext(ctx, query,
		p.UserID, telegramID, p.Name, string(p.Phase),
		formatDate(p.LastMenstrualDate), formatDate(p.DueDate), formatDate(p.BabyBirthDate),
		goals, restrictions, p.Breastfeeding, p.ExerciseLevel, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	var updatedAt string
	err = s.db.QueryRowContext(ctx, `SELECT premium, updated_at FROM users WHERE id = ?`, p.UserID).Scan(&p.Premium, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to read back profile: %w", err)
	}
	p.UpdatedAt, err = parseTime(updatedAt)
	return err
}

func (s *SQLiteDB) SetPremium(ctx context.Context, userID string, premium bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET premium = ?, updated_at = ? WHERE id = ?`, premium, s.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("failed to set premium: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteDB) RecentMemories(ctx context.Context, userID string, limit int) ([]models.Memory, error) {
	query := `
        SELECT id, user_id, content, importance, created_at
        FROM memories
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []models.Memory
	for rows.Next() {
		var m models.Memory
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Importance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (s *SQLiteDB) AddMemory(ctx context.Context, m *models.Memory) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (user_id, content, importance, created_at) VALUES (?, ?, ?, ?)`,
		m.UserID, m.Content, m.Importance, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to add memory: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read memory id: %w", err)
	}
	m.CreatedAt = now
	return nil
}

func (s *SQLiteDB) SaveResult(ctx context.Context, rec *models.GenerationRecord) error {
	missing, err := encodeList(rec.Missing)
	if err != nil {
		return fmt.Errorf("failed to encode missing fields: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	query := `
        INSERT INTO generation_results (id, user_id, task, schema_version, payload, missing,
                                        model, prompt_tokens, completion_tokens, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Task, rec.SchemaVersion, string(rec.Payload), missing,
		rec.Model, rec.PromptTokens, rec.CompletionTokens, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListResults(ctx context.Context, userID, task string, limit int) ([]models.GenerationRecord, error) {
	query := `
        SELECT id, user_id, task, schema_version, payload, missing, model,
               prompt_tokens, completion_tokens, created_at
        FROM generation_results
        WHERE user_id = ? AND (? = '' OR task = ?)
        ORDER BY created_at DESC
        LIMIT ?
    `

	rows, err := s.db.QueryContext(ctx, query, userID, task, task, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var records []models.GenerationRecord
	for rows.Next() {
		var rec models.GenerationRecord
		var payload, missing, createdAt string
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Task, &rec.SchemaVersion, &payload, &missing,
			&rec.Model, &rec.PromptTokens, &rec.CompletionTokens, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		if rec.Missing, err = decodeList(missing); err != nil {
			return nil, fmt.Errorf("failed to parse missing fields: %w", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteDB) SavePayment(ctx context.Context, payment *models.Payment) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO payments (user_id, amount, currency, stripe_session_id, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `,
		payment.UserID, payment.Amount, payment.Currency,
		payment.StripeSessionID, payment.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	if payment.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read payment id: %w", err)
	}
	payment.CreatedAt, payment.UpdatedAt = now, now
	return nil
}

func (s *SQLiteDB) GetPaymentByStripeID(ctx context.Context, sessionID string) (*models.Payment, error) {
	query := `
        SELECT id, user_id, amount, currency, stripe_session_id, status, created_at, updated_at
        FROM payments
        WHERE stripe_session_id = ?
    `

	var payment models.Payment
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&payment.ID, &payment.UserID, &payment.Amount, &payment.Currency,
		&payment.StripeSessionID, &payment.Status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by Stripe ID: %w", err)
	}
	if payment.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if payment.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *SQLiteDB) UpdatePaymentStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE stripe_session_id = ?`,
		status, s.timestamp(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
