package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vitafit/config"
	"vitafit/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    telegram_id BIGINT UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    phase TEXT NOT NULL DEFAULT 'ACTIVE',
    last_menstrual_date DATE,
    due_date DATE,
    baby_birth_date DATE,
    goals TEXT[] NOT NULL DEFAULT '{}',
    restrictions TEXT[] NOT NULL DEFAULT '{}',
    is_breastfeeding BOOLEAN NOT NULL DEFAULT FALSE,
    exercise_level TEXT NOT NULL DEFAULT '',
    premium BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS memories (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    importance INT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS generation_results (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    task TEXT NOT NULL,
    schema_version INT NOT NULL,
    payload JSONB NOT NULL,
    missing TEXT[] NOT NULL DEFAULT '{}',
    model TEXT NOT NULL DEFAULT '',
    prompt_tokens INT NOT NULL DEFAULT 0,
    completion_tokens INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_results_user_task_created ON generation_results (user_id, task, created_at DESC);

CREATE TABLE IF NOT EXISTS payments (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount BIGINT NOT NULL,
    currency TEXT NOT NULL,
    stripe_session_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, cfg config.DBConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	// Set connection pool parameters
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	// Connect with timeout
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const profileColumns = `id, telegram_id, name, phase, last_menstrual_date, due_date, baby_birth_date,
        goals, restrictions, is_breastfeeding, exercise_level, premium, updated_at`

func (db *PostgresDB) scanProfile(row pgx.Row) (*models.UserProfile, error) {
	var p models.UserProfile
	var phase string
	err := row.Scan(
		&p.UserID, &p.TelegramID, &p.Name, &phase,
		&p.LastMenstrualDate, &p.DueDate, &p.BabyBirthDate,
		&p.Goals, &p.Restrictions, &p.Breastfeeding, &p.ExerciseLevel,
		&p.Premium, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	p.Phase = models.Phase(phase)
	return &p, nil
}

func (db *PostgresDB) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE id = $1`
	return db.scanProfile(db.pool.QueryRow(ctx, query, userID))
}

func (db *PostgresDB) GetProfileByTelegramID(ctx context.Context, telegramID int64) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE telegram_id = $1`
	return db.scanProfile(db.pool.QueryRow(ctx, query, telegramID))
}

func (db *PostgresDB) UpsertProfile(ctx context.Context, p *models.UserProfile) error {
	query := `
        INSERT INTO users (id, telegram_id, name, phase, last_menstrual_date, due_date, baby_birth_date,
                           goals, restrictions, is_breastfeeding, exercise_level)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE
        SET telegram_id = $2, name = $3, phase = $4, last_menstrual_date = $5, due_date = $6,
            baby_birth_date = $7, goals = $8, restrictions = $9, is_breastfeeding = $10,
            exercise_level = $11, updated_at = NOW()
        RETURNING premium, updated_at
    `

	err := db.pool.QueryRow(ctx, query,
		p.UserID, p.TelegramID, p.Name, string(p.Phase),
		p.LastMenstrualDate, p.DueDate, p.BabyBirthDate,
		nonNil(p.Goals), nonNil(p.Restrictions), p.Breastfeeding, p.ExerciseLevel,
	).Scan(&p.Premium, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (db *PostgresDB) SetPremium(ctx context.Context, userID string, premium bool) error {
	tag, err := db.pool.Exec(ctx, `UPDATE users SET premium = $2, updated_at = NOW() WHERE id = $1`, userID, premium)
	if err != nil {
		return fmt.Errorf("failed to set premium: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) RecentMemories(ctx context.Context, userID string, limit int) ([]models.Memory, error) {
	query := `
        SELECT id, user_id, content, importance, created_at
        FROM memories
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `

	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []models.Memory
	for rows.Next() {
		var m models.Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Importance, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (db *PostgresDB) AddMemory(ctx context.Context, m *models.Memory) error {
	query := `
        INSERT INTO memories (user_id, content, importance)
        VALUES ($1, $2, $3)
        RETURNING id, created_at
    `

	err := db.pool.QueryRow(ctx, query, m.UserID, m.Content, m.Importance).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add memory: %w", err)
	}
	return nil
}

func (db *PostgresDB) SaveResult(ctx context.Context, rec *models.GenerationRecord) error {
	query := `
        INSERT INTO generation_results (id, user_id, task, schema_version, payload, missing,
                                        model, prompt_tokens, completion_tokens, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Task, rec.SchemaVersion, []byte(rec.Payload), nonNil(rec.Missing),
		rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (db *PostgresDB) ListResults(ctx context.Context, userID, task string, limit int) ([]models.GenerationRecord, error) {
	query := `
        SELECT id, user_id, task, schema_version, payload, missing, model,
               prompt_tokens, completion_tokens, created_at
        FROM generation_results
        WHERE user_id = $1 AND ($2 = '' OR task = $2)
        ORDER BY created_at DESC
        LIMIT $3
    `

	rows, err := db.pool.Query(ctx, query, userID, task, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var records []models.GenerationRecord
	for rows.Next() {
		var rec models.GenerationRecord
		var payload []byte
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Task, &rec.SchemaVersion, &payload, &rec.Missing,
			&rec.Model, &rec.PromptTokens, &rec.CompletionTokens, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *PostgresDB) SavePayment(ctx context.Context, payment *models.Payment) error {
	query := `
        INSERT INTO payments (user_id, amount, currency, stripe_session_id, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at
    `

	err := db.pool.QueryRow(ctx, query,
		payment.UserID, payment.Amount, payment.Currency,
		payment.StripeSessionID, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetPaymentByStripeID(ctx context.Context, sessionID string) (*models.Payment, error) {
	query := `
        SELECT id, user_id, amount, currency, stripe_session_id, status, created_at, updated_at
        FROM payments
        WHERE stripe_session_id = $1
    `

	var payment models.Payment
	err := db.pool.QueryRow(ctx, query, sessionID).Scan(
		&payment.ID, &payment.UserID, &payment.Amount, &payment.Currency,
		&payment.StripeSessionID, &payment.Status,
		&payment.CreatedAt, &payment.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by Stripe ID: %w", err)
	}

	return &payment, nil
}

func (db *PostgresDB) UpdatePaymentStatus(ctx context.Context, sessionID, status string) error {
	query := `
        UPDATE payments
        SET status = $2, updated_at = NOW()
        WHERE stripe_session_id = $1
    `

	tag, err := db.pool.Exec(ctx, query, sessionID, status)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
