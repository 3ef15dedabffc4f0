package db

import (
	"context"
	"fmt"

	"vitafit/config"
	"vitafit/internal/models"
)

// Store is the persistence collaborator of the service: profiles, memories,
// validated generation results and payments.
type Store interface {
	Migrate(ctx context.Context) error
	Close()

	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetProfileByTelegramID(ctx context.Context, telegramID int64) (*models.UserProfile, error)
	UpsertProfile(ctx context.Context, p *models.UserProfile) error
	SetPremium(ctx context.Context, userID string, premium bool) error

	RecentMemories(ctx context.Context, userID string, limit int) ([]models.Memory, error)
	AddMemory(ctx context.Context, m *models.Memory) error

	SaveResult(ctx context.Context, rec *models.GenerationRecord) error
	ListResults(ctx context.Context, userID, task string, limit int) ([]models.GenerationRecord, error)

	SavePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByStripeID(ctx context.Context, sessionID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, sessionID, status string) error
}

// Open connects to the configured driver.
func Open(ctx context.Context, cfg config.DBConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresDB(ctx, cfg)
	case "sqlite":
		return NewSQLiteDB(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported DB driver %q", cfg.Driver)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
