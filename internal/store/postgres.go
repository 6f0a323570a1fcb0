package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

// PostgresStore is the relational alternative to RedisStore, selected
// with CALL_STORE=postgres. The schema is created from the CallSession
// and CallParticipant structs on startup.
type PostgresStore struct {
	db *gorm.DB
}

// CallParticipant links a user to a session for history lookups. Group
// calls have one row per member, so members who never answered still
// see the call in their history.
type CallParticipant struct {
	CallID string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey;index"`
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.AutoMigrate(&models.CallSession{}, &CallParticipant{}); err != nil {
		return nil, fmt.Errorf("failed to migrate call schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, call *models.CallSession, participants []string) error {
	rows := make([]CallParticipant, 0, len(participants))
	for _, userID := range participants {
		rows = append(rows, CallParticipant{CallID: call.ID, UserID: userID})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(call).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store call %s: %w", call.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.CallSession, error) {
	var call models.CallSession
	err := s.db.WithContext(ctx).First(&call, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call %s: %w", id, err)
	}
	return &call, nil
}

func (s *PostgresStore) Update(ctx context.Context, call *models.CallSession) error {
	if err := s.db.WithContext(ctx).Save(call).Error; err != nil {
		return fmt.Errorf("failed to update call %s: %w", call.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]models.CallSession, error) {
	var calls []models.CallSession
	err := s.db.WithContext(ctx).
		Joins("JOIN call_participants ON call_participants.call_id = call_sessions.id").
		Where("call_participants.user_id = ?", userID).
		Order("call_sessions.created_at desc").
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list calls for user %s: %w", userID, err)
	}
	return calls, nil
}
