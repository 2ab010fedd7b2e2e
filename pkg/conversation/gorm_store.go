package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationModel persists one user's in-flight flow.
type ConversationModel struct {
	UserID    int64          `gorm:"primaryKey;autoIncrement:false"`
	Flow      string         `gorm:"not null"`
	Step      string         `gorm:"not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt time.Time      `gorm:"not null;index"`
}

// GormStore keeps conversation state in Postgres so flows survive restarts.
// Expiry is evaluated on read against UpdatedAt.
type GormStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewGormStore migrates the conversation table on db.
func NewGormStore(db *gorm.DB, ttl time.Duration) (*GormStore, error) {
	if err := db.AutoMigrate(&ConversationModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate conversations: %w", err)
	}
	return &GormStore{db: db, ttl: ttl}, nil
}

// Get returns the state for userID, or idle when absent or expired.
func (s *GormStore) Get(ctx context.Context, userID int64) (State, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Idle(), nil
		}
		return State{}, err
	}
	state, err := stateFromModel(model)
	if err != nil {
		return State{}, err
	}
	if state.Expired(time.Now(), s.ttl) {
		if err := s.Clear(ctx, userID); err != nil {
			return State{}, err
		}
		return Idle(), nil
	}
	return state, nil
}

// Put upserts the state for userID. Idle states delete the row.
func (s *GormStore) Put(ctx context.Context, userID int64, state State) error {
	if state.IsIdle() {
		return s.Clear(ctx, userID)
	}
	payload, err := json.Marshal(state.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	model := ConversationModel{
		UserID:    userID,
		Flow:      string(state.Flow),
		Step:      string(state.Step),
		Payload:   datatypes.JSON(payload),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"flow", "step", "payload", "updated_at"}),
	}).Create(&model).Error
}

// Clear removes the state for userID.
func (s *GormStore) Clear(ctx context.Context, userID int64) error {
	return s.db.WithContext(ctx).Delete(&ConversationModel{}, "user_id = ?", userID).Error
}

// Purge deletes every row idle for longer than the TTL.
func (s *GormStore) Purge(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	res := s.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&ConversationModel{})
	return res.RowsAffected, res.Error
}

func stateFromModel(m ConversationModel) (State, error) {
	state := State{
		Flow:      Flow(m.Flow),
		Step:      Step(m.Step),
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &state.Payload); err != nil {
			return State{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return state, nil
}
