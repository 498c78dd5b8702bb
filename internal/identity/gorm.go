package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// userRecord is a row of the users table shared with the rest of the
// application.
type userRecord struct {
	ID        string    `gorm:"primarykey;size:64"`
	Username  string    `gorm:"size:100;not null"`
	Role      string    `gorm:"size:16;not null;default:user"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for userRecord.
func (userRecord) TableName() string {
	return "users"
}

// Store resolves identities from the users table.
type Store struct {
	db *gorm.DB
}

var _ chat.IdentityResolver = (*Store)(nil)

// NewStore migrates the users table and returns a resolver backed by db.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&userRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate users: %w", err)
	}
	return &Store{db: db}, nil
}

// Resolve implements chat.IdentityResolver.
func (s *Store) Resolve(ctx context.Context, userID string) (chat.Identity, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Identity{}, fmt.Errorf("%w: %s", chat.ErrUserNotFound, userID)
		}
		return chat.Identity{}, fmt.Errorf("failed to find user: %w", err)
	}
	return normalizeIdentity(chat.Identity{
		UserID:   rec.ID,
		Username: rec.Username,
		Role:     chat.Role(rec.Role),
	}), nil
}

// Upsert creates or updates users. It is used to seed the table from
// configuration.
func (s *Store) Upsert(ctx context.Context, users ...chat.Identity) error {
	if len(users) == 0 {
		return nil
	}
	recs := make([]userRecord, 0, len(users))
	for _, u := range users {
		u = normalizeIdentity(u)
		if u.UserID == "" {
			continue
		}
		recs = append(recs, userRecord{ID: u.UserID, Username: u.Username, Role: string(u.Role)})
	}
	if len(recs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "role", "updated_at"}),
	}).Create(&recs).Error
	if err != nil {
		return fmt.Errorf("failed to upsert users: %w", err)
	}
	return nil
}
