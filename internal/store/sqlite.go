package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// messageRecord is the chat_messages row.
type messageRecord struct {
	ID        string     `gorm:"primarykey;size:36"`
	UserID    string     `gorm:"size:64;not null;index"`
	Username  string     `gorm:"size:100;not null"`
	Text      string     `gorm:"size:4000;not null"`
	Kind      string     `gorm:"size:16;not null;default:user"`
	IsNotice  bool       `gorm:"not null;default:false"`
	Deleted   bool       `gorm:"not null;default:false;index"`
	DeletedBy string     `gorm:"size:64"`
	RemovedAt *time.Time `gorm:"column:removed_at"`
	CreatedAt time.Time  `gorm:"not null;index"`
}

// TableName returns the table name for messageRecord.
func (messageRecord) TableName() string {
	return "chat_messages"
}

func toRecord(msg chat.Message) messageRecord {
	return messageRecord{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Text:      msg.Text,
		Kind:      string(msg.Kind),
		IsNotice:  msg.IsNotice,
		Deleted:   msg.Deleted,
		DeletedBy: msg.DeletedBy,
		RemovedAt: msg.DeletedAt,
		CreatedAt: msg.CreatedAt,
	}
}

func (r messageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		UserID:    r.UserID,
		Username:  r.Username,
		Text:      r.Text,
		Kind:      chat.Kind(r.Kind),
		IsNotice:  r.IsNotice,
		Deleted:   r.Deleted,
		DeletedBy: r.DeletedBy,
		DeletedAt: r.RemovedAt,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// OpenSQLite opens the SQLite database at dsn. ":memory:" gives a private
// in-memory database.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// SQLite stores messages in the chat_messages table.
type SQLite struct {
	db *gorm.DB
}

var _ chat.MessageStore = (*SQLite)(nil)

// NewSQLite migrates the schema and returns a store backed by db.
func NewSQLite(db *gorm.DB) (*SQLite, error) {
	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate chat_messages: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append implements chat.MessageStore.
func (s *SQLite) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	prepare(&msg)
	rec := toRecord(msg)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return chat.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// Get implements chat.MessageStore.
func (s *SQLite) Get(ctx context.Context, id string) (chat.Message, error) {
	var rec messageRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrNotFound, id)
		}
		return chat.Message{}, fmt.Errorf("failed to find message: %w", err)
	}
	return rec.toMessage(), nil
}

// SoftDelete implements chat.MessageStore.
func (s *SQLite) SoftDelete(ctx context.Context, id, byUserID string) (chat.Message, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&messageRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted":    true,
			"deleted_by": byUserID,
			"removed_at": now,
		})
	if err := result.Error; err != nil {
		return chat.Message{}, fmt.Errorf("failed to delete message: %w", err)
	}
	if result.RowsAffected == 0 {
		return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

// ListRecent implements chat.MessageStore.
func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}
	var recs []messageRecord
	err := s.db.WithContext(ctx).
		Where("deleted = ?", false).
		Order("created_at DESC").
		Order("rowid DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]chat.Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toMessage())
	}
	return out, nil
}

// PurgeAll implements chat.MessageStore.
func (s *SQLite) PurgeAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&messageRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to purge messages: %w", err)
	}
	return nil
}
