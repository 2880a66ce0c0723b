package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect initializes the database connection and runs migrations.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.Int("statements", len(migrations)))
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            room_type VARCHAR(10) NOT NULL DEFAULT 'private' CHECK (room_type IN ('private', 'group')),
            name VARCHAR(100) NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_by BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (room_type <> 'group' OR name <> '')
        );`,
	`CREATE TABLE IF NOT EXISTS room_memberships (
            id BIGSERIAL PRIMARY KEY,
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            role VARCHAR(10) NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin', 'owner')),
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (room_id, user_id)
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS room_memberships_single_owner
            ON room_memberships (room_id) WHERE role = 'owner' AND is_active;`,
	`CREATE INDEX IF NOT EXISTS room_memberships_user_active ON room_memberships (user_id, is_active);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            sender_name VARCHAR(150) NOT NULL DEFAULT '',
            content TEXT NOT NULL DEFAULT '',
            message_type VARCHAR(20) NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'attachment', 'system')),
            is_edited BOOLEAN NOT NULL DEFAULT FALSE,
            edited_at TIMESTAMPTZ,
            reply_to_id BIGINT REFERENCES messages(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (message_type <> 'text' OR btrim(content) <> '')
        );`,
	`ALTER TABLE messages ADD COLUMN IF NOT EXISTS sender_name VARCHAR(150) NOT NULL DEFAULT '';`,
	`CREATE INDEX IF NOT EXISTS messages_room_created ON messages (room_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS attachments (
            id BIGSERIAL PRIMARY KEY,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            filename VARCHAR(255) NOT NULL,
            file_type VARCHAR(20) NOT NULL,
            file_size BIGINT NOT NULL CHECK (file_size > 0),
            mime_type VARCHAR(100) NOT NULL,
            file_url TEXT NOT NULL,
            thumbnail_url TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS attachments_message ON attachments (message_id);`,
	`CREATE TABLE IF NOT EXISTS notifications (
            id BIGSERIAL PRIMARY KEY,
            recipient_id BIGINT NOT NULL,
            notification_type VARCHAR(20) NOT NULL DEFAULT 'message',
            title VARCHAR(200) NOT NULL,
            message TEXT NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            read_at TIMESTAMPTZ,
            related_room_id BIGINT REFERENCES rooms(id) ON DELETE CASCADE,
            related_message_id BIGINT REFERENCES messages(id) ON DELETE CASCADE,
            related_user_id BIGINT,
            extra_data JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS notifications_recipient_read ON notifications (recipient_id, is_read, created_at);`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
