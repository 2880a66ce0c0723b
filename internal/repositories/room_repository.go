package repositories

import (
	"context"
	"database/sql"
	"errors"
	"slices"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrMembershipNotFound = errors.New("membership not found")
)

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room models.Room, memberIDs []int64) (models.Room, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	IsActiveMember(ctx context.Context, roomID int64, userID int64) (bool, error)
	GetMembership(ctx context.Context, roomID int64, userID int64) (models.Membership, error)
	ActivateMembership(ctx context.Context, roomID int64, userID int64) (models.Membership, bool, error)
	DeactivateMembership(ctx context.Context, roomID int64, userID int64) error
	ListActiveMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	ListActiveRoomIDs(ctx context.Context, userID int64) ([]int64, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, room_type, name, description, is_active, created_by, created_at, updated_at`

// CreateRoom inserts the room, its owner and its members atomically.
func (r *RoomRepo) CreateRoom(ctx context.Context, room models.Room, memberIDs []int64) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var created models.Room
	if err = tx.GetContext(ctx, &created, `INSERT INTO rooms (room_type, name, description, created_by) VALUES ($1, $2, $3, $4) RETURNING `+roomColumns,
		room.Kind, room.Name, room.Description, room.CreatedBy); err != nil {
		return models.Room{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO room_memberships (room_id, user_id, role) VALUES ($1, $2, 'owner')`, created.ID, room.CreatedBy); err != nil {
		return models.Room{}, err
	}

	// owner is already inserted
	ids := lo.Without(lo.Uniq(memberIDs), room.CreatedBy)
	slices.Sort(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_memberships (room_id, user_id, role) VALUES ($1, $2, 'member')`, created.ID, id); err != nil {
			return models.Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return created, nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// IsActiveMember checks for an active membership in an active room.
func (r *RoomRepo) IsActiveMember(ctx context.Context, roomID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(
        SELECT 1 FROM room_memberships m JOIN rooms r ON r.id = m.room_id
        WHERE m.room_id=$1 AND m.user_id=$2 AND m.is_active AND r.is_active)`, roomID, userID)
	return exists, err
}

// GetMembership returns the membership row regardless of its active flag.
func (r *RoomRepo) GetMembership(ctx context.Context, roomID int64, userID int64) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m, `SELECT id, room_id, user_id, role, is_active, joined_at FROM room_memberships WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Membership{}, ErrMembershipNotFound
	}
	return m, err
}

// ActivateMembership creates a member row or reactivates an inactive one.
// The boolean reports whether anything changed.
func (r *RoomRepo) ActivateMembership(ctx context.Context, roomID int64, userID int64) (models.Membership, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Membership{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var m models.Membership
	err = tx.GetContext(ctx, &m, `SELECT id, room_id, user_id, role, is_active, joined_at FROM room_memberships WHERE room_id=$1 AND user_id=$2 FOR UPDATE`, roomID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.GetContext(ctx, &m, `INSERT INTO room_memberships (room_id, user_id, role) VALUES ($1, $2, 'member') RETURNING id, room_id, user_id, role, is_active, joined_at`, roomID, userID)
		if err != nil {
			return models.Membership{}, false, err
		}
	case err != nil:
		return models.Membership{}, false, err
	case m.IsActive:
		err = tx.Commit()
		return m, false, err
	default:
		err = tx.GetContext(ctx, &m, `UPDATE room_memberships SET is_active = TRUE WHERE id=$1 RETURNING id, room_id, user_id, role, is_active, joined_at`, m.ID)
		if err != nil {
			return models.Membership{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Membership{}, false, err
	}
	return m, true, nil
}

// DeactivateMembership marks an active membership inactive.
func (r *RoomRepo) DeactivateMembership(ctx context.Context, roomID int64, userID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE room_memberships SET is_active = FALSE WHERE room_id=$1 AND user_id=$2 AND is_active`, roomID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// ListActiveMemberIDs returns the users holding an active membership.
func (r *RoomRepo) ListActiveMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM room_memberships WHERE room_id=$1 AND is_active ORDER BY user_id`, roomID)
	return ids, err
}

// ListActiveRoomIDs returns the active rooms the user is an active member of.
func (r *RoomRepo) ListActiveRoomIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT m.room_id FROM room_memberships m JOIN rooms r ON r.id = m.room_id
        WHERE m.user_id=$1 AND m.is_active AND r.is_active ORDER BY m.room_id`, userID)
	return ids, err
}
