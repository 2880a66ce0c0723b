package models

import "time"

// RoomKind distinguishes one-to-one rooms from named groups.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Valid reports whether k is a known room kind.
func (k RoomKind) Valid() bool {
	return k == RoomPrivate || k == RoomGroup
}

// Room is a scoped conversation. Rooms are deactivated, never deleted.
type Room struct {
	ID          int64     `db:"id" json:"id"`
	Kind        RoomKind  `db:"room_type" json:"room_type"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedBy   int64     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Role is a member's privilege level inside a room.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// CanModerate reports whether the role may delete other members' messages.
func (r Role) CanModerate() bool {
	return r == RoleAdmin || r == RoleOwner
}

// Membership links a user to a room.
type Membership struct {
	ID       int64     `db:"id" json:"id"`
	RoomID   int64     `db:"room_id" json:"room_id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	Role     Role      `db:"role" json:"role"`
	IsActive bool      `db:"is_active" json:"is_active"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
