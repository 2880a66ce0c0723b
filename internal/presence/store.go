package presence

import (
	"context"
	"strconv"
	"time"
)

// DefaultTTL bounds how long a crashed connection keeps a user online.
const DefaultTTL = 60 * time.Second

// Store tracks ephemeral liveness. Nothing here is durable; every entry
// expires after the store's TTL unless refreshed.
type Store interface {
	// SetOnline marks the user live and, when roomID is non-zero, adds the
	// user to that room's online set.
	SetOnline(ctx context.Context, userID, roomID int64) error
	// SetOffline removes the user's marker and every room set membership.
	SetOffline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
	// OnlineUsers returns the room's online set in ascending id order.
	OnlineUsers(ctx context.Context, roomID int64) ([]int64, error)
	// Retain counts a new connection of userID to roomID and returns the
	// user's open connection count.
	Retain(ctx context.Context, userID, roomID int64) (int64, error)
	// Release undoes Retain. When the user has no connection left in roomID
	// the user is dropped from the room set. The returned count reaching zero
	// means the caller should mark the user offline.
	Release(ctx context.Context, userID, roomID int64) (int64, error)
	// Touch refreshes every TTL held for the user.
	Touch(ctx context.Context, userID, roomID int64) error
}

func userKey(userID int64) string {
	return "presence:user:" + strconv.FormatInt(userID, 10)
}

func userRoomsKey(userID int64) string {
	return userKey(userID) + ":rooms"
}

func userConnsKey(userID int64) string {
	return userKey(userID) + ":conns"
}

func userRoomConnsKey(userID int64) string {
	return userKey(userID) + ":room_conns"
}

func roomKey(roomID int64) string {
	return "presence:room:" + strconv.FormatInt(roomID, 10)
}
