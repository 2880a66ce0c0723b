package presence

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"chat-realtime/internal/observability"
)

// RedisStore keeps presence in Redis so every process sees the same state.
// A reverse index (user -> rooms) makes SetOffline proportional to the
// user's own rooms instead of every room key.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore constructs a RedisStore; a non-positive ttl selects DefaultTTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) SetOnline(ctx context.Context, userID, roomID int64) error {
	observability.IncPresenceOp("set_online")
	member := strconv.FormatInt(userID, 10)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(userID), s.now().UTC().Format(time.RFC3339), s.ttl)
		if roomID != 0 {
			pipe.SAdd(ctx, roomKey(roomID), member)
			pipe.Expire(ctx, roomKey(roomID), s.ttl)
			pipe.SAdd(ctx, userRoomsKey(userID), strconv.FormatInt(roomID, 10))
			pipe.Expire(ctx, userRoomsKey(userID), s.ttl)
		}
		return nil
	})
	return err
}

func (s *RedisStore) SetOffline(ctx context.Context, userID int64) error {
	observability.IncPresenceOp("set_offline")
	rooms, err := s.client.SMembers(ctx, userRoomsKey(userID)).Result()
	if err != nil {
		return err
	}
	member := strconv.FormatInt(userID, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(userID), userRoomsKey(userID), userConnsKey(userID), userRoomConnsKey(userID))
		for _, room := range rooms {
			pipe.SRem(ctx, "presence:room:"+room, member)
		}
		return nil
	})
	return err
}

func (s *RedisStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := s.client.Exists(ctx, userKey(userID)).Result()
	return n > 0, err
}

func (s *RedisStore) OnlineUsers(ctx context.Context, roomID int64) ([]int64, error) {
	members, err := s.client.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	ids := lo.FilterMap(members, func(m string, _ int) (int64, bool) {
		id, err := strconv.ParseInt(m, 10, 64)
		return id, err == nil
	})
	slices.Sort(ids)
	return ids, nil
}

func (s *RedisStore) Retain(ctx context.Context, userID, roomID int64) (int64, error) {
	var conns *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		conns = pipe.Incr(ctx, userConnsKey(userID))
		pipe.Expire(ctx, userConnsKey(userID), s.ttl)
		pipe.HIncrBy(ctx, userRoomConnsKey(userID), strconv.FormatInt(roomID, 10), 1)
		pipe.Expire(ctx, userRoomConnsKey(userID), s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return conns.Val(), nil
}

// releaseScript decrements both refcounts and clears the room and user
// entries they guard in one step, so a concurrent Retain is never undone.
// KEYS: conns, room conns hash, room set, user rooms set. ARGV: room, user.
var releaseScript = redis.NewScript(`
local conns = redis.call('DECR', KEYS[1])
local roomConns = redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
if roomConns <= 0 then
	redis.call('HDEL', KEYS[2], ARGV[1])
	redis.call('SREM', KEYS[3], ARGV[2])
	redis.call('SREM', KEYS[4], ARGV[1])
end
if conns <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
return conns
`)

func (s *RedisStore) Release(ctx context.Context, userID, roomID int64) (int64, error) {
	keys := []string{userConnsKey(userID), userRoomConnsKey(userID), roomKey(roomID), userRoomsKey(userID)}
	return releaseScript.Run(ctx, s.client, keys, strconv.FormatInt(roomID, 10), strconv.FormatInt(userID, 10)).Int64()
}

func (s *RedisStore) Touch(ctx context.Context, userID, roomID int64) error {
	observability.IncPresenceOp("touch")
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// re-assert rather than expire: the marker may already be gone
		pipe.Set(ctx, userKey(userID), s.now().UTC().Format(time.RFC3339), s.ttl)
		pipe.Expire(ctx, userConnsKey(userID), s.ttl)
		pipe.Expire(ctx, userRoomConnsKey(userID), s.ttl)
		if roomID != 0 {
			pipe.SAdd(ctx, roomKey(roomID), strconv.FormatInt(userID, 10))
			pipe.Expire(ctx, roomKey(roomID), s.ttl)
			pipe.SAdd(ctx, userRoomsKey(userID), strconv.FormatInt(roomID, 10))
		}
		pipe.Expire(ctx, userRoomsKey(userID), s.ttl)
		return nil
	})
	return err
}
