package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/workerpool"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Validate(ctx context.Context, token string) (auth.Identity, error)
}

// MessageStore is the part of the chat service the gateway dispatches to.
type MessageStore interface {
	IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error)
	ActiveRoomIDs(ctx context.Context, userID int64) ([]int64, error)
	CreateMessage(ctx context.Context, in chat.CreateMessageInput) (models.Message, error)
	AttachFile(ctx context.Context, in chat.AttachmentInput) (models.Message, error)
}

// Gateway runs the per-connection state machine for chat and
// notification sockets.
type Gateway struct {
	auth     Authenticator
	store    MessageStore
	broker   Broker
	presence presence.Store
	pool     *workerpool.Pool
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func NewGateway(authn Authenticator, store MessageStore, broker Broker, presenceStore presence.Store, pool *workerpool.Pool, opts Options, log *zap.Logger) *Gateway {
	return &Gateway{
		auth:     authn,
		store:    store,
		broker:   broker,
		presence: presenceStore,
		pool:     pool,
		opts:     opts.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// chatConn is a joined chat connection.
type chatConn struct {
	g       *Gateway
	s       *Session
	info    ConnInfo
	channel string
	log     *zap.Logger

	once sync.Once
}

// ServeChat authenticates, authorizes and joins conn to roomID, then reads
// until the connection ends. It returns after the disconnect sequence ran.
func (g *Gateway) ServeChat(ctx context.Context, conn Transport, token string, roomID int64, info ConnInfo) {
	info.RoomID = roomID
	log := g.log.With(zap.String("conn_id", info.ConnID), zap.Int64("room_id", roomID))

	ident, err := g.auth.Validate(ctx, token)
	if err != nil {
		log.Info("ws auth rejected", zap.Error(err))
		emitLifecycle(ctx, log, info, kindChat, "ws_error", "unauthenticated")
		closeWith(conn, CloseUnauthenticated, "Authentication failed", g.opts.WriteWait)
		return
	}
	info.UserID = ident.UserID
	info.Username = ident.Username
	log = log.With(zap.Int64("user_id", ident.UserID))

	member, err := g.store.IsActiveMember(ctx, roomID, ident.UserID)
	if err != nil {
		log.Error("ws membership check failed", zap.Error(err))
		closeWith(conn, CloseInternalError, "Internal error", g.opts.WriteWait)
		return
	}
	if !member {
		log.Info("ws join refused, not a member")
		closeWith(conn, CloseForbidden, "Not a member of this room", g.opts.WriteWait)
		return
	}

	c := &chatConn{
		g:       g,
		s:       newSession(conn, g.opts, log),
		info:    info,
		channel: models.RoomChannel(roomID),
		log:     log,
	}
	go c.s.writePump()

	if err := c.connect(ctx); err != nil {
		log.Error("ws connect failed", zap.Error(err))
		c.s.Close(CloseInternalError, "Internal error")
		<-c.s.Closed()
		return
	}

	observability.IncWSActive(kindChat)
	emitLifecycle(ctx, log, info, kindChat, "ws_connect", "")

	err = c.s.readPump(func(frame []byte) { c.dispatch(ctx, frame) }, func() {
		if err := g.presence.Touch(ctx, info.UserID, roomID); err != nil {
			log.Debug("presence touch failed", zap.Error(err))
		}
	})
	c.disconnect(ctx, err)
	<-c.s.Closed()
}

func (c *chatConn) connect(ctx context.Context) error {
	g := c.g
	g.broker.Join(c.channel, c.s)

	conns, err := g.presence.Retain(ctx, c.info.UserID, c.info.RoomID)
	if err != nil {
		g.broker.Leave(c.channel, c.s)
		return err
	}
	if err := g.presence.SetOnline(ctx, c.info.UserID, c.info.RoomID); err != nil {
		if _, rerr := g.presence.Release(ctx, c.info.UserID, c.info.RoomID); rerr != nil {
			c.log.Warn("presence release after failed connect", zap.Error(rerr))
		}
		g.broker.Leave(c.channel, c.s)
		return err
	}

	if conns == 1 {
		g.broadcastPresence(ctx, c.info, true)
	}
	c.publish(ctx, models.Envelope{
		Type: models.EventUserJoined,
		Data: models.UserEvent{UserID: c.info.UserID, Username: c.info.Username},
	})
	return nil
}

// disconnect runs the unregister and offline sequence exactly once.
func (c *chatConn) disconnect(ctx context.Context, cause error) {
	c.once.Do(func() {
		g := c.g
		ctx = context.WithoutCancel(ctx)
		g.broker.Leave(c.channel, c.s)
		c.publish(ctx, models.Envelope{
			Type: models.EventUserLeft,
			Data: models.UserEvent{UserID: c.info.UserID, Username: c.info.Username},
		})

		remaining, err := g.presence.Release(ctx, c.info.UserID, c.info.RoomID)
		switch {
		case err != nil:
			c.log.Warn("presence release failed", zap.Error(err))
		case remaining == 0:
			if err := g.presence.SetOffline(ctx, c.info.UserID); err != nil {
				c.log.Warn("presence offline failed", zap.Error(err))
			}
			g.broadcastPresence(ctx, c.info, false)
		}

		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		observability.DecWSActive(kindChat)
		emitLifecycle(ctx, c.log, c.info, kindChat, "ws_disconnect", reason)
		c.s.Close(CloseNormal, "")
	})
}

func (c *chatConn) dispatch(ctx context.Context, frame []byte) {
	in, err := Decode(frame)
	if err != nil {
		c.s.sendError(err.Error())
		return
	}

	switch in.Type {
	case KindJoin:
		c.s.SendJSON(models.SuccessEnvelope("Joined room"))
	case KindLeave:
		c.s.SendJSON(models.SuccessEnvelope("Leaving room"))
		c.s.Close(CloseNormal, "Leaving room")
	case KindMessage:
		c.handleMessage(ctx, in)
	case KindAttachment:
		c.handleAttachment(ctx, in)
	case KindTyping:
		var p TypingPayload
		if err := in.Payload(&p); err != nil {
			c.s.sendError(err.Error())
			return
		}
		c.publish(ctx, models.Envelope{
			Type: models.EventTyping,
			Data: models.TypingEvent{UserID: c.info.UserID, Username: c.info.Username, IsTyping: p.Typing()},
		})
	}
}

func (c *chatConn) handleMessage(ctx context.Context, in Inbound) {
	var p MessagePayload
	if err := in.Payload(&p); err != nil {
		c.s.sendError(err.Error())
		return
	}
	var msg models.Message
	err := c.g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = c.g.store.CreateMessage(ctx, chat.CreateMessageInput{
			RoomID:     c.info.RoomID,
			SenderID:   c.info.UserID,
			SenderName: c.info.Username,
			Content:    p.Content,
			Type:       models.MessageText,
			ReplyTo:    p.ReplyTo,
		})
		return err
	})
	if err != nil {
		c.fail(err, "Failed to send message")
		return
	}
	c.publish(ctx, models.Envelope{Type: models.EventMessage, Data: msg})
}

func (c *chatConn) handleAttachment(ctx context.Context, in Inbound) {
	var p AttachmentPayload
	if err := in.Payload(&p); err != nil {
		c.s.sendError(err.Error())
		return
	}
	var msg models.Message
	err := c.g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = c.g.store.AttachFile(ctx, chat.AttachmentInput{
			RoomID:     c.info.RoomID,
			SenderID:   c.info.UserID,
			SenderName: c.info.Username,
			MessageID:  p.MessageID,
			Filename:   p.Filename,
			FileURL:    p.FileURL,
			FileType:   p.FileType,
			FileSize:   p.FileSize,
			MimeType:   p.MimeType,
		})
		return err
	})
	if err != nil {
		c.fail(err, "Failed to process attachment")
		return
	}
	c.publish(ctx, models.Envelope{Type: models.EventAttachment, Data: msg})
}

// fail answers the sender only. Rule violations carry their own message;
// anything else is logged and replaced by fallback.
func (c *chatConn) fail(err error, fallback string) {
	var cerr *chat.Error
	if errors.As(err, &cerr) {
		c.s.sendError(cerr.Msg)
		return
	}
	c.log.Error(fallback, zap.Error(err))
	emitLifecycle(context.Background(), c.log, c.info, kindChat, "ws_error", err.Error())
	c.s.sendError(fallback)
}

func (c *chatConn) publish(ctx context.Context, event models.Envelope) {
	if err := c.g.broker.Publish(ctx, c.channel, event); err != nil {
		c.log.Warn("room publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}

// broadcastPresence announces a presence transition to every room the
// user is an active member of.
func (g *Gateway) broadcastPresence(ctx context.Context, info ConnInfo, online bool) {
	rooms, err := g.store.ActiveRoomIDs(ctx, info.UserID)
	if err != nil {
		g.log.Warn("list rooms for presence", zap.Int64("user_id", info.UserID), zap.Error(err))
		return
	}
	event := models.PresenceEvent{UserID: info.UserID, Username: info.Username, IsOnline: online}
	if !online {
		lastSeen := g.now().UTC().Format(time.RFC3339)
		event.LastSeen = &lastSeen
	}
	for _, roomID := range rooms {
		err := g.broker.Publish(ctx, models.RoomChannel(roomID), models.Envelope{Type: models.EventPresenceChanged, Data: event})
		if err != nil {
			g.log.Warn("presence publish failed", zap.Int64("room_id", roomID), zap.Error(err))
		}
	}
}

// ServeNotifications joins conn to the user's notification channel. The
// only inbound frame understood is ping.
func (g *Gateway) ServeNotifications(ctx context.Context, conn Transport, token string, info ConnInfo) {
	log := g.log.With(zap.String("conn_id", info.ConnID))

	ident, err := g.auth.Validate(ctx, token)
	if err != nil {
		log.Info("notification ws auth rejected", zap.Error(err))
		closeWith(conn, CloseUnauthenticated, "Authentication failed", g.opts.WriteWait)
		return
	}
	info.UserID = ident.UserID
	info.Username = ident.Username
	info.RoomID = 0

	s := newSession(conn, g.opts, log.With(zap.Int64("user_id", ident.UserID)))
	go s.writePump()

	channel := models.UserChannel(ident.UserID)
	g.broker.Join(channel, s)
	observability.IncWSActive(kindNotifications)
	emitLifecycle(ctx, log, info, kindNotifications, "ws_connect", "")

	err = s.readPump(func(frame []byte) {
		var peek struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(frame, &peek) != nil || peek.Type != "ping" {
			return
		}
		s.SendJSON(models.Envelope{
			Type: models.EventPong,
			Data: models.PongEvent{Timestamp: g.now().UTC().Format(time.RFC3339)},
		})
	}, nil)

	g.broker.Leave(channel, s)
	observability.DecWSActive(kindNotifications)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	emitLifecycle(context.WithoutCancel(ctx), log, info, kindNotifications, "ws_disconnect", reason)
	s.Close(CloseNormal, "")
	<-s.Closed()
}
