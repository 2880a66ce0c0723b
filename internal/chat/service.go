package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"chat-realtime/internal/blob"
	"chat-realtime/internal/events"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

const (
	DefaultEditWindow   = 15 * time.Minute
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	replyPreviewLength  = 100
)

// Publisher fans events out to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event models.Envelope) error
}

// Notifier receives room membership changes.
type Notifier interface {
	NotifyMembershipChange(ctx context.Context, roomID, userID int64, username string, joined bool) error
	NotifyRoomInvite(ctx context.Context, room models.Room, inviterID int64, inviterName string, recipients []int64) error
}

// Service owns the message store rules: membership checks, the edit
// window, moderation and attachment metadata.
type Service struct {
	rooms      repositories.RoomRepository
	messages   repositories.MessageRepository
	publisher  Publisher
	events     events.Producer
	storage    blob.Storage
	notifier   Notifier
	validate   *validator.Validate
	now        func() time.Time
	editWindow time.Duration
	log        *zap.Logger
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithEvents(p events.Producer) Option { return func(s *Service) { s.events = p } }

func WithStorage(st blob.Storage) Option { return func(s *Service) { s.storage = st } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithEditWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.editWindow = d
		}
	}
}

func NewService(rooms repositories.RoomRepository, messages repositories.MessageRepository, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		rooms:      rooms,
		messages:   messages,
		events:     events.NoopProducer{},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        time.Now,
		editWindow: DefaultEditWindow,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMessageInput is a message about to be persisted.
type CreateMessageInput struct {
	RoomID     int64
	SenderID   int64
	SenderName string
	Content    string
	Type       models.MessageType
	ReplyTo    *int64
}

// AttachmentInput records metadata of an already uploaded file. Without a
// MessageID a placeholder attachment message is created.
type AttachmentInput struct {
	RoomID       int64
	SenderID     int64
	SenderName   string
	MessageID    *int64
	Filename     string `validate:"required,max=255"`
	FileURL      string `validate:"required,max=2048"`
	FileType     string `validate:"required,oneof=image video audio document file"`
	FileSize     int64  `validate:"gt=0"`
	MimeType     string `validate:"omitempty,max=100"`
	ThumbnailURL *string
}

// UploadInput is a raw file to store before attaching.
type UploadInput struct {
	RoomID     int64
	SenderID   int64
	SenderName string
	MessageID  *int64
	Filename   string
	Data       []byte
}

// CreateRoomInput describes a new room. MemberNames supplies display names
// for the private room title.
type CreateRoomInput struct {
	CreatorID   int64
	CreatorName string
	Kind        models.RoomKind
	Name        string
	Description string
	MemberIDs   []int64
	MemberNames map[int64]string
}

func (s *Service) IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	return s.rooms.IsActiveMember(ctx, roomID, userID)
}

func (s *Service) ActiveRoomIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.rooms.ListActiveRoomIDs(ctx, userID)
}

func (s *Service) requireMember(ctx context.Context, roomID, userID int64) error {
	ok, err := s.rooms.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return forbidden("You are not a member of this room")
	}
	return nil
}

// CreateMessage persists a message from an active member. A reply_to that
// does not resolve to a message in the same room is dropped.
func (s *Service) CreateMessage(ctx context.Context, in CreateMessageInput) (models.Message, error) {
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return models.Message{}, invalid(fmt.Sprintf("Unknown message type: %s", in.Type))
	}
	if err := s.requireMember(ctx, in.RoomID, in.SenderID); err != nil {
		return models.Message{}, err
	}
	if in.Type == models.MessageText && strings.TrimSpace(in.Content) == "" {
		return models.Message{}, invalid("Message content cannot be empty")
	}

	var preview *models.ReplyPreview
	if in.ReplyTo != nil {
		parent, err := s.messages.GetMessage(ctx, *in.ReplyTo)
		switch {
		case errors.Is(err, repositories.ErrMessageNotFound), err == nil && parent.RoomID != in.RoomID:
			in.ReplyTo = nil
		case err != nil:
			return models.Message{}, fmt.Errorf("resolve reply: %w", err)
		default:
			preview = replyPreview(parent)
		}
	}

	stored, err := s.messages.CreateMessage(ctx, models.Message{
		RoomID:     in.RoomID,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		Content:    in.Content,
		Type:       in.Type,
		ReplyTo:    in.ReplyTo,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	stored.Sender = models.UserRef{ID: in.SenderID, Username: in.SenderName}
	stored.ReplyToContent = preview
	stored.WithAttachments(nil)

	observability.IncMessage(string(stored.Type))
	s.emitCreated(ctx, stored)
	return stored, nil
}

func (s *Service) emitCreated(ctx context.Context, msg models.Message) {
	if err := s.events.MessageCreated(ctx, msg); err != nil {
		s.log.Warn("message event not published", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
}

func replyPreview(parent models.Message) *models.ReplyPreview {
	content := parent.Content
	if runes := []rune(content); len(runes) > replyPreviewLength {
		content = string(runes[:replyPreviewLength])
	}
	return &models.ReplyPreview{
		ID:      parent.ID,
		Content: content,
		Sender:  parent.SenderRef(),
	}
}

// History returns the latest limit messages of a room in canonical order.
func (s *Service) History(ctx context.Context, roomID, viewerID int64, limit int) ([]models.Message, error) {
	if err := s.requireMember(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	msgs, err := s.messages.ListRoomMessages(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	ids := lo.Map(msgs, func(m models.Message, _ int) int64 { return m.ID })
	atts, err := s.messages.ListAttachments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	byMessage := lo.GroupBy(atts, func(a models.Attachment) int64 { return a.MessageID })
	page := lo.SliceToMap(msgs, func(m models.Message) (int64, models.Message) { return m.ID, m })

	for i := range msgs {
		msgs[i].Sender = msgs[i].SenderRef()
		msgs[i].WithAttachments(byMessage[msgs[i].ID])
		if msgs[i].ReplyTo == nil {
			continue
		}
		parent, ok := page[*msgs[i].ReplyTo]
		if !ok {
			parent, err = s.messages.GetMessage(ctx, *msgs[i].ReplyTo)
			if errors.Is(err, repositories.ErrMessageNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve reply: %w", err)
			}
		}
		msgs[i].ReplyToContent = replyPreview(parent)
	}

	SortHistory(msgs)
	return msgs, nil
}

// SortHistory orders messages by creation time, ties broken by id.
func SortHistory(msgs []models.Message) {
	slices.SortStableFunc(msgs, func(a, b models.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// EditMessage lets the sender rewrite a message inside the edit window.
// Concurrent edits are last-writer-wins.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID int64, content string) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, notFound("Message not found")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message: %w", err)
	}
	if msg.SenderID != editorID {
		return models.Message{}, forbidden("You can only edit your own messages")
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) > s.editWindow {
		return models.Message{}, forbidden("Message can no longer be edited")
	}
	if msg.Type == models.MessageText && strings.TrimSpace(content) == "" {
		return models.Message{}, invalid("Message content cannot be empty")
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, content, now)
	if err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	atts, err := s.messages.ListAttachments(ctx, []int64{messageID})
	if err != nil {
		return models.Message{}, fmt.Errorf("list attachments: %w", err)
	}
	updated.Sender = updated.SenderRef()
	updated.WithAttachments(atts)

	s.publish(ctx, updated.RoomID, models.Envelope{Type: models.EventMessageEdited, Data: updated})
	return updated, nil
}

// DeleteMessage hard-deletes a message. The sender and room moderators may delete.
func (s *Service) DeleteMessage(ctx context.Context, messageID, actorID int64) error {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	if msg.SenderID != actorID {
		membership, err := s.rooms.GetMembership(ctx, msg.RoomID, actorID)
		if err != nil && !errors.Is(err, repositories.ErrMembershipNotFound) {
			return fmt.Errorf("get membership: %w", err)
		}
		if err != nil || !membership.IsActive || !membership.Role.CanModerate() {
			return forbidden("You can only delete your own messages")
		}
	}

	if err := s.messages.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return notFound("Message not found")
		}
		return fmt.Errorf("delete message: %w", err)
	}

	s.publish(ctx, msg.RoomID, models.Envelope{
		Type: models.EventMessageDeleted,
		Data: models.MessageDeletedEvent{ID: msg.ID, RoomID: msg.RoomID},
	})
	return nil
}

// AttachFile records metadata for an uploaded file against an existing
// message owned by the sender, or against a new attachment message.
func (s *Service) AttachFile(ctx context.Context, in AttachmentInput) (models.Message, error) {
	if err := s.validate.Struct(in); err != nil {
		return models.Message{}, invalid(validationMessage(err))
	}
	if err := ValidateAttachment(in.FileType, in.Filename, in.FileSize); err != nil {
		return models.Message{}, err
	}
	if err := s.requireMember(ctx, in.RoomID, in.SenderID); err != nil {
		return models.Message{}, err
	}
	if in.MimeType == "" {
		in.MimeType = MimeFromName(in.Filename)
	}

	att := models.Attachment{
		Filename:     in.Filename,
		FileType:     in.FileType,
		FileSize:     in.FileSize,
		MimeType:     in.MimeType,
		FileURL:      in.FileURL,
		ThumbnailURL: in.ThumbnailURL,
	}

	if in.MessageID == nil {
		msg, stored, err := s.messages.CreateAttachmentMessage(ctx, models.Message{
			RoomID:     in.RoomID,
			SenderID:   in.SenderID,
			SenderName: in.SenderName,
			Type:       models.MessageAttachment,
		}, att)
		if err != nil {
			return models.Message{}, fmt.Errorf("create attachment message: %w", err)
		}
		msg.Sender = models.UserRef{ID: in.SenderID, Username: in.SenderName}
		msg.WithAttachments([]models.Attachment{stored})

		observability.IncMessage(string(msg.Type))
		s.emitCreated(ctx, msg)
		return msg, nil
	}

	msg, err := s.messages.GetMessage(ctx, *in.MessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, notFound("Message not found")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message: %w", err)
	}
	if msg.RoomID != in.RoomID || msg.SenderID != in.SenderID {
		return models.Message{}, forbidden("You can only attach files to your own messages")
	}

	att.MessageID = msg.ID
	if _, err := s.messages.CreateAttachment(ctx, att); err != nil {
		return models.Message{}, fmt.Errorf("create attachment: %w", err)
	}
	atts, err := s.messages.ListAttachments(ctx, []int64{msg.ID})
	if err != nil {
		return models.Message{}, fmt.Errorf("list attachments: %w", err)
	}
	msg.Sender = models.UserRef{ID: in.SenderID, Username: in.SenderName}
	msg.WithAttachments(atts)
	return msg, nil
}

// UploadAttachment stores the binary, derives a thumbnail for images, then
// records the metadata and broadcasts the attachment to the room.
func (s *Service) UploadAttachment(ctx context.Context, in UploadInput) (models.Message, error) {
	if s.storage == nil {
		return models.Message{}, errors.New("attachment storage is not configured")
	}
	if err := s.requireMember(ctx, in.RoomID, in.SenderID); err != nil {
		return models.Message{}, err
	}

	detected := mimetype.Detect(in.Data)
	fileType := Classify(in.Filename, detected)
	if err := ValidateAttachment(fileType, in.Filename, int64(len(in.Data))); err != nil {
		return models.Message{}, err
	}

	key := blob.ObjectKey(in.RoomID, in.Filename)
	locator, err := s.storage.Put(ctx, key, detected.String(), in.Data)
	if err != nil {
		return models.Message{}, fmt.Errorf("store attachment: %w", err)
	}

	var thumbURL *string
	if fileType == FileImage {
		if thumb, err := blob.Thumbnail(in.Data); err != nil {
			s.log.Warn("thumbnail skipped", zap.String("key", key), zap.Error(err))
		} else if u, err := s.storage.Put(ctx, blob.ThumbnailKey(key), "image/jpeg", thumb); err != nil {
			s.log.Warn("thumbnail upload failed", zap.String("key", key), zap.Error(err))
		} else {
			thumbURL = &u
		}
	}

	mediaType, _, _ := strings.Cut(detected.String(), ";")
	msg, err := s.AttachFile(ctx, AttachmentInput{
		RoomID:       in.RoomID,
		SenderID:     in.SenderID,
		SenderName:   in.SenderName,
		MessageID:    in.MessageID,
		Filename:     in.Filename,
		FileURL:      locator,
		FileType:     fileType,
		FileSize:     int64(len(in.Data)),
		MimeType:     mediaType,
		ThumbnailURL: thumbURL,
	})
	if err != nil {
		return models.Message{}, err
	}

	s.publish(ctx, in.RoomID, models.Envelope{Type: models.EventAttachment, Data: msg})
	return msg, nil
}

// CreateRoom validates the room kind invariants and stores the room with
// the creator as owner.
func (s *Service) CreateRoom(ctx context.Context, in CreateRoomInput) (models.Room, error) {
	if !in.Kind.Valid() {
		return models.Room{}, invalid(fmt.Sprintf("Unknown room type: %s", in.Kind))
	}
	others := lo.Without(lo.Uniq(in.MemberIDs), in.CreatorID)
	name := strings.TrimSpace(in.Name)

	switch in.Kind {
	case models.RoomPrivate:
		if len(others) != 1 {
			return models.Room{}, invalid("Private rooms require exactly one other participant")
		}
		names := []string{displayName(in.CreatorID, in.CreatorName), displayName(others[0], in.MemberNames[others[0]])}
		slices.Sort(names)
		name = fmt.Sprintf("Private chat: %s & %s", names[0], names[1])
	case models.RoomGroup:
		if name == "" {
			return models.Room{}, invalid("Group rooms require a name")
		}
		if len(others) == 0 {
			return models.Room{}, invalid("Group rooms require at least one other participant")
		}
	}

	room, err := s.rooms.CreateRoom(ctx, models.Room{
		Kind:        in.Kind,
		Name:        name,
		Description: in.Description,
		CreatedBy:   in.CreatorID,
	}, others)
	if err != nil {
		return models.Room{}, fmt.Errorf("create room: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyRoomInvite(ctx, room, in.CreatorID, in.CreatorName, others); err != nil {
			s.log.Warn("room invite notifications failed", zap.Int64("room_id", room.ID), zap.Error(err))
		}
	}
	return room, nil
}

func displayName(id int64, name string) string {
	if name != "" {
		return name
	}
	return "user " + strconv.FormatInt(id, 10)
}

// JoinRoom activates the caller's membership in a group room.
func (s *Service) JoinRoom(ctx context.Context, roomID, userID int64, username string) (models.Membership, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) || (err == nil && !room.IsActive) {
		return models.Membership{}, notFound("Room not found")
	}
	if err != nil {
		return models.Membership{}, fmt.Errorf("get room: %w", err)
	}
	if room.Kind == models.RoomPrivate {
		return models.Membership{}, forbidden("Private rooms cannot be joined")
	}

	membership, changed, err := s.rooms.ActivateMembership(ctx, roomID, userID)
	if err != nil {
		return models.Membership{}, fmt.Errorf("activate membership: %w", err)
	}
	if changed {
		s.notifyMembership(ctx, roomID, userID, username, true)
	}
	return membership, nil
}

// LeaveRoom deactivates the caller's membership in a group room.
func (s *Service) LeaveRoom(ctx context.Context, roomID, userID int64, username string) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		return notFound("Room not found")
	}
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	if room.Kind == models.RoomPrivate {
		return forbidden("Private rooms cannot be left")
	}

	if err := s.rooms.DeactivateMembership(ctx, roomID, userID); err != nil {
		if errors.Is(err, repositories.ErrMembershipNotFound) {
			return notFound("You are not a member of this room")
		}
		return fmt.Errorf("deactivate membership: %w", err)
	}
	s.notifyMembership(ctx, roomID, userID, username, false)
	return nil
}

func (s *Service) notifyMembership(ctx context.Context, roomID, userID int64, username string, joined bool) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyMembershipChange(ctx, roomID, userID, username, joined); err != nil {
		s.log.Warn("membership notifications failed", zap.Int64("room_id", roomID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, roomID int64, event models.Envelope) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, models.RoomChannel(roomID), event); err != nil {
		s.log.Warn("room publish failed", zap.Int64("room_id", roomID), zap.String("type", event.Type), zap.Error(err))
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid attachment data"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field %s is required", field)
	case "oneof":
		return fmt.Sprintf("Field %s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("Field %s is invalid", field)
	}
}
