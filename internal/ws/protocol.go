package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProtocol classifies malformed inbound frames.
var ErrProtocol = errors.New("protocol error")

// ProtocolError carries the message sent back to the client.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Kind is an inbound envelope type.
type Kind string

const (
	KindJoin       Kind = "join"
	KindLeave      Kind = "leave"
	KindMessage    Kind = "message"
	KindAttachment Kind = "attachment"
	KindTyping     Kind = "typing"
)

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &ProtocolError{Message: "Message type must be a string"}
	}
	switch Kind(s) {
	case KindJoin, KindLeave, KindMessage, KindAttachment, KindTyping:
		*k = Kind(s)
		return nil
	case "":
		return &ProtocolError{Message: "Message type is required"}
	}
	return &ProtocolError{Message: fmt.Sprintf("Unknown message type: %s", s)}
}

// Inbound is a decoded client frame. Data is decoded per kind.
type Inbound struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type MessagePayload struct {
	Content string `json:"content"`
	ReplyTo *int64 `json:"reply_to"`
}

type AttachmentPayload struct {
	Filename  string `json:"filename"`
	FileURL   string `json:"file_url"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size"`
	MimeType  string `json:"mime_type"`
	MessageID *int64 `json:"message_id"`
}

type TypingPayload struct {
	IsTyping *bool `json:"is_typing"`
}

// Typing defaults to true when the flag is absent.
func (p TypingPayload) Typing() bool {
	return p.IsTyping == nil || *p.IsTyping
}

// Decode parses a raw frame into an Inbound envelope.
func Decode(frame []byte) (Inbound, error) {
	var peek struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(frame, &peek); err != nil {
		return Inbound{}, &ProtocolError{Message: "Invalid JSON"}
	}
	if len(peek.Type) == 0 || string(peek.Type) == "null" {
		return Inbound{}, &ProtocolError{Message: "Message type is required"}
	}
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return Inbound{}, perr
		}
		return Inbound{}, &ProtocolError{Message: "Invalid JSON"}
	}
	return in, nil
}

// Payload decodes the data section into v. Missing data decodes as {}.
func (in Inbound) Payload(v any) error {
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return &ProtocolError{Message: "Invalid message data"}
	}
	return nil
}
