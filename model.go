package main

import (
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/samber/lo"
)

type MediaKind string

const (
	MediaNone      MediaKind = "none"
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
	MediaAudio     MediaKind = "audio"
	MediaSticker   MediaKind = "sticker"
	MediaAnimation MediaKind = "animation"
)

type EventType string

const (
	EventEdited   EventType = "edited"
	EventDeleted  EventType = "deleted"
	EventCaptured EventType = "captured"
)

type BusinessConnection struct {
	ConnectionID   string
	OwnerUserID    int64
	OwnerChatID    int64
	OwnerUsername  string
	OwnerFirstName string
	OwnerLastName  string
	LanguageCode   string
	CanReply       bool
	IsEnabled      bool
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
}

type StoredMessage struct {
	ID                   int64
	BusinessConnectionID string
	ChatID               int64
	MessageID            int
	FromUserID           int64
	FromUsername         string
	FromFirstName        string
	FromLastName         string
	EncryptedText        string
	EncryptedCaption     string
	MediaKind            MediaKind
	MediaFileID          string
	MessageDate          time.Time
	StoredAt             time.Time
	EditCount            int
	IsDeleted            bool
}

type MessageEvent struct {
	ID                  int64
	StoredMessageID     int64
	ChatID              int64
	MessageID           int
	Type                EventType
	EncryptedOldText    string
	EncryptedNewText    string
	EncryptedOldCaption string
	EncryptedNewCaption string
	EventTime           time.Time
	UserNotified        bool
	NotifiedAt          *time.Time
}

// SenderSnapshot is the identity captured at message-creation time.
// It is never refreshed afterwards.
type SenderSnapshot struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// IncomingMessage is the flattened view of a transport message. Handlers
// never see transport-library shapes; the dispatcher converts at the edge.
type IncomingMessage struct {
	BusinessConnectionID string
	ChatID               int64
	MessageID            int
	Sender               SenderSnapshot
	Text                 string
	Caption              string
	MediaKind            MediaKind
	MediaFileID          string
	MessageDate          time.Time
	EditDate             time.Time
	Reply                *IncomingMessage
}

// ConnectionUpdate is the flattened view of a connection-lifecycle event.
type ConnectionUpdate struct {
	ConnectionID string
	Owner        SenderSnapshot
	OwnerChatID  int64
	LanguageCode string
	CanReply     bool
	IsEnabled    bool
	EventTime    time.Time
}

// applyConnectionUpdate returns the next registry state for an update.
// disconnectedAt is stamped only on the enabled -> disabled transition.
func applyConnectionUpdate(current BusinessConnection, exists bool, upd ConnectionUpdate, now time.Time) BusinessConnection {
	if !exists {
		next := BusinessConnection{
			ConnectionID:   upd.ConnectionID,
			OwnerUserID:    upd.Owner.UserID,
			OwnerChatID:    upd.OwnerChatID,
			OwnerUsername:  upd.Owner.Username,
			OwnerFirstName: upd.Owner.FirstName,
			OwnerLastName:  upd.Owner.LastName,
			LanguageCode:   upd.LanguageCode,
			CanReply:       upd.CanReply,
			IsEnabled:      upd.IsEnabled,
			ConnectedAt:    upd.EventTime,
		}
		if next.ConnectedAt.IsZero() {
			next.ConnectedAt = now
		}
		return next
	}

	next := current
	next.CanReply = upd.CanReply
	if upd.LanguageCode != "" {
		next.LanguageCode = upd.LanguageCode
	}
	if current.IsEnabled && !upd.IsEnabled {
		disconnectedAt := now
		next.DisconnectedAt = &disconnectedAt
	}
	next.IsEnabled = upd.IsEnabled
	return next
}

// newStoredMessage builds the initial record for an observed message.
// Text and caption must already be encrypted by the caller.
func newStoredMessage(in IncomingMessage, encText, encCaption string, now time.Time) StoredMessage {
	messageDate := in.MessageDate
	if messageDate.IsZero() {
		messageDate = now
	}
	return StoredMessage{
		BusinessConnectionID: in.BusinessConnectionID,
		ChatID:               in.ChatID,
		MessageID:            in.MessageID,
		FromUserID:           in.Sender.UserID,
		FromUsername:         in.Sender.Username,
		FromFirstName:        in.Sender.FirstName,
		FromLastName:         in.Sender.LastName,
		EncryptedText:        encText,
		EncryptedCaption:     encCaption,
		MediaKind:            in.MediaKind,
		MediaFileID:          in.MediaFileID,
		MessageDate:          messageDate,
		StoredAt:             now,
		EditCount:            0,
		IsDeleted:            false,
	}
}

// applyEdit produces the post-edit message state and the event recording
// the transition. Old values come from the current record unchanged, so
// ciphertext is never round-tripped through the codec here.
func applyEdit(current StoredMessage, encNewText, encNewCaption string, now time.Time) (StoredMessage, MessageEvent) {
	event := MessageEvent{
		StoredMessageID:     current.ID,
		ChatID:              current.ChatID,
		MessageID:           current.MessageID,
		Type:                EventEdited,
		EncryptedOldText:    current.EncryptedText,
		EncryptedNewText:    encNewText,
		EncryptedOldCaption: current.EncryptedCaption,
		EncryptedNewCaption: encNewCaption,
		EventTime:           now,
	}

	next := current
	next.EncryptedText = encNewText
	next.EncryptedCaption = encNewCaption
	next.EditCount++
	return next, event
}

// applyDelete produces the soft-deleted state and its event. Only the
// "old" snapshots are populated for deletions.
func applyDelete(current StoredMessage, now time.Time) (StoredMessage, MessageEvent) {
	event := MessageEvent{
		StoredMessageID:     current.ID,
		ChatID:              current.ChatID,
		MessageID:           current.MessageID,
		Type:                EventDeleted,
		EncryptedOldText:    current.EncryptedText,
		EncryptedOldCaption: current.EncryptedCaption,
		EventTime:           now,
	}

	next := current
	next.IsDeleted = true
	return next, event
}

func flattenUser(user *models.User) SenderSnapshot {
	if user == nil {
		return SenderSnapshot{}
	}
	return SenderSnapshot{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

func flattenMessage(msg *models.Message) IncomingMessage {
	mediaKind, mediaFileID := extractMedia(msg)

	in := IncomingMessage{
		BusinessConnectionID: msg.BusinessConnectionID,
		ChatID:               msg.Chat.ID,
		MessageID:            msg.ID,
		Sender:               flattenUser(msg.From),
		Text:                 msg.Text,
		Caption:              msg.Caption,
		MediaKind:            mediaKind,
		MediaFileID:          mediaFileID,
	}
	if msg.Date > 0 {
		in.MessageDate = time.Unix(int64(msg.Date), 0).UTC()
	}
	if msg.EditDate > 0 {
		in.EditDate = time.Unix(int64(msg.EditDate), 0).UTC()
	}
	if msg.ReplyToMessage != nil {
		reply := flattenMessage(msg.ReplyToMessage)
		if reply.BusinessConnectionID == "" {
			reply.BusinessConnectionID = msg.BusinessConnectionID
		}
		if reply.ChatID == 0 {
			reply.ChatID = msg.Chat.ID
		}
		in.Reply = &reply
	}
	return in
}

func extractMedia(msg *models.Message) (MediaKind, string) {
	switch {
	case len(msg.Photo) > 0:
		return MediaPhoto, bestPhotoFileID(msg.Photo)
	case msg.Video != nil:
		return MediaVideo, msg.Video.FileID
	case msg.Document != nil:
		return MediaDocument, msg.Document.FileID
	case msg.Voice != nil:
		return MediaVoice, msg.Voice.FileID
	case msg.VideoNote != nil:
		return MediaVideoNote, msg.VideoNote.FileID
	case msg.Audio != nil:
		return MediaAudio, msg.Audio.FileID
	case msg.Sticker != nil:
		return MediaSticker, msg.Sticker.FileID
	case msg.Animation != nil:
		return MediaAnimation, msg.Animation.FileID
	default:
		return MediaNone, ""
	}
}

// bestPhotoFileID picks the highest-quality photo variant: max by declared
// file size, later variants win ties, and the last offered variant when no
// size metadata is present.
func bestPhotoFileID(photos []models.PhotoSize) string {
	if len(photos) == 0 {
		return ""
	}

	sized := lo.Filter(photos, func(p models.PhotoSize, _ int) bool {
		return p.FileSize > 0
	})
	if len(sized) == 0 {
		return photos[len(photos)-1].FileID
	}

	best := lo.MaxBy(sized, func(a, b models.PhotoSize) bool {
		return a.FileSize >= b.FileSize
	})
	return best.FileID
}

// viewOnceCapturable reports whether the replied-to message carries media
// the capture path handles (single-view photo/video/video-note/animation).
func viewOnceCapturable(kind MediaKind) bool {
	switch kind {
	case MediaPhoto, MediaVideo, MediaVideoNote, MediaAnimation:
		return true
	default:
		return false
	}
}
