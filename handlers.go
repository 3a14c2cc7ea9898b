package main

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Handlers implements the per-update-kind pipeline: gate on the connection
// registry, mutate the message store, then hand composed work to the
// notifier. Every mutation commits before its notification is enqueued.
type Handlers struct {
	store       Storage
	cipher      *Cipher
	notifier    *Notifier
	referrals   *ReferralService
	gateway     Gateway
	loc         *Localizer
	locks       *keyLocks
	botUsername string
}

var _ updateHandlers = (*Handlers)(nil)

func NewHandlers(store Storage, cipher *Cipher, notifier *Notifier, referrals *ReferralService, gateway Gateway, loc *Localizer, botUsername string) *Handlers {
	return &Handlers{
		store:       store,
		cipher:      cipher,
		notifier:    notifier,
		referrals:   referrals,
		gateway:     gateway,
		loc:         loc,
		locks:       newKeyLocks(),
		botUsername: botUsername,
	}
}

func (h *Handlers) HandleConnection(ctx context.Context, upd ConnectionUpdate) error {
	if upd.ConnectionID == "" {
		return fmt.Errorf("connection update without id")
	}

	now := time.Now().UTC()
	current, exists, err := h.store.ConnectionByID(ctx, upd.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection %s: %w", upd.ConnectionID, err)
	}

	next := applyConnectionUpdate(current, exists, upd, now)
	if err := h.store.UpsertConnection(ctx, next); err != nil {
		return fmt.Errorf("upsert connection %s: %w", upd.ConnectionID, err)
	}

	log.Printf("connection %s: enabled=%v owner=%d", next.ConnectionID, next.IsEnabled, next.OwnerUserID)
	h.notifier.ConnectionChanged(next)
	return nil
}

// HandleMessage stores a freshly observed business message and, when the
// owner replies to single-view media, runs the ephemeral capture path.
func (h *Handlers) HandleMessage(ctx context.Context, in IncomingMessage) error {
	if in.BusinessConnectionID == "" {
		return nil
	}

	conn, ok, err := h.store.ConnectionByID(ctx, in.BusinessConnectionID)
	if err != nil {
		return fmt.Errorf("load connection %s: %w", in.BusinessConnectionID, err)
	}
	if !ok || !conn.IsEnabled {
		return nil
	}

	encText, err := h.cipher.EncryptText(in.Text)
	if err != nil {
		return fmt.Errorf("encrypt text: %w", err)
	}
	encCaption, err := h.cipher.EncryptText(in.Caption)
	if err != nil {
		return fmt.Errorf("encrypt caption: %w", err)
	}

	unlock := h.locks.Lock(in.ChatID, in.MessageID)
	_, err = h.store.SaveMessage(ctx, newStoredMessage(in, encText, encCaption, time.Now().UTC()))
	unlock()
	if err != nil {
		return fmt.Errorf("save message %d/%d: %w", in.ChatID, in.MessageID, err)
	}

	if in.Sender.UserID == conn.OwnerUserID && in.Reply != nil && viewOnceCapturable(in.Reply.MediaKind) {
		return h.captureEphemeral(ctx, conn, *in.Reply)
	}
	return nil
}

// captureEphemeral persists single-view media the owner replied to.
// Capture is a creation, not a transition: no event is appended, and a
// replay for an already-stored key is a clean no-op.
func (h *Handlers) captureEphemeral(ctx context.Context, conn BusinessConnection, reply IncomingMessage) error {
	if !h.referrals.HasPremiumAccess(ctx, conn.OwnerUserID) {
		h.notifier.PremiumRequired(conn)
		return nil
	}
	if reply.MediaFileID == "" {
		log.Printf("capture skipped: no media file id for %d/%d", reply.ChatID, reply.MessageID)
		return nil
	}

	encCaption, err := h.cipher.EncryptText(reply.Caption)
	if err != nil {
		return fmt.Errorf("encrypt capture caption: %w", err)
	}

	unlock := h.locks.Lock(reply.ChatID, reply.MessageID)
	defer unlock()

	msg := newStoredMessage(reply, "", encCaption, time.Now().UTC())
	inserted, err := h.store.SaveMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("save captured message %d/%d: %w", reply.ChatID, reply.MessageID, err)
	}
	if !inserted {
		log.Printf("capture replay for %d/%d, already handled", reply.ChatID, reply.MessageID)
		return nil
	}

	log.Printf("captured view-once %s for %d/%d", msg.MediaKind, reply.ChatID, reply.MessageID)
	h.notifier.ViewOnceSaved(conn, msg, reply.Caption)
	return nil
}

func (h *Handlers) HandleEdited(ctx context.Context, in IncomingMessage) error {
	if in.BusinessConnectionID == "" {
		return nil
	}

	conn, ok, err := h.store.ConnectionByID(ctx, in.BusinessConnectionID)
	if err != nil {
		return fmt.Errorf("load connection %s: %w", in.BusinessConnectionID, err)
	}
	if !ok || !conn.IsEnabled {
		return nil
	}

	unlock := h.locks.Lock(in.ChatID, in.MessageID)
	defer unlock()

	current, found, err := h.store.GetMessage(ctx, in.ChatID, in.MessageID)
	if err != nil {
		return fmt.Errorf("load message %d/%d: %w", in.ChatID, in.MessageID, err)
	}
	if !found {
		// Never observed before the connection was granted; the previous
		// state cannot be reconstructed, so there is nothing to record.
		log.Printf("edit for unknown message %d/%d dropped", in.ChatID, in.MessageID)
		return nil
	}
	if current.FromUserID == conn.OwnerUserID {
		return nil
	}

	oldText, err := h.cipher.DecryptText(current.EncryptedText)
	if err != nil {
		return fmt.Errorf("decrypt old text %d/%d: %w", in.ChatID, in.MessageID, err)
	}
	oldCaption, err := h.cipher.DecryptText(current.EncryptedCaption)
	if err != nil {
		return fmt.Errorf("decrypt old caption %d/%d: %w", in.ChatID, in.MessageID, err)
	}

	encNewText, err := h.cipher.EncryptText(in.Text)
	if err != nil {
		return fmt.Errorf("encrypt new text: %w", err)
	}
	encNewCaption, err := h.cipher.EncryptText(in.Caption)
	if err != nil {
		return fmt.Errorf("encrypt new caption: %w", err)
	}

	next, event := applyEdit(current, encNewText, encNewCaption, time.Now().UTC())
	eventID, err := h.store.RecordEdit(ctx, next, event)
	if err != nil {
		return fmt.Errorf("record edit %d/%d: %w", in.ChatID, in.MessageID, err)
	}

	log.Printf("edit recorded for %d/%d, edit_count=%d", in.ChatID, in.MessageID, next.EditCount)
	h.notifier.MessageEdited(conn, next, eventID, oldText, in.Text, oldCaption, in.Caption)
	return nil
}

func (h *Handlers) HandleDeleted(ctx context.Context, connectionID string, chatID int64, messageIDs []int) error {
	if connectionID == "" {
		return nil
	}

	conn, ok, err := h.store.ConnectionByID(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("load connection %s: %w", connectionID, err)
	}
	if !ok || !conn.IsEnabled {
		return nil
	}

	matches, err := h.store.GetMessages(ctx, chatID, messageIDs)
	if err != nil {
		return fmt.Errorf("load deleted batch %d: %w", chatID, err)
	}
	if len(matches) == 0 {
		return nil
	}

	for _, match := range matches {
		if match.FromUserID == conn.OwnerUserID {
			continue
		}
		if err := h.deleteOne(ctx, conn, match.ChatID, match.MessageID); err != nil {
			log.Printf("delete of %d/%d failed: %v", match.ChatID, match.MessageID, err)
		}
	}
	return nil
}

func (h *Handlers) deleteOne(ctx context.Context, conn BusinessConnection, chatID int64, messageID int) error {
	unlock := h.locks.Lock(chatID, messageID)
	defer unlock()

	// Re-read under the key lock: a concurrent edit between the batch load
	// and here must not leak a stale snapshot into the event.
	current, found, err := h.store.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if !found || current.IsDeleted {
		return nil
	}

	oldText, err := h.cipher.DecryptText(current.EncryptedText)
	if err != nil {
		return fmt.Errorf("decrypt text: %w", err)
	}
	oldCaption, err := h.cipher.DecryptText(current.EncryptedCaption)
	if err != nil {
		return fmt.Errorf("decrypt caption: %w", err)
	}

	next, event := applyDelete(current, time.Now().UTC())
	eventID, err := h.store.RecordDelete(ctx, next, event)
	if err != nil {
		return fmt.Errorf("record delete: %w", err)
	}

	log.Printf("delete recorded for %d/%d", chatID, messageID)
	h.notifier.MessageDeleted(conn, next, eventID, oldText, oldCaption)
	return nil
}
