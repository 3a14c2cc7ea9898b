package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
)

// updateHandlers is what the dispatcher routes into. Split out as an
// interface so dispatch semantics are testable without the real pipeline.
type updateHandlers interface {
	HandleConnection(ctx context.Context, upd ConnectionUpdate) error
	HandleMessage(ctx context.Context, in IncomingMessage) error
	HandleEdited(ctx context.Context, in IncomingMessage) error
	HandleDeleted(ctx context.Context, connectionID string, chatID int64, messageIDs []int) error
	HandleCommand(ctx context.Context, cmd CommandMessage) error
}

// CommandMessage is a direct (non-business) message to the bot itself.
type CommandMessage struct {
	ChatID       int64
	Sender       SenderSnapshot
	Text         string
	LanguageCode string
}

// Dispatcher deduplicates inbound updates and routes each one to exactly
// one handler. Classification is first-match: connection lifecycle, new
// message, edit, delete batch, direct command.
type Dispatcher struct {
	handlers updateHandlers
	dedup    *dedupWindow
}

func NewDispatcher(handlers updateHandlers, dedupCapacity int, dedupWindowDur time.Duration) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		dedup:    newDedupWindow(dedupCapacity, dedupWindowDur),
	}
}

// Dispatch processes one transport update. The transport redelivers
// (at-least-once); the dedup window makes handling at-most-once. A failing
// handler only loses its own update.
func (d *Dispatcher) Dispatch(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}
	if !d.dedup.CheckAndMark(update.ID, time.Now()) {
		log.Printf("dispatch: duplicate update %d dropped", update.ID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: update %d panicked: %v", update.ID, r)
		}
	}()

	var err error
	switch {
	case update.BusinessConnection != nil:
		bc := update.BusinessConnection
		upd := ConnectionUpdate{
			ConnectionID: bc.ID,
			Owner:        flattenUser(&bc.User),
			OwnerChatID:  bc.UserChatID,
			LanguageCode: bc.User.LanguageCode,
			CanReply:     bc.Rights != nil && bc.Rights.CanReply,
			IsEnabled:    bc.IsEnabled,
		}
		if bc.Date > 0 {
			upd.EventTime = time.Unix(int64(bc.Date), 0).UTC()
		}
		err = d.handlers.HandleConnection(ctx, upd)

	case update.BusinessMessage != nil:
		err = d.handlers.HandleMessage(ctx, flattenMessage(update.BusinessMessage))

	case update.EditedBusinessMessage != nil:
		err = d.handlers.HandleEdited(ctx, flattenMessage(update.EditedBusinessMessage))

	case update.DeletedBusinessMessages != nil:
		deleted := update.DeletedBusinessMessages
		err = d.handlers.HandleDeleted(ctx, deleted.BusinessConnectionID, deleted.Chat.ID, deleted.MessageIDs)

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || !strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			return
		}
		cmd := CommandMessage{
			ChatID:       msg.Chat.ID,
			Sender:       flattenUser(msg.From),
			Text:         strings.TrimSpace(msg.Text),
			LanguageCode: msg.From.LanguageCode,
		}
		err = d.handlers.HandleCommand(ctx, cmd)

	default:
		log.Printf("dispatch: update %d carries no recognized payload, dropped", update.ID)
		return
	}

	if err != nil {
		log.Printf("dispatch: update %d failed: %v", update.ID, err)
	}
}

// dedupWindow is a bounded set of recently processed update ids. Entries
// expire after the window and the oldest entry is evicted at capacity, so
// a redelivered id is only reprocessed once it has genuinely aged out.
type dedupWindow struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	order    []dedupEntry
	seen     map[int64]struct{}
}

type dedupEntry struct {
	id     int64
	seenAt time.Time
}

func newDedupWindow(capacity int, window time.Duration) *dedupWindow {
	if capacity <= 0 {
		capacity = 4096
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &dedupWindow{
		capacity: capacity,
		window:   window,
		order:    make([]dedupEntry, 0, capacity),
		seen:     make(map[int64]struct{}, capacity),
	}
}

// CheckAndMark reports whether the id is new and marks it in one atomic
// step.
func (w *dedupWindow) CheckAndMark(id int64, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(now)

	if _, dup := w.seen[id]; dup {
		return false
	}

	if len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest.id)
	}

	w.order = append(w.order, dedupEntry{id: id, seenAt: now})
	w.seen[id] = struct{}{}
	return true
}

func (w *dedupWindow) expire(now time.Time) {
	cutoff := now.Add(-w.window)
	for len(w.order) > 0 && w.order[0].seenAt.Before(cutoff) {
		delete(w.seen, w.order[0].id)
		w.order = w.order[1:]
	}
}

func (w *dedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

// keyLocks serializes edit/delete/create handling for one
// (chatId, messageId) key while different keys proceed in parallel.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for a message key and returns its unlock func.
// Entries are reference-counted so the map does not grow with every key
// ever seen.
func (kl *keyLocks) Lock(chatID int64, messageID int) func() {
	key := fmt.Sprintf("%d:%d", chatID, messageID)

	kl.mu.Lock()
	entry, ok := kl.locks[key]
	if !ok {
		entry = &lockEntry{}
		kl.locks[key] = entry
	}
	entry.refs++
	kl.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		kl.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(kl.locks, key)
		}
		kl.mu.Unlock()
	}
}
