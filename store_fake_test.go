package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeStore is an in-memory Storage used by handler, notifier and sweeper
// tests. It mirrors the Postgres semantics that matter: insert-once message
// keys, the edit_count guard and events-before-messages purging.
type fakeStore struct {
	mu          sync.Mutex
	connections map[string]BusinessConnection
	messages    map[string]StoredMessage
	events      []MessageEvent
	referrals   map[int64]UserReferral
	nextEventID int64
	nextMsgID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		connections: make(map[string]BusinessConnection),
		messages:    make(map[string]StoredMessage),
		referrals:   make(map[int64]UserReferral),
	}
}

func msgKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func (f *fakeStore) UpsertConnection(_ context.Context, conn BusinessConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections[conn.ConnectionID] = conn
	return nil
}

func (f *fakeStore) ConnectionByID(_ context.Context, connectionID string) (BusinessConnection, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[connectionID]
	return conn, ok, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, msg StoredMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := msgKey(msg.ChatID, msg.MessageID)
	if _, exists := f.messages[key]; exists {
		return false, nil
	}
	f.nextMsgID++
	msg.ID = f.nextMsgID
	f.messages[key] = msg
	return true, nil
}

func (f *fakeStore) GetMessage(_ context.Context, chatID int64, messageID int) (StoredMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[msgKey(chatID, messageID)]
	return msg, ok, nil
}

func (f *fakeStore) GetMessages(_ context.Context, chatID int64, messageIDs []int) ([]StoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []StoredMessage
	for _, id := range messageIDs {
		if msg, ok := f.messages[msgKey(chatID, id)]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordEdit(_ context.Context, next StoredMessage, event MessageEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := msgKey(next.ChatID, next.MessageID)
	current, ok := f.messages[key]
	if !ok || current.EditCount != next.EditCount-1 {
		return 0, ErrStaleRecord
	}

	f.nextEventID++
	event.ID = f.nextEventID
	f.events = append(f.events, event)
	f.messages[key] = next
	return event.ID, nil
}

func (f *fakeStore) RecordDelete(_ context.Context, next StoredMessage, event MessageEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextEventID++
	event.ID = f.nextEventID
	f.events = append(f.events, event)
	f.messages[msgKey(next.ChatID, next.MessageID)] = next
	return event.ID, nil
}

func (f *fakeStore) MarkEventNotified(_ context.Context, eventID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == eventID {
			f.events[i].UserNotified = true
			notifiedAt := at
			f.events[i].NotifiedAt = &notifiedAt
		}
	}
	return nil
}

func (f *fakeStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []MessageEvent
	var removed int64
	for _, e := range f.events {
		if e.EventTime.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.events = kept
	return removed, nil
}

func (f *fakeStore) DeleteMessagesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for key, msg := range f.messages {
		if msg.StoredAt.Before(cutoff) {
			removed++
			delete(f.messages, key)
		}
	}
	return removed, nil
}

func (f *fakeStore) ReferralByUserID(_ context.Context, userID int64) (UserReferral, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[userID]
	return ref, ok, nil
}

func (f *fakeStore) ReferralByCode(_ context.Context, code string) (UserReferral, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.referrals {
		if ref.ReferralCode == code {
			return ref, true, nil
		}
	}
	return UserReferral{}, false, nil
}

func (f *fakeStore) SaveReferral(_ context.Context, ref UserReferral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.referrals[ref.UserID]; exists {
		return nil
	}
	f.referrals[ref.UserID] = ref
	return nil
}

func (f *fakeStore) IncrementReferralCount(_ context.Context, userID int64, premiumThreshold int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[userID]
	if !ok {
		return nil
	}
	ref.ReferralCount++
	if ref.ReferralCount >= premiumThreshold {
		ref.PremiumUnlocked = true
	}
	f.referrals[userID] = ref
	return nil
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeStore) allEvents() []MessageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MessageEvent, len(f.events))
	copy(out, f.events)
	return out
}

var _ Storage = (*fakeStore)(nil)

// fakeGateway records outbound sends for assertions.
type fakeGateway struct {
	mu        sync.Mutex
	texts     []sentText
	media     []sentMedia
	downloads []string
	sendErr   error
	file      DownloadedFile
	fileErr   error
}

type sentText struct {
	ChatID int64
	HTML   string
}

type sentMedia struct {
	ChatID   int64
	Kind     MediaKind
	FileID   string
	Filename string
	Data     []byte
	Caption  string
}

func (g *fakeGateway) SendText(_ context.Context, chatID int64, html string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.texts = append(g.texts, sentText{ChatID: chatID, HTML: html})
	return nil
}

func (g *fakeGateway) SendMediaByRef(_ context.Context, chatID int64, kind MediaKind, fileID, caption string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.media = append(g.media, sentMedia{ChatID: chatID, Kind: kind, FileID: fileID, Caption: caption})
	return nil
}

func (g *fakeGateway) SendMediaBytes(_ context.Context, chatID int64, kind MediaKind, filename string, data []byte, caption string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.media = append(g.media, sentMedia{ChatID: chatID, Kind: kind, Filename: filename, Data: data, Caption: caption})
	return nil
}

func (g *fakeGateway) DownloadFile(_ context.Context, fileID string, _ int64) (DownloadedFile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloads = append(g.downloads, fileID)
	if g.fileErr != nil {
		return DownloadedFile{}, g.fileErr
	}
	return g.file, nil
}

func (g *fakeGateway) sentTexts() []sentText {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sentText, len(g.texts))
	copy(out, g.texts)
	return out
}

func (g *fakeGateway) sentMediaCalls() []sentMedia {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sentMedia, len(g.media))
	copy(out, g.media)
	return out
}

var _ Gateway = (*fakeGateway)(nil)
