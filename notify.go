package main

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"time"
)

// maxContentRunes caps how much of a message body a notification quotes.
const maxContentRunes = 1000

const notifySendTimeout = 30 * time.Second

type notifyKind int

const (
	notifyConnection notifyKind = iota
	notifyEdited
	notifyDeleted
	notifyViewOnce
	notifyPremium
)

type notifyJob struct {
	kind       notifyKind
	conn       BusinessConnection
	msg        StoredMessage
	eventID    int64
	oldText    string
	newText    string
	oldCaption string
	newCaption string
	caption    string
}

// Notifier delivers owner notifications through a bounded queue and a fixed
// worker pool. Enqueueing never blocks a handler: when the queue is full
// the job is dropped and logged. Store mutations are already committed by
// the time a job exists, so a dropped notification loses nothing durable.
type Notifier struct {
	store         Storage
	gateway       Gateway
	loc           *Localizer
	jobs          chan notifyJob
	wg            sync.WaitGroup
	maxMediaBytes int64
}

func NewNotifier(store Storage, gateway Gateway, loc *Localizer, queueSize int, maxMediaBytes int64) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	if maxMediaBytes <= 0 {
		maxMediaBytes = defaultMaxMediaBytes
	}
	return &Notifier{
		store:         store,
		gateway:       gateway,
		loc:           loc,
		jobs:          make(chan notifyJob, queueSize),
		maxMediaBytes: maxMediaBytes,
	}
}

func (n *Notifier) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for job := range n.jobs {
				n.process(ctx, job)
			}
		}()
	}
}

// Stop drains the queue and waits for in-flight jobs.
func (n *Notifier) Stop() {
	close(n.jobs)
	n.wg.Wait()
}

func (n *Notifier) ConnectionChanged(conn BusinessConnection) {
	n.enqueue(notifyJob{kind: notifyConnection, conn: conn})
}

func (n *Notifier) MessageEdited(conn BusinessConnection, msg StoredMessage, eventID int64, oldText, newText, oldCaption, newCaption string) {
	n.enqueue(notifyJob{
		kind:       notifyEdited,
		conn:       conn,
		msg:        msg,
		eventID:    eventID,
		oldText:    oldText,
		newText:    newText,
		oldCaption: oldCaption,
		newCaption: newCaption,
	})
}

func (n *Notifier) MessageDeleted(conn BusinessConnection, msg StoredMessage, eventID int64, oldText, oldCaption string) {
	n.enqueue(notifyJob{
		kind:       notifyDeleted,
		conn:       conn,
		msg:        msg,
		eventID:    eventID,
		oldText:    oldText,
		oldCaption: oldCaption,
	})
}

func (n *Notifier) ViewOnceSaved(conn BusinessConnection, msg StoredMessage, caption string) {
	n.enqueue(notifyJob{kind: notifyViewOnce, conn: conn, msg: msg, caption: caption})
}

func (n *Notifier) PremiumRequired(conn BusinessConnection) {
	n.enqueue(notifyJob{kind: notifyPremium, conn: conn})
}

func (n *Notifier) enqueue(job notifyJob) {
	select {
	case n.jobs <- job:
	default:
		log.Printf("notify: queue full, dropping %v notification for connection %s", job.kind, job.conn.ConnectionID)
	}
}

func (n *Notifier) process(ctx context.Context, job notifyJob) {
	ctx, cancel := context.WithTimeout(ctx, notifySendTimeout)
	defer cancel()

	locale := n.loc.NormalizeLocale(job.conn.LanguageCode)

	var text string
	switch job.kind {
	case notifyConnection:
		text = composeConnection(n.loc, locale, job.conn.IsEnabled)
	case notifyEdited:
		text = composeEdited(n.loc, locale, job.msg, job.oldText, job.newText, job.oldCaption, job.newCaption)
	case notifyDeleted:
		text = composeDeleted(n.loc, locale, job.msg, job.oldText, job.oldCaption)
	case notifyViewOnce:
		text = composeViewOnce(n.loc, locale, job.msg, job.caption)
	case notifyPremium:
		text = n.loc.Get(locale, "premium.required")
	default:
		return
	}

	if err := n.gateway.SendText(ctx, job.conn.OwnerChatID, text); err != nil {
		log.Printf("notify: send to %d failed, dropping: %v", job.conn.OwnerChatID, err)
		return
	}

	if job.eventID > 0 {
		if err := n.store.MarkEventNotified(ctx, job.eventID, time.Now().UTC()); err != nil {
			log.Printf("notify: mark event %d notified failed: %v", job.eventID, err)
		}
	}

	switch job.kind {
	case notifyDeleted:
		n.sendDeletedMedia(ctx, locale, job)
	case notifyViewOnce:
		n.sendCapturedMedia(ctx, job)
	}
}

// sendDeletedMedia forwards the deleted message's attachment in a second
// send. Delivery failure here never unwinds the text notification.
func (n *Notifier) sendDeletedMedia(ctx context.Context, locale string, job notifyJob) {
	if job.msg.MediaKind == MediaNone || job.msg.MediaFileID == "" {
		return
	}
	caption := n.loc.Get(locale, "notify.deleted_media")
	if err := n.gateway.SendMediaByRef(ctx, job.conn.OwnerChatID, job.msg.MediaKind, job.msg.MediaFileID, caption); err != nil {
		log.Printf("notify: deleted media for %d/%d failed: %v", job.msg.ChatID, job.msg.MessageID, err)
	}
}

// sendCapturedMedia re-uploads view-once media by raw bytes. The original
// file id is single-view and cannot be re-sent by reference.
func (n *Notifier) sendCapturedMedia(ctx context.Context, job notifyJob) {
	if job.msg.MediaFileID == "" {
		return
	}
	downloaded, err := n.gateway.DownloadFile(ctx, job.msg.MediaFileID, n.maxMediaBytes)
	if err != nil {
		log.Printf("notify: download captured media %d/%d failed: %v", job.msg.ChatID, job.msg.MessageID, err)
		return
	}
	caption := truncateContent(job.caption)
	if err := n.gateway.SendMediaBytes(ctx, job.conn.OwnerChatID, job.msg.MediaKind, downloaded.Filename, downloaded.Data, html.EscapeString(caption)); err != nil {
		log.Printf("notify: captured media for %d/%d failed: %v", job.msg.ChatID, job.msg.MessageID, err)
	}
}

func composeConnection(loc *Localizer, locale string, enabled bool) string {
	if enabled {
		return loc.Get(locale, "connection.enabled")
	}
	return loc.Get(locale, "connection.disabled")
}

func composeEdited(loc *Localizer, locale string, msg StoredMessage, oldText, newText, oldCaption, newCaption string) string {
	var b strings.Builder
	b.WriteString(loc.Get(locale, "notify.edited"))
	b.WriteString("\n")
	writeSenderLine(&b, loc, locale, msg)

	if oldText != newText {
		b.WriteString("\n\n")
		b.WriteString(loc.Get(locale, "notify.was"))
		b.WriteString("\n")
		b.WriteString(formatContent(loc, locale, oldText))
		b.WriteString("\n\n")
		b.WriteString(loc.Get(locale, "notify.became"))
		b.WriteString("\n")
		b.WriteString(formatContent(loc, locale, newText))

		if highlight, ok := inlineDiff(truncateContent(oldText), truncateContent(newText)); ok {
			b.WriteString("\n\n")
			b.WriteString(loc.Get(locale, "notify.changes"))
			b.WriteString("\n")
			b.WriteString(highlight)
		}
	}

	if oldCaption != newCaption {
		b.WriteString("\n\n")
		b.WriteString(loc.Get(locale, "notify.caption_was"))
		b.WriteString("\n")
		b.WriteString(formatContent(loc, locale, oldCaption))
		b.WriteString("\n\n")
		b.WriteString(loc.Get(locale, "notify.caption_new"))
		b.WriteString("\n")
		b.WriteString(formatContent(loc, locale, newCaption))
	}

	return b.String()
}

func composeDeleted(loc *Localizer, locale string, msg StoredMessage, oldText, oldCaption string) string {
	var b strings.Builder
	b.WriteString(loc.Get(locale, "notify.deleted"))
	b.WriteString("\n")
	writeSenderLine(&b, loc, locale, msg)

	if msg.MediaKind != MediaNone {
		b.WriteString("\n")
		b.WriteString(loc.Get(locale, "notify.media"))
		b.WriteString(": ")
		b.WriteString(loc.MediaLabel(locale, msg.MediaKind))
	}

	content := oldText
	if content == "" {
		content = oldCaption
	}
	b.WriteString("\n\n")
	b.WriteString(loc.Get(locale, "notify.was"))
	b.WriteString("\n")
	b.WriteString(formatContent(loc, locale, content))

	return b.String()
}

func composeViewOnce(loc *Localizer, locale string, msg StoredMessage, caption string) string {
	var b strings.Builder
	b.WriteString(loc.Get(locale, "viewonce.saved"))
	b.WriteString("\n")
	writeSenderLine(&b, loc, locale, msg)
	b.WriteString("\n")
	b.WriteString(loc.Get(locale, "notify.media"))
	b.WriteString(": ")
	b.WriteString(loc.MediaLabel(locale, msg.MediaKind))
	if caption != "" {
		b.WriteString("\n\n")
		b.WriteString(formatContent(loc, locale, caption))
	}
	return b.String()
}

func writeSenderLine(b *strings.Builder, loc *Localizer, locale string, msg StoredMessage) {
	b.WriteString(loc.Get(locale, "notify.from"))
	b.WriteString(": ")
	b.WriteString(html.EscapeString(senderDisplayName(loc, locale, msg)))
}

// senderDisplayName uses the creation-time identity snapshot: real name
// first, then username, then a localized placeholder.
func senderDisplayName(loc *Localizer, locale string, msg StoredMessage) string {
	name := strings.TrimSpace(msg.FromFirstName + " " + msg.FromLastName)
	if name != "" {
		if msg.FromUsername != "" {
			return fmt.Sprintf("%s (@%s)", name, msg.FromUsername)
		}
		return name
	}
	if msg.FromUsername != "" {
		return "@" + msg.FromUsername
	}
	return loc.Get(locale, "unknown.sender")
}

// formatContent escapes, truncates, and substitutes the empty marker.
func formatContent(loc *Localizer, locale, content string) string {
	if content == "" {
		return loc.Get(locale, "notify.empty")
	}
	return html.EscapeString(truncateContent(content))
}

func truncateContent(content string) string {
	runes := []rune(content)
	if len(runes) <= maxContentRunes {
		return content
	}
	return string(runes[:maxContentRunes]) + "…"
}
