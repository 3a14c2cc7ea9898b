package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Gateway is the outbound side of the transport. Kept as an interface so
// notification composition is testable without a live bot.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, html string) error
	SendMediaByRef(ctx context.Context, chatID int64, kind MediaKind, fileID, caption string) error
	SendMediaBytes(ctx context.Context, chatID int64, kind MediaKind, filename string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID string, maxBytes int64) (DownloadedFile, error)
}

// Bot API tops out at 50 MB for bot downloads.
const defaultMaxMediaBytes int64 = 50 << 20

type DownloadedFile struct {
	Filename string
	MIME     string
	Data     []byte
}

// TelegramGateway sends through the Bot API with HTML parse mode.
type TelegramGateway struct {
	bot *bot.Bot
}

func NewTelegramGateway(b *bot.Bot) *TelegramGateway {
	return &TelegramGateway{bot: b}
}

func (g *TelegramGateway) SendText(ctx context.Context, chatID int64, html string) error {
	_, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      html,
		ParseMode: models.ParseModeHTML,
	})
	return err
}

// SendMediaByRef forwards media by its Telegram file id. Some references
// (self-destructing media in particular) cannot be re-sent by id; those
// are downloaded and re-uploaded instead.
func (g *TelegramGateway) SendMediaByRef(ctx context.Context, chatID int64, kind MediaKind, fileID, caption string) error {
	err := g.sendMedia(ctx, chatID, kind, &models.InputFileString{Data: fileID}, caption)
	if err == nil || !shouldRetryAsUpload(err) {
		return err
	}

	downloaded, dlErr := g.DownloadFile(ctx, fileID, defaultMaxMediaBytes)
	if dlErr != nil {
		return fmt.Errorf("resend after %v: %w", err, dlErr)
	}
	return g.SendMediaBytes(ctx, chatID, kind, downloaded.Filename, downloaded.Data, caption)
}

func (g *TelegramGateway) SendMediaBytes(ctx context.Context, chatID int64, kind MediaKind, filename string, data []byte, caption string) error {
	if filename == "" {
		filename = defaultFilename(kind)
	}
	upload := &models.InputFileUpload{
		Filename: filename,
		Data:     bytes.NewReader(data),
	}
	return g.sendMedia(ctx, chatID, kind, upload, caption)
}

func (g *TelegramGateway) sendMedia(ctx context.Context, chatID int64, kind MediaKind, file models.InputFile, caption string) error {
	var err error
	switch kind {
	case MediaPhoto:
		_, err = g.bot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:    chatID,
			Photo:     file,
			Caption:   caption,
			ParseMode: models.ParseModeHTML,
		})
	case MediaVideo:
		_, err = g.bot.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:            chatID,
			Video:             file,
			Caption:           caption,
			ParseMode:         models.ParseModeHTML,
			SupportsStreaming: true,
		})
	case MediaAnimation:
		_, err = g.bot.SendAnimation(ctx, &bot.SendAnimationParams{
			ChatID:    chatID,
			Animation: file,
			Caption:   caption,
			ParseMode: models.ParseModeHTML,
		})
	case MediaVideoNote:
		// Video notes carry no caption in the Bot API.
		_, err = g.bot.SendVideoNote(ctx, &bot.SendVideoNoteParams{
			ChatID:    chatID,
			VideoNote: file,
		})
	case MediaVoice:
		_, err = g.bot.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID:    chatID,
			Voice:     file,
			Caption:   caption,
			ParseMode: models.ParseModeHTML,
		})
	case MediaAudio:
		_, err = g.bot.SendAudio(ctx, &bot.SendAudioParams{
			ChatID:    chatID,
			Audio:     file,
			Caption:   caption,
			ParseMode: models.ParseModeHTML,
		})
	case MediaSticker:
		_, err = g.bot.SendSticker(ctx, &bot.SendStickerParams{
			ChatID:  chatID,
			Sticker: file,
		})
	case MediaDocument:
		_, err = g.bot.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:    chatID,
			Document:  file,
			Caption:   caption,
			ParseMode: models.ParseModeHTML,
		})
	default:
		return fmt.Errorf("unsupported media kind: %s", kind)
	}
	return err
}

// DownloadFile fetches the file contents with bounded size and exponential
// backoff on transient failures.
func (g *TelegramGateway) DownloadFile(ctx context.Context, fileID string, maxBytes int64) (DownloadedFile, error) {
	const attempts = 4
	delay := 250 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		file, err := g.downloadOnce(ctx, fileID, maxBytes)
		if err == nil {
			return file, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return DownloadedFile{}, ctx.Err()
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return DownloadedFile{}, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return DownloadedFile{}, lastErr
}

func (g *TelegramGateway) downloadOnce(ctx context.Context, fileID string, maxBytes int64) (DownloadedFile, error) {
	if strings.TrimSpace(fileID) == "" {
		return DownloadedFile{}, fmt.Errorf("empty file id")
	}
	if maxBytes <= 0 {
		return DownloadedFile{}, fmt.Errorf("maxBytes must be positive")
	}

	f, err := g.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return DownloadedFile{}, fmt.Errorf("getFile failed: %w", err)
	}
	if f.FilePath == "" {
		return DownloadedFile{}, fmt.Errorf("telegram returned empty file_path")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.bot.FileDownloadLink(f), nil)
	if err != nil {
		return DownloadedFile{}, fmt.Errorf("create download request failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return DownloadedFile{}, fmt.Errorf("download media failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DownloadedFile{}, fmt.Errorf("download media bad status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return DownloadedFile{}, fmt.Errorf("read media failed: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return DownloadedFile{}, fmt.Errorf("media too large: %d bytes", len(data))
	}

	filename := path.Base(f.FilePath)
	if filename == "." || filename == "/" || filename == "" {
		filename = defaultFilename(MediaNone)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	}
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}

	return DownloadedFile{Filename: filename, MIME: mimeType, Data: data}, nil
}

func shouldRetryAsUpload(err error) bool {
	lowerErr := strings.ToLower(err.Error())
	return strings.Contains(lowerErr, "can't use file of type") ||
		strings.Contains(lowerErr, "selfdestructing")
}

func defaultFilename(kind MediaKind) string {
	switch kind {
	case MediaPhoto:
		return "photo.jpg"
	case MediaVideo, MediaVideoNote:
		return "video.mp4"
	case MediaAnimation:
		return "animation.mp4"
	case MediaVoice:
		return "voice.ogg"
	case MediaAudio:
		return "audio.mp3"
	default:
		return "file.bin"
	}
}
