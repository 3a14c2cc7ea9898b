package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	cipher, err := NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("failed to init cipher: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store, err := NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	loc := NewLocalizer(cfg.DefaultLocale)
	referrals := NewReferralService(store, cfg.AdminUserIDs)

	// The dispatcher needs the bot-backed gateway and the bot needs the
	// dispatch handler; polling only begins at Start, so assigning the
	// dispatcher after bot.New is safe.
	var dispatcher *Dispatcher

	opts := []bot.Option{
		bot.WithAllowedUpdates(bot.AllowedUpdates{
			models.AllowedUpdateMessage,
			models.AllowedUpdateBusinessConnection,
			models.AllowedUpdateBusinessMessage,
			models.AllowedUpdateEditedBusinessMessage,
			models.AllowedUpdateDeletedBusinessMessages,
		}),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			dispatcher.Dispatch(ctx, update)
		}),
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		log.Fatalf("failed to init bot: %v", err)
	}

	gateway := NewTelegramGateway(b)
	notifier := NewNotifier(store, gateway, loc, cfg.NotifyQueueSize, cfg.MediaMaxBytes())
	handlers := NewHandlers(store, cipher, notifier, referrals, gateway, loc, cfg.BotUsername)
	dispatcher = NewDispatcher(handlers, cfg.DedupCapacity, time.Duration(cfg.DedupWindowMin)*time.Minute)

	notifier.Start(ctx, cfg.NotifyWorkers)

	sweeper := NewRetentionSweeper(store, time.Duration(cfg.RetentionDays)*24*time.Hour)
	go sweeper.Start(ctx, time.Duration(cfg.SweepIntervalHours)*time.Hour)

	log.Printf("starting @%s", cfg.BotUsername)
	b.Start(ctx)

	notifier.Stop()
}
