package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func command(text string) CommandMessage {
	return CommandMessage{
		ChatID:       10,
		Sender:       SenderSnapshot{UserID: 10, FirstName: "Owner"},
		Text:         text,
		LanguageCode: "en",
	}
}

func TestHandleCommand_StartRepliesAndRegisters(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handlers.HandleCommand(ctx, command("/start")))

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0].HTML, "Telegram Business")

	_, ok, err := f.store.ReferralByUserID(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHandleCommand_StartWithReferralPayloadCredits(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	referrer, err := f.handlers.referrals.GetOrCreate(ctx, 500)
	require.NoError(t, err)

	cmd := command("/start ref_" + referrer.ReferralCode)
	require.NoError(t, f.handlers.HandleCommand(ctx, cmd))

	ref, _, err := f.store.ReferralByUserID(ctx, 500)
	require.NoError(t, err)
	require.Equal(t, 1, ref.ReferralCount)
}

func TestHandleCommand_PremiumLockedShowsRemaining(t *testing.T) {
	f := newHandlerFixture(t)

	require.NoError(t, f.handlers.HandleCommand(context.Background(), command("/premium")))

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0].HTML, "3")
	require.Contains(t, texts[0].HTML, "/referral")
}

func TestHandleCommand_PremiumActiveForAdmin(t *testing.T) {
	f := newHandlerFixture(t)

	cmd := command("/premium")
	cmd.Sender.UserID = 999 // fixture admin
	require.NoError(t, f.handlers.HandleCommand(context.Background(), cmd))

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0].HTML, "Premium is active")
}

func TestHandleCommand_ReferralLinkCarriesCode(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handlers.HandleCommand(ctx, command("/referral")))

	ref, _, err := f.store.ReferralByUserID(ctx, 10)
	require.NoError(t, err)

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0].HTML, "https://t.me/sentinel_bot?start=ref_"+ref.ReferralCode)
}

func TestHandleCommand_UnknownCommandGetsHelp(t *testing.T) {
	f := newHandlerFixture(t)

	require.NoError(t, f.handlers.HandleCommand(context.Background(), command("/bogus")))

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0].HTML, "/help")
}

func TestHandleCommand_MentionSuffixStripped(t *testing.T) {
	f := newHandlerFixture(t)

	require.NoError(t, f.handlers.HandleCommand(context.Background(), command("/start@sentinel_bot")))

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0].HTML, "Telegram Business")
}

func TestHandleCommand_RussianLocale(t *testing.T) {
	f := newHandlerFixture(t)

	cmd := command("/start")
	cmd.LanguageCode = "uk"
	require.NoError(t, f.handlers.HandleCommand(context.Background(), cmd))

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0].HTML, "Привет")
}
