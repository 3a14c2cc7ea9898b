package main

import (
	"context"
	"fmt"
	"strings"
)

// HandleCommand serves direct chat commands. Unknown commands get the help
// text rather than silence.
func (h *Handlers) HandleCommand(ctx context.Context, cmd CommandMessage) error {
	locale := h.loc.NormalizeLocale(cmd.LanguageCode)

	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(strings.TrimSuffix(fields[0], "@"+h.botUsername))

	switch name {
	case "/start":
		payload := ""
		if len(fields) > 1 {
			payload = fields[1]
		}
		return h.cmdStart(ctx, cmd, locale, payload)
	case "/help":
		return h.gateway.SendText(ctx, cmd.ChatID, h.loc.Get(locale, "cmd.help"))
	case "/premium":
		return h.cmdPremium(ctx, cmd, locale)
	case "/referral":
		return h.cmdReferral(ctx, cmd, locale)
	default:
		return h.gateway.SendText(ctx, cmd.ChatID, h.loc.Get(locale, "cmd.help"))
	}
}

func (h *Handlers) cmdStart(ctx context.Context, cmd CommandMessage, locale, payload string) error {
	if err := h.referrals.ProcessStart(ctx, cmd.Sender.UserID, payload); err != nil {
		return fmt.Errorf("process start for %d: %w", cmd.Sender.UserID, err)
	}
	return h.gateway.SendText(ctx, cmd.ChatID, h.loc.Get(locale, "cmd.start"))
}

func (h *Handlers) cmdPremium(ctx context.Context, cmd CommandMessage, locale string) error {
	if h.referrals.HasPremiumAccess(ctx, cmd.Sender.UserID) {
		return h.gateway.SendText(ctx, cmd.ChatID, h.loc.Get(locale, "cmd.premium.active"))
	}

	ref, err := h.referrals.GetOrCreate(ctx, cmd.Sender.UserID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf(h.loc.Get(locale, "cmd.premium.locked"), h.referrals.ReferralsNeeded(ref))
	return h.gateway.SendText(ctx, cmd.ChatID, text)
}

func (h *Handlers) cmdReferral(ctx context.Context, cmd CommandMessage, locale string) error {
	ref, err := h.referrals.GetOrCreate(ctx, cmd.Sender.UserID)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("https://t.me/%s?start=ref_%s", h.botUsername, ref.ReferralCode)
	text := fmt.Sprintf(h.loc.Get(locale, "cmd.referral"), link, ref.ReferralCount, referralsForPremium)
	return h.gateway.SendText(ctx, cmd.ChatID, text)
}
