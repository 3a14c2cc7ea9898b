package main

// Localizer resolves user-facing strings for notifications and commands.
// Russian covers the CIS language codes, everything else falls back to
// English.
type Localizer struct {
	messages map[string]map[string]string
	fallback string
}

func NewLocalizer(fallback string) *Localizer {
	if _, ok := translations[fallback]; !ok {
		fallback = "en"
	}
	return &Localizer{messages: translations, fallback: fallback}
}

// NormalizeLocale maps a Telegram language code onto a supported locale.
func (l *Localizer) NormalizeLocale(languageCode string) string {
	switch languageCode {
	case "ru", "uk", "be", "kk", "uz":
		return "ru"
	case "en":
		return "en"
	default:
		return l.fallback
	}
}

// Get returns the translation for key in the given locale, falling back to
// the default locale and then to the key itself.
func (l *Localizer) Get(locale, key string) string {
	if msgs, ok := l.messages[locale]; ok {
		if msg, ok := msgs[key]; ok {
			return msg
		}
	}
	if msg, ok := l.messages[l.fallback][key]; ok {
		return msg
	}
	return key
}

// MediaLabel returns the localized human name of a media kind.
func (l *Localizer) MediaLabel(locale string, kind MediaKind) string {
	return l.Get(locale, "media."+string(kind))
}

var translations = map[string]map[string]string{
	"en": {
		"connection.enabled":  "🔌 Connection established. I am now watching your business chats for edits and deletions.",
		"connection.disabled": "🔌 Connection removed. I no longer receive updates from your business chats.",

		"notify.edited":      "✏️ <b>Message edited</b>",
		"notify.deleted":     "🗑 <b>Message deleted</b>",
		"notify.from":        "👤 From",
		"notify.was":         "📜 <b>Was:</b>",
		"notify.became":      "📝 <b>Became:</b>",
		"notify.caption_was": "📜 <b>Caption was:</b>",
		"notify.caption_new": "📝 <b>Caption became:</b>",
		"notify.changes":     "🔀 <b>Changes:</b>",
		"notify.empty":       "(empty)",
		"notify.media":       "📎 Attachment",
		"notify.deleted_media": "📎 Attachment from the deleted message",

		"viewonce.saved":   "👁 <b>View-once media saved</b>",
		"premium.required": "⭐️ Saving view-once media is a premium feature. Send /premium to see how to unlock it.",

		"unknown.sender": "Unknown",

		"media.photo":      "photo",
		"media.video":      "video",
		"media.document":   "document",
		"media.voice":      "voice message",
		"media.video_note": "video note",
		"media.audio":      "audio",
		"media.sticker":    "sticker",
		"media.animation":  "GIF",

		"cmd.start": "👋 Hi! I keep track of edits and deletions in your Telegram Business chats.\n\nConnect me in <b>Settings → Telegram Business → Chatbots</b> and I will notify you here whenever a message is edited or deleted.\n\nSend /help for the full command list.",
		"cmd.help": "Commands:\n/start — short intro\n/premium — premium status\n/referral — your referral link\n/help — this message\n\nTo start tracking, add me as a chatbot in Telegram Business settings.",
		"cmd.premium.active": "⭐️ Premium is active. View-once media you reply to in business chats will be saved.",
		"cmd.premium.locked": "⭐️ Premium is locked. Invite %d more user(s) with your referral link to unlock it. Send /referral to get the link.",
		"cmd.referral":       "🔗 Your referral link:\n%s\n\nInvited so far: %d. Premium unlocks at %d.",
	},
	"ru": {
		"connection.enabled":  "🔌 Подключение установлено. Теперь я отслеживаю изменения и удаления в ваших бизнес-чатах.",
		"connection.disabled": "🔌 Подключение удалено. Я больше не получаю обновления из ваших бизнес-чатов.",

		"notify.edited":      "✏️ <b>Сообщение изменено</b>",
		"notify.deleted":     "🗑 <b>Сообщение удалено</b>",
		"notify.from":        "👤 От",
		"notify.was":         "📜 <b>Было:</b>",
		"notify.became":      "📝 <b>Стало:</b>",
		"notify.caption_was": "📜 <b>Подпись была:</b>",
		"notify.caption_new": "📝 <b>Подпись стала:</b>",
		"notify.changes":     "🔀 <b>Изменения:</b>",
		"notify.empty":       "(пусто)",
		"notify.media":       "📎 Вложение",
		"notify.deleted_media": "📎 Вложение из удалённого сообщения",

		"viewonce.saved":   "👁 <b>Одноразовое медиа сохранено</b>",
		"premium.required": "⭐️ Сохранение одноразовых медиа доступно только в премиуме. Отправьте /premium, чтобы узнать, как его получить.",

		"unknown.sender": "Неизвестный",

		"media.photo":      "фото",
		"media.video":      "видео",
		"media.document":   "документ",
		"media.voice":      "голосовое сообщение",
		"media.video_note": "видеосообщение",
		"media.audio":      "аудио",
		"media.sticker":    "стикер",
		"media.animation":  "GIF",

		"cmd.start": "👋 Привет! Я отслеживаю изменения и удаления сообщений в ваших чатах Telegram Business.\n\nПодключите меня в <b>Настройки → Telegram Business → Чат-боты</b>, и я буду присылать сюда уведомления о каждом изменённом или удалённом сообщении.\n\nОтправьте /help для списка команд.",
		"cmd.help": "Команды:\n/start — краткое описание\n/premium — статус премиума\n/referral — ваша реферальная ссылка\n/help — это сообщение\n\nЧтобы начать отслеживание, добавьте меня как чат-бота в настройках Telegram Business.",
		"cmd.premium.active": "⭐️ Премиум активен. Одноразовые медиа, на которые вы отвечаете в бизнес-чатах, будут сохраняться.",
		"cmd.premium.locked": "⭐️ Премиум не активен. Пригласите ещё %d пользователя(ей) по своей реферальной ссылке, чтобы открыть его. Отправьте /referral, чтобы получить ссылку.",
		"cmd.referral":       "🔗 Ваша реферальная ссылка:\n%s\n\nПриглашено: %d. Премиум открывается после %d.",
	},
}
