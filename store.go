package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStaleRecord means a RecordEdit lost the edit_count compare-and-update.
// The dispatcher serializes per key, so seeing this in practice points at a
// second process writing the same rows.
var ErrStaleRecord = errors.New("stored message changed concurrently")

// Storage is the durable keyed store for connections, messages, events and
// referrals. The Postgres implementation lives below; tests run against an
// in-memory fake.
type Storage interface {
	UpsertConnection(ctx context.Context, conn BusinessConnection) error
	ConnectionByID(ctx context.Context, connectionID string) (BusinessConnection, bool, error)

	SaveMessage(ctx context.Context, msg StoredMessage) (bool, error)
	GetMessage(ctx context.Context, chatID int64, messageID int) (StoredMessage, bool, error)
	GetMessages(ctx context.Context, chatID int64, messageIDs []int) ([]StoredMessage, error)

	RecordEdit(ctx context.Context, next StoredMessage, event MessageEvent) (int64, error)
	RecordDelete(ctx context.Context, next StoredMessage, event MessageEvent) (int64, error)
	MarkEventNotified(ctx context.Context, eventID int64, at time.Time) error

	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ReferralByUserID(ctx context.Context, userID int64) (UserReferral, bool, error)
	ReferralByCode(ctx context.Context, code string) (UserReferral, bool, error)
	SaveReferral(ctx context.Context, ref UserReferral) error
	IncrementReferralCount(ctx context.Context, userID int64, premiumThreshold int) error
}

type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Storage = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

func (ps *PostgresStore) Close() {
	if ps != nil && ps.db != nil {
		ps.db.Close()
	}
}

func (ps *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS business_connections (
			connection_id TEXT PRIMARY KEY,
			owner_user_id BIGINT NOT NULL,
			owner_chat_id BIGINT NOT NULL,
			owner_username TEXT,
			owner_first_name TEXT,
			owner_last_name TEXT,
			language_code TEXT,
			can_reply BOOLEAN NOT NULL DEFAULT FALSE,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			connected_at TIMESTAMPTZ NOT NULL,
			disconnected_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS stored_messages (
			id BIGSERIAL PRIMARY KEY,
			business_connection_id TEXT NOT NULL,
			chat_id BIGINT NOT NULL,
			message_id INT NOT NULL,
			from_user_id BIGINT,
			from_username TEXT,
			from_first_name TEXT,
			from_last_name TEXT,
			encrypted_text TEXT,
			encrypted_caption TEXT,
			media_kind TEXT NOT NULL DEFAULT 'none',
			media_file_id TEXT,
			message_date TIMESTAMPTZ NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			edit_count INT NOT NULL DEFAULT 0,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (chat_id, message_id)
		)`,
		// No FK to stored_messages: the sweeper deletes the two tables
		// independently, events first.
		`CREATE TABLE IF NOT EXISTS message_events (
			id BIGSERIAL PRIMARY KEY,
			stored_message_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			message_id INT NOT NULL,
			event_type TEXT NOT NULL,
			encrypted_old_text TEXT,
			encrypted_new_text TEXT,
			encrypted_old_caption TEXT,
			encrypted_new_caption TEXT,
			event_time TIMESTAMPTZ NOT NULL,
			user_notified BOOLEAN NOT NULL DEFAULT FALSE,
			notified_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS user_referrals (
			user_id BIGINT PRIMARY KEY,
			referral_code TEXT NOT NULL UNIQUE,
			referred_by_user_id BIGINT,
			referral_count INT NOT NULL DEFAULT 0,
			premium_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stored_messages_connection ON stored_messages (business_connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stored_messages_stored_at ON stored_messages (stored_at)`,
		`CREATE INDEX IF NOT EXISTS idx_message_events_message ON message_events (chat_id, message_id, event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_message_events_event_time ON message_events (event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_business_connections_owner ON business_connections (owner_user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := ps.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed: %w", err)
		}
	}

	return nil
}

func (ps *PostgresStore) UpsertConnection(ctx context.Context, conn BusinessConnection) error {
	if strings.TrimSpace(conn.ConnectionID) == "" {
		return errors.New("empty connection id")
	}
	if conn.OwnerUserID <= 0 {
		return errors.New("invalid owner user id")
	}

	_, err := ps.db.Exec(
		ctx,
		`INSERT INTO business_connections (
			connection_id,
			owner_user_id,
			owner_chat_id,
			owner_username,
			owner_first_name,
			owner_last_name,
			language_code,
			can_reply,
			is_enabled,
			connected_at,
			disconnected_at,
			updated_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, NOW())
		ON CONFLICT (connection_id)
		DO UPDATE SET
			owner_user_id = EXCLUDED.owner_user_id,
			owner_chat_id = EXCLUDED.owner_chat_id,
			owner_username = COALESCE(EXCLUDED.owner_username, business_connections.owner_username),
			owner_first_name = COALESCE(EXCLUDED.owner_first_name, business_connections.owner_first_name),
			owner_last_name = COALESCE(EXCLUDED.owner_last_name, business_connections.owner_last_name),
			language_code = COALESCE(EXCLUDED.language_code, business_connections.language_code),
			can_reply = EXCLUDED.can_reply,
			is_enabled = EXCLUDED.is_enabled,
			connected_at = LEAST(business_connections.connected_at, EXCLUDED.connected_at),
			disconnected_at = EXCLUDED.disconnected_at,
			updated_at = NOW()`,
		conn.ConnectionID,
		conn.OwnerUserID,
		conn.OwnerChatID,
		conn.OwnerUsername,
		conn.OwnerFirstName,
		conn.OwnerLastName,
		conn.LanguageCode,
		conn.CanReply,
		conn.IsEnabled,
		conn.ConnectedAt,
		conn.DisconnectedAt,
	)
	return err
}

func (ps *PostgresStore) ConnectionByID(ctx context.Context, connectionID string) (BusinessConnection, bool, error) {
	row := ps.db.QueryRow(
		ctx,
		`SELECT
			connection_id,
			owner_user_id,
			owner_chat_id,
			COALESCE(owner_username, ''),
			COALESCE(owner_first_name, ''),
			COALESCE(owner_last_name, ''),
			COALESCE(language_code, ''),
			can_reply,
			is_enabled,
			connected_at,
			disconnected_at
		FROM business_connections
		WHERE connection_id = $1
		LIMIT 1`,
		strings.TrimSpace(connectionID),
	)

	var conn BusinessConnection
	err := row.Scan(
		&conn.ConnectionID,
		&conn.OwnerUserID,
		&conn.OwnerChatID,
		&conn.OwnerUsername,
		&conn.OwnerFirstName,
		&conn.OwnerLastName,
		&conn.LanguageCode,
		&conn.CanReply,
		&conn.IsEnabled,
		&conn.ConnectedAt,
		&conn.DisconnectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BusinessConnection{}, false, nil
		}
		return BusinessConnection{}, false, err
	}

	return conn, true, nil
}

// SaveMessage inserts a new record and reports whether a row was created.
// Re-creation under the same (chat_id, message_id) is a no-op, which is
// what makes the ephemeral-capture path replay-safe.
func (ps *PostgresStore) SaveMessage(ctx context.Context, msg StoredMessage) (bool, error) {
	if msg.BusinessConnectionID == "" {
		return false, errors.New("empty business connection id")
	}
	if msg.ChatID == 0 || msg.MessageID == 0 {
		return false, errors.New("empty message key")
	}

	tag, err := ps.db.Exec(
		ctx,
		`INSERT INTO stored_messages (
			business_connection_id,
			chat_id,
			message_id,
			from_user_id,
			from_username,
			from_first_name,
			from_last_name,
			encrypted_text,
			encrypted_caption,
			media_kind,
			media_file_id,
			message_date,
			stored_at,
			edit_count,
			is_deleted
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), $10, NULLIF($11, ''), $12, $13, 0, FALSE)
		ON CONFLICT (chat_id, message_id) DO NOTHING`,
		msg.BusinessConnectionID,
		msg.ChatID,
		msg.MessageID,
		nullInt64(msg.FromUserID),
		msg.FromUsername,
		msg.FromFirstName,
		msg.FromLastName,
		msg.EncryptedText,
		msg.EncryptedCaption,
		string(msg.MediaKind),
		msg.MediaFileID,
		msg.MessageDate,
		msg.StoredAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (ps *PostgresStore) GetMessage(ctx context.Context, chatID int64, messageID int) (StoredMessage, bool, error) {
	row := ps.db.QueryRow(
		ctx,
		selectStoredMessage+` WHERE chat_id = $1 AND message_id = $2 LIMIT 1`,
		chatID, messageID,
	)

	msg, err := scanStoredMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredMessage{}, false, nil
		}
		return StoredMessage{}, false, err
	}

	return msg, true, nil
}

func (ps *PostgresStore) GetMessages(ctx context.Context, chatID int64, messageIDs []int) ([]StoredMessage, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	rows, err := ps.db.Query(
		ctx,
		selectStoredMessage+` WHERE chat_id = $1 AND message_id = ANY($2) ORDER BY message_id`,
		chatID, messageIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StoredMessage, 0, len(messageIDs))
	for rows.Next() {
		msg, err := scanStoredMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}

	return out, rows.Err()
}

// RecordEdit appends the event and overwrites the message content in one
// transaction. The edit_count guard turns a lost race into ErrStaleRecord
// instead of a silently skipped revision.
func (ps *PostgresStore) RecordEdit(ctx context.Context, next StoredMessage, event MessageEvent) (int64, error) {
	tx, err := ps.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	eventID, err := insertEvent(ctx, tx, event)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(
		ctx,
		`UPDATE stored_messages
		SET
			encrypted_text = NULLIF($3, ''),
			encrypted_caption = NULLIF($4, ''),
			edit_count = $5
		WHERE chat_id = $1 AND message_id = $2 AND edit_count = $5 - 1`,
		next.ChatID,
		next.MessageID,
		next.EncryptedText,
		next.EncryptedCaption,
		next.EditCount,
	)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrStaleRecord
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return eventID, nil
}

func (ps *PostgresStore) RecordDelete(ctx context.Context, next StoredMessage, event MessageEvent) (int64, error) {
	tx, err := ps.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	eventID, err := insertEvent(ctx, tx, event)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		ctx,
		`UPDATE stored_messages
		SET is_deleted = TRUE
		WHERE chat_id = $1 AND message_id = $2`,
		next.ChatID,
		next.MessageID,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return eventID, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, event MessageEvent) (int64, error) {
	var eventID int64
	err := tx.QueryRow(
		ctx,
		`INSERT INTO message_events (
			stored_message_id,
			chat_id,
			message_id,
			event_type,
			encrypted_old_text,
			encrypted_new_text,
			encrypted_old_caption,
			encrypted_new_caption,
			event_time,
			user_notified
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, FALSE)
		RETURNING id`,
		event.StoredMessageID,
		event.ChatID,
		event.MessageID,
		string(event.Type),
		event.EncryptedOldText,
		event.EncryptedNewText,
		event.EncryptedOldCaption,
		event.EncryptedNewCaption,
		event.EventTime,
	).Scan(&eventID)
	if err != nil {
		return 0, err
	}
	return eventID, nil
}

func (ps *PostgresStore) MarkEventNotified(ctx context.Context, eventID int64, at time.Time) error {
	_, err := ps.db.Exec(
		ctx,
		`UPDATE message_events
		SET user_notified = TRUE, notified_at = $2
		WHERE id = $1`,
		eventID, at,
	)
	return err
}

func (ps *PostgresStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := ps.db.Exec(
		ctx,
		`DELETE FROM message_events WHERE event_time < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := ps.db.Exec(
		ctx,
		`DELETE FROM stored_messages WHERE stored_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStore) ReferralByUserID(ctx context.Context, userID int64) (UserReferral, bool, error) {
	row := ps.db.QueryRow(
		ctx,
		`SELECT user_id, referral_code, COALESCE(referred_by_user_id, 0), referral_count, premium_unlocked, created_at
		FROM user_referrals
		WHERE user_id = $1
		LIMIT 1`,
		userID,
	)
	return scanReferral(row)
}

func (ps *PostgresStore) ReferralByCode(ctx context.Context, code string) (UserReferral, bool, error) {
	row := ps.db.QueryRow(
		ctx,
		`SELECT user_id, referral_code, COALESCE(referred_by_user_id, 0), referral_count, premium_unlocked, created_at
		FROM user_referrals
		WHERE referral_code = $1
		LIMIT 1`,
		strings.TrimSpace(code),
	)
	return scanReferral(row)
}

func (ps *PostgresStore) SaveReferral(ctx context.Context, ref UserReferral) error {
	_, err := ps.db.Exec(
		ctx,
		`INSERT INTO user_referrals (user_id, referral_code, referred_by_user_id, referral_count, premium_unlocked, created_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING`,
		ref.UserID,
		ref.ReferralCode,
		ref.ReferredByUserID,
		ref.ReferralCount,
		ref.PremiumUnlocked,
		ref.CreatedAt,
	)
	return err
}

func (ps *PostgresStore) IncrementReferralCount(ctx context.Context, userID int64, premiumThreshold int) error {
	_, err := ps.db.Exec(
		ctx,
		`UPDATE user_referrals
		SET
			referral_count = referral_count + 1,
			premium_unlocked = premium_unlocked OR (referral_count + 1 >= $2)
		WHERE user_id = $1`,
		userID, premiumThreshold,
	)
	return err
}

const selectStoredMessage = `SELECT
	id,
	business_connection_id,
	chat_id,
	message_id,
	from_user_id,
	from_username,
	from_first_name,
	from_last_name,
	encrypted_text,
	encrypted_caption,
	media_kind,
	media_file_id,
	message_date,
	stored_at,
	edit_count,
	is_deleted
FROM stored_messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredMessage(row rowScanner) (StoredMessage, error) {
	var out StoredMessage
	var fromUserID *int64
	var fromUsername *string
	var fromFirstName *string
	var fromLastName *string
	var encryptedText *string
	var encryptedCaption *string
	var mediaKind string
	var mediaFileID *string

	err := row.Scan(
		&out.ID,
		&out.BusinessConnectionID,
		&out.ChatID,
		&out.MessageID,
		&fromUserID,
		&fromUsername,
		&fromFirstName,
		&fromLastName,
		&encryptedText,
		&encryptedCaption,
		&mediaKind,
		&mediaFileID,
		&out.MessageDate,
		&out.StoredAt,
		&out.EditCount,
		&out.IsDeleted,
	)
	if err != nil {
		return StoredMessage{}, err
	}

	if fromUserID != nil {
		out.FromUserID = *fromUserID
	}
	if fromUsername != nil {
		out.FromUsername = *fromUsername
	}
	if fromFirstName != nil {
		out.FromFirstName = *fromFirstName
	}
	if fromLastName != nil {
		out.FromLastName = *fromLastName
	}
	if encryptedText != nil {
		out.EncryptedText = *encryptedText
	}
	if encryptedCaption != nil {
		out.EncryptedCaption = *encryptedCaption
	}
	out.MediaKind = MediaKind(mediaKind)
	if mediaFileID != nil {
		out.MediaFileID = *mediaFileID
	}

	return out, nil
}

func scanReferral(row rowScanner) (UserReferral, bool, error) {
	var ref UserReferral
	err := row.Scan(
		&ref.UserID,
		&ref.ReferralCode,
		&ref.ReferredByUserID,
		&ref.ReferralCount,
		&ref.PremiumUnlocked,
		&ref.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserReferral{}, false, nil
		}
		return UserReferral{}, false, err
	}
	return ref, true, nil
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
