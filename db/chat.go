package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChatMessage is one logged channel message.
type ChatMessage struct {
	ID              int64     `json:"id"`
	MessageID       string    `json:"message_id,omitempty"`
	Channel         string    `json:"channel"`
	UserID          string    `json:"user_id,omitempty"`
	Username        string    `json:"username"`
	DisplayName     string    `json:"display_name,omitempty"`
	Message         string    `json:"message"`
	Badges          string    `json:"badges,omitempty"`
	Emotes          string    `json:"emotes,omitempty"`
	Color           string    `json:"color,omitempty"`
	ReplyToID       string    `json:"reply_to_id,omitempty"`
	ReplyToUsername string    `json:"reply_to_username,omitempty"`
	ReplyToMessage  string    `json:"reply_to_message,omitempty"`
	SentAt          time.Time `json:"sent_at"`
}

// InsertChatMessage stores m. A message id that was already logged is ignored.
func InsertChatMessage(ctx context.Context, dbx *sql.DB, m ChatMessage) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO chat_messages
		(message_id, channel, user_id, username, display_name, message, badges, emotes, color,
		 reply_to_id, reply_to_username, reply_to_message, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT DO NOTHING`,
		nullIfEmpty(m.MessageID), m.Channel, m.UserID, m.Username, m.DisplayName, m.Message, m.Badges, m.Emotes, m.Color,
		m.ReplyToID, m.ReplyToUsername, m.ReplyToMessage, m.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// RecentChatMessages returns up to limit messages of channel, newest first.
func RecentChatMessages(ctx context.Context, dbx *sql.DB, channel string, limit int) ([]ChatMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := dbx.QueryContext(ctx, `SELECT id, COALESCE(message_id,''), channel, COALESCE(user_id,''), username,
		COALESCE(display_name,''), message, COALESCE(badges,''), COALESCE(emotes,''), COALESCE(color,''),
		COALESCE(reply_to_id,''), COALESCE(reply_to_username,''), COALESCE(reply_to_message,''), sent_at
		FROM chat_messages WHERE channel = $1 ORDER BY sent_at DESC, id DESC LIMIT $2`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Channel, &m.UserID, &m.Username, &m.DisplayName, &m.Message,
			&m.Badges, &m.Emotes, &m.Color, &m.ReplyToID, &m.ReplyToUsername, &m.ReplyToMessage, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
