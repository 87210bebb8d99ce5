// Package chatlog records channel messages into the chat_messages table.
package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/twitcher/db"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/plugins/translator"
	"github.com/onnwee/twitcher/registry"
)

// Name is the catalog name of the chat log.
const Name = "chatlog"

// Sink stores one message.
type Sink interface {
	InsertChatMessage(ctx context.Context, m db.ChatMessage) error
}

// DBSink writes to Postgres.
type DBSink struct{ DB *sql.DB }

func (s DBSink) InsertChatMessage(ctx context.Context, m db.ChatMessage) error {
	return db.InsertChatMessage(ctx, s.DB, m)
}

// Settings of the chat log.
type Settings struct {
	// Channels limits logging to these channels; empty logs every joined channel.
	Channels []string `yaml:"channels"`
	// Ignore lists user logins whose messages are not logged (other bots).
	Ignore []string `yaml:"ignore"`
}

// Recorder logs every message event it receives.
type Recorder struct {
	sink     Sink
	channels map[string]bool
	ignore   map[string]bool
	logger   *slog.Logger
	listener *registry.Listener
}

// NewFactory returns a catalog factory writing through sink.
func NewFactory(sink Sink, logger *slog.Logger) plugin.Factory {
	return func(_ plugin.Bot, raw map[string]any) (plugin.Plugin, error) {
		var s Settings
		if err := plugin.DecodeSettings(raw, &s); err != nil {
			return nil, err
		}
		if sink == nil {
			return nil, fmt.Errorf("%s: no database configured", Name)
		}
		return New(sink, s, logger), nil
	}
}

// New builds a recorder.
func New(sink Sink, s Settings, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sink:     sink,
		channels: set(s.Channels, "#"),
		ignore:   set(s.Ignore, ""),
		logger:   logger.With(slog.String("component", Name)),
	}
	r.listener = registry.On(translator.EventMessage, r.record)
	return r
}

func set(items []string, trim string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[strings.ToLower(strings.TrimPrefix(it, trim))] = true
	}
	return m
}

func (r *Recorder) Name() string                    { return Name }
func (r *Recorder) Bindings() []*registry.Binding   { return nil }
func (r *Recorder) Listeners() []*registry.Listener { return []*registry.Listener{r.listener} }

func (r *Recorder) record(ctx context.Context, args ...any) error {
	if len(args) == 0 {
		return nil
	}
	msg, ok := args[0].(*twitch.PrivateMessage)
	if !ok {
		return fmt.Errorf("%s: unexpected message payload %T", Name, args[0])
	}
	if len(r.channels) > 0 && !r.channels[strings.ToLower(msg.Channel)] {
		return nil
	}
	if r.ignore[strings.ToLower(msg.User.Name)] {
		return nil
	}
	if err := r.sink.InsertChatMessage(ctx, FromPrivateMessage(msg)); err != nil {
		return fmt.Errorf("record message %s: %w", msg.ID, err)
	}
	return nil
}

// FromPrivateMessage converts a parsed chat message to its stored form.
func FromPrivateMessage(msg *twitch.PrivateMessage) db.ChatMessage {
	sent := msg.Time
	if sent.IsZero() {
		sent = time.Now()
	}
	m := db.ChatMessage{
		MessageID:   msg.ID,
		Channel:     strings.ToLower(msg.Channel),
		UserID:      msg.User.ID,
		Username:    msg.User.Name,
		DisplayName: msg.User.DisplayName,
		Message:     msg.Message,
		Badges:      badges(msg.User.Badges),
		Emotes:      emotes(msg.Emotes),
		Color:       msg.User.Color,
		SentAt:      sent.UTC(),
	}
	if msg.Reply != nil {
		m.ReplyToID = msg.Reply.ParentMsgID
		m.ReplyToUsername = msg.Reply.ParentUserLogin
		m.ReplyToMessage = msg.Reply.ParentMsgBody
	}
	return m
}

// badges renders "name/version" pairs sorted by name.
func badges(b map[string]int) string {
	parts := make([]string, 0, len(b))
	for k, v := range b {
		parts = append(parts, fmt.Sprintf("%s/%d", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func emotes(list []*twitch.Emote) string {
	names := make([]string, 0, len(list))
	for _, e := range list {
		if e != nil {
			names = append(names, e.Name)
		}
	}
	return strings.Join(names, ",")
}
