// Package relay mirrors chat to NATS and lets other services talk back.
//
// Channel messages are published as JSON on "<prefix>.<channel>". Payloads
// published on "<prefix>.say.<channel>" are said in that channel.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/nats-io/nats.go"

	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/plugins/translator"
	"github.com/onnwee/twitcher/registry"
)

// Name is the catalog name of the relay.
const Name = "relay"

// Conn is the part of *nats.Conn the relay uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// Settings of the relay.
type Settings struct {
	SubjectPrefix string `yaml:"subject_prefix"`
	// Inbound enables the say subscription.
	Inbound bool `yaml:"inbound"`
	// CloseOnUnload drains the connection when the plugin is unloaded.
	CloseOnUnload bool `yaml:"close_on_unload"`
}

// Event is the published form of a chat message.
type Event struct {
	Kind        string         `json:"kind"`
	ID          string         `json:"id,omitempty"`
	Channel     string         `json:"channel"`
	User        string         `json:"user"`
	DisplayName string         `json:"display_name,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Text        string         `json:"text,omitempty"`
	MsgID       string         `json:"msg_id,omitempty"`
	Badges      map[string]int `json:"badges,omitempty"`
	Time        time.Time      `json:"time"`
}

// Relay is the NATS bridge plugin.
type Relay struct {
	bot      plugin.Bot
	conn     Conn
	settings Settings
	logger   *slog.Logger
	sub      *nats.Subscription

	listeners []*registry.Listener
}

// NewFactory returns a catalog factory publishing on conn.
func NewFactory(conn Conn, logger *slog.Logger) plugin.Factory {
	return func(bot plugin.Bot, raw map[string]any) (plugin.Plugin, error) {
		s := Settings{SubjectPrefix: "twitch", Inbound: true}
		if err := plugin.DecodeSettings(raw, &s); err != nil {
			return nil, err
		}
		if conn == nil {
			return nil, fmt.Errorf("%s: no NATS connection configured", Name)
		}
		return New(bot, conn, s, logger)
	}
}

// New builds a relay and, when inbound is enabled, subscribes to say requests.
func New(bot plugin.Bot, conn Conn, s Settings, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s.SubjectPrefix = strings.Trim(s.SubjectPrefix, ".")
	if s.SubjectPrefix == "" {
		s.SubjectPrefix = "twitch"
	}
	r := &Relay{bot: bot, conn: conn, settings: s, logger: logger.With(slog.String("component", Name))}
	r.listeners = []*registry.Listener{
		registry.On(translator.EventMessage, r.onMessage),
		registry.On(translator.EventUserNotice, r.onUserNotice),
	}
	if s.Inbound {
		sub, err := conn.Subscribe(s.SubjectPrefix+".say.*", r.onSay)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s.say.*: %w", s.SubjectPrefix, err)
		}
		r.sub = sub
	}
	return r, nil
}

func (r *Relay) Name() string                    { return Name }
func (r *Relay) Bindings() []*registry.Binding   { return nil }
func (r *Relay) Listeners() []*registry.Listener { return r.listeners }

// Unload stops the say subscription.
func (r *Relay) Unload(context.Context) error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			return err
		}
	}
	if r.settings.CloseOnUnload {
		return r.conn.Drain()
	}
	return nil
}

// Subject is where events of channel are published.
func (r *Relay) Subject(channel string) string {
	return r.settings.SubjectPrefix + "." + strings.ToLower(strings.TrimPrefix(channel, "#"))
}

func (r *Relay) publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(r.Subject(ev.Channel), data); err != nil {
		return fmt.Errorf("publish %s: %w", r.Subject(ev.Channel), err)
	}
	return nil
}

func (r *Relay) onMessage(_ context.Context, args ...any) error {
	if len(args) == 0 {
		return nil
	}
	msg, ok := args[0].(*twitch.PrivateMessage)
	if !ok {
		return fmt.Errorf("%s: unexpected message payload %T", Name, args[0])
	}
	return r.publish(Event{
		Kind:        "message",
		ID:          msg.ID,
		Channel:     strings.ToLower(msg.Channel),
		User:        msg.User.Name,
		DisplayName: msg.User.DisplayName,
		UserID:      msg.User.ID,
		Text:        msg.Message,
		Badges:      msg.User.Badges,
		Time:        msg.Time,
	})
}

func (r *Relay) onUserNotice(_ context.Context, args ...any) error {
	if len(args) == 0 {
		return nil
	}
	msg, ok := args[0].(*twitch.UserNoticeMessage)
	if !ok {
		return fmt.Errorf("%s: unexpected usernotice payload %T", Name, args[0])
	}
	return r.publish(Event{
		Kind:        "usernotice",
		ID:          msg.ID,
		Channel:     strings.ToLower(msg.Channel),
		User:        msg.User.Name,
		DisplayName: msg.User.DisplayName,
		UserID:      msg.User.ID,
		Text:        msg.SystemMsg,
		MsgID:       msg.MsgID,
		Time:        msg.Time,
	})
}

func (r *Relay) onSay(m *nats.Msg) {
	channel := m.Subject[strings.LastIndexByte(m.Subject, '.')+1:]
	text := strings.TrimSpace(string(m.Data))
	if channel == "" || text == "" {
		return
	}
	r.logger.Debug("relaying say request", slog.String("channel", channel))
	r.bot.Say(channel, text)
}
