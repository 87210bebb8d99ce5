// Package translator turns raw protocol lines into bot level events.
//
// It answers PING, tracks the login sequence of every connection and
// re-emits chat traffic as notifications carrying go-twitch-irc messages:
//
//	message     *twitch.PrivateMessage
//	whisper     *twitch.WhisperMessage
//	notice      msg-id string, *twitch.NoticeMessage
//	usernotice  *twitch.UserNoticeMessage
//	identity    *twitch.GlobalUserStateMessage
//	ready, login_failed
package translator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/registry"
)

// Name is the catalog name of the translator.
const Name = "translator"

// Events emitted by the translator.
const (
	EventReady       = "ready"
	EventLoginFailed = "login_failed"
	EventIdentity    = "identity"
	EventMessage     = "message"
	EventWhisper     = "whisper"
	EventNotice      = "notice"
	EventUserNotice  = "usernotice"
)

// loginFailed is the NOTICE text sent when PASS is rejected.
const loginFailed = "Login authentication failed"

// Settings of the translator plugin.
type Settings struct {
	// AutoJoin joins the configured channels once the server is ready.
	AutoJoin bool `yaml:"auto_join"`
}

// Translator is the always loaded protocol plugin.
type Translator struct {
	bot      plugin.Bot
	settings Settings
	logger   *slog.Logger

	bindings  []*registry.Binding
	listeners []*registry.Listener
	login     []*registry.Binding

	mu       sync.Mutex
	identity *twitch.GlobalUserStateMessage
}

// Factory builds the translator from its config section.
func Factory(bot plugin.Bot, raw map[string]any) (plugin.Plugin, error) {
	s := Settings{AutoJoin: true}
	if err := plugin.DecodeSettings(raw, &s); err != nil {
		return nil, err
	}
	return New(bot, s, nil), nil
}

// New builds a translator for bot.
func New(bot plugin.Bot, s Settings, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Translator{bot: bot, settings: s, logger: logger.With(slog.String("component", Name))}
	t.bindings = []*registry.Binding{
		registry.Bind(irc.PingPattern, t.pong, registry.Priority()),
		registry.Bind(irc.PrivmsgPattern, t.privmsg),
		registry.Bind(irc.WhisperPattern, t.whisper),
		registry.Bind(irc.NoticePattern, t.notice),
		registry.Bind(irc.UserNoticePattern, t.usernotice),
		registry.Bind(irc.ReconnectPattern, t.reconnect),
	}
	t.listeners = []*registry.Listener{
		registry.Handle(registry.EventConnectionAttempted, t.connectionAttempted),
	}
	t.login = []*registry.Binding{
		registry.Bind(irc.NoticePattern, t.checkLogin),
		registry.Bind(irc.EndOfMotdPattern, t.endOfMotd),
		registry.Bind(irc.GlobalUserStatePattern, t.globalUserState),
	}
	return t
}

func (t *Translator) Name() string                    { return Name }
func (t *Translator) Bindings() []*registry.Binding   { return t.bindings }
func (t *Translator) Listeners() []*registry.Listener { return t.listeners }

// Unload removes login bindings still installed for an unfinished handshake.
func (t *Translator) Unload(context.Context) error {
	t.removeLogin()
	return nil
}

// Identity returns the last GLOBALUSERSTATE of this login, nil before one arrived.
func (t *Translator) Identity() *twitch.GlobalUserStateMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

// connectionAttempted installs the login bindings for the new connection.
// They replace any left over from a connection that never finished logging in.
func (t *Translator) connectionAttempted(context.Context, ...any) error {
	reg := t.bot.Registry()
	var errs []error
	for _, b := range t.login {
		reg.RemoveBinding(b)
		if err := reg.AddBinding(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Translator) removeLogin() {
	reg := t.bot.Registry()
	for _, b := range t.login {
		reg.RemoveBinding(b)
	}
}

// notify emits an event. Listener failures already went to the error hook.
func (t *Translator) notify(ctx context.Context, event string, args ...any) {
	if err := t.bot.Notify(ctx, event, args...); err != nil {
		t.logger.Debug("listener failed", slog.String("event", event), slog.Any("err", err))
	}
}

func (t *Translator) pong(_ context.Context, p irc.Ping) error {
	t.bot.Send("PONG :" + p.Data)
	return nil
}

func (t *Translator) checkLogin(ctx context.Context, n irc.Notice) error {
	if n.Data == loginFailed {
		t.logger.Error("login rejected", slog.String("nick", t.bot.Nick()))
		t.notify(ctx, EventLoginFailed)
	}
	return nil
}

func (t *Translator) endOfMotd(ctx context.Context, _ irc.Numeric) error {
	t.removeLogin()
	t.logger.Info("logged in", slog.String("nick", t.bot.Nick()))
	t.notify(ctx, EventReady)
	if t.settings.AutoJoin {
		for _, ch := range t.bot.Channels() {
			t.bot.Join(ch)
		}
	}
	return nil
}

func (t *Translator) globalUserState(ctx context.Context, s irc.State) error {
	msg, ok := twitch.ParseMessage(s.Raw).(*twitch.GlobalUserStateMessage)
	if !ok {
		return nil
	}
	t.mu.Lock()
	t.identity = msg
	t.mu.Unlock()
	t.notify(ctx, EventIdentity, msg)
	return nil
}

func (t *Translator) privmsg(ctx context.Context, p irc.Privmsg) error {
	if msg, ok := twitch.ParseMessage(p.Raw).(*twitch.PrivateMessage); ok {
		t.notify(ctx, EventMessage, msg)
	}
	return nil
}

func (t *Translator) whisper(ctx context.Context, w irc.Whisper) error {
	if msg, ok := twitch.ParseMessage(w.Raw).(*twitch.WhisperMessage); ok {
		t.notify(ctx, EventWhisper, msg)
	}
	return nil
}

func (t *Translator) notice(ctx context.Context, n irc.Notice) error {
	id := n.Tags.Get("msg-id")
	if id == "" {
		return nil
	}
	if msg, ok := twitch.ParseMessage(n.Raw).(*twitch.NoticeMessage); ok {
		t.notify(ctx, EventNotice, id, msg)
	}
	return nil
}

func (t *Translator) usernotice(ctx context.Context, n irc.Notice) error {
	if msg, ok := twitch.ParseMessage(n.Raw).(*twitch.UserNoticeMessage); ok {
		t.notify(ctx, EventUserNotice, msg)
	}
	return nil
}

func (t *Translator) reconnect(context.Context, irc.Reconnect) error {
	t.logger.Info("server requested reconnect")
	t.bot.Reconnect()
	return nil
}
