package translator

import (
	"context"
	"sync"
	"testing"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/queue"
	"github.com/onnwee/twitcher/registry"
)

type event struct {
	name string
	args []any
}

type fakeBot struct {
	reg      *registry.Registry
	channels []string

	mu         sync.Mutex
	sent       []string
	events     []event
	reconnects int
}

func newFakeBot(channels ...string) *fakeBot {
	return &fakeBot{reg: registry.New(irc.NewSnapshot(nil)), channels: channels}
}

func (b *fakeBot) Send(line string) *queue.Send {
	b.mu.Lock()
	b.sent = append(b.sent, line)
	b.mu.Unlock()
	return queue.Resolved(line, nil)
}

func (b *fakeBot) Say(ch, text string) *queue.Send       { return b.Send("PRIVMSG " + ch + " :" + text) }
func (b *fakeBot) Join(ch string) *queue.Send            { return b.Send("JOIN #" + ch) }
func (b *fakeBot) Part(ch string) *queue.Send            { return b.Send("PART #" + ch) }
func (b *fakeBot) Whisper(user, text string) *queue.Send { return b.Send(".w " + user + " " + text) }
func (b *fakeBot) Registry() *registry.Registry          { return b.reg }
func (b *fakeBot) Nick() string                          { return "bot" }
func (b *fakeBot) Channels() []string                    { return b.channels }

func (b *fakeBot) Reconnect() {
	b.mu.Lock()
	b.reconnects++
	b.mu.Unlock()
}

func (b *fakeBot) Notify(ctx context.Context, name string, args ...any) error {
	b.mu.Lock()
	b.events = append(b.events, event{name, args})
	b.mu.Unlock()
	for _, l := range b.reg.Listeners(name) {
		if err := l.Call(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func (b *fakeBot) eventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for _, e := range b.events {
		names = append(names, e.name)
	}
	return names
}

var _ plugin.Bot = (*fakeBot)(nil)

// feed runs every binding matching line inline.
func feed(t *testing.T, reg *registry.Registry, line string) {
	t.Helper()
	for _, res := range reg.Match(line) {
		for _, b := range res.Bindings {
			require.NoError(t, b.Call(context.Background(), res.Match))
		}
	}
}

func load(t *testing.T, bot *fakeBot) *Translator {
	t.Helper()
	tr := New(bot, Settings{AutoJoin: true}, nil)
	require.NoError(t, plugin.NewHost(bot.reg, nil).Load(tr))
	return tr
}

func TestPong(t *testing.T) {
	bot := newFakeBot()
	load(t, bot)
	feed(t, bot.reg, "PING :tmi.twitch.tv")
	assert.Equal(t, []string{"PONG :tmi.twitch.tv"}, bot.sent)
}

func TestLoginSequence(t *testing.T) {
	bot := newFakeBot("alpha", "beta")
	tr := load(t, bot)
	base := bot.reg.BindingCount()

	require.NoError(t, bot.Notify(context.Background(), registry.EventConnectionAttempted))
	assert.Equal(t, base+3, bot.reg.BindingCount())

	// a second attempt before the first completed does not stack bindings
	require.NoError(t, bot.Notify(context.Background(), registry.EventConnectionAttempted))
	assert.Equal(t, base+3, bot.reg.BindingCount())

	feed(t, bot.reg, "@badge-info=;badges=;color=;display-name=Bot;emote-sets=0;user-id=42;user-type= :tmi.twitch.tv GLOBALUSERSTATE")
	assert.NotNil(t, tr.Identity())

	feed(t, bot.reg, ":tmi.twitch.tv 376 bot :>")
	assert.Equal(t, base, bot.reg.BindingCount())
	assert.Contains(t, bot.eventNames(), EventReady)
	assert.Equal(t, []string{"JOIN #alpha", "JOIN #beta"}, bot.sent)

	// login bindings are gone: another end of MOTD does nothing
	feed(t, bot.reg, ":tmi.twitch.tv 376 bot :>")
	assert.Len(t, bot.sent, 2)
}

func TestLoginFailed(t *testing.T) {
	bot := newFakeBot()
	load(t, bot)
	require.NoError(t, bot.Notify(context.Background(), registry.EventConnectionAttempted))

	feed(t, bot.reg, ":tmi.twitch.tv NOTICE * :Login authentication failed")
	assert.Contains(t, bot.eventNames(), EventLoginFailed)
}

func TestPrivmsgBecomesMessage(t *testing.T) {
	bot := newFakeBot()
	load(t, bot)
	feed(t, bot.reg, "@badge-info=;badges=moderator/1;color=#FF0000;display-name=Alice;id=abc;user-id=7 :alice!alice@alice.tmi.twitch.tv PRIVMSG #chan :hello there")

	require.Len(t, bot.events, 1)
	assert.Equal(t, EventMessage, bot.events[0].name)
	msg, ok := bot.events[0].args[0].(*twitch.PrivateMessage)
	require.True(t, ok)
	assert.Equal(t, "alice", msg.User.Name)
	assert.Equal(t, "hello there", msg.Message)
	assert.Equal(t, "chan", msg.Channel)
}

func TestNoticeCarriesMsgID(t *testing.T) {
	bot := newFakeBot()
	load(t, bot)
	feed(t, bot.reg, "@msg-id=slow_on :tmi.twitch.tv NOTICE #chan :This room is now in slow mode.")
	require.Len(t, bot.events, 1)
	assert.Equal(t, EventNotice, bot.events[0].name)
	assert.Equal(t, "slow_on", bot.events[0].args[0])

	// without a msg-id there is nothing to translate
	feed(t, bot.reg, ":tmi.twitch.tv NOTICE * :Improperly formatted auth")
	assert.Len(t, bot.events, 1)
}

func TestReconnectRequest(t *testing.T) {
	bot := newFakeBot()
	load(t, bot)
	feed(t, bot.reg, ":tmi.twitch.tv RECONNECT")
	assert.Equal(t, 1, bot.reconnects)
}

func TestUnloadRemovesPendingLoginBindings(t *testing.T) {
	bot := newFakeBot()
	h := plugin.NewHost(bot.reg, nil)
	require.NoError(t, h.Load(New(bot, Settings{}, nil)))
	require.NoError(t, bot.Notify(context.Background(), registry.EventConnectionAttempted))
	require.NoError(t, h.Unload(context.Background(), Name))
	assert.Zero(t, bot.reg.BindingCount())
}

func TestFactoryDefaults(t *testing.T) {
	p, err := Factory(newFakeBot(), nil)
	require.NoError(t, err)
	assert.True(t, p.(*Translator).settings.AutoJoin)

	p, err = Factory(newFakeBot(), map[string]any{"auto_join": false})
	require.NoError(t, err)
	assert.False(t, p.(*Translator).settings.AutoJoin)
}
