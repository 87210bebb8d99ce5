package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/registry"
)

type testPlugin struct {
	name      string
	bindings  []*registry.Binding
	listeners []*registry.Listener
	unloaded  int
	unloadErr error
}

func (p *testPlugin) Name() string                    { return p.name }
func (p *testPlugin) Bindings() []*registry.Binding   { return p.bindings }
func (p *testPlugin) Listeners() []*registry.Listener { return p.listeners }

func (p *testPlugin) Unload(context.Context) error {
	p.unloaded++
	return p.unloadErr
}

func nopPing(context.Context, irc.Ping) error       { return nil }
func nopPrivmsg(context.Context, irc.Privmsg) error { return nil }
func nopListener(context.Context, ...any) error     { return nil }

func newTestPlugin(name string) *testPlugin {
	return &testPlugin{
		name: name,
		bindings: []*registry.Binding{
			registry.Bind(irc.PingPattern, nopPing),
			registry.Bind(irc.PrivmsgPattern, nopPrivmsg, registry.Priority()),
		},
		listeners: []*registry.Listener{
			registry.On("connection_lost", nopListener),
			registry.Handle("connection_attempted", nopListener),
		},
	}
}

type tableState struct {
	patterns  []registry.PatternInfo
	bindings  int
	listeners int
}

func stateOf(r *registry.Registry) tableState {
	return tableState{patterns: r.Patterns(), bindings: r.BindingCount(), listeners: r.ListenerCount()}
}

func TestLoadUnloadRestoresTables(t *testing.T) {
	reg := registry.New(irc.NewSnapshot(nil))
	require.NoError(t, reg.AddBinding(registry.Bind(irc.JoinPattern, func(context.Context, irc.Membership) error { return nil })))
	require.NoError(t, reg.AddListener(registry.On("stop", nopListener)))
	before := stateOf(reg)

	h := NewHost(reg, nil)
	p := newTestPlugin("greeter")
	require.NoError(t, h.Load(p))
	assert.Equal(t, before.bindings+2, reg.BindingCount())
	assert.Equal(t, before.listeners+2, reg.ListenerCount())
	assert.Equal(t, "PRIVMSG", reg.Patterns()[0].Name)

	// what the plugin reports later does not change what gets removed
	p.bindings = nil
	p.listeners = nil

	require.NoError(t, h.Unload(context.Background(), "greeter"))
	assert.Equal(t, before, stateOf(reg))
	assert.Equal(t, 1, p.unloaded)
	assert.Empty(t, h.Loaded())
}

func TestDuplicateLoad(t *testing.T) {
	h := NewHost(registry.New(irc.NewSnapshot(nil)), nil)
	require.NoError(t, h.Load(newTestPlugin("a")))

	err := h.Load(newTestPlugin("a"))
	require.ErrorIs(t, err, ErrDuplicateLoad)
	assert.Equal(t, []string{"a"}, h.Loaded())
}

func TestUnloadNotLoaded(t *testing.T) {
	h := NewHost(registry.New(irc.NewSnapshot(nil)), nil)
	require.ErrorIs(t, h.Unload(context.Background(), "ghost"), ErrNotLoaded)
	require.ErrorIs(t, h.Reload(context.Background(), "ghost"), ErrNotLoaded)
}

func TestLoadInvalid(t *testing.T) {
	h := NewHost(registry.New(irc.NewSnapshot(nil)), nil)
	require.ErrorIs(t, h.Load(nil), ErrInvalidPlugin)
	require.ErrorIs(t, h.Load(&testPlugin{}), ErrInvalidPlugin)
}

func TestLoadRollsBackOnFailure(t *testing.T) {
	reg := registry.New(irc.NewSnapshot(nil))
	before := stateOf(reg)
	h := NewHost(reg, nil)

	p := newTestPlugin("broken")
	p.bindings = append(p.bindings, registry.Bind(irc.Raw("BAD", `(`), func(context.Context, irc.Match) error { return nil }))
	err := h.Load(p)
	require.ErrorIs(t, err, registry.ErrPatternCompile)
	assert.Equal(t, before, stateOf(reg))
	assert.Empty(t, h.Loaded())

	p = newTestPlugin("badlistener")
	p.listeners = append(p.listeners, registry.On("", nopListener))
	require.ErrorIs(t, h.Load(p), registry.ErrInvalidListener)
	assert.Equal(t, before, stateOf(reg))
}

func TestSharedPatternSurvivesUnloadOfOnePlugin(t *testing.T) {
	reg := registry.New(irc.NewSnapshot(nil))
	h := NewHost(reg, nil)
	var got []string
	mk := func(name string) *testPlugin {
		return &testPlugin{name: name, bindings: []*registry.Binding{
			registry.Bind(irc.PingPattern, func(context.Context, irc.Ping) error {
				got = append(got, name)
				return nil
			}),
		}}
	}
	require.NoError(t, h.Load(mk("one")))
	require.NoError(t, h.Load(mk("two")))
	require.NoError(t, h.Unload(context.Background(), "one"))

	res := reg.Match("PING :tmi.twitch.tv")
	require.Len(t, res, 1)
	require.Len(t, res[0].Bindings, 1)
	require.NoError(t, res[0].Bindings[0].Call(context.Background(), res[0].Match))
	assert.Equal(t, []string{"two"}, got)
}

func TestReload(t *testing.T) {
	reg := registry.New(irc.NewSnapshot(nil))
	h := NewHost(reg, nil)
	p := newTestPlugin("r")
	require.NoError(t, h.Load(p))
	before := stateOf(reg)

	require.NoError(t, h.Reload(context.Background(), "r"))
	assert.Equal(t, before.bindings, reg.BindingCount())
	assert.Equal(t, before.listeners, reg.ListenerCount())
	assert.Equal(t, 1, p.unloaded)
	assert.Equal(t, []string{"r"}, h.Loaded())
}

func TestUnloadAllReverseOrderAndHookErrors(t *testing.T) {
	reg := registry.New(irc.NewSnapshot(nil))
	h := NewHost(reg, nil)
	a := newTestPlugin("a")
	b := newTestPlugin("b")
	b.unloadErr = errors.New("flush failed")
	require.NoError(t, h.Load(a))
	require.NoError(t, h.Load(b))

	err := h.UnloadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.Empty(t, h.Loaded())
	assert.Zero(t, reg.BindingCount())
	assert.Zero(t, reg.ListenerCount())
}
