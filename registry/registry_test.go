package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitcher/irc"
)

func nop[T any](context.Context, T) error { return nil }

func names(infos []PatternInfo) []string {
	out := make([]string, len(infos))
	for i, p := range infos {
		out[i] = p.Name
	}
	return out
}

func TestAddBindingRejectsBadKind(t *testing.T) {
	r := New(irc.NewSnapshot(nil))

	err := r.AddBinding(Bind(irc.PingPattern, nop[irc.Ping], WithKind(Sync)))
	require.ErrorIs(t, err, ErrInvalidHandlerKind)

	err = r.AddBinding(Bind[irc.Ping](irc.PingPattern, nil))
	require.ErrorIs(t, err, ErrInvalidHandlerKind)
	assert.Empty(t, r.Patterns())
}

func TestAddBindingTwice(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	b := Bind(irc.PingPattern, nop[irc.Ping])

	require.NoError(t, r.AddBinding(b))
	require.ErrorIs(t, r.AddBinding(b), ErrAlreadyBound)
	assert.Equal(t, 1, r.BindingCount())
}

func TestAddBindingCompileError(t *testing.T) {
	r := New(irc.NewSnapshot(nil))

	err := r.AddBinding(Bind(irc.Raw("BROKEN", `(unclosed`), nop[irc.Match]))
	require.ErrorIs(t, err, ErrPatternCompile)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "BROKEN", ce.Name)

	err = r.AddBinding(Bind(irc.Raw("NICK", `:{nick} .*`), nop[irc.Match]))
	require.ErrorIs(t, err, irc.ErrUnresolvedPlaceholder)
	assert.Empty(t, r.Patterns())
}

func TestRemovingLastBindingDropsMatcher(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	ping := Bind(irc.PingPattern, nop[irc.Ping])
	join := Bind(irc.JoinPattern, nop[irc.Membership])
	require.NoError(t, r.AddBinding(ping))
	require.NoError(t, r.AddBinding(join))

	r.RemoveBinding(ping)

	assert.Equal(t, []string{"JOIN"}, names(r.Patterns()))
	assert.Empty(t, r.Match("PING :tmi.twitch.tv"))

	// absent binding is a no-op
	r.RemoveBinding(ping)
	assert.Equal(t, 1, r.BindingCount())
}

func TestOrderStability(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	a := Bind(irc.PingPattern, nop[irc.Ping])
	b := Bind(irc.JoinPattern, nop[irc.Membership])
	c := Bind(irc.PartPattern, nop[irc.Membership])
	tmp := Bind(irc.PrivmsgPattern, nop[irc.Privmsg])

	require.NoError(t, r.AddBinding(a))
	require.NoError(t, r.AddBinding(tmp))
	require.NoError(t, r.AddBinding(b))
	r.RemoveBinding(tmp)
	require.NoError(t, r.AddBinding(c))

	assert.Equal(t, []string{"PING", "JOIN", "PART"}, names(r.Patterns()))
}

func TestPriorityPrependsMatcherAndBinding(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	first := Bind(irc.PrivmsgPattern, nop[irc.Privmsg])
	ping := Bind(irc.PingPattern, nop[irc.Ping], Priority())
	urgent := Bind(irc.PrivmsgPattern, nop[irc.Privmsg], Priority())

	require.NoError(t, r.AddBinding(first))
	require.NoError(t, r.AddBinding(ping))
	require.NoError(t, r.AddBinding(urgent))

	assert.Equal(t, []string{"PING", "PRIVMSG"}, names(r.Patterns()))

	res := r.Match(":a!a@a PRIVMSG #c :hi")
	require.Len(t, res, 1)
	assert.Equal(t, []*Binding{urgent, first}, res[0].Bindings)
}

func TestMatchReturnsEveryMatchingPatternInOrder(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	all := Bind(irc.Raw("ANY", `.*`), nop[irc.Match])
	ping := Bind(irc.PingPattern, nop[irc.Ping])
	require.NoError(t, r.AddBinding(all))
	require.NoError(t, r.AddBinding(ping))

	res := r.Match("PING :tmi.twitch.tv")
	require.Len(t, res, 2)
	assert.Equal(t, "ANY", res[0].Name)
	assert.Equal(t, "PING", res[1].Name)
	assert.Equal(t, "tmi.twitch.tv", res[1].Match.Get("data"))
}

func TestSharedPatternAcrossOwners(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	var got []string
	one := Bind(irc.PingPattern, func(_ context.Context, p irc.Ping) error {
		got = append(got, "one:"+p.Data)
		return nil
	})
	two := Bind(irc.PingPattern, func(_ context.Context, p irc.Ping) error {
		got = append(got, "two:"+p.Data)
		return nil
	})
	require.NoError(t, r.AddBinding(one))
	require.NoError(t, r.AddBinding(two))
	require.Len(t, r.Patterns(), 1)

	r.RemoveBinding(one)

	res := r.Match("PING :x")
	require.Len(t, res, 1)
	require.Equal(t, []*Binding{two}, res[0].Bindings)
	require.NoError(t, res[0].Bindings[0].Call(context.Background(), res[0].Match))
	assert.Equal(t, []string{"two:x"}, got)
}

func TestMatchIsolatedFromConcurrentMutation(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	a := Bind(irc.PingPattern, nop[irc.Ping])
	b := Bind(irc.PingPattern, nop[irc.Ping])
	require.NoError(t, r.AddBinding(a))
	require.NoError(t, r.AddBinding(b))

	res := r.Match("PING :x")
	r.RemoveBinding(a)
	r.RemoveBinding(b)

	require.Len(t, res, 1)
	assert.Equal(t, []*Binding{a, b}, res[0].Bindings)
}

func TestRecompile(t *testing.T) {
	r := New(irc.NewSnapshot(map[string]string{"nick": "alpha"}))
	mention := Bind(irc.Raw("MENTION", `:\S+ PRIVMSG \S+ :@{nick}\b.*`), nop[irc.Match])
	ping := Bind(irc.PingPattern, nop[irc.Ping])
	require.NoError(t, r.AddBinding(mention))
	require.NoError(t, r.AddBinding(ping))

	require.Len(t, r.Match(":u PRIVMSG #c :@alpha hi"), 1)

	require.NoError(t, r.Recompile(irc.NewSnapshot(map[string]string{"nick": "beta"})))
	assert.Empty(t, r.Match(":u PRIVMSG #c :@alpha hi"))
	assert.Len(t, r.Match(":u PRIVMSG #c :@beta hi"), 1)
	assert.Equal(t, []string{"MENTION", "PING"}, names(r.Patterns()))

	// a snapshot missing a placeholder leaves everything as it was
	err := r.Recompile(irc.NewSnapshot(nil))
	require.ErrorIs(t, err, ErrPatternCompile)
	assert.Len(t, r.Match(":u PRIVMSG #c :@beta hi"), 1)
	v, _ := r.Snapshot().Get("nick")
	assert.Equal(t, "beta", v)
}

func TestListeners(t *testing.T) {
	r := New(irc.NewSnapshot(nil))
	fn := func(context.Context, ...any) error { return nil }
	a := On("stop", fn)
	b := Handle("stop", fn)

	require.NoError(t, r.AddListener(a))
	require.NoError(t, r.AddListener(b))
	require.ErrorIs(t, r.AddListener(a), ErrAlreadyBound)
	require.ErrorIs(t, r.AddListener(On("", fn)), ErrInvalidListener)

	assert.Equal(t, []*Listener{a, b}, r.Listeners("stop"))
	assert.Equal(t, 2, r.ListenerCount())

	r.RemoveListener(a)
	r.RemoveListener(a)
	assert.Equal(t, []*Listener{b}, r.Listeners("stop"))
	r.RemoveListener(b)
	assert.Zero(t, r.ListenerCount())
}

func TestParseListenerName(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		kind    Kind
		wantErr bool
	}{
		{name: "on_connection_lost", event: "connection_lost", kind: Async},
		{name: "handle_stop", event: "stop", kind: Sync},
		{name: "on_", wantErr: true},
		{name: "stop", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, kind, err := ParseListenerName(tt.name)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidListener)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
