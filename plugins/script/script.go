// Package script loads plugins written in Lua.
//
// A script registers its handlers while it is loaded through the global
// "twitcher" table:
//
//	twitcher.bind("PRIVMSG", function(m) ... end)        -- built-in pattern
//	twitcher.bind("^:(?P<server>\\S+) 372 ", function(m) ... end) -- raw expression
//	twitcher.on("message", function(msg) ... end)        -- async listener
//	twitcher.handle("stop", function() ... end)          -- sync listener
//	twitcher.say("#channel", "hello")
//
// Matches arrive as tables of named captures plus "line". The Lua state is
// not goroutine-safe, so every call into it is serialized.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	lua "github.com/yuin/gopher-lua"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/registry"
)

// Name is the catalog name of the script loader.
const Name = "script"

var (
	// ErrNoSource is returned when neither a path nor inline source is set.
	ErrNoSource = errors.New("script: path or source required")

	// ErrClosed is returned by handlers that fire after the script was unloaded.
	ErrClosed = errors.New("script: state closed")
)

// Settings of one script.
type Settings struct {
	// Name the script is loaded under. Several scripts need distinct names.
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
	// Timeout bounds each handler call, in seconds.
	Timeout float64 `yaml:"timeout"`
}

// Script is a loaded Lua plugin.
type Script struct {
	name    string
	bot     plugin.Bot
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	L       *lua.LState
	loading bool
	closed  bool

	bindings  []*registry.Binding
	listeners []*registry.Listener
}

// Factory builds a script from its catalog settings.
func Factory(bot plugin.Bot, raw map[string]any) (plugin.Plugin, error) {
	s := Settings{Name: Name, Timeout: 5}
	if err := plugin.DecodeSettings(raw, &s); err != nil {
		return nil, err
	}
	return New(bot, s, nil)
}

// New runs the script and collects what it registered.
func New(bot plugin.Bot, s Settings, logger *slog.Logger) (*Script, error) {
	if s.Path == "" && s.Source == "" {
		return nil, ErrNoSource
	}
	if s.Name == "" {
		s.Name = Name
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(s.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	sc := &Script{
		name:    s.Name,
		bot:     bot,
		logger:  logger.With(slog.String("component", Name), slog.String("script", s.Name)),
		timeout: timeout,
		L:       L,
	}
	openSafeLibraries(L)
	L.SetGlobal("print", L.NewFunction(sc.luaPrint))
	L.SetGlobal("twitcher", sc.api())

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.loading = true
	var err error
	if s.Path != "" {
		err = L.DoFile(s.Path)
	} else {
		err = L.DoString(s.Source)
	}
	sc.loading = false
	if err != nil {
		L.Close()
		sc.closed = true
		return nil, fmt.Errorf("script %s: %w", s.Name, err)
	}
	sc.logger.Info("script loaded", slog.Int("bindings", len(sc.bindings)), slog.Int("listeners", len(sc.listeners)))
	return sc, nil
}

func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (s *Script) Name() string                    { return s.name }
func (s *Script) Bindings() []*registry.Binding   { return s.bindings }
func (s *Script) Listeners() []*registry.Listener { return s.listeners }

// Unload closes the Lua state. Handlers still in flight return ErrClosed.
func (s *Script) Unload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
	return nil
}

func (s *Script) api() *lua.LTable {
	t := s.L.NewTable()
	s.L.SetFuncs(t, map[string]lua.LGFunction{
		"bind":     s.luaBind,
		"on":       s.luaListen(registry.On),
		"handle":   s.luaListen(registry.Handle),
		"send":     s.luaSend,
		"say":      s.luaSay,
		"join":     s.luaJoin,
		"part":     s.luaPart,
		"whisper":  s.luaWhisper,
		"nick":     s.luaNick,
		"channels": s.luaChannels,
		"log":      s.luaLog,
	})
	return t
}

// twitcher.bind(name_or_expr, fn [, priority])
func (s *Script) luaBind(L *lua.LState) int {
	if !s.loading {
		L.RaiseError("bind is only allowed while the script loads")
		return 0
	}
	key := L.CheckString(1)
	fn := L.CheckFunction(2)
	var opts []registry.BindOption
	if L.OptBool(3, false) {
		opts = append(opts, registry.Priority())
	}
	pattern, ok := irc.LookupBuiltin(key)
	if !ok {
		pattern = irc.Raw(s.name, key)
	}
	s.bindings = append(s.bindings, registry.Bind(pattern, func(ctx context.Context, m irc.Match) error {
		return s.call(ctx, fn, func(L *lua.LState) []lua.LValue { return []lua.LValue{matchTable(L, m)} })
	}, opts...))
	return 0
}

func (s *Script) luaListen(mk func(string, registry.ListenerFunc) *registry.Listener) lua.LGFunction {
	return func(L *lua.LState) int {
		if !s.loading {
			L.RaiseError("listeners are only allowed while the script loads")
			return 0
		}
		event := L.CheckString(1)
		fn := L.CheckFunction(2)
		s.listeners = append(s.listeners, mk(event, func(ctx context.Context, args ...any) error {
			return s.call(ctx, fn, func(L *lua.LState) []lua.LValue {
				out := make([]lua.LValue, len(args))
				for i, a := range args {
					out[i] = toLua(L, a)
				}
				return out
			})
		}))
		return 0
	}
}

// call runs fn under the state lock with the per-call timeout.
func (s *Script) call(ctx context.Context, fn *lua.LFunction, args func(*lua.LState) []lua.LValue) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script %s: lua panic: %v", s.name, r)
		}
	}()
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args(s.L)...); err != nil {
		return fmt.Errorf("script %s: %w", s.name, err)
	}
	return nil
}

func (s *Script) luaSend(L *lua.LState) int {
	s.bot.Send(L.CheckString(1))
	return 0
}

func (s *Script) luaSay(L *lua.LState) int {
	s.bot.Say(L.CheckString(1), L.CheckString(2))
	return 0
}

func (s *Script) luaJoin(L *lua.LState) int {
	s.bot.Join(L.CheckString(1))
	return 0
}

func (s *Script) luaPart(L *lua.LState) int {
	s.bot.Part(L.CheckString(1))
	return 0
}

func (s *Script) luaWhisper(L *lua.LState) int {
	s.bot.Whisper(L.CheckString(1), L.CheckString(2))
	return 0
}

func (s *Script) luaNick(L *lua.LState) int {
	L.Push(lua.LString(s.bot.Nick()))
	return 1
}

func (s *Script) luaChannels(L *lua.LState) int {
	t := L.NewTable()
	for _, ch := range s.bot.Channels() {
		t.Append(lua.LString(ch))
	}
	L.Push(t)
	return 1
}

// twitcher.log([level,] msg)
func (s *Script) luaLog(L *lua.LState) int {
	level, msg := "info", L.CheckString(1)
	if L.GetTop() > 1 {
		level, msg = msg, L.CheckString(2)
	}
	switch level {
	case "debug":
		s.logger.Debug(msg)
	case "warn":
		s.logger.Warn(msg)
	case "error":
		s.logger.Error(msg)
	default:
		s.logger.Info(msg)
	}
	return 0
}

func (s *Script) luaPrint(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.logger.Info(strings.Join(parts, "\t"))
	return 0
}

func matchTable(L *lua.LState, m irc.Match) *lua.LTable {
	t := L.NewTable()
	fields := m.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.RawSetString(k, lua.LString(fields[k]))
	}
	t.RawSetString("line", lua.LString(m.Line))
	return t
}

// toLua converts notification payloads into Lua values.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case error:
		return lua.LString(v.Error())
	case []string:
		t := L.NewTable()
		for _, s := range v {
			t.Append(lua.LString(s))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, s := range v {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	case irc.Match:
		return matchTable(L, v)
	case *twitch.PrivateMessage:
		return userMessage(L, v.ID, v.Channel, v.User, v.Message)
	case *twitch.WhisperMessage:
		return userMessage(L, v.MessageID, "", v.User, v.Message)
	case *twitch.UserNoticeMessage:
		t := userMessage(L, v.ID, v.Channel, v.User, v.Message)
		t.RawSetString("msg_id", lua.LString(v.MsgID))
		t.RawSetString("system_msg", lua.LString(v.SystemMsg))
		return t
	case *twitch.GlobalUserStateMessage:
		return userMessage(L, "", "", v.User, "")
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

func userMessage(L *lua.LState, id, channel string, u twitch.User, text string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(id))
	t.RawSetString("channel", lua.LString(channel))
	t.RawSetString("user", lua.LString(u.Name))
	t.RawSetString("display_name", lua.LString(u.DisplayName))
	t.RawSetString("user_id", lua.LString(u.ID))
	t.RawSetString("text", lua.LString(text))
	return t
}
