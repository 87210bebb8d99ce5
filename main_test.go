package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitcher/chat"
	"github.com/onnwee/twitcher/config"
	"github.com/onnwee/twitcher/db"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/testutil"
	"github.com/onnwee/twitcher/twitchapi"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	logger = newLogger("loud", "", &buf)
	assert.Contains(t, buf.String(), "unknown LOG_LEVEL")
	logger.Debug("debug line")
	assert.NotContains(t, buf.String(), "debug line")
}

func TestPluginsCommand(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"plugins", "--env-file", t.TempDir() + "/missing.env"})
	// an explicitly named env file must exist
	require.Error(t, root.Execute())

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"plugins"})
	require.NoError(t, root.Execute())
	assert.Equal(t, []string{"chatlog", "relay", "script", "translator"}, strings.Fields(out.String()))
}

func newClient(t *testing.T, plugins ...config.PluginConfig) (*chat.Client, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Nick = "twitcherbot"
	cfg.Plugins = plugins
	c, err := chat.New(cfg, chat.Options{})
	require.NoError(t, err)
	return c, cfg
}

func TestLoadPluginsTranslatorFirst(t *testing.T) {
	client, cfg := newClient(t,
		config.PluginConfig{Name: "script", Settings: map[string]any{"name": "hello", "source": `twitcher.on("message", function() end)`}},
		config.PluginConfig{Name: "translator", Settings: map[string]any{"auto_join": false}},
	)
	require.NoError(t, loadPlugins(client, newCatalog(nil, nil, nil), cfg))
	assert.Equal(t, []string{"translator", "hello"}, client.Plugins().Loaded())
}

func TestLoadPluginsNeedsServices(t *testing.T) {
	for _, name := range []string{"chatlog", "relay"} {
		t.Run(name, func(t *testing.T) {
			client, cfg := newClient(t, config.PluginConfig{Name: name})
			err := loadPlugins(client, newCatalog(nil, nil, nil), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "plugin "+name)
		})
	}

	client, cfg := newClient(t, config.PluginConfig{Name: "nope"})
	err := loadPlugins(client, newCatalog(nil, nil, nil), cfg)
	assert.ErrorIs(t, err, plugin.ErrUnknownPlugin)
}

func TestValidatedToken(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockValidateResponse("TwitcherBot", "42", 3600, "chat:read", "chat:edit")
	v := &twitchapi.Client{ValidateURL: mock.ValidateURL()}
	ctx := context.Background()

	tok, err := validatedToken(ctx, v, "twitcherbot", " oauth:abc123 ", "refresh")
	require.NoError(t, err)
	assert.Equal(t, db.ProviderTwitch, tok.Provider)
	assert.Equal(t, "TwitcherBot", tok.Login)
	assert.Equal(t, "abc123", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, "chat:read chat:edit", tok.Scope)
	assert.False(t, tok.Expiry.IsZero())

	_, err = validatedToken(ctx, v, "someoneelse", "abc123", "")
	assert.ErrorIs(t, err, db.ErrLoginMismatch)

	_, err = validatedToken(ctx, v, "", "oauth:", "")
	assert.Error(t, err)
}
