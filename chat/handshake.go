package chat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/onnwee/twitcher/irc"
)

// Capabilities requested on every connection.
const Capabilities = "twitch.tv/membership twitch.tv/commands twitch.tv/tags"

const anonymousPrefix = "justinfan"

// AnonymousNick returns a random read-only login name.
func AnonymousNick() string {
	return fmt.Sprintf("%s%d", anonymousPrefix, rand.IntN(999999))
}

// handshake writes the capability request and credentials directly,
// ahead of anything queued.
func (c *Client) handshake(ctx context.Context) error {
	cfg := c.config()
	lines := []string{"CAP REQ :" + Capabilities}

	nick := strings.ToLower(cfg.Nick)
	if nick == "" {
		nick = AnonymousNick()
	} else {
		pass, err := c.password(ctx, nick, cfg.Password)
		if err != nil {
			c.logger.Warn("no chat password available; login will fail", slog.String("nick", nick), slog.Any("err", err))
		}
		if pass != "" {
			lines = append(lines, "PASS "+pass)
		}
	}
	lines = append(lines, "NICK "+nick)

	c.mu.Lock()
	changed := c.nick != nick
	c.nick = nick
	c.mu.Unlock()
	if changed {
		if err := c.reg.Recompile(nickSnapshot(c.reg.Snapshot(), nick)); err != nil {
			c.logger.Warn("recompile for nick failed", slog.String("nick", nick), slog.Any("err", err))
		}
	}

	for _, line := range lines {
		if err := c.WriteLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// password prefers the configured value and falls back to the token store.
func (c *Client) password(ctx context.Context, nick, configured string) (string, error) {
	pass := configured
	if pass == "" && c.pw != nil {
		var err error
		if pass, err = c.pw.ChatPassword(ctx, nick); err != nil {
			return "", err
		}
	}
	if pass != "" && !strings.HasPrefix(pass, "oauth:") {
		pass = "oauth:" + pass
	}
	return pass, nil
}

func nickSnapshot(snap irc.Snapshot, nick string) irc.Snapshot {
	values := make(map[string]string)
	for _, k := range snap.Keys() {
		values[k], _ = snap.Get(k)
	}
	values["nick"] = nick
	return irc.NewSnapshot(values)
}

func redact(line string) string {
	if strings.HasPrefix(line, "PASS ") {
		return "PASS ***"
	}
	return line
}
