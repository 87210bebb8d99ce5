package chat

import (
	"log/slog"
	"strings"

	"github.com/onnwee/twitcher/queue"
)

// Channel normalizes a channel name to the lower-case "#name" form.
func Channel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || strings.HasPrefix(name, "#") {
		return name
	}
	return "#" + name
}

// Send queues a raw line. It returns at once; the handle resolves after the write.
// A line with an embedded CR, LF or NUL is not queued and resolves with
// ErrInvalidLine.
func (c *Client) Send(line string) *queue.Send {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n\x00") {
		c.logger.Warn("rejecting line with embedded line break", slog.String("line", redact(line)))
		return queue.Resolved(line, ErrInvalidLine)
	}
	return c.queue.Submit(line)
}

// Say sends text to a channel.
func (c *Client) Say(channel, text string) *queue.Send {
	return c.Send("PRIVMSG " + Channel(channel) + " :" + text)
}

// Action sends text as a /me action.
func (c *Client) Action(channel, text string) *queue.Send {
	return c.Say(channel, ".me "+text)
}

// Whisper sends a private message to user.
func (c *Client) Whisper(user, text string) *queue.Send {
	return c.Say("jtv", ".w "+strings.ToLower(user)+" "+text)
}

// Join joins channel.
func (c *Client) Join(channel string) *queue.Send {
	return c.Send("JOIN " + Channel(channel))
}

// Part leaves channel.
func (c *Client) Part(channel string) *queue.Send {
	return c.Send("PART " + Channel(channel))
}

// Quit asks the server to close the connection. The client redials afterwards
// unless its context is done.
func (c *Client) Quit() *queue.Send {
	return c.Send("QUIT")
}
