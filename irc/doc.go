// Package irc holds the protocol-level pieces of the Twitch chat runtime: the
// line codec that turns the connection's byte stream into CRLF-terminated
// lines, IRCv3 tag decoding, and the pattern machinery used by the registry.
//
// Patterns are regular expressions with named capture groups. An expression
// may reference configuration values as {name}; those are resolved against an
// immutable Snapshot when the pattern is compiled, so a configuration change
// requires recompiling rather than mutating shared state. Every Pattern[T]
// decodes its captures into a typed record (Privmsg, Ping, Notice, ...).
package irc
