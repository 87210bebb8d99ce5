// Package chat owns the Twitch chat connection.
//
// A Client dials the configured transport, performs the capability and login
// handshake, feeds inbound lines to the dispatcher and writes outbound lines
// handed to it by the flood queue. Lost connections are redialed after a short
// delay; failed dials are retried forever at a fixed interval until the
// context passed to Run is cancelled.
package chat
