package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodecUnknownEncoding(t *testing.T) {
	_, err := NewCodec("klingon-8")
	require.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestCodecEncodeAppendsTerminator(t *testing.T) {
	c, err := NewCodec("utf8")
	require.NoError(t, err)

	assert.Equal(t, []byte("PING :x\r\n"), c.Encode("PING :x"))
	assert.Equal(t, []byte("PING :x\r\n"), c.Encode("PING :x\r\n"))
}

func TestCodecDecodeReplacesInvalid(t *testing.T) {
	c, err := NewCodec("utf-8")
	require.NoError(t, err)

	got := c.Decode([]byte("ok \xff done"))
	assert.Equal(t, "ok � done", got)
}

func TestCodecLatin1RoundTrip(t *testing.T) {
	c, err := NewCodec("latin1")
	require.NoError(t, err)

	wire := c.Encode("café")
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9, '\r', '\n'}, wire)
	assert.Equal(t, "café", c.Decode(wire[:len(wire)-2]))
}

func TestLineDecoderSetCodec(t *testing.T) {
	utf8, err := NewCodec("utf8")
	require.NoError(t, err)
	latin1, err := NewCodec("latin1")
	require.NoError(t, err)

	d := NewLineDecoder(utf8, false)
	assert.Equal(t, []string{"PING :café"}, d.Feed([]byte("PING :café\r\n")))
	d.SetCodec(latin1)
	assert.Equal(t, []string{"PING :café"}, d.Feed([]byte("PING :caf\xe9\r\n")))
}

func TestLineDecoderBuffersPartialLines(t *testing.T) {
	c, err := NewCodec("utf8")
	require.NoError(t, err)
	d := NewLineDecoder(c, false)

	lines := d.Feed([]byte("PING :a\r\nPRIVMSG #c"))
	assert.Equal(t, []string{"PING :a"}, lines)
	assert.Equal(t, len("PRIVMSG #c"), d.Pending())

	lines = d.Feed([]byte("han :hi\r\n\r\nPING :b\r\n"))
	assert.Equal(t, []string{"PRIVMSG #chan :hi", "PING :b"}, lines)
	assert.Zero(t, d.Pending())
}

func TestLineDecoderLegacyDropsPartialLines(t *testing.T) {
	c, err := NewCodec("utf8")
	require.NoError(t, err)
	d := NewLineDecoder(c, true)

	lines := d.Feed([]byte("PING :a\r\nPRIVMSG #c"))
	assert.Equal(t, []string{"PING :a"}, lines)
	assert.Zero(t, d.Pending())

	// the rest of the split line arrives without its head and never matches a full line
	lines = d.Feed([]byte("han :hi\r\n"))
	assert.Equal(t, []string{"han :hi"}, lines)
}

func TestLineDecoderSplitTerminator(t *testing.T) {
	c, err := NewCodec("utf8")
	require.NoError(t, err)
	d := NewLineDecoder(c, false)

	assert.Empty(t, d.Feed([]byte("PING :a\r")))
	assert.Equal(t, []string{"PING :a"}, d.Feed([]byte("\n")))
}
