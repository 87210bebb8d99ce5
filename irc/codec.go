package irc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Terminator ends every line on the wire.
const Terminator = "\r\n"

// ErrUnknownEncoding is returned when the configured encoding name is not a known WHATWG label.
var ErrUnknownEncoding = errors.New("unknown text encoding")

// Codec converts between wire bytes and text using one configured encoding.
// It is stateless and safe for concurrent use.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// NewCodec resolves name (e.g. "utf8", "utf-8", "latin1") to an encoding.
func NewCodec(name string) (*Codec, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return &Codec{name: name, enc: enc}, nil
}

// Name returns the encoding name the codec was built with.
func (c *Codec) Name() string { return c.name }

// Decode converts raw bytes to text. Invalid sequences become U+FFFD.
func (c *Codec) Decode(b []byte) string {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// Encode converts text to wire bytes, appending the line terminator if absent.
// Runes the encoding cannot represent are replaced.
func (c *Codec) Encode(text string) []byte {
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		out = []byte(strings.ToValidUTF8(text, "?"))
	}
	if !bytes.HasSuffix(out, []byte(Terminator)) {
		out = append(out, Terminator...)
	}
	return out
}

// LineDecoder splits a byte stream into lines for one connection.
//
// By default a trailing fragment without a terminator is kept and completed by
// the next Feed. With dropPartial set the fragment is discarded, which loses
// lines that straddle read boundaries.
type LineDecoder struct {
	codec       *Codec
	dropPartial bool
	pending     []byte
}

// NewLineDecoder returns a decoder bound to codec.
func NewLineDecoder(codec *Codec, dropPartial bool) *LineDecoder {
	return &LineDecoder{codec: codec, dropPartial: dropPartial}
}

// Feed consumes one delivery from the transport and returns every complete line in it.
// Empty lines are skipped.
func (d *LineDecoder) Feed(p []byte) []string {
	data := p
	if len(d.pending) > 0 {
		data = append(d.pending, p...)
		d.pending = nil
	}

	var lines []string
	for {
		i := bytes.Index(data, []byte(Terminator))
		if i < 0 {
			break
		}
		if i > 0 {
			lines = append(lines, d.codec.Decode(data[:i]))
		}
		data = data[i+len(Terminator):]
	}

	if len(data) > 0 && !d.dropPartial {
		d.pending = append([]byte(nil), data...)
	}
	return lines
}

// SetCodec switches the encoding used for lines completed from now on.
func (d *LineDecoder) SetCodec(codec *Codec) { d.codec = codec }

// Pending reports how many bytes are buffered waiting for a terminator.
func (d *LineDecoder) Pending() int { return len(d.pending) }
