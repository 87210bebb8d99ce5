package irc

import "strings"

// Tags holds IRCv3 message tags.
type Tags map[string]string

// ParseTags decodes a raw tag string ("a=1;b=x\sy") into Tags, unescaping values.
// An empty string yields nil.
func ParseTags(raw string) Tags {
	raw = strings.TrimPrefix(raw, "@")
	if raw == "" {
		return nil
	}
	tags := make(Tags)
	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		tags[key] = unescapeTag(value)
	}
	return tags
}

// Get returns the value for key, or "" when absent.
func (t Tags) Get(key string) string { return t[key] }

func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 == len(v) {
			// a lone trailing backslash is dropped
			break
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}
