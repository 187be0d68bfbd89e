// Package compose builds tag-everyone replies: the triggering message's body
// followed by a mention for every present participant, split across as few
// platform messages as the platform's length limit allows.
package compose

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/musterbot/muster/internal/roster"
)

// Format describes one platform's text rules.
type Format interface {
	// Mention renders a reference to a user that the platform turns into a
	// real mention (notification) for that user.
	Mention(p roster.Participant) string
	// Body escapes free-form text so it survives the platform's markup.
	Body(text string) string
	// Decorate wraps a rendered mention block, e.g. in a Telegram spoiler.
	Decorate(mentions string) string
	// MaxLen is the platform's maximum message length in characters.
	MaxLen() int
}

// Build composes the ordered reply texts for a command with the given body
// and roster snapshot. Every participant appears in exactly one returned
// message. An empty roster yields just the body, and no messages at all when
// the body is empty too (platforms reject empty text; the caller decides
// what, if anything, to say instead).
func Build(f Format, body string, members []roster.Participant) []string {
	prefix := ""
	if b := strings.TrimSpace(body); b != "" {
		prefix = f.Body(b)
	}
	if len(members) == 0 {
		if prefix == "" {
			return nil
		}
		return []string{prefix}
	}

	mentions := lo.Map(members, func(p roster.Participant, _ int) string {
		return f.Mention(p)
	})

	render := func(first bool, chunk []string) string {
		block := f.Decorate(strings.Join(chunk, " "))
		if first && prefix != "" {
			return prefix + "\n" + block
		}
		return block
	}

	var out []string
	var chunk []string
	for _, m := range mentions {
		if len(chunk) > 0 {
			candidate := render(len(out) == 0, append(chunk, m))
			if utf8.RuneCountInString(candidate) > f.MaxLen() {
				out = append(out, render(len(out) == 0, chunk))
				chunk = chunk[:0]
			}
		}
		chunk = append(chunk, m)
	}
	return append(out, render(len(out) == 0, chunk))
}
