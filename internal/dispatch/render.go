package dispatch

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"airbot/internal/feed"
)

const footerNote = "Note: The episode may not have been released due to some issues."

// A bluemonday Policy is safe for concurrent use once built.
var strict = bluemonday.StrictPolicy()

// clean strips markup from remote text and escapes it exactly once.
func clean(s string) string {
	return html.EscapeString(html.UnescapeString(strict.Sanitize(s)))
}

// Message is everything a pack notification shows.
type Message struct {
	Title       string
	Pack        feed.Pack
	BotName     string
	ReleaseDate string
	ImageURL    string
}

// BotName is the IRC nick of a source, e.g. CR_HOLLAND -> CR-HOLLAND.
func BotName(sourceName string) string {
	return strings.ReplaceAll(sourceName, "_", "-")
}

// RenderNew renders the new-episode notification as Telegram HTML.
func RenderNew(m Message) string {
	var b strings.Builder
	b.WriteString("📺 <b>New episode!</b>\n")
	b.WriteString("New episode of <b>" + clean(m.Title) + "</b> has been released (probably)!\n\n")
	b.WriteString("<u>Packinfo</u> (of latest episode)\n")
	writeFields(&b, m, false)
	b.WriteString("\n<i>" + footerNote + "</i>")
	writeThumb(&b, m)
	return b.String()
}

// RenderLatest renders a manual query result.
func RenderLatest(m Message) string {
	var b strings.Builder
	b.WriteString("<b>Latest episode</b>\n")
	b.WriteString("<u>Packinfo</u>\n")
	writeFields(&b, m, true)
	writeThumb(&b, m)
	return b.String()
}

func writeFields(b *strings.Builder, m Message, withTitle bool) {
	date := m.ReleaseDate
	if strings.TrimSpace(date) == "" {
		date = "Unknown"
	}
	n := clean(m.Pack.Number)
	b.WriteString("Released by: " + clean(m.Pack.Releaser) + "\n")
	if withTitle {
		b.WriteString("Anime name: " + clean(m.Title) + "\n")
	}
	b.WriteString("Episode: " + clean(m.Pack.Episode) + "\n")
	b.WriteString("Resolution: " + clean(m.Pack.Quality) + "\n")
	b.WriteString("Released on: " + clean(date) + "\n")
	b.WriteString("Pack number: #" + n + "\n")
	b.WriteString("Size: " + clean(m.Pack.Size) + "\n\n")
	b.WriteString("Type <code>/msg " + clean(m.BotName) + "|NEW xdcc send #" + n + "</code> in your IRC client after joining Rizon server.\n")
}

func writeThumb(b *strings.Builder, m Message) {
	if m.ImageURL == "" {
		return
	}
	b.WriteString("\n<a href=\"" + html.EscapeString(m.ImageURL) + "\">Thumbnail</a>")
}
