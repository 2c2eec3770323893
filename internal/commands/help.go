package commands

import (
	"html"
	"strings"
)

// helpText renders help for Telegram HTML parse mode.
func (r *Router) helpText(args []string) string {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		if c, ok := r.lookup(word); ok {
			return commandHelp(c)
		}
		return "❓ <b>Unknown command</b>\nType <code>/help</code> to see the list."
	}

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;command&gt;</code> for details.",
		"",
	}
	for _, c := range r.Commands() {
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func commandHelp(c *Command) string {
	lines := []string{"📚 <b>/" + html.EscapeString(c.Name) + "</b>"}
	if c.Description != "" {
		lines = append(lines, html.EscapeString(c.Description))
	}
	if c.Usage != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(c.Usage)+"</code>")
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "", "<b>Shortcut</b>")
		for _, a := range c.Aliases {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}
