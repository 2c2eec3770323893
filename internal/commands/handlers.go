package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"airbot/internal/dispatch"
	"airbot/internal/feed"
	"airbot/internal/schedule"
	"airbot/internal/settings"
	"airbot/internal/subscription"
	logx "airbot/pkg/logx"
)

type SettingsStore interface {
	Get(ctx context.Context, uid int64) (settings.UserSettings, error)
	Save(ctx context.Context, u settings.UserSettings) error
	Delete(ctx context.Context, uid int64) error
}

type SubscriptionIndex interface {
	Add(ctx context.Context, title string, uid int64, quality string) error
	Remove(ctx context.Context, title string, uid int64) error
	RemoveAll(ctx context.Context, uid int64) (int, error)
	List(uid int64) []subscription.Subscription
}

type Querier interface {
	Query(ctx context.Context, uid int64, title, quality string) (dispatch.Result, error)
}

// Bot holds the handler dependencies.
type Bot struct {
	Settings      SettingsStore
	Catalog       *settings.Catalog
	Subscriptions SubscriptionIndex
	Query         Querier
	Schedule      *schedule.Holder
	Calendar      func() feed.Calendar
	// UpcomingLimit caps /schedule without a weekday.
	UpcomingLimit int
	Now           func() time.Time
}

const notRegisteredText = "You are not registered yet.\nUse <code>/register &lt;source_id&gt; &lt;timezone&gt;</code> first. See <code>/sources</code> for ids."

// Commands returns the user command set.
func (b *Bot) Commands() []Command {
	return []Command{
		{Name: "start", Description: "introduction", Handle: b.start},
		{Name: "register", Description: "save your source and timezone", Usage: "/register <source_id> <timezone>", Handle: b.register},
		{Name: "settings", Description: "show your settings", Handle: b.showSettings},
		{Name: "source", Description: "change your source", Usage: "/source <source_id>", Handle: b.setSource},
		{Name: "timezone", Aliases: []string{"tz"}, Description: "change your timezone", Usage: "/timezone <Area/City>", Handle: b.setTimezone},
		{Name: "subscribe", Aliases: []string{"sub"}, Description: "get notified of new episodes", Usage: "/subscribe <quality> <title>", Handle: b.subscribe},
		{Name: "unsubscribe", Aliases: []string{"unsub"}, Description: "stop notifications for a title", Usage: "/unsubscribe <title>", Handle: b.unsubscribe},
		{Name: "subs", Description: "list your subscriptions", Handle: b.listSubs},
		{Name: "episode", Aliases: []string{"ep"}, Description: "latest pack of a title", Usage: "/episode <quality> <title>", Handle: b.episode},
		{Name: "schedule", Description: "upcoming releases", Usage: "/schedule [weekday]", Handle: b.schedule},
		{Name: "sources", Description: "list XDCC sources", Handle: b.sources},
		{Name: "forgetme", Description: "delete all your data", Usage: "/forgetme confirm", Handle: b.forgetMe},
	}
}

func (b *Bot) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Bot) start(ctx context.Context, req *Request) error {
	return req.Reply(ctx, strings.Join([]string{
		"👋 <b>Hi!</b> I message you when a subscribed anime episode shows up on XDCC.",
		"",
		"1. <code>/sources</code> to pick a source",
		"2. <code>/register &lt;source_id&gt; &lt;timezone&gt;</code>",
		"3. <code>/subscribe 720p &lt;title&gt;</code>",
		"",
		"Titles are case-sensitive; copy them from <code>/schedule</code>.",
	}, "\n"))
}

func (b *Bot) register(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return req.Reply(ctx, "Usage: <code>/register &lt;source_id&gt; &lt;timezone&gt;</code>\nExample: <code>/register 1337 Europe/Berlin</code>")
	}
	id, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return req.Reply(ctx, "Source id must be a number. See <code>/sources</code>.")
	}
	return b.save(ctx, req, settings.UserSettings{UserID: req.Update.UserID, SourceID: id, Timezone: req.Args[1]}, "Registered.")
}

func (b *Bot) save(ctx context.Context, req *Request, u settings.UserSettings, done string) error {
	err := b.Settings.Save(ctx, u)
	switch {
	case errors.Is(err, settings.ErrUnknownSource):
		return req.Reply(ctx, "Unknown source id. See <code>/sources</code>.")
	case errors.Is(err, settings.ErrBadTimezone):
		return req.Reply(ctx, "Unknown timezone. Use an IANA name such as <code>Asia/Tokyo</code>.")
	case err != nil:
		return err
	}
	return req.Reply(ctx, "✅ "+done+"\n\n"+b.settingsText(u))
}

func (b *Bot) settingsText(u settings.UserSettings) string {
	src, _ := b.Catalog.Get(u.SourceID)
	return fmt.Sprintf("<b>Source:</b> %d (%s)\n<b>Timezone:</b> %s", u.SourceID, html.EscapeString(src.Name), html.EscapeString(u.Timezone))
}

// registered loads the caller's settings, replying when there are none.
func (b *Bot) registered(ctx context.Context, req *Request) (settings.UserSettings, bool, error) {
	u, err := b.Settings.Get(ctx, req.Update.UserID)
	if errors.Is(err, settings.ErrNotRegistered) {
		return u, false, req.Reply(ctx, notRegisteredText)
	}
	if err != nil {
		return u, false, err
	}
	return u, true, nil
}

func (b *Bot) showSettings(ctx context.Context, req *Request) error {
	u, ok, err := b.registered(ctx, req)
	if !ok {
		return err
	}
	return req.Reply(ctx, b.settingsText(u))
}

func (b *Bot) setSource(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/source &lt;source_id&gt;</code>")
	}
	id, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return req.Reply(ctx, "Source id must be a number. See <code>/sources</code>.")
	}
	u, ok, err := b.registered(ctx, req)
	if !ok {
		return err
	}
	u.SourceID = id
	return b.save(ctx, req, u, "Source updated.")
}

func (b *Bot) setTimezone(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/timezone &lt;Area/City&gt;</code>")
	}
	u, ok, err := b.registered(ctx, req)
	if !ok {
		return err
	}
	u.Timezone = req.Args[0]
	return b.save(ctx, req, u, "Timezone updated.")
}

// qualityAndTitle splits "<quality> <title…>".
func qualityAndTitle(args []string) (string, string, bool) {
	if len(args) < 2 {
		return "", "", false
	}
	return args[0], strings.Join(args[1:], " "), true
}

func (b *Bot) subscribe(ctx context.Context, req *Request) error {
	q, title, ok := qualityAndTitle(req.Args)
	if !ok {
		return req.Reply(ctx, "Usage: <code>/subscribe &lt;quality&gt; &lt;title&gt;</code>\nExample: <code>/subscribe 1080p Frieren</code>")
	}
	err := b.Subscriptions.Add(ctx, title, req.Update.UserID, q)
	switch {
	case errors.Is(err, settings.ErrNotRegistered):
		return req.Reply(ctx, notRegisteredText)
	case errors.Is(err, subscription.ErrInvalidQuality):
		return req.Reply(ctx, "Quality must look like <code>720p</code>.")
	case err != nil:
		return err
	}
	nq, _ := subscription.NormalizeQuality(q)
	return req.Reply(ctx, fmt.Sprintf("🔔 Subscribed to <b>%s</b> (%s).", html.EscapeString(title), nq))
}

func (b *Bot) unsubscribe(ctx context.Context, req *Request) error {
	title := req.ArgText()
	if title == "" {
		return req.Reply(ctx, "Usage: <code>/unsubscribe &lt;title&gt;</code>")
	}
	err := b.Subscriptions.Remove(ctx, title, req.Update.UserID)
	if errors.Is(err, subscription.ErrNotSubscribed) {
		return req.Reply(ctx, "You are not subscribed to <b>"+html.EscapeString(title)+"</b>. See <code>/subs</code>.")
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, "🔕 Unsubscribed from <b>"+html.EscapeString(title)+"</b>.")
}

func (b *Bot) listSubs(ctx context.Context, req *Request) error {
	subs := b.Subscriptions.List(req.Update.UserID)
	if len(subs) == 0 {
		return req.Reply(ctx, "No subscriptions yet. Use <code>/subscribe &lt;quality&gt; &lt;title&gt;</code>.")
	}
	lines := []string{"🔔 <b>Your subscriptions</b>"}
	for _, s := range subs {
		lines = append(lines, "• "+html.EscapeString(s.Title)+" ("+s.Quality+")")
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) episode(ctx context.Context, req *Request) error {
	q, title, ok := qualityAndTitle(req.Args)
	if !ok {
		return req.Reply(ctx, "Usage: <code>/episode &lt;quality&gt; &lt;title&gt;</code>")
	}
	res, err := b.Query.Query(ctx, req.Update.UserID, title, q)
	var te *feed.TransportError
	switch {
	case err == nil:
		return req.Reply(ctx, res.Text)
	case errors.Is(err, settings.ErrNotRegistered):
		return req.Reply(ctx, notRegisteredText)
	case errors.Is(err, subscription.ErrInvalidQuality):
		return req.Reply(ctx, "Quality must look like <code>720p</code>.")
	case errors.Is(err, feed.ErrPackNotFound):
		return req.Reply(ctx, "No pack found for <b>"+html.EscapeString(title)+"</b> at that quality.\nTitles are case-sensitive.")
	case errors.As(err, &te):
		detail := "unreachable"
		if te.Status != 0 {
			detail = "status " + strconv.Itoa(te.Status)
		}
		return req.Reply(ctx, "Couldn't fetch the listing ("+detail+"). Try again later.")
	default:
		return err
	}
}

func (b *Bot) schedule(ctx context.Context, req *Request) error {
	loc := time.UTC
	if u, err := b.Settings.Get(ctx, req.Update.UserID); err == nil {
		loc = u.Location()
	}
	now := b.now()

	if len(req.Args) > 0 {
		wd, ok := parseWeekday(req.Args[0])
		if !ok {
			return req.Reply(ctx, "Usage: <code>/schedule [weekday]</code>, e.g. <code>/schedule friday</code>")
		}
		rels := schedule.DayView(b.Calendar(), wd, now, loc)
		return req.Reply(ctx, renderReleases("📅 <b>"+wd.String()+"</b> ("+loc.String()+")", rels, "15:04"))
	}

	limit := b.UpcomingLimit
	if limit <= 0 {
		limit = 15
	}
	rels := schedule.Upcoming(b.Schedule.Load(), now, limit, loc)
	return req.Reply(ctx, renderReleases("📅 <b>Upcoming</b> ("+loc.String()+")", rels, "Mon 15:04"))
}

func renderReleases(header string, rels []schedule.Release, layout string) string {
	if len(rels) == 0 {
		return header + "\nNothing scheduled."
	}
	lines := []string{header}
	for _, r := range rels {
		lines = append(lines, "<code>"+r.At.Format(layout)+"</code> "+html.EscapeString(r.Title))
	}
	return strings.Join(lines, "\n")
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.HasPrefix(strings.ToLower(d.String()), s) {
			return d, true
		}
	}
	return 0, false
}

func (b *Bot) sources(ctx context.Context, req *Request) error {
	lines := []string{"📡 <b>Sources</b>"}
	def := b.Catalog.Default().ID
	for _, s := range b.Catalog.All() {
		line := fmt.Sprintf("• <code>%d</code> %s", s.ID, html.EscapeString(s.Name))
		if s.ID == def {
			line += " (default)"
		}
		lines = append(lines, line)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) forgetMe(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 || strings.ToLower(req.Args[0]) != "confirm" {
		return req.Reply(ctx, "⚠️ This deletes your settings and every subscription.\nSend <code>/forgetme confirm</code> to continue.")
	}
	uid := req.Update.UserID
	n, err := b.Subscriptions.RemoveAll(ctx, uid)
	if err != nil {
		return err
	}
	if err := b.Settings.Delete(ctx, uid); err != nil && !errors.Is(err, settings.ErrNotRegistered) {
		return err
	}
	req.Logger.Info("user data erased", logx.Int("subscriptions", n))
	return req.Reply(ctx, fmt.Sprintf("🗑 Done. Removed %d subscription(s) and your settings.", n))
}
