package transport

import (
	"context"
	"errors"
)

// ErrUnreachable wraps send errors that retrying cannot fix, such as a user
// who blocked the bot.
var ErrUnreachable = errors.New("transport: chat unreachable")

// Update is an incoming text message.
type Update struct {
	MessageID int
	ChatID    int64
	UserID    int64
	Username  string
	Text      string
	Private   bool
}

// Sender delivers HTML-formatted text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Adapter interface {
	Sender

	// Start begins polling and forwards updates to out. It does not block.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Ready is closed once the session with the platform is established.
	Ready() <-chan struct{}
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
