// Package commands routes Telegram text commands to handlers on a bounded
// worker pool.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "airbot/internal/runtime/supervisor"
	kit "airbot/internal/transport"
	logx "airbot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // overrides Config.Timeout when > 0
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply sends HTML text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.sender.SendText(ctx, r.Update.ChatID, text)
}

// ArgText is the arguments joined back with single spaces.
func (r *Request) ArgText() string { return strings.Join(r.Args, " ") }

type Config struct {
	Workers int
	Timeout time.Duration
}

type Router struct {
	cfg    Config
	log    logx.Logger
	sender kit.Sender

	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobs chan func(ctx context.Context)
}

func NewRouter(cfg Config, sender kit.Sender, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:    cfg,
		log:    log,
		sender: sender,
		cmds:   map[string]*Command{},
		alias:  map[string]*Command{},
		jobs:   make(chan func(ctx context.Context), 256),
	}
}

// SetRegistry replaces the command set. /help is always present.
func (r *Router) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "show the command list",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	})
	byName := map[string]*Command{}
	alias := map[string]*Command{}
	for i := range cmds {
		c := &cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				alias[a] = c
			}
		}
	}
	r.mu.Lock()
	r.cmds, r.alias = byName, alias
	r.mu.Unlock()
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MenuCommands is the registry in transport menu form.
func (r *Router) MenuCommands() []kit.BotCommand {
	cmds := r.Commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (r *Router) lookup(word string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[word]; ok {
		return c, true
	}
	c, ok := r.alias[word]
	return c, ok
}

// Supervisor returns the worker supervisor, nil when not running.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	for i := 0; i < r.cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job(c)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	r.log.Info("command router started", logx.Int("workers", r.cfg.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	word, args, ok := parseCommand(up.Text)
	if !ok {
		return
	}
	cmd, ok := r.lookup(word)
	if !ok {
		_ = r.sender.SendText(ctx, up.ChatID, "Unknown command. Try /help")
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:  up,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", up.ChatID),
			logx.Int64("from_id", up.UserID),
			logx.String("cmd", cmd.Name),
		),
		sender: r.sender,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	final := Chain(cmd.Handle,
		recoverPanic(),
		logRequest(),
		withDeadline(timeout),
	)

	job := func(c context.Context) {
		if err := final(c, req); err != nil {
			msg := "Something went wrong, please try again later."
			if errors.Is(err, context.DeadlineExceeded) {
				msg = "That took too long, please try again later."
			}
			_ = req.Reply(c, msg)
		}
	}
	select {
	case r.jobs <- job:
	default:
		_ = r.sender.SendText(ctx, up.ChatID, "Busy, try again in a moment.")
	}
}
