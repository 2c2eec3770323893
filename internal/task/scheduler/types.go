package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"airbot/internal/task/engine"
	logx "airbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ; empty means UTC
}

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     engine.TaskOptions
	state   *engine.RunState
	runNow  bool
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	engine *engine.Service

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]*entry

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

// Option adjusts a registration.
type Option func(*entry)

// WithRunNow submits the job once as soon as the scheduler is running,
// in addition to its regular triggers.
func WithRunNow() Option { return func(e *entry) { e.runNow = true } }

// WithTaskOptions overrides engine options (retries, overlap) for the job.
func WithTaskOptions(opt engine.TaskOptions) Option { return func(e *entry) { e.opt = opt } }
