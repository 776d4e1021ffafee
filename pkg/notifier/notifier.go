// Package notifier sends reminder mail for due tasks on a fixed interval.
//
// Each tick moves Idle -> Scanning -> Notifying -> Sleeping. Delivery is
// at least once: a task is marked notified only after its own mail was
// sent, and is not selected again until the suppression window passed.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/mail"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/store"
)

// State is what the notifier loop is doing right now.
type State int32

const (
	Idle State = iota
	Scanning
	Notifying
	Sleeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Notifying:
		return "notifying"
	case Sleeping:
		return "sleeping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MinWindow is the shortest allowed suppression window.
const MinWindow = time.Minute

const (
	DefaultInterval  = 5 * time.Minute
	DefaultWindow    = time.Minute
	DefaultTimeout   = 15 * time.Second
	DefaultBatchSize = 20
)

// Config tunes the notifier. Zero durations and sizes take the defaults.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// Window is the suppression window.
	Window time.Duration
	// Timeout bounds each store or mail call.
	Timeout time.Duration
	// BatchSize caps the tasks handled per tick.
	BatchSize int
	// Location is the zone reminder times are shown in.
	Location *time.Location
	// FallbackRecipient receives reminders for tasks without an owner.
	FallbackRecipient string
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Report summarizes one tick.
type Report struct {
	At time.Time
	// Skipped is set when another scan was still running.
	Skipped bool
	// Due is the number of tasks the store returned.
	Due int
	// Ineligible counts returned tasks that failed the due re-check.
	Ineligible int
	Sent       int
	Failed     int
	// Unmarked counts tasks that were sent but could not be marked
	// notified; they may be sent again.
	Unmarked int
	// Err is the query error that aborted the tick, if any.
	Err error
}

// Notifier periodically emails the owners of due tasks and records each
// send on the task so it is not repeated within Window.
type Notifier struct {
	store  store.Store
	sender mail.Sender
	clock  clockwork.Clock
	cfg    Config
	log    *slog.Logger

	running sync.Mutex
	state   atomic.Int32

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

// New validates cfg and returns a stopped notifier. A nil clock uses the
// real one.
func New(st store.Store, sender mail.Sender, clock clockwork.Clock, cfg Config, log *slog.Logger) (*Notifier, error) {
	const op = "notifier.new"
	if st == nil || sender == nil {
		return nil, fault.Errorf(fault.Config, op, "store and mail sender are required")
	}
	cfg.setDefaults()
	if cfg.Window < MinWindow {
		return nil, fault.Errorf(fault.Config, op, "suppression window %s is shorter than %s", cfg.Window, MinWindow)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		store:  st,
		sender: sender,
		clock:  clock,
		cfg:    cfg,
		log:    log.With("component", "notifier"),
	}, nil
}

// State reports the loop's current phase.
func (n *Notifier) State() State {
	return State(n.state.Load())
}

// Config returns the effective configuration after defaults.
func (n *Notifier) Config() Config {
	return n.cfg
}

func (n *Notifier) setState(s State) {
	n.state.Store(int32(s))
}

// Tick runs one scan. Errors never escape; they are logged and reported.
// A tick that finds a scan in progress returns at once.
func (n *Notifier) Tick(ctx context.Context) Report {
	now := n.clock.Now()
	report := Report{At: now}
	if !n.running.TryLock() {
		n.log.Warn("previous scan still running, skipping tick")
		report.Skipped = true
		return report
	}
	defer n.running.Unlock()
	defer n.setState(Sleeping)

	n.setState(Scanning)
	filter := store.DueFilter(now, n.cfg.Window, n.cfg.BatchSize)
	qctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	tasks, err := n.store.Query(qctx, filter)
	cancel()
	if err != nil {
		n.log.Error("due task query failed, retrying next tick", "error", err, "kind", fault.KindOf(err))
		report.Err = err
		return report
	}
	report.Due = len(tasks)

	n.setState(Notifying)
	for _, task := range tasks {
		if ctx.Err() != nil {
			n.log.Warn("scan cancelled", "remaining", report.Due-report.Sent-report.Failed-report.Ineligible)
			break
		}
		if !filter.Match(task) {
			report.Ineligible++
			continue
		}
		if err := n.notify(ctx, task, now); err != nil {
			report.Failed++
			n.log.Error("reminder not sent", "task", task.ID, "error", err, "kind", fault.KindOf(err))
			continue
		}
		report.Sent++

		patch := model.Patch{LastNotifiedAt: &now}
		uctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		_, err := n.store.Update(uctx, task.ID, patch)
		cancel()
		if err != nil {
			report.Unmarked++
			n.log.Error("reminder sent but not marked notified", "task", task.ID, "error", err)
		}
	}

	if report.Due > 0 {
		n.log.Info("scan complete", "due", report.Due, "sent", report.Sent, "failed", report.Failed)
	} else {
		n.log.Debug("no due tasks")
	}
	return report
}

func (n *Notifier) notify(ctx context.Context, task model.Task, now time.Time) error {
	msg, err := mail.Reminder(task, n.cfg.Location, n.cfg.FallbackRecipient)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	if err := n.sender.Send(ctx, msg); err != nil {
		if ctx.Err() == context.DeadlineExceeded && !fault.Is(err, fault.Transient) {
			return fault.E(fault.Transient, "notifier.send", err)
		}
		return err
	}
	n.log.Info("reminder sent", "task", task.ID, "to", msg.To, "due", task.ReminderAt.In(n.cfg.Location), "late", now.Sub(*task.ReminderAt).Round(time.Second))
	return nil
}

// Start schedules Tick every interval, beginning immediately. Overlapping
// runs are rescheduled rather than queued.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.scheduler != nil {
		return fault.Errorf(fault.Internal, "notifier.start", "already started")
	}

	s, err := gocron.NewScheduler(
		gocron.WithClock(n.clock),
		gocron.WithLocation(n.cfg.Location),
		gocron.WithLogger(n.log),
		gocron.WithStopTimeout(n.cfg.Timeout*2),
	)
	if err != nil {
		return fault.E(fault.Internal, "notifier.start", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(n.cfg.Interval),
		gocron.NewTask(func() { n.Tick(ctx) }),
		gocron.WithName("due-task-notifier"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.Shutdown()
		return fault.E(fault.Config, "notifier.start", err)
	}

	s.Start()
	n.scheduler = s
	n.log.Info("notifier started", "interval", n.cfg.Interval, "window", n.cfg.Window)
	return nil
}

// Stop shuts the scheduler down, waiting for a running scan.
func (n *Notifier) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.scheduler == nil {
		return nil
	}
	err := n.scheduler.Shutdown()
	n.scheduler = nil
	n.setState(Idle)
	return err
}
