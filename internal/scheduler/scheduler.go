// Package scheduler runs named periodic tasks on a single background loop.
//
// Every tick the loop walks the registered tasks in registration order and
// runs each due task synchronously, so tasks never overlap. A task's last
// run time only advances when its callback succeeds; a failing task is due
// again on the very next tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTick        = time.Second
	DefaultStopTimeout = 5 * time.Second
	MinInterval        = time.Second
)

var (
	ErrDuplicateTask   = errors.New("task already registered")
	ErrInvalidInterval = errors.New("task interval must be at least 1s")
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrStopTimeout     = errors.New("scheduler did not stop in time")
)

// TaskFunc is a task callback. The context is not cancelled by Stop.
type TaskFunc func(ctx context.Context) error

// TaskError wraps a failed callback run.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %q failed: %v", e.Task, e.Err) }
func (e *TaskError) Unwrap() error { return e.Err }

type task struct {
	name     string
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
	fn       TaskFunc

	lastRun  *time.Time
	runs     int
	failures int // consecutive
	lastErr  string
}

func (t *task) due(now time.Time) bool {
	if t.lastRun == nil {
		return true
	}
	if t.schedule != nil {
		return !now.Before(t.schedule.Next(*t.lastRun))
	}
	return now.Sub(*t.lastRun) >= t.interval
}

// TaskInfo is a read-only view of a registered task.
type TaskInfo struct {
	Name                string     `json:"name"`
	Interval            string     `json:"interval,omitempty"`
	Cron                string     `json:"cron,omitempty"`
	LastRun             *time.Time `json:"lastRun,omitempty"`
	Runs                int        `json:"runs"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
}

type Options struct {
	Tick        time.Duration
	StopTimeout time.Duration
}

type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	byName  map[string]*task
	running bool
	stop    chan struct{}
	done    chan struct{}

	tick        time.Duration
	stopTimeout time.Duration
	now         func() time.Time
	ctx         context.Context
}

func New(opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Scheduler{
		byName:      make(map[string]*task),
		tick:        opts.Tick,
		stopTimeout: opts.StopTimeout,
		now:         time.Now,
		ctx:         context.Background(),
	}
}

// AddTask registers fn to run every interval.
func (s *Scheduler) AddTask(name string, interval time.Duration, fn TaskFunc) error {
	if interval < MinInterval {
		return fmt.Errorf("%w: %q has %s", ErrInvalidInterval, name, interval)
	}
	if err := s.add(&task{name: name, interval: interval, fn: fn}); err != nil {
		return err
	}
	log.Info().Str("task", name).Dur("interval", interval).Msg("task scheduled")
	return nil
}

// AddCronTask registers fn on a standard five-field cron expression.
func (s *Scheduler) AddCronTask(name, expr string, fn TaskFunc) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if err := s.add(&task{name: name, cronExpr: expr, schedule: sched, fn: fn}); err != nil {
		return err
	}
	log.Info().Str("task", name).Str("cron", expr).Msg("task scheduled")
	return nil
}

func (s *Scheduler) add(t *task) error {
	if t.fn == nil {
		return fmt.Errorf("task %q: nil callback", t.name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[t.name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.name)
	}
	s.byName[t.name] = t
	s.tasks = append(s.tasks, t)
	return nil
}

// Start launches the loop. The first tick runs immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			// a loop abandoned by a timed out Stop is still in a callback
			return fmt.Errorf("%w: previous loop still finishing", ErrAlreadyRunning)
		}
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	log.Info().Dur("tick", s.tick).Int("tasks", len(s.tasks)).Msg("scheduler started")
	return nil
}

// Stop signals the loop and waits for the tick in progress, bounded by
// the stop timeout. A callback that is still running when the timeout
// expires is left to finish on its own and ErrStopTimeout is returned.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		log.Info().Msg("scheduler stopped")
		return nil
	case <-time.After(s.stopTimeout):
		log.Warn().Dur("timeout", s.stopTimeout).Msg("scheduler stop timed out, task still running")
		return ErrStopTimeout
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tasks returns a snapshot of registered tasks in registration order.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		info := TaskInfo{
			Name:                t.name,
			Cron:                t.cronExpr,
			Runs:                t.runs,
			ConsecutiveFailures: t.failures,
			LastError:           t.lastErr,
		}
		if t.schedule == nil {
			info.Interval = t.interval.String()
		}
		if t.lastRun != nil {
			lr := *t.lastRun
			info.LastRun = &lr
		}
		out = append(out, info)
	}
	return out
}

func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.runDue(s.now())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			s.runDue(s.now())
		}
	}
}

// runDue executes every task due at now, one after another.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	due := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.due(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		log.Debug().Str("task", t.name).Msg("running task")
		err := s.invoke(t)

		s.mu.Lock()
		t.runs++
		if err != nil {
			t.failures++
			t.lastErr = err.Error()
		} else {
			ran := now
			t.lastRun = &ran
			t.failures = 0
			t.lastErr = ""
		}
		failures := t.failures
		s.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Str("task", t.name).Int("consecutive_failures", failures).Msg("task failed")
		}
	}
}

func (s *Scheduler) invoke(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{Task: t.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := t.fn(s.ctx); err != nil {
		return &TaskError{Task: t.name, Err: err}
	}
	return nil
}
