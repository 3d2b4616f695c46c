// Package app assembles the store, publisher, queue, scheduler and HTTP
// handler from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"postflow/internal/api"
	"postflow/internal/config"
	"postflow/internal/publish"
	"postflow/internal/queue"
	"postflow/internal/scheduler"
	"postflow/internal/store"
)

// ProcessTaskName is the scheduler task that drains due posts.
const ProcessTaskName = "process_due_posts"

type App struct {
	Config    *config.Config
	Publisher publish.Publisher
	Store     store.Store
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Handler   http.Handler
}

// New builds every component. Nothing is started; call Start.
func New(cfg *config.Config) (*App, error) {
	st, err := openStore(cfg.Queue)
	if err != nil {
		return nil, err
	}

	pub := publish.New(cfg.Credentials, publish.Options{
		Endpoint: cfg.Publisher.Endpoint,
		Timeout:  cfg.Publisher.Timeout,
	})

	// The queue deadline sits above the publisher's own HTTP timeout so a
	// slow request reports the transport error rather than a bare deadline.
	q := queue.New(st, pub, queue.Options{PublishTimeout: cfg.Publisher.Timeout + 5*time.Second})

	sched := scheduler.New(scheduler.Options{
		Tick:        cfg.Scheduler.Tick,
		StopTimeout: cfg.Scheduler.StopTimeout,
	})
	process := func(ctx context.Context) error {
		changed := q.ProcessDue(ctx, time.Now())
		if len(changed) > 0 {
			log.Info().Int("processed", len(changed)).Msg("due posts processed")
		}
		return nil
	}
	if cfg.Scheduler.ProcessCron != "" {
		err = sched.AddCronTask(ProcessTaskName, cfg.Scheduler.ProcessCron, process)
	} else {
		err = sched.AddTask(ProcessTaskName, cfg.Scheduler.ProcessInterval, process)
	}
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("register %s: %w", ProcessTaskName, err)
	}

	return &App{
		Config:    cfg,
		Publisher: pub,
		Store:     st,
		Queue:     q,
		Scheduler: sched,
		Handler:   api.NewServerWithDebug(q, sched, cfg.Server.Debug),
	}, nil
}

func openStore(cfg config.QueueConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		db, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		return store.NewSQLiteStore(db, cfg.Path), nil
	case "file", "":
		return store.NewFileStore(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func (a *App) Start() error {
	log.Info().
		Str("publisher", a.Publisher.Mode()).
		Str("backend", a.Config.Queue.Backend).
		Str("path", a.Config.Queue.Path).
		Msg("starting scheduler")
	return a.Scheduler.Start()
}

// Close stops the scheduler and releases the store. A scheduler that
// fails to stop in time is reported but the store is still closed.
func (a *App) Close() error {
	var errs []error
	if a.Scheduler.Running() {
		if err := a.Scheduler.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
