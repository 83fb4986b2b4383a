package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cloudpico-station/internal/httpapi"
	"cloudpico-station/internal/station"
)

// Serve runs cycles on the configured schedule and exposes the status endpoint
// until ctx is done. Cycles never overlap; a tick that arrives while one is
// still running is skipped.
func (a *App) Serve(ctx context.Context) error {
	cronLog := cronLogger{a.logger}
	job := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).
		Then(cron.FuncJob(func() { a.scheduledCycle(ctx) }))

	c := cron.New(cron.WithLogger(cronLog))
	if _, err := c.AddJob(a.cfg.CycleSchedule, job); err != nil {
		return fmt.Errorf("invalid CYCLE_SCHEDULE %q: %w", a.cfg.CycleSchedule, err)
	}

	if a.button != nil {
		go a.button.Watch(ctx)
	}

	srv := httpapi.NewServer(a.cfg.HTTPAddr, httpapi.NewMux(a, a.logger), a.logger)
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", a.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	c.Start()
	a.logger.Info("scheduler started", "schedule", a.cfg.CycleSchedule)
	var initial sync.WaitGroup
	initial.Add(1)
	go func() {
		defer initial.Done()
		job.Run()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	a.logger.Info("scheduler stopping")
	<-c.Stop().Done()
	initial.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

func (a *App) scheduledCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if d, sleep := a.SleepAdvice(); sleep {
		a.logger.Debug("outside operating hours, cycle skipped", "resume_in", d.Round(time.Minute))
		return
	}
	out, err := a.RunCycle(ctx)
	if err != nil {
		a.logger.Warn("cycle aborted", "error", err)
		return
	}
	logOutcome(a.logger, out)
}

func logOutcome(logger *slog.Logger, out station.Outcome) {
	if out.StorageErr != nil {
		logger.Error("reading lost", "reading", out.Reading.ID, "error", out.StorageErr)
	}
	if out.DrainErr != nil {
		logger.Info("backlog left for next cycle", "backlog", out.Backlog)
	}
}

// cronLogger routes the scheduler's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
