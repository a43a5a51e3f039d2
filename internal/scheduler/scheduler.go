// Package scheduler implements the cron-driven retrain/evaluate schedule
// (C7): a daily retrain, a periodic evaluation sweep, and an on-demand
// trigger that replaces any pending manual retrain rather than stacking it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Retrainer is the narrow surface the scheduler needs from the detector.
type Retrainer interface {
	Retrain(ctx context.Context) error
}

// Config configures a Scheduler.
type Config struct {
	RetrainCron  string
	EvaluateCron string
}

// Scheduler drives the detector's retrain cadence off a cron spec, and
// dispatches retrains onto an errgroup worker group so a slow retrain never
// blocks the cron tick goroutine. The group sets no concurrency limit;
// overlapping retrains are serialized only by the Retrainer itself
// (Detector.Retrain holds a mutex).
type Scheduler struct {
	cron      *cron.Cron
	retrainer Retrainer
	logger    *slog.Logger

	cfg Config

	group      *errgroup.Group
	groupCtx   context.Context
	dispatchMu sync.Mutex

	manualMu sync.Mutex
	manualID cron.EntryID
	hasManual bool
}

// New constructs a Scheduler. Call Start to register the cron entries and
// begin running them.
func New(cfg Config, retrainer Retrainer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		retrainer: retrainer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start registers the daily retrain and periodic evaluate entries and starts
// the cron scheduler's own goroutine. Dispatched retrains receive a context
// derived from ctx, so cancelling ctx cancels their context; it does not stop
// the cron entries from firing or dispatching. Stop waits for in-flight
// retrains.
func (s *Scheduler) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.groupCtx = gctx

	if _, err := s.cron.AddFunc(s.cfg.RetrainCron, func() {
		s.dispatch("scheduled")
	}); err != nil {
		return fmt.Errorf("failed to register retrain cron entry %q: %w", s.cfg.RetrainCron, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.EvaluateCron, func() {
		s.logger.Info("evaluation sweep tick")
	}); err != nil {
		return fmt.Errorf("failed to register evaluate cron entry %q: %w", s.cfg.EvaluateCron, err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight retrain
// dispatched through the worker group to finish.
func (s *Scheduler) Stop() error {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

// TriggerRetrain schedules a one-shot retrain. cron.Every rounds sub-second
// delays up to one second, so the job fires at the next whole-second tick,
// up to one second after the call. If a manual
// retrain is already pending (registered but not yet fired), it is replaced
// rather than stacked: at most one manual retrain is ever outstanding.
func (s *Scheduler) TriggerRetrain() {
	s.manualMu.Lock()
	defer s.manualMu.Unlock()

	if s.hasManual {
		s.cron.Remove(s.manualID)
	}

	id := s.cron.Schedule(cron.Every(time.Millisecond), cron.FuncJob(func() {
		s.manualMu.Lock()
		s.cron.Remove(s.manualID)
		s.hasManual = false
		s.manualMu.Unlock()
		s.dispatch("manual")
	}))
	s.manualID = id
	s.hasManual = true
}

// dispatch runs a single retrain on the bounded worker group, so a retrain
// in flight never blocks a subsequent cron tick from being dispatched; the
// errgroup serializes nothing by itself; overlap protection lives in
// Detector.Retrain's own mutex.
func (s *Scheduler) dispatch(trigger string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.group == nil {
		return
	}

	s.group.Go(func() error {
		s.logger.Info("retrain dispatched", "trigger", trigger)
		if err := s.retrainer.Retrain(s.groupCtx); err != nil {
			s.logger.Error("retrain failed", "trigger", trigger, "error", err)
			return nil
		}
		s.logger.Info("retrain completed", "trigger", trigger)
		return nil
	})
}
